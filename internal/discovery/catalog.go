// Package discovery finds a usable third-party test server through a
// multi-dimensional failover cascade (server x port x transport
// family x direction).
package discovery

import (
	"github.com/bwprobe/bwprobe/internal/config"
)

// Catalog is the read-only set of candidate external servers, minus
// the hostnames listed in the exclude file. The exclude file can be
// re-applied at runtime (hot reload on SIGUSR1).
type Catalog struct {
	entries  []config.ExternalServer
	excluded map[string]struct{}
}

// NewCatalog builds a catalog from configuration.
func NewCatalog(entries []config.ExternalServer, excluded map[string]struct{}) *Catalog {
	if excluded == nil {
		excluded = make(map[string]struct{})
	}
	return &Catalog{entries: entries, excluded: excluded}
}

// SetExcluded replaces the configured exclusion list (hot reload).
func (c *Catalog) SetExcluded(excluded map[string]struct{}) {
	if excluded == nil {
		excluded = make(map[string]struct{})
	}
	c.excluded = excluded
}

// Entries returns the eligible entries for the given family: not in
// the configured exclusion list and, for IPv6 attempts, flagged IPv6
// capable.
func (c *Catalog) Entries(ipv6 bool) []config.ExternalServer {
	var out []config.ExternalServer
	for _, e := range c.entries {
		if _, ok := c.excluded[e.Host]; ok {
			continue
		}
		if ipv6 && !e.IPv6 {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Contains reports whether host is a catalog entry.
func (c *Catalog) Contains(host string) bool {
	for _, e := range c.entries {
		if e.Host == host {
			return true
		}
	}
	return false
}

// Len returns the raw catalog size.
func (c *Catalog) Len() int {
	return len(c.entries)
}
