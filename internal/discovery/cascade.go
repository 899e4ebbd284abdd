package discovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwprobe/bwprobe/internal/config"
	"github.com/bwprobe/bwprobe/internal/iperf"
	"github.com/bwprobe/bwprobe/internal/output"
	"github.com/bwprobe/bwprobe/internal/runlog"
)

// ErrExhausted means every (direction, family) attempt ran out of
// candidates. The caller logs a warning; the run continues.
var ErrExhausted = errors.New("no usable external server found")

// Attempt is one (direction, transport family) combination.
type Attempt struct {
	Direction iperf.Direction
	Family    iperf.Family
}

func (a Attempt) String() string {
	dir := "outbound"
	if a.Direction == iperf.Reversed {
		dir = "inbound"
	}
	return fmt.Sprintf("%s/%s", dir, a.Family)
}

// Attempts returns the fixed priority ordering: outbound/IPv4,
// inbound/IPv4, outbound/IPv6, inbound/IPv6.
func Attempts() []Attempt {
	return []Attempt{
		{iperf.Normal, iperf.IPv4},
		{iperf.Reversed, iperf.IPv4},
		{iperf.Normal, iperf.IPv6},
		{iperf.Reversed, iperf.IPv6},
	}
}

// AttemptResult records what one attempt did, for the run report.
type AttemptResult struct {
	Attempt  Attempt
	Skipped  []string // no reachable port; NOT excluded
	Excluded []string // failed a test run within this attempt
	Endpoint string   // host:port of the successful test, if any
	Passed   bool
}

// Cascade walks the catalog looking for one successful external test.
type Cascade struct {
	catalog *Catalog
	prober  Prober
	runner  iperf.Runner
	console *output.Logger
	logs    *runlog.Logs

	probeTimeout time.Duration
	duration     time.Duration
	dryRun       bool
}

// CascadeOptions configures a Cascade.
type CascadeOptions struct {
	Catalog      *Catalog
	Prober       Prober
	Runner       iperf.Runner
	Console      *output.Logger
	Logs         *runlog.Logs
	ProbeTimeout time.Duration
	Duration     time.Duration
	DryRun       bool
}

// NewCascade creates a Cascade.
func NewCascade(opts CascadeOptions) *Cascade {
	if opts.Console == nil {
		opts.Console = output.DefaultLogger
	}
	if opts.Prober == nil {
		opts.Prober = DialProber{}
	}
	return &Cascade{
		catalog:      opts.Catalog,
		prober:       opts.Prober,
		runner:       opts.Runner,
		console:      opts.Console,
		logs:         opts.Logs,
		probeTimeout: opts.ProbeTimeout,
		duration:     opts.Duration,
		dryRun:       opts.DryRun,
	}
}

// Run tries each attempt in priority order and stops at the first
// overall success. Each attempt starts with a fresh exclusion set: a
// server that refused one direction may still serve another. Returns
// ErrExhausted when all four attempts fail.
func (c *Cascade) Run(ctx context.Context) ([]AttemptResult, error) {
	var results []AttemptResult

	for _, at := range Attempts() {
		if ctx.Err() != nil {
			return results, ctx.Err()
		}

		c.console.Info("external test: trying %s", at)
		res := c.attempt(ctx, at)
		results = append(results, res)

		if res.Passed {
			c.console.Success("external test passed against %s (%s)", res.Endpoint, at)
			c.logs.Event("external test passed", "endpoint", res.Endpoint, "attempt", at.String())
			return results, nil
		}
		c.logs.Event("external attempt exhausted", "attempt", at.String(),
			"skipped", len(res.Skipped), "excluded", len(res.Excluded))
	}

	return results, ErrExhausted
}

// attempt runs the SELECT -> PROBE -> RUN state machine for one
// (direction, family) combination.
func (c *Cascade) attempt(ctx context.Context, at Attempt) AttemptResult {
	res := AttemptResult{Attempt: at}
	excluded := make(map[string]struct{})
	skipped := make(map[string]struct{})

	for {
		entry, ok := c.selectEntry(at, excluded, skipped)
		if !ok {
			return res // EXHAUSTED
		}

		port, reachable := c.probeEntry(ctx, entry, at)
		if !reachable {
			// No reachable port: the entry yields no candidate this
			// round, but is not excluded.
			skipped[entry.Host] = struct{}{}
			res.Skipped = append(res.Skipped, entry.Host)
			c.console.Debug("no reachable port on %s (%d-%d), skipping",
				entry.Host, entry.PortStart, entry.PortEnd)
			continue
		}

		endpoint := fmt.Sprintf("%s:%d", entry.Host, port)
		spec := iperf.Spec{
			Host:      entry.Host,
			Port:      port,
			Duration:  c.duration,
			Direction: at.Direction,
			Family:    at.Family,
		}

		report, err := c.runner.Test(ctx, spec)
		if err != nil {
			excluded[entry.Host] = struct{}{}
			res.Excluded = append(res.Excluded, entry.Host)
			c.console.Warn("external test against %s failed: %v", endpoint, err)
			c.logs.Failure("external test failed", "endpoint", endpoint,
				"attempt", at.String(), "error", err.Error())
			continue
		}

		res.Endpoint = endpoint
		res.Passed = true
		if report != nil {
			c.logs.Event("external throughput", "endpoint", endpoint, "report", report.Summary())
		}
		return res
	}
}

// selectEntry picks the first eligible catalog entry not yet excluded
// or skipped within this attempt.
func (c *Cascade) selectEntry(at Attempt, excluded, skipped map[string]struct{}) (config.ExternalServer, bool) {
	for _, e := range c.catalog.Entries(at.Family == iperf.IPv6) {
		if _, ok := excluded[e.Host]; ok {
			continue
		}
		if _, ok := skipped[e.Host]; ok {
			continue
		}
		return e, true
	}
	return config.ExternalServer{}, false
}

// probeEntry scans the entry's port range ascending and returns the
// first port that accepts a connection.
func (c *Cascade) probeEntry(ctx context.Context, e config.ExternalServer, at Attempt) (int, bool) {
	if c.dryRun {
		c.console.DryRun("would probe %s ports %d-%d (%s)", e.Host, e.PortStart, e.PortEnd, at.Family)
		return e.PortStart, true
	}
	for port := e.PortStart; port <= e.PortEnd; port++ {
		if ctx.Err() != nil {
			return 0, false
		}
		if c.prober.Probe(ctx, e.Host, port, at.Family, c.probeTimeout) {
			return port, true
		}
	}
	return 0, false
}
