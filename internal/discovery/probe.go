package discovery

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/bwprobe/bwprobe/internal/iperf"
)

// Prober checks raw connectivity to one endpoint.
type Prober interface {
	Probe(ctx context.Context, host string, port int, family iperf.Family, timeout time.Duration) bool
}

// DialProber probes with a bounded-timeout TCP dial.
type DialProber struct{}

// Probe dials host:port on the attempt's transport family and reports
// whether the connection was accepted.
func (DialProber) Probe(ctx context.Context, host string, port int, family iperf.Family, timeout time.Duration) bool {
	d := net.Dialer{Timeout: timeout}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := d.DialContext(dialCtx, family.Network(), net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

var _ Prober = DialProber{}
