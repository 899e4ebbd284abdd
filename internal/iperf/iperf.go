// Package iperf builds and interprets iperf3 invocations. The tool
// itself is a black box: this package only shapes its argv and
// decodes its JSON report.
package iperf

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Direction selects who sends the payload.
type Direction int

const (
	// Normal means the client sends (outbound from the client's view).
	Normal Direction = iota
	// Reversed means the server sends (iperf3 -R).
	Reversed
)

func (d Direction) String() string {
	if d == Reversed {
		return "reversed"
	}
	return "normal"
}

// Family selects the IP transport family.
type Family int

const (
	IPv4 Family = iota
	IPv6
)

func (f Family) String() string {
	if f == IPv6 {
		return "IPv6"
	}
	return "IPv4"
}

// Network returns the net package network name for dialing.
func (f Family) Network() string {
	if f == IPv6 {
		return "tcp6"
	}
	return "tcp4"
}

// Spec describes one client-side throughput test.
type Spec struct {
	Host      string
	Port      int
	Duration  time.Duration
	Direction Direction
	Family    Family
}

// ClientArgs returns the iperf3 client argv (without the binary name).
func ClientArgs(s Spec) []string {
	args := []string{
		"-c", s.Host,
		"-p", fmt.Sprintf("%d", s.Port),
		"-t", fmt.Sprintf("%d", int(s.Duration/time.Second)),
		"-J",
	}
	if s.Direction == Reversed {
		args = append(args, "-R")
	}
	if s.Family == IPv6 {
		args = append(args, "-6")
	} else {
		args = append(args, "-4")
	}
	return args
}

// ClientCommand returns the full client command line, for execution
// through a remote executor.
func ClientCommand(s Spec) string {
	return "iperf3 " + strings.Join(ClientArgs(s), " ")
}

// ServerCommand returns the daemonized server command line for the
// given port.
func ServerCommand(port int) string {
	return fmt.Sprintf("iperf3 -s -D -p %d", port)
}

// ServerPattern is the pgrep/pkill -f pattern used to find or kill a
// running test server. The bracketed first character keeps the
// pattern from matching the shell that carries the pgrep/pkill
// invocation itself.
const ServerPattern = "[i]perf3 -s"

// Report is the decoded outcome of one successful test.
type Report struct {
	SentBitsPerSecond     float64
	ReceivedBitsPerSecond float64
}

// Summary renders the report as human-readable text for the run log.
func (r *Report) Summary() string {
	return fmt.Sprintf("sent %.1f Mbit/s, received %.1f Mbit/s",
		r.SentBitsPerSecond/1e6, r.ReceivedBitsPerSecond/1e6)
}

// jsonReport mirrors the parts of the iperf3 -J output we consume.
type jsonReport struct {
	End struct {
		SumSent struct {
			BitsPerSecond float64 `json:"bits_per_second"`
		} `json:"sum_sent"`
		SumReceived struct {
			BitsPerSecond float64 `json:"bits_per_second"`
		} `json:"sum_received"`
	} `json:"end"`
	Error string `json:"error"`
}

// ParseReport decodes iperf3 -J output. An embedded "error" field
// (e.g. "the server is busy running a test") is a test failure even
// when the process exited zero.
func ParseReport(data []byte) (*Report, error) {
	var jr jsonReport
	if err := json.Unmarshal(data, &jr); err != nil {
		return nil, fmt.Errorf("failed to decode iperf3 output: %w", err)
	}
	if jr.Error != "" {
		return nil, fmt.Errorf("iperf3 reported: %s", jr.Error)
	}
	return &Report{
		SentBitsPerSecond:     jr.End.SumSent.BitsPerSecond,
		ReceivedBitsPerSecond: jr.End.SumReceived.BitsPerSecond,
	}, nil
}
