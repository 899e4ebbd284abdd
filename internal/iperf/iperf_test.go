package iperf

import (
	"fmt"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClientArgs(t *testing.T) {
	tests := []struct {
		name string
		spec Spec
		want string
	}{
		{
			"normal ipv4",
			Spec{Host: "h1", Port: 5201, Duration: 10 * time.Second},
			"-c h1 -p 5201 -t 10 -J -4",
		},
		{
			"reversed ipv4",
			Spec{Host: "h1", Port: 5201, Duration: 10 * time.Second, Direction: Reversed},
			"-c h1 -p 5201 -t 10 -J -R -4",
		},
		{
			"normal ipv6",
			Spec{Host: "h2", Port: 5300, Duration: 5 * time.Second, Family: IPv6},
			"-c h2 -p 5300 -t 5 -J -6",
		},
		{
			"reversed ipv6",
			Spec{Host: "h2", Port: 5300, Duration: 5 * time.Second, Direction: Reversed, Family: IPv6},
			"-c h2 -p 5300 -t 5 -J -R -6",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := strings.Join(ClientArgs(tt.spec), " ")
			require.Equal(t, tt.want, got)
		})
	}
}

func TestClientCommand(t *testing.T) {
	cmd := ClientCommand(Spec{Host: "h", Port: 5201, Duration: 10 * time.Second})
	require.Equal(t, "iperf3 -c h -p 5201 -t 10 -J -4", cmd)
}

func TestServerCommand(t *testing.T) {
	require.Equal(t, "iperf3 -s -D -p 5201", ServerCommand(5201))
}

func TestServerPattern_DoesNotMatchItsOwnInvocation(t *testing.T) {
	re := regexp.MustCompile(ServerPattern)

	// The pattern must find a running server process.
	require.True(t, re.MatchString(ServerCommand(5201)))
	require.True(t, re.MatchString("iperf3 -s -p 5201"))

	// It must never match the command lines that carry it: pgrep/pkill
	// run through sh -c locally and a login shell over SSH, so a
	// self-matching pattern would kill its own wrapper shell and make
	// verification succeed with no server running.
	for _, wrapper := range []string{
		fmt.Sprintf("pgrep -f '%s'", ServerPattern),
		fmt.Sprintf("pkill -f '%s' || true", ServerPattern),
		fmt.Sprintf("sh -c pkill -f '%s' || true", ServerPattern),
		fmt.Sprintf("sudo -n pgrep -f '%s'", ServerPattern),
	} {
		require.False(t, re.MatchString(wrapper), "pattern matches its own invocation: %s", wrapper)
	}
}

func TestParseReport(t *testing.T) {
	data := []byte(`{
		"end": {
			"sum_sent": {"bits_per_second": 940000000.5},
			"sum_received": {"bits_per_second": 935000000.25}
		}
	}`)
	r, err := ParseReport(data)
	require.NoError(t, err)
	require.InDelta(t, 940000000.5, r.SentBitsPerSecond, 0.001)
	require.InDelta(t, 935000000.25, r.ReceivedBitsPerSecond, 0.001)
	require.Contains(t, r.Summary(), "Mbit/s")
}

func TestParseReport_ServerBusy(t *testing.T) {
	data := []byte(`{"error": "the server is busy running a test. try again later"}`)
	_, err := ParseReport(data)
	require.Error(t, err)
	require.Contains(t, err.Error(), "busy")
}

func TestParseReport_Garbage(t *testing.T) {
	_, err := ParseReport([]byte("not json"))
	require.Error(t, err)
}

func TestDirectionFamilyStrings(t *testing.T) {
	require.Equal(t, "normal", Normal.String())
	require.Equal(t, "reversed", Reversed.String())
	require.Equal(t, "IPv4", IPv4.String())
	require.Equal(t, "IPv6", IPv6.String())
	require.Equal(t, "tcp4", IPv4.Network())
	require.Equal(t, "tcp6", IPv6.Network())
}
