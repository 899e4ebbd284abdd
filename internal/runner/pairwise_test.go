package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bwprobe/bwprobe/internal/config"
	"github.com/bwprobe/bwprobe/internal/iperf"
	"github.com/bwprobe/bwprobe/internal/output"
	"github.com/bwprobe/bwprobe/internal/retry"
)

// scriptRunner returns scripted errors in call order, then succeeds.
type scriptRunner struct {
	errs  []error
	calls []iperf.Spec
}

func (s *scriptRunner) Test(ctx context.Context, spec iperf.Spec) (*iperf.Report, error) {
	s.calls = append(s.calls, spec)
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &iperf.Report{SentBitsPerSecond: 9e8, ReceivedBitsPerSecond: 9e8}, nil
}

func newTestRunner(local iperf.Runner, remotes map[string]iperf.Runner) *Runner {
	var buf bytes.Buffer
	console := output.NewTestLogger(&buf)
	engine := retry.New(console, nil).
		WithSleep(func(ctx context.Context, d time.Duration) error { return nil }).
		WithJitter(func() int { return 0 })

	return New(Options{
		Console:       console,
		Engine:        engine,
		LocalRunner:   local,
		RemoteRunners: remotes,
		LocalAddress:  "10.0.0.1",
		ServerPort:    5201,
		Duration:      10 * time.Second,
	})
}

func twoRemotes() []config.RemoteNode {
	return []config.RemoteNode{
		{Address: "10.0.0.2"},
		{Address: "10.0.0.3"},
	}
}

func TestRun_BothDirectionsPerRemote(t *testing.T) {
	local := &scriptRunner{}
	remA := &scriptRunner{}
	remB := &scriptRunner{}
	r := newTestRunner(local, map[string]iperf.Runner{
		"10.0.0.2": remA,
		"10.0.0.3": remB,
	})

	outcomes, err := r.Run(context.Background(), twoRemotes())
	require.NoError(t, err)
	require.Len(t, outcomes, 4)

	// Exactly one local->R per remote, targeting the remote address.
	require.Len(t, local.calls, 2)
	require.Equal(t, "10.0.0.2", local.calls[0].Host)
	require.Equal(t, "10.0.0.3", local.calls[1].Host)

	// Exactly one R->local per remote, targeting the local address.
	require.Len(t, remA.calls, 1)
	require.Equal(t, "10.0.0.1", remA.calls[0].Host)
	require.Len(t, remB.calls, 1)
	require.Equal(t, "10.0.0.1", remB.calls[0].Host)

	for _, out := range outcomes {
		require.True(t, out.Passed)
		require.Contains(t, out.Detail, "Mbit/s")
	}
}

func TestRun_RetryIsSameTest(t *testing.T) {
	// First local->remote test fails twice, then succeeds; the retry
	// action must re-invoke the identical test.
	local := &scriptRunner{errs: []error{
		errors.New("reset"), errors.New("reset"), nil,
	}}
	remA := &scriptRunner{}
	r := newTestRunner(local, map[string]iperf.Runner{"10.0.0.2": remA})

	outcomes, err := r.Run(context.Background(), []config.RemoteNode{{Address: "10.0.0.2"}})
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	require.True(t, outcomes[0].Passed)

	require.Len(t, local.calls, 3)
	for _, spec := range local.calls {
		require.Equal(t, "10.0.0.2", spec.Host)
		require.Equal(t, 5201, spec.Port)
	}
}

func TestRun_ExhaustedRetriesAbortsRun(t *testing.T) {
	alwaysFail := make([]error, 0, 16)
	for i := 0; i < 16; i++ {
		alwaysFail = append(alwaysFail, fmt.Errorf("down %d", i))
	}
	local := &scriptRunner{errs: alwaysFail}
	remA := &scriptRunner{}
	remB := &scriptRunner{}
	r := newTestRunner(local, map[string]iperf.Runner{
		"10.0.0.2": remA,
		"10.0.0.3": remB,
	})

	outcomes, err := r.Run(context.Background(), twoRemotes())
	require.Error(t, err)
	require.True(t, retry.IsFatal(err))

	// The failing direction is recorded, nothing after it runs.
	require.Len(t, outcomes, 1)
	require.False(t, outcomes[0].Passed)
	require.Empty(t, remA.calls)
	require.Empty(t, remB.calls)
}

func TestRun_MissingRemoteRunnerIsFatal(t *testing.T) {
	local := &scriptRunner{}
	r := newTestRunner(local, map[string]iperf.Runner{})

	_, err := r.Run(context.Background(), []config.RemoteNode{{Address: "10.0.0.2"}})
	require.True(t, retry.IsFatal(err))
}
