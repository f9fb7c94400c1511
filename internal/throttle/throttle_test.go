package throttle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/marketsense/marketsense/internal/clock/fake"
)

func newThrottle(base, max time.Duration) (*Throttle, *fake.Clock) {
	clk := fake.New(time.Unix(1700000000, 0).UTC())
	return New(Config{DelayBase: base, DelayMax: max}, clk), clk
}

func TestDelayZeroForColdDomain(t *testing.T) {
	t.Parallel()
	thr, _ := newThrottle(2*time.Second, 30*time.Second)
	require.Zero(t, thr.Delay("example.com"))
}

func TestDelayCountsDownFromLastAccess(t *testing.T) {
	t.Parallel()
	thr, clk := newThrottle(2*time.Second, 30*time.Second)

	thr.RecordAccess("example.com", false)
	require.Equal(t, 2*time.Second, thr.Delay("example.com"))

	clk.Advance(1500 * time.Millisecond)
	require.Equal(t, 500*time.Millisecond, thr.Delay("example.com"))

	clk.Advance(time.Second)
	require.Zero(t, thr.Delay("example.com"))
}

func TestBlockSignalEscalatesDelayUpToMax(t *testing.T) {
	t.Parallel()
	thr, _ := newThrottle(2*time.Second, 5*time.Second)

	thr.RecordAccess("example.com", true)
	require.Equal(t, 3*time.Second, thr.Delay("example.com"))

	thr.RecordAccess("example.com", true)
	require.Equal(t, 4500*time.Millisecond, thr.Delay("example.com"))

	// Clamped at DelayMax.
	thr.RecordAccess("example.com", true)
	require.Equal(t, 5*time.Second, thr.Delay("example.com"))
}

func TestSuccessDecaysDelayTowardBase(t *testing.T) {
	t.Parallel()
	thr, _ := newThrottle(2*time.Second, 30*time.Second)

	for i := 0; i < 4; i++ {
		thr.RecordAccess("example.com", true)
	}
	escalated := thr.Delay("example.com")
	require.Greater(t, escalated, 2*time.Second)

	thr.RecordAccess("example.com", false)
	decayed := thr.Delay("example.com")
	require.Less(t, decayed, escalated)

	for i := 0; i < 50; i++ {
		thr.RecordAccess("example.com", false)
	}
	require.Equal(t, 2*time.Second, thr.Delay("example.com"))
}

func TestDomainsAreIndependent(t *testing.T) {
	t.Parallel()
	thr, _ := newThrottle(2*time.Second, 30*time.Second)

	thr.RecordAccess("hostile.example", true)
	require.Zero(t, thr.Delay("friendly.example"))
	require.Equal(t, 3*time.Second, thr.Delay("hostile.example"))
}

func TestWaitHonorsContextCancellation(t *testing.T) {
	t.Parallel()
	thr, _ := newThrottle(time.Hour, 2*time.Hour)
	thr.RecordAccess("example.com", false)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := thr.Wait(ctx, "https://example.com/page")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
