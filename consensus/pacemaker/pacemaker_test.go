package pacemaker

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suprabook/chainbook/model/chain"
)

func TestLeaderOfRoundRobins(t *testing.T) {
	p := New(zerolog.Nop(), time.Hour, 2, 4)
	assert.Equal(t, chain.ValidatorID(0), p.LeaderOf(0))
	assert.Equal(t, chain.ValidatorID(1), p.LeaderOf(1))
	assert.Equal(t, chain.ValidatorID(3), p.LeaderOf(7))
}

func TestOnQCForAdvancesViewAndResetsBackoff(t *testing.T) {
	p := New(zerolog.Nop(), time.Hour, 2, 4)
	p.Start()
	p.OnQCFor(5)
	assert.Equal(t, chain.View(6), p.CurrentView())
}

func TestOnQCForDoesNotRegressView(t *testing.T) {
	p := New(zerolog.Nop(), time.Hour, 2, 4)
	p.Start()
	p.OnQCFor(10)
	require.Equal(t, chain.View(11), p.CurrentView())
	p.OnQCFor(3) // a stale/lower QC must not move the view backwards
	assert.Equal(t, chain.View(11), p.CurrentView())
}

func TestOnHigherViewObservedFastForwards(t *testing.T) {
	p := New(zerolog.Nop(), time.Hour, 2, 4)
	p.Start()
	p.OnHigherViewObserved(42)
	assert.Equal(t, chain.View(42), p.CurrentView())

	p.OnHigherViewObserved(10) // lower view must not move it backwards
	assert.Equal(t, chain.View(42), p.CurrentView())
}

func TestOnTimeoutFiresAdvancesViewAndGrowsBackoff(t *testing.T) {
	p := New(zerolog.Nop(), 5*time.Millisecond, 2, 4)
	p.Start()

	view, ok := waitForTimeout(t, p, time.Second)
	require.True(t, ok)
	assert.Equal(t, chain.View(0), view)

	p.OnTimeoutFires(view)
	assert.Equal(t, chain.View(1), p.CurrentView())

	// the second timeout, at double the backoff, should take noticeably
	// longer to fire than the first (§8 property 9: T(v) = T0 * M^k).
	start := time.Now()
	view2, ok := waitForTimeout(t, p, time.Second)
	elapsed := time.Since(start)
	require.True(t, ok)
	assert.Equal(t, chain.View(1), view2)
	assert.Greater(t, elapsed, 8*time.Millisecond, "backoff must roughly double after a consecutive timeout")
}

func waitForTimeout(t *testing.T, p *Pacemaker, timeout time.Duration) (chain.View, bool) {
	t.Helper()
	select {
	case v := <-p.Timeouts():
		return v, true
	case <-time.After(timeout):
		return 0, false
	}
}
