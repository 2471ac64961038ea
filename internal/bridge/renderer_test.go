package bridge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlayMediaResetsElapsed(t *testing.T) {
	reg, clock, _, _ := testRegistry(t, testConfig())
	r := reg.GetOrRegister("msx_tv", "tv")

	r.PlayMedia(context.Background(), &Media{URI: "library://track/1"})
	assert.Equal(t, PhasePlaying, r.Phase())
	assert.Equal(t, 0.0, r.Elapsed())

	clock.Advance(7 * time.Second)
	assert.InDelta(t, 7.0, r.Elapsed(), 0.001)

	r.PlayMedia(context.Background(), &Media{URI: "library://track/2"})
	assert.Equal(t, 0.0, r.Elapsed())
}

func TestElapsedFrozenWhilePaused(t *testing.T) {
	reg, clock, _, _ := testRegistry(t, testConfig())
	r := reg.GetOrRegister("msx_tv", "tv")

	r.PlayMedia(context.Background(), &Media{URI: "u"})
	clock.Advance(10 * time.Second)
	r.Pause(context.Background())
	assert.InDelta(t, 10.0, r.Elapsed(), 0.001)

	clock.Advance(time.Minute)
	assert.InDelta(t, 10.0, r.Elapsed(), 0.001)

	r.Play(context.Background())
	clock.Advance(3 * time.Second)
	assert.InDelta(t, 13.0, r.Elapsed(), 0.001)
}

func TestPositionReportMovesAnchor(t *testing.T) {
	reg, clock, _, _ := testRegistry(t, testConfig())
	r := reg.GetOrRegister("msx_tv", "tv")

	r.PlayMedia(context.Background(), &Media{URI: "u"})
	clock.Advance(30 * time.Second)
	r.UpdatePosition(25.5)
	assert.InDelta(t, 25.5, r.Elapsed(), 0.001)

	clock.Advance(4 * time.Second)
	assert.InDelta(t, 29.5, r.Elapsed(), 0.001)
}

func TestPositionReportIgnoredWhenNotPlaying(t *testing.T) {
	reg, clock, _, _ := testRegistry(t, testConfig())
	r := reg.GetOrRegister("msx_tv", "tv")

	r.UpdatePosition(42)
	assert.Equal(t, 0.0, r.Elapsed())

	r.PlayMedia(context.Background(), &Media{URI: "u"})
	clock.Advance(5 * time.Second)
	r.Pause(context.Background())
	r.UpdatePosition(99)
	assert.InDelta(t, 5.0, r.Elapsed(), 0.001)
}

func TestPollSuppressedAfterFreshReport(t *testing.T) {
	reg, clock, _, _ := testRegistry(t, testConfig())
	r := reg.GetOrRegister("msx_tv", "tv")

	r.PlayMedia(context.Background(), &Media{URI: "u"})
	clock.Advance(20 * time.Second)
	r.UpdatePosition(18)

	clock.Advance(5 * time.Second)
	r.Poll()
	r.mu.Lock()
	stored := r.elapsed
	r.mu.Unlock()
	assert.InDelta(t, 18.0, stored, 0.001)

	clock.Advance(6 * time.Second)
	r.Poll()
	r.mu.Lock()
	stored = r.elapsed
	r.mu.Unlock()
	assert.InDelta(t, 29.0, stored, 0.001)
}

func TestPollDoesNothingWhilePaused(t *testing.T) {
	reg, clock, _, _ := testRegistry(t, testConfig())
	r := reg.GetOrRegister("msx_tv", "tv")

	r.PlayMedia(context.Background(), &Media{URI: "u"})
	clock.Advance(8 * time.Second)
	r.Pause(context.Background())

	clock.Advance(time.Minute)
	r.Poll()
	assert.InDelta(t, 8.0, r.Elapsed(), 0.001)
}

func TestStopIsIdempotent(t *testing.T) {
	reg, _, notifier, canceller := testRegistry(t, testConfig())
	r := reg.GetOrRegister("msx_tv", "tv")

	r.PlayMedia(context.Background(), &Media{URI: "u"})
	r.Stop(context.Background())
	r.Stop(context.Background())

	assert.Equal(t, PhaseIdle, r.Phase())
	assert.Nil(t, r.CurrentMedia())
	assert.Equal(t, 0.0, r.Elapsed())
	// escalation fires twice per Stop call
	assert.Len(t, notifier.stops, 4)
	assert.Equal(t, 4, canceller.count("msx_tv"))
}

func TestWaitForMediaFastPath(t *testing.T) {
	reg, _, _, _ := testRegistry(t, testConfig())
	r := reg.GetOrRegister("msx_tv", "tv")

	r.PlayMedia(context.Background(), &Media{URI: "u"})
	m, err := r.WaitForMedia(context.Background(), time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "u", m.URI)
}

func TestWaitForMediaTimesOut(t *testing.T) {
	reg, _, _, _ := testRegistry(t, testConfig())
	r := reg.GetOrRegister("msx_tv", "tv")

	_, err := r.WaitForMedia(context.Background(), 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrBindingTimeout)
}

func TestWaitForMediaReleasedByPlay(t *testing.T) {
	reg, _, _, _ := testRegistry(t, testConfig())
	r := reg.GetOrRegister("msx_tv", "tv")

	done := make(chan *Media, 1)
	go func() {
		m, err := r.WaitForMedia(context.Background(), time.Second)
		if err != nil {
			done <- nil
			return
		}
		done <- m
	}()
	time.Sleep(10 * time.Millisecond)
	r.PlayMedia(context.Background(), &Media{URI: "released"})

	select {
	case m := <-done:
		require.NotNil(t, m)
		assert.Equal(t, "released", m.URI)
	case <-time.After(time.Second):
		t.Fatal("waiter was not released")
	}
}

func TestStopRearmsMediaGate(t *testing.T) {
	reg, _, _, _ := testRegistry(t, testConfig())
	r := reg.GetOrRegister("msx_tv", "tv")

	r.PlayMedia(context.Background(), &Media{URI: "u"})
	r.Stop(context.Background())

	// the gate must block again after stop, not stay released
	_, err := r.WaitForMedia(context.Background(), 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrBindingTimeout)
}

func TestPauseFromReportDoesNotEcho(t *testing.T) {
	reg, _, notifier, _ := testRegistry(t, testConfig())
	r := reg.GetOrRegister("msx_tv", "tv")

	r.PlayMedia(context.Background(), &Media{URI: "u"})
	r.PauseFromReport(context.Background(), 12.5)

	assert.Equal(t, PhasePaused, r.Phase())
	assert.InDelta(t, 12.5, r.Elapsed(), 0.001)
	assert.Zero(t, notifier.pauses)

	r.ResumeFromReport(context.Background())
	assert.Equal(t, PhasePlaying, r.Phase())
	assert.Zero(t, notifier.resumes)
}

func TestGroupPropagation(t *testing.T) {
	reg, _, _, _ := testRegistry(t, testConfig())
	leader := reg.GetOrRegister("msx_leader", "leader")
	member := reg.GetOrRegister("msx_member", "member")
	leader.SetMembers([]string{"msx_leader", "msx_member"})
	member.SetSyncedTo("msx_leader")

	leader.PlayMedia(context.Background(), &Media{URI: "shared"})
	require.NotNil(t, member.CurrentMedia())
	assert.Equal(t, "shared", member.CurrentMedia().URI)
	assert.Equal(t, PhasePlaying, member.Phase())

	leader.Pause(context.Background())
	assert.Equal(t, PhasePaused, member.Phase())

	leader.Play(context.Background())
	assert.Equal(t, PhasePlaying, member.Phase())

	leader.Stop(context.Background())
	assert.Equal(t, PhaseIdle, member.Phase())
	assert.Nil(t, member.CurrentMedia())
}

func TestMemberTransitionDoesNotFanOut(t *testing.T) {
	reg, _, _, _ := testRegistry(t, testConfig())
	leader := reg.GetOrRegister("msx_leader", "leader")
	member := reg.GetOrRegister("msx_member", "member")
	leader.SetMembers([]string{"msx_leader", "msx_member"})
	member.SetSyncedTo("msx_leader")

	leader.PlayMedia(context.Background(), &Media{URI: "u"})
	member.Pause(context.Background())

	// the member's own pause must not bounce back to the leader
	assert.Equal(t, PhasePlaying, leader.Phase())
}

func TestPropagationDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.GroupingEnabled = false
	reg, _, _, _ := testRegistry(t, cfg)
	leader := reg.GetOrRegister("msx_leader", "leader")
	member := reg.GetOrRegister("msx_member", "member")
	leader.SetMembers([]string{"msx_leader", "msx_member"})
	member.SetSyncedTo("msx_leader")

	leader.PlayMedia(context.Background(), &Media{URI: "u"})
	assert.Equal(t, PhaseIdle, member.Phase())
	assert.Nil(t, member.CurrentMedia())
}

func TestGroupID(t *testing.T) {
	reg, _, _, _ := testRegistry(t, testConfig())
	solo := reg.GetOrRegister("msx_solo", "solo")
	assert.Equal(t, "", solo.GroupID())

	leader := reg.GetOrRegister("msx_leader", "leader")
	leader.SetMembers([]string{"msx_leader", "msx_member"})
	assert.Equal(t, "msx_leader", leader.GroupID())

	member := reg.GetOrRegister("msx_member", "member")
	member.SetSyncedTo("msx_leader")
	assert.Equal(t, "msx_leader", member.GroupID())

	leader.SetMembers(nil)
	assert.Equal(t, "", leader.GroupID())
}
