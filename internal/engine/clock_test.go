package engine

import (
	"testing"
	"time"

	"github.com/dom/league-match-engine/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets tests drive the engine's notion of time directly.
type fakeClock struct {
	now time.Time
}

func (f *fakeClock) advance(d time.Duration) { f.now = f.now.Add(d) }

func newTestEngine(fc *fakeClock) *Engine {
	e := New(45*time.Minute, 15*time.Minute)
	e.nowFn = func() time.Time { return fc.now }
	return e
}

func TestEngine_StartMatch(t *testing.T) {
	fc := &fakeClock{now: time.Now()}
	e := newTestEngine(fc)

	snap, err := e.StartMatch("m1", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, domain.PeriodFirstHalf, snap.Period)
	assert.Equal(t, domain.MatchStatusInProgress, snap.Status)
	assert.True(t, snap.TimerRunning)
	assert.Equal(t, 1, e.ActiveCount())

	// Starting a running match is rejected.
	_, err = e.StartMatch("m1", 0, 0)
	assert.ErrorIs(t, err, domain.ErrTimerRunning)
}

func TestEngine_AutomaticPeriodOrdering(t *testing.T) {
	fc := &fakeClock{now: time.Now()}
	e := newTestEngine(fc)

	var transitions []domain.MatchPeriod
	e.SetOnPeriodTransition(func(snap Snapshot, from domain.MatchPeriod) {
		transitions = append(transitions, snap.Period)
	})

	_, err := e.StartMatch("m1", 0, 0)
	require.NoError(t, err)

	// First half runs its 45 minutes.
	fc.advance(45 * time.Minute)
	e.tick()
	snap, err := e.Snapshot("m1")
	require.NoError(t, err)
	assert.Equal(t, domain.PeriodHalftime, snap.Period)

	// Halftime is a fixed 15 minutes.
	fc.advance(15 * time.Minute)
	e.tick()
	snap, _ = e.Snapshot("m1")
	assert.Equal(t, domain.PeriodSecondHalf, snap.Period)

	// Level at full time: extra time, not completed.
	fc.advance(45 * time.Minute)
	e.tick()
	snap, _ = e.Snapshot("m1")
	assert.Equal(t, domain.PeriodExtraTime, snap.Period)

	// Still level after extra time: penalties.
	fc.advance(15 * time.Minute)
	e.tick()
	snap, _ = e.Snapshot("m1")
	assert.Equal(t, domain.PeriodPenalties, snap.Period)

	// Penalties never exit automatically.
	fc.advance(2 * time.Hour)
	e.tick()
	snap, _ = e.Snapshot("m1")
	assert.Equal(t, domain.PeriodPenalties, snap.Period)

	assert.Equal(t, []domain.MatchPeriod{
		domain.PeriodHalftime,
		domain.PeriodSecondHalf,
		domain.PeriodExtraTime,
		domain.PeriodPenalties,
	}, transitions)
}

func TestEngine_DecisiveSecondHalfCompletes(t *testing.T) {
	fc := &fakeClock{now: time.Now()}
	e := newTestEngine(fc)

	var completed []Snapshot
	e.SetOnMatchCompleted(func(snap Snapshot) { completed = append(completed, snap) })

	_, err := e.StartMatch("m1", 0, 0)
	require.NoError(t, err)
	_, err = e.RecordGoal("m1", true)
	require.NoError(t, err)

	fc.advance(45 * time.Minute)
	e.tick()
	fc.advance(15 * time.Minute)
	e.tick()
	fc.advance(45 * time.Minute)
	e.tick()

	require.Len(t, completed, 1)
	assert.Equal(t, domain.MatchStatusCompleted, completed[0].Status)
	assert.Equal(t, 1, completed[0].HomeScore)
	// Completed clocks leave the active set.
	assert.Equal(t, 0, e.ActiveCount())
	_, err = e.Snapshot("m1")
	assert.ErrorIs(t, err, domain.ErrClockNotFound)
}

func TestEngine_LevelSecondHalfGoesToExtraTime(t *testing.T) {
	fc := &fakeClock{now: time.Now()}
	e := newTestEngine(fc)

	_, err := e.StartMatch("m1", 0, 0)
	require.NoError(t, err)
	_, err = e.RecordGoal("m1", true)
	require.NoError(t, err)
	_, err = e.RecordGoal("m1", false)
	require.NoError(t, err)

	// Skip straight to the second half to isolate the transition.
	_, err = e.SkipToPeriod("m1", domain.PeriodSecondHalf, "test setup")
	require.NoError(t, err)

	fc.advance(45 * time.Minute)
	e.tick()

	snap, err := e.Snapshot("m1")
	require.NoError(t, err)
	assert.Equal(t, domain.PeriodExtraTime, snap.Period)
	assert.NotEqual(t, domain.MatchStatusCompleted, snap.Status)
}

func TestEngine_PauseResumeAccounting(t *testing.T) {
	fc := &fakeClock{now: time.Now()}
	e := newTestEngine(fc)

	_, err := e.StartMatch("m1", 0, 0)
	require.NoError(t, err)

	// Ten minutes of play, then a five minute pause.
	fc.advance(10 * time.Minute)
	e.tick()
	_, err = e.Pause("m1")
	require.NoError(t, err)

	fc.advance(5 * time.Minute)
	snap, err := e.Resume("m1")
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, snap.PausedTime)

	// Five more minutes of play: the display minute excludes the pause.
	fc.advance(5 * time.Minute)
	e.tick()
	snap, err = e.Snapshot("m1")
	require.NoError(t, err)
	assert.Equal(t, 15, snap.CurrentMinute)

	// The half still ends 45 played minutes in, not 45 wall minutes.
	fc.advance(30 * time.Minute)
	e.tick()
	snap, _ = e.Snapshot("m1")
	assert.Equal(t, domain.PeriodHalftime, snap.Period)
}

func TestEngine_PauseStateGuards(t *testing.T) {
	fc := &fakeClock{now: time.Now()}
	e := newTestEngine(fc)

	_, err := e.Pause("missing")
	assert.ErrorIs(t, err, domain.ErrClockNotFound)

	_, err = e.StartMatch("m1", 0, 0)
	require.NoError(t, err)

	_, err = e.Resume("m1")
	assert.ErrorIs(t, err, domain.ErrTimerRunning)

	_, err = e.Pause("m1")
	require.NoError(t, err)
	_, err = e.Pause("m1")
	assert.ErrorIs(t, err, domain.ErrTimerNotRunning)
}

func TestEngine_InjuryTimeExtendsPeriod(t *testing.T) {
	fc := &fakeClock{now: time.Now()}
	e := newTestEngine(fc)

	_, err := e.StartMatch("m1", 0, 0)
	require.NoError(t, err)

	snap, err := e.AddInjuryTime("m1", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, snap.InjuryTime)

	// 45 regulation minutes are no longer enough to end the half.
	fc.advance(46 * time.Minute)
	e.tick()
	snap, _ = e.Snapshot("m1")
	assert.Equal(t, domain.PeriodFirstHalf, snap.Period)

	fc.advance(2 * time.Minute)
	e.tick()
	snap, _ = e.Snapshot("m1")
	assert.Equal(t, domain.PeriodHalftime, snap.Period)
	// Injury time resets on transition.
	assert.Equal(t, 0, snap.InjuryTime)
}

func TestEngine_SkipToPeriodValidation(t *testing.T) {
	fc := &fakeClock{now: time.Now()}
	e := newTestEngine(fc)

	_, err := e.StartMatch("m1", 0, 0)
	require.NoError(t, err)

	_, err = e.SkipToPeriod("m1", domain.MatchPeriod("overtime"), "typo")
	assert.ErrorIs(t, err, domain.ErrInvalidPeriod)

	snap, err := e.SkipToPeriod("m1", domain.PeriodPenalties, "abandoned restart")
	require.NoError(t, err)
	assert.Equal(t, domain.PeriodPenalties, snap.Period)
	assert.Equal(t, 120, snap.CurrentMinute)
}

func TestEngine_StopMatchRemovesClock(t *testing.T) {
	fc := &fakeClock{now: time.Now()}
	e := newTestEngine(fc)

	_, err := e.StartMatch("m1", 2, 1)
	require.NoError(t, err)

	snap, err := e.StopMatch("m1")
	require.NoError(t, err)
	assert.Equal(t, domain.MatchStatusCompleted, snap.Status)
	assert.Equal(t, 0, e.ActiveCount())

	_, err = e.StopMatch("m1")
	assert.ErrorIs(t, err, domain.ErrClockNotFound)
}

func TestEngine_TimerUpdateBroadcastPerTick(t *testing.T) {
	fc := &fakeClock{now: time.Now()}
	e := newTestEngine(fc)

	var updates []Snapshot
	e.SetOnTimerUpdate(func(snap Snapshot) { updates = append(updates, snap) })

	_, err := e.StartMatch("m1", 0, 0)
	require.NoError(t, err)

	fc.advance(time.Second)
	e.tick()
	fc.advance(time.Second)
	e.tick()

	require.Len(t, updates, 2)
	assert.Equal(t, "m1", updates[0].MatchID)

	// Paused matches do not emit timer updates.
	_, err = e.Pause("m1")
	require.NoError(t, err)
	fc.advance(time.Second)
	e.tick()
	assert.Len(t, updates, 2)
}
