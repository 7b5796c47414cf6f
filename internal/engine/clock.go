// Package engine drives the period state machine and wall-clock ticking for
// every live match on this instance. One global one-second ticker advances
// all running clocks; stopping a match is just removing it from the set.
package engine

import (
	"log"
	"sync"
	"time"

	"github.com/dom/league-match-engine/internal/domain"
)

const (
	tickInterval     = time.Second
	halftimeDuration = 15 * time.Minute
)

// Snapshot is a point-in-time view of one match clock.
type Snapshot struct {
	MatchID       string             `json:"matchId"`
	Status        domain.MatchStatus `json:"status"`
	Period        domain.MatchPeriod `json:"currentPeriod"`
	CurrentMinute int                `json:"currentMinute"`
	HomeScore     int                `json:"homeScore"`
	AwayScore     int                `json:"awayScore"`
	TimerRunning  bool               `json:"isTimerRunning"`
	InjuryTime    int                `json:"injuryTime"`
	TotalPlayTime time.Duration      `json:"totalPlayTime"`
	PausedTime    time.Duration      `json:"pausedTime"`
}

// clock is the per-match state. periodStart is shifted forward by every
// pause so elapsed-in-period never includes paused wall time.
type clock struct {
	matchID           string
	status            domain.MatchStatus
	period            domain.MatchPeriod
	periodStart       time.Time
	pausedTime        time.Duration
	lastPauseTime     time.Time
	timerRunning      bool
	injuryTime        time.Duration
	periodDuration    time.Duration
	extraTimeDuration time.Duration
	totalPlayTime     time.Duration
	homeScore         int
	awayScore         int
	currentMinute     int
}

// Engine owns the set of live clocks and the global ticker.
type Engine struct {
	clocks map[string]*clock

	defaultPeriodDuration time.Duration
	extraTimeDuration     time.Duration

	onTimerUpdate      func(snap Snapshot)
	onPeriodTransition func(snap Snapshot, from domain.MatchPeriod)
	onMatchCompleted   func(snap Snapshot)

	nowFn func() time.Time

	stop chan struct{}
	done chan struct{}
	once sync.Once

	mu sync.RWMutex
}

func New(periodDuration, extraTimeDuration time.Duration) *Engine {
	return &Engine{
		clocks:                make(map[string]*clock),
		defaultPeriodDuration: periodDuration,
		extraTimeDuration:     extraTimeDuration,
		nowFn:                 time.Now,
		stop:                  make(chan struct{}),
		done:                  make(chan struct{}),
	}
}

// SetOnTimerUpdate installs the per-tick broadcast callback.
func (e *Engine) SetOnTimerUpdate(fn func(snap Snapshot)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onTimerUpdate = fn
}

// SetOnPeriodTransition installs the period change callback.
func (e *Engine) SetOnPeriodTransition(fn func(snap Snapshot, from domain.MatchPeriod)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onPeriodTransition = fn
}

// SetOnMatchCompleted installs the completion callback.
func (e *Engine) SetOnMatchCompleted(fn func(snap Snapshot)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onMatchCompleted = fn
}

// ActiveCount reports how many clocks are live.
func (e *Engine) ActiveCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.clocks)
}

// StartMatch creates (or restarts) the clock for a match and begins ticking
// it from the first half.
func (e *Engine) StartMatch(matchID string, homeScore, awayScore int) (Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if c, ok := e.clocks[matchID]; ok && c.timerRunning {
		return e.snapshotLocked(c), domain.ErrTimerRunning
	}

	c := &clock{
		matchID:           matchID,
		status:            domain.MatchStatusInProgress,
		period:            domain.PeriodFirstHalf,
		periodStart:       e.nowFn(),
		timerRunning:      true,
		periodDuration:    e.defaultPeriodDuration,
		extraTimeDuration: e.extraTimeDuration,
		homeScore:         homeScore,
		awayScore:         awayScore,
	}
	e.clocks[matchID] = c

	log.Printf("engine: match %s started", matchID)
	return e.snapshotLocked(c), nil
}

// Pause freezes the clock. Elapsed time between now and the next resume is
// excluded from period accounting.
func (e *Engine) Pause(matchID string) (Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, ok := e.clocks[matchID]
	if !ok {
		return Snapshot{}, domain.ErrClockNotFound
	}
	if !c.timerRunning {
		return e.snapshotLocked(c), domain.ErrTimerNotRunning
	}

	c.timerRunning = false
	c.lastPauseTime = e.nowFn()
	c.status = domain.MatchStatusPaused

	log.Printf("engine: match %s paused at minute %d", matchID, c.currentMinute)
	return e.snapshotLocked(c), nil
}

// Resume restarts a paused clock. The pause duration is accumulated and
// periodStart shifts forward by it, so played minutes exclude the pause.
func (e *Engine) Resume(matchID string) (Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, ok := e.clocks[matchID]
	if !ok {
		return Snapshot{}, domain.ErrClockNotFound
	}
	if c.timerRunning {
		return e.snapshotLocked(c), domain.ErrTimerRunning
	}

	pauseDuration := e.nowFn().Sub(c.lastPauseTime)
	c.pausedTime += pauseDuration
	c.periodStart = c.periodStart.Add(pauseDuration)
	c.timerRunning = true
	c.status = domain.MatchStatusInProgress

	log.Printf("engine: match %s resumed after %s pause", matchID, pauseDuration.Round(time.Second))
	return e.snapshotLocked(c), nil
}

// StopMatch ends a match unconditionally and removes its clock.
func (e *Engine) StopMatch(matchID string) (Snapshot, error) {
	e.mu.Lock()
	c, ok := e.clocks[matchID]
	if !ok {
		e.mu.Unlock()
		return Snapshot{}, domain.ErrClockNotFound
	}

	c.timerRunning = false
	c.status = domain.MatchStatusCompleted
	snap := e.snapshotLocked(c)
	delete(e.clocks, matchID)
	onCompleted := e.onMatchCompleted
	e.mu.Unlock()

	log.Printf("engine: match %s stopped", matchID)
	if onCompleted != nil {
		onCompleted(snap)
	}
	return snap, nil
}

// AddInjuryTime extends the current period by the given number of minutes.
func (e *Engine) AddInjuryTime(matchID string, minutes int) (Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, ok := e.clocks[matchID]
	if !ok {
		return Snapshot{}, domain.ErrClockNotFound
	}
	c.injuryTime += time.Duration(minutes) * time.Minute
	return e.snapshotLocked(c), nil
}

// EndInjuryTime clears any remaining injury time for the current period.
func (e *Engine) EndInjuryTime(matchID string) (Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, ok := e.clocks[matchID]
	if !ok {
		return Snapshot{}, domain.ErrClockNotFound
	}
	c.injuryTime = 0
	return e.snapshotLocked(c), nil
}

// SetPeriodDuration overrides the regulation period length for one match.
func (e *Engine) SetPeriodDuration(matchID string, d time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, ok := e.clocks[matchID]
	if !ok {
		return domain.ErrClockNotFound
	}
	c.periodDuration = d
	return nil
}

// SkipToPeriod is the operator override that bypasses automatic ordering.
// The reason is mandatory and logged.
func (e *Engine) SkipToPeriod(matchID string, period domain.MatchPeriod, reason string) (Snapshot, error) {
	if !validPeriod(period) {
		return Snapshot{}, domain.ErrInvalidPeriod
	}

	e.mu.Lock()
	c, ok := e.clocks[matchID]
	if !ok {
		e.mu.Unlock()
		return Snapshot{}, domain.ErrClockNotFound
	}

	from := c.period
	c.period = period
	c.periodStart = e.nowFn()
	c.injuryTime = 0
	c.currentMinute = baseMinute(period)
	snap := e.snapshotLocked(c)
	onTransition := e.onPeriodTransition
	e.mu.Unlock()

	log.Printf("engine: match %s period override %s -> %s (reason: %s)", matchID, from, period, reason)
	if onTransition != nil {
		onTransition(snap, from)
	}
	return snap, nil
}

// RecordGoal updates the engine's score bookkeeping for a goal event.
func (e *Engine) RecordGoal(matchID string, home bool) (Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, ok := e.clocks[matchID]
	if !ok {
		return Snapshot{}, domain.ErrClockNotFound
	}
	if home {
		c.homeScore++
	} else {
		c.awayScore++
	}
	return e.snapshotLocked(c), nil
}

// SetScore overwrites the clock's score bookkeeping. Used when a goal
// accepted on another instance is adopted here; without it the next clock
// push would revert the score.
func (e *Engine) SetScore(matchID string, homeScore, awayScore int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, ok := e.clocks[matchID]
	if !ok {
		return domain.ErrClockNotFound
	}
	c.homeScore = homeScore
	c.awayScore = awayScore
	return nil
}

// Snapshot returns the current clock view for a match.
func (e *Engine) Snapshot(matchID string) (Snapshot, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	c, ok := e.clocks[matchID]
	if !ok {
		return Snapshot{}, domain.ErrClockNotFound
	}
	return e.snapshotLocked(c), nil
}

// Run drives the global ticker until ctx/Stop. Every live clock with a
// running timer advances on each tick.
func (e *Engine) Run() {
	defer close(e.done)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			e.tick()
		}
	}
}

// Stop terminates Run. Safe to call more than once.
func (e *Engine) Stop() {
	e.once.Do(func() { close(e.stop) })
	<-e.done
}

// tick advances every running clock: recompute elapsed-in-period, update the
// current minute, evaluate transitions, accumulate play time, and emit a
// timer update.
func (e *Engine) tick() {
	now := e.nowFn()

	type emit struct {
		snap      Snapshot
		from      domain.MatchPeriod
		changed   bool
		completed bool
	}

	e.mu.Lock()
	updates := make([]emit, 0, len(e.clocks))
	for _, c := range e.clocks {
		if !c.timerRunning {
			continue
		}

		elapsed := now.Sub(c.periodStart)
		c.currentMinute = baseMinute(c.period) + int(elapsed/time.Minute)
		if c.period != domain.PeriodHalftime {
			c.totalPlayTime += tickInterval
		}

		from := c.period
		completed := e.evaluateTransitionLocked(c, elapsed)
		updates = append(updates, emit{
			snap:      e.snapshotLocked(c),
			from:      from,
			changed:   c.period != from || completed,
			completed: completed,
		})
	}

	for _, u := range updates {
		if u.completed {
			delete(e.clocks, u.snap.MatchID)
		}
	}
	onTimer := e.onTimerUpdate
	onTransition := e.onPeriodTransition
	onCompleted := e.onMatchCompleted
	e.mu.Unlock()

	for _, u := range updates {
		if onTimer != nil {
			onTimer(u.snap)
		}
		if u.changed && !u.completed && onTransition != nil {
			onTransition(u.snap, u.from)
		}
		if u.completed && onCompleted != nil {
			onCompleted(u.snap)
		}
	}
}

// evaluateTransitionLocked applies the automatic period ordering. Returns
// true when the match reached its terminal status.
func (e *Engine) evaluateTransitionLocked(c *clock, elapsed time.Duration) bool {
	now := e.nowFn()

	switch c.period {
	case domain.PeriodFirstHalf:
		if elapsed >= c.periodDuration+c.injuryTime {
			e.transitionLocked(c, domain.PeriodHalftime, now)
		}
	case domain.PeriodHalftime:
		if elapsed >= halftimeDuration {
			e.transitionLocked(c, domain.PeriodSecondHalf, now)
		}
	case domain.PeriodSecondHalf:
		if elapsed >= c.periodDuration+c.injuryTime {
			if c.homeScore == c.awayScore {
				e.transitionLocked(c, domain.PeriodExtraTime, now)
			} else {
				return e.completeLocked(c)
			}
		}
	case domain.PeriodExtraTime:
		if elapsed >= c.extraTimeDuration+c.injuryTime {
			if c.homeScore == c.awayScore {
				e.transitionLocked(c, domain.PeriodPenalties, now)
			} else {
				return e.completeLocked(c)
			}
		}
	case domain.PeriodPenalties:
		// No automatic exit; resolution is an operator action.
	}
	return false
}

func (e *Engine) transitionLocked(c *clock, to domain.MatchPeriod, now time.Time) {
	log.Printf("engine: match %s period %s -> %s", c.matchID, c.period, to)
	c.period = to
	c.periodStart = now
	c.injuryTime = 0
	c.currentMinute = baseMinute(to)
}

func (e *Engine) completeLocked(c *clock) bool {
	c.status = domain.MatchStatusCompleted
	c.timerRunning = false
	log.Printf("engine: match %s completed %d-%d", c.matchID, c.homeScore, c.awayScore)
	return true
}

func (e *Engine) snapshotLocked(c *clock) Snapshot {
	return Snapshot{
		MatchID:       c.matchID,
		Status:        c.status,
		Period:        c.period,
		CurrentMinute: c.currentMinute,
		HomeScore:     c.homeScore,
		AwayScore:     c.awayScore,
		TimerRunning:  c.timerRunning,
		InjuryTime:    int(c.injuryTime / time.Minute),
		TotalPlayTime: c.totalPlayTime,
		PausedTime:    c.pausedTime,
	}
}

// baseMinute is the display minute at which each period begins.
func baseMinute(p domain.MatchPeriod) int {
	switch p {
	case domain.PeriodFirstHalf:
		return 0
	case domain.PeriodHalftime, domain.PeriodSecondHalf:
		return 45
	case domain.PeriodExtraTime:
		return 90
	case domain.PeriodPenalties:
		return 120
	}
	return 0
}

func validPeriod(p domain.MatchPeriod) bool {
	switch p {
	case domain.PeriodFirstHalf, domain.PeriodHalftime, domain.PeriodSecondHalf,
		domain.PeriodExtraTime, domain.PeriodPenalties:
		return true
	}
	return false
}
