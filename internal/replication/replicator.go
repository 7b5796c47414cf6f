// Package replication keeps each instance's live match state converged with
// the rest of the fleet. Writes are versioned and pushed through the shared
// store; adoption is last-writer-wins by version with a timestamp tiebreak,
// which makes re-delivery and reordering of messages harmless.
package replication

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/dom/league-match-engine/internal/coordination"
)

const defaultSweepInterval = 15 * time.Second

// Replicator owns this instance's copy of every live match state and
// reconciles it against the coordination store.
type Replicator struct {
	store    coordination.Store
	serverID string
	stateTTL time.Duration

	states map[string]*MatchState
	synced bool

	sweepInterval time.Duration
	onAdopt       func(state *MatchState)
	onRemove      func(matchID string)
	observeStore  func(d time.Duration)

	stop chan struct{}
	done chan struct{}
	once sync.Once

	mu sync.RWMutex
}

func NewReplicator(store coordination.Store, serverID string, stateTTL time.Duration) *Replicator {
	return &Replicator{
		store:         store,
		serverID:      serverID,
		stateTTL:      stateTTL,
		states:        make(map[string]*MatchState),
		sweepInterval: defaultSweepInterval,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// SetOnAdopt installs the callback invoked after a remote state is adopted,
// so the room layer can rebroadcast it to connected clients.
func (r *Replicator) SetOnAdopt(fn func(state *MatchState)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onAdopt = fn
}

// SetOnRemove installs the callback invoked when a match is removed by
// another instance.
func (r *Replicator) SetOnRemove(fn func(matchID string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onRemove = fn
}

// SetStoreObserver installs a latency hook for store round trips, fed to the
// performance monitor.
func (r *Replicator) SetStoreObserver(fn func(d time.Duration)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observeStore = fn
}

// ActiveMatchCount reports how many live matches this instance holds.
func (r *Replicator) ActiveMatchCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.states)
}

// Get returns the live state for a match: the local copy if held, the
// shared store's copy otherwise, or nil when neither exists. Store failures
// degrade to nil with a logged warning; reads never surface an error.
func (r *Replicator) Get(ctx context.Context, matchID string) *MatchState {
	r.mu.RLock()
	local, ok := r.states[matchID]
	r.mu.RUnlock()
	if ok {
		return local.Clone()
	}

	remote, err := r.fetchRemote(ctx, matchID)
	if err != nil {
		if err != coordination.ErrNotFound {
			log.Printf("replication: store read for %s failed, degrading to local view: %v", matchID, err)
		}
		return nil
	}

	r.adopt(remote, false)
	return remote.Clone()
}

// Update applies mutate to the local copy of the match state under lock,
// stamps it with this server's identity and the next version, writes it
// through to the shared store with a TTL, and publishes a change
// notification. The local copy is committed even if the write-through fails
// (there is no rollback); the error tells the caller replication is lagging.
func (r *Replicator) Update(ctx context.Context, matchID string, mutate func(state *MatchState)) (*MatchState, error) {
	// A cold instance must not fabricate version 1 for a match the fleet
	// already knows at version N. Sync before the first local write.
	r.mu.RLock()
	_, held := r.states[matchID]
	synced := r.synced
	r.mu.RUnlock()
	if !held && !synced {
		if remote, err := r.fetchRemote(ctx, matchID); err == nil {
			r.adopt(remote, false)
		}
	}

	r.mu.Lock()
	base, ok := r.states[matchID]
	var next *MatchState
	if ok {
		next = base.Clone()
	} else {
		next = &MatchState{MatchID: matchID}
	}

	mutate(next)

	next.MatchID = matchID
	next.ServerID = r.serverID
	next.Version++
	next.LastUpdated = time.Now()
	r.states[matchID] = next
	committed := next.Clone()
	r.mu.Unlock()

	if err := r.push(ctx, committed); err != nil {
		return committed, err
	}
	return committed, nil
}

// Remove drops a match from local state and the shared store, and tells the
// fleet. Used when a match completes and its room winds down.
func (r *Replicator) Remove(ctx context.Context, matchID string) error {
	r.mu.Lock()
	delete(r.states, matchID)
	r.mu.Unlock()

	if err := r.store.SRem(ctx, coordination.KeyActiveMatches, matchID); err != nil {
		return err
	}
	if err := r.store.Delete(ctx, coordination.KeyMatchState(matchID)); err != nil {
		return err
	}

	env, err := coordination.NewEnvelope(coordination.MsgMatchRemoved, r.serverID, map[string]string{"matchId": matchID})
	if err != nil {
		return err
	}
	return r.store.Publish(ctx, coordination.ChannelMatchState(matchID), env)
}

// ApplyRemote folds a state pushed by another instance into the local view.
// Messages from our own origin and messages whose version does not exceed
// the held version are dropped, which makes application idempotent under
// duplicated or out-of-order delivery. Returns whether the state was adopted.
func (r *Replicator) ApplyRemote(state *MatchState) bool {
	if state == nil || state.ServerID == r.serverID {
		return false
	}
	return r.adopt(state, true)
}

// Hydrate enumerates the fleet's active matches and loads whatever state can
// be recovered. After the first successful pass this instance is considered
// synced and may originate writes for matches it has never seen.
func (r *Replicator) Hydrate(ctx context.Context) error {
	matchIDs, err := r.store.SMembers(ctx, coordination.KeyActiveMatches)
	if err != nil {
		return err
	}

	recovered := 0
	for _, matchID := range matchIDs {
		remote, err := r.fetchRemote(ctx, matchID)
		if err != nil {
			continue
		}
		if r.adopt(remote, false) {
			recovered++
		}
	}

	r.mu.Lock()
	r.synced = true
	r.mu.Unlock()

	log.Printf("replication: hydrated %d of %d active matches", recovered, len(matchIDs))
	return nil
}

// Reconcile runs one sweep: every match in the local view or the fleet's
// active set is compared against the store copy. Higher remote versions from
// a different origin are adopted wholesale; higher local versions are pushed.
func (r *Replicator) Reconcile(ctx context.Context) {
	ids := make(map[string]struct{})

	r.mu.RLock()
	for id := range r.states {
		ids[id] = struct{}{}
	}
	r.mu.RUnlock()

	if members, err := r.store.SMembers(ctx, coordination.KeyActiveMatches); err == nil {
		for _, id := range members {
			ids[id] = struct{}{}
		}
	} else {
		log.Printf("replication: sweep could not list active matches: %v", err)
	}

	for matchID := range ids {
		remote, err := r.fetchRemote(ctx, matchID)

		r.mu.RLock()
		local := r.states[matchID]
		r.mu.RUnlock()

		switch {
		case err == coordination.ErrNotFound && local != nil:
			// Store entry expired out from under us; restore it.
			if pushErr := r.push(ctx, local.Clone()); pushErr != nil {
				log.Printf("replication: sweep re-push of %s failed: %v", matchID, pushErr)
			}
		case err != nil:
			continue
		case local == nil || remote.Version > local.Version:
			if remote.ServerID != r.serverID {
				r.adopt(remote, true)
			}
		case local.Version > remote.Version:
			if pushErr := r.push(ctx, local.Clone()); pushErr != nil {
				log.Printf("replication: sweep push of %s failed: %v", matchID, pushErr)
			}
		case local.Version == remote.Version && remote.ServerID != r.serverID:
			// Version tie across origins: newest timestamp wins.
			if remote.LastUpdated.After(local.LastUpdated) {
				r.adopt(remote, true)
			}
		}
	}
}

// Run drives the subscription and the periodic reconciliation sweep. It
// hydrates first so this instance starts from the fleet's view.
func (r *Replicator) Run(ctx context.Context) {
	defer close(r.done)

	if err := r.Hydrate(ctx); err != nil {
		log.Printf("replication: startup hydration failed, continuing unsynced: %v", err)
	}

	sub, err := r.store.PSubscribe(ctx, coordination.PatternMatchState)
	if err != nil {
		log.Printf("replication: subscription failed, relying on sweeps only: %v", err)
	} else {
		defer sub.Close()
	}

	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	var messages <-chan *coordination.Envelope
	if sub != nil {
		messages = sub.Messages()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-ticker.C:
			r.Reconcile(ctx)
		case env, ok := <-messages:
			if !ok {
				messages = nil
				continue
			}
			r.handleEnvelope(env)
		}
	}
}

// Stop terminates Run. Safe to call more than once.
func (r *Replicator) Stop() {
	r.once.Do(func() { close(r.stop) })
	<-r.done
}

func (r *Replicator) handleEnvelope(env *coordination.Envelope) {
	if env.Source == r.serverID {
		return
	}

	switch env.Type {
	case coordination.MsgMatchStateUpdated:
		var state MatchState
		if err := json.Unmarshal(env.Data, &state); err != nil {
			log.Printf("replication: malformed state update from %s: %v", env.Source, err)
			return
		}
		r.ApplyRemote(&state)
	case coordination.MsgMatchRemoved:
		var payload struct {
			MatchID string `json:"matchId"`
		}
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return
		}
		r.mu.Lock()
		_, held := r.states[payload.MatchID]
		delete(r.states, payload.MatchID)
		onRemove := r.onRemove
		r.mu.Unlock()

		if held && onRemove != nil {
			onRemove(payload.MatchID)
		}
	}
}

// adopt installs state locally if its version exceeds what we hold (or on a
// sweep timestamp tiebreak, where the caller has already decided). notify
// controls whether the adoption callback fires.
func (r *Replicator) adopt(state *MatchState, notify bool) bool {
	r.mu.Lock()
	local, ok := r.states[state.MatchID]
	if ok && state.Version < local.Version {
		r.mu.Unlock()
		return false
	}
	if ok && state.Version == local.Version && !state.LastUpdated.After(local.LastUpdated) {
		r.mu.Unlock()
		return false
	}
	adopted := state.Clone()
	r.states[state.MatchID] = adopted
	onAdopt := r.onAdopt
	r.mu.Unlock()

	if notify && onAdopt != nil {
		onAdopt(adopted.Clone())
	}
	return true
}

func (r *Replicator) fetchRemote(ctx context.Context, matchID string) (*MatchState, error) {
	start := time.Now()
	data, err := r.store.Get(ctx, coordination.KeyMatchState(matchID))
	r.observe(time.Since(start))
	if err != nil {
		return nil, err
	}

	var state MatchState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// push writes state through to the store and publishes a change notification
// tagged with this instance as origin.
func (r *Replicator) push(ctx context.Context, state *MatchState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}

	start := time.Now()
	if err := r.store.SetWithTTL(ctx, coordination.KeyMatchState(state.MatchID), data, r.stateTTL); err != nil {
		r.observe(time.Since(start))
		return err
	}
	if err := r.store.SAdd(ctx, coordination.KeyActiveMatches, state.MatchID); err != nil {
		r.observe(time.Since(start))
		return err
	}
	r.observe(time.Since(start))

	env, err := coordination.NewEnvelope(coordination.MsgMatchStateUpdated, r.serverID, state)
	if err != nil {
		return err
	}
	return r.store.Publish(ctx, coordination.ChannelMatchState(state.MatchID), env)
}

func (r *Replicator) observe(d time.Duration) {
	r.mu.RLock()
	fn := r.observeStore
	r.mu.RUnlock()
	if fn != nil {
		fn(d)
	}
}
