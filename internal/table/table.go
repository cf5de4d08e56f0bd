// internal/table/table.go
//
// Event dispatcher for one game session.
// Responsibilities:
//   - Serialise user actions and countdown ticks onto a single game.Session.
//   - Own the countdown handle: started on entering the selecting phase,
//     stopped on every exit from it and on Close.
//   - Fan snapshots out to subscribers after every event.
//   - Record wager and resolution metrics.
//
// Notes:
//   - Every countdown start bumps a generation number; a tick carrying an
//     older generation is dropped, so a late tick can never act on a race
//     that was already resolved or torn down.
//   - Subscriber channels are buffered and lossy: a slow reader misses
//     intermediate snapshots rather than stalling the table.

package table

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/robalobadob/keiba-duel/internal/game"
	"github.com/robalobadob/keiba-duel/internal/monitoring"
)

// ErrClosed is returned for any action on a table after Close.
var ErrClosed = errors.New("table closed")

const subscriberBuffer = 8

// Table is the single logical actor driving one session.
type Table struct {
	mu       sync.Mutex
	session  *game.Session
	interval time.Duration

	gen     uint64        // countdown generation
	stop    chan struct{} // closes the running countdown; nil when stopped
	closed  bool
	subs    map[int]chan game.Snapshot
	nextSub int
}

// New wraps a session and starts its first countdown.
// interval is the wall-clock length of one countdown tick.
func New(s *game.Session, interval time.Duration) *Table {
	t := &Table{
		session:  s,
		interval: interval,
		subs:     make(map[int]chan game.Snapshot),
	}
	t.mu.Lock()
	t.syncCountdown()
	t.mu.Unlock()
	return t
}

// ID returns the underlying session id.
func (t *Table) ID() string { return t.session.ID() }

// Snapshot returns the current state without applying an event.
func (t *Table) Snapshot() game.Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.session.Snapshot()
}

// Select toggles the human's pick.
func (t *Table) Select(entrantID string) (game.Snapshot, error) {
	return t.dispatch(func(s *game.Session) error { return s.SelectEntrant(entrantID) })
}

// SetWager changes the human's wager.
func (t *Table) SetWager(amount int64) (game.Snapshot, error) {
	return t.dispatch(func(s *game.Session) error { return s.SetWager(amount) })
}

// Confirm locks the wager and resolves the race in the same event.
// A resolution error is returned alongside the resolved snapshot.
func (t *Table) Confirm() (game.Snapshot, error) {
	return t.dispatch(func(s *game.Session) error {
		if err := s.ConfirmWager(); err != nil {
			if errors.Is(err, game.ErrInvalidWager) {
				monitoring.WagersRejected.WithLabelValues(string(s.Snapshot().Notice)).Inc()
			}
			return err
		}
		monitoring.WagersConfirmed.Inc()
		return s.ResolveRace()
	})
}

// Advance moves to the next race or ends the session.
func (t *Table) Advance() (game.Snapshot, error) {
	return t.dispatch(func(s *game.Session) error { return s.Advance() })
}

// Subscribe returns a channel receiving a snapshot after every event, and a
// cancel func. The channel is closed by cancel or by Close.
func (t *Table) Subscribe() (<-chan game.Snapshot, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ch := make(chan game.Snapshot, subscriberBuffer)
	if t.closed {
		close(ch)
		return ch, func() {}
	}
	id := t.nextSub
	t.nextSub++
	t.subs[id] = ch

	return ch, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if c, ok := t.subs[id]; ok {
			delete(t.subs, id)
			close(c)
		}
	}
}

// Close stops the countdown and releases subscribers. Idempotent.
func (t *Table) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	t.stopCountdown()
	for id, c := range t.subs {
		delete(t.subs, id)
		close(c)
	}
	log.Debug().Str("session", t.session.ID()).Msg("table closed")
}

// ------------------------------ internals -----------------------------------

// dispatch applies one event under the lock, then reconciles the countdown
// with the new phase and publishes the result.
func (t *Table) dispatch(op func(*game.Session) error) (game.Snapshot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return game.Snapshot{}, ErrClosed
	}
	before := t.session.Phase()
	err := op(t.session)
	return t.afterEvent(before), err
}

func (t *Table) afterEvent(before game.Phase) game.Snapshot {
	t.syncCountdown()
	snap := t.session.Snapshot()
	t.observe(before, snap)
	for _, c := range t.subs {
		select {
		case c <- snap:
		default:
		}
	}
	return snap
}

// observe logs and counts phase transitions.
func (t *Table) observe(before game.Phase, snap game.Snapshot) {
	if before == snap.Phase {
		return
	}
	switch snap.Phase {
	case game.PhaseResolved:
		if snap.ResolutionError != "" {
			monitoring.RacesResolved.WithLabelValues("error").Inc()
			log.Warn().Str("session", snap.ID).Str("race", snap.Race.ID).
				Str("error", snap.ResolutionError).Msg("race resolution failed")
			return
		}
		monitoring.RacesResolved.WithLabelValues("ok").Inc()
		ev := log.Info().Str("session", snap.ID).Str("race", snap.Race.ID).Str("notice", string(snap.Notice))
		if snap.Winner != nil {
			ev = ev.Str("winner", snap.Winner.EntrantID)
		}
		ev.Msg("race resolved")
	case game.PhaseTerminal:
		monitoring.SessionOutcomes.WithLabelValues(string(snap.Outcome)).Inc()
		log.Info().Str("session", snap.ID).Str("outcome", string(snap.Outcome)).
			Str("human", snap.HumanBalance.String()).Str("opponent", snap.OpponentBalance.String()).
			Msg("session finished")
	}
}

// syncCountdown runs the countdown exactly while the session is selecting.
// Caller holds t.mu.
func (t *Table) syncCountdown() {
	selecting := !t.closed && t.session.Phase() == game.PhaseSelecting
	switch {
	case selecting && t.stop == nil:
		t.gen++
		t.stop = make(chan struct{})
		go t.runCountdown(t.gen, t.stop)
	case !selecting && t.stop != nil:
		t.stopCountdown()
	}
}

// stopCountdown cancels the running countdown. Caller holds t.mu.
func (t *Table) stopCountdown() {
	if t.stop == nil {
		return
	}
	close(t.stop)
	t.stop = nil
	t.gen++
}

func (t *Table) runCountdown(gen uint64, stop <-chan struct{}) {
	tk := time.NewTicker(t.interval)
	defer tk.Stop()
	for {
		select {
		case <-stop:
			return
		case <-tk.C:
			if !t.tick(gen) {
				return
			}
		}
	}
}

// tick applies one countdown tick if gen is still current.
// Reports whether the countdown should keep running.
func (t *Table) tick(gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || gen != t.gen {
		return false
	}
	before := t.session.Phase()
	if err := t.session.Tick(); err != nil && !errors.Is(err, game.ErrResolution) {
		log.Warn().Err(err).Str("session", t.session.ID()).Msg("tick rejected")
	}
	t.afterEvent(before)
	return gen == t.gen
}
