// internal/game/engine.go
//
// Wager resolution engine for a single human-vs-opponent session.
// Responsibilities:
//   - Track balances across an ordered list of races.
//   - Apply player actions (select, wager, confirm) with strict phase checks.
//   - Pick the automated opponent's entrant (max prediction score, never the
//     human's pick when an alternative exists).
//   - Settle each race: stakes are debited at confirmation, the full return
//     (stake × odds) is credited at resolution to whoever picked the winner,
//     whether the race ended by confirmation or by countdown expiry.
//   - Drive the countdown one tick at a time and classify the terminal outcome.
//
// Notes:
//   - Session holds no timers and no locks; the table package serialises
//     events and owns the countdown handle.
//   - Every rejected operation leaves the session unchanged apart from Notice.

package game

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/robalobadob/keiba-duel/internal/racecard"
)

var (
	// ErrInvalidWager is wrapped by every confirmWager precondition failure.
	ErrInvalidWager = errors.New("invalid wager")

	ErrNoSelection          = fmt.Errorf("%w: no entrant selected", ErrInvalidWager)
	ErrInsufficientBalance  = fmt.Errorf("%w: wager exceeds balance", ErrInvalidWager)
	ErrOpponentInsufficient = fmt.Errorf("%w: opponent stake exceeds its balance", ErrInvalidWager)
	ErrZeroWager            = fmt.Errorf("%w: wager must be non-zero", ErrInvalidWager)

	// ErrResolution marks malformed race data found while resolving.
	ErrResolution = errors.New("race resolution failed")

	ErrWrongPhase     = errors.New("operation not valid in current phase")
	ErrUnknownEntrant = errors.New("entrant not in current race")
)

// Session is the mutable state of one game: a sequence of races played by
// the human against the automated opponent.
type Session struct {
	id    string
	rules Rules
	races []racecard.Race

	index int
	phase Phase

	humanBalance    decimal.Decimal
	opponentBalance decimal.Decimal

	selection    string
	wager        int64
	opponentPick string
	staked       bool

	countdown int

	winner     *racecard.Entrant
	resolveErr error

	outcome Outcome
	notice  Notice
	history []Settlement
}

// New starts a session at the first race with both balances reset.
// Returns racecard.ErrDataUnavailable when there is nothing to race.
func New(races []racecard.Race, rules Rules) (*Session, error) {
	if len(races) == 0 {
		return nil, racecard.ErrDataUnavailable
	}
	if err := rules.Validate(); err != nil {
		return nil, fmt.Errorf("rules: %w", err)
	}
	s := &Session{
		id:              uuid.NewString(),
		rules:           rules,
		races:           races,
		humanBalance:    decimal.NewFromInt(rules.StartingBalance),
		opponentBalance: decimal.NewFromInt(rules.StartingBalance),
		history:         []Settlement{},
	}
	s.startRace(0)
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Phase returns the current phase.
func (s *Session) Phase() Phase { return s.phase }

// Outcome returns the terminal outcome, or "" before the session is terminal.
func (s *Session) Outcome() Outcome { return s.outcome }

// Countdown returns the ticks left in the current race.
func (s *Session) Countdown() int { return s.countdown }

// Balances returns the human and opponent balances.
func (s *Session) Balances() (human, opponent decimal.Decimal) {
	return s.humanBalance, s.opponentBalance
}

// Race returns the race currently being played.
func (s *Session) Race() racecard.Race { return s.races[s.index] }

// ResolutionError returns the error recorded by the last failed resolution.
func (s *Session) ResolutionError() error { return s.resolveErr }

// ------------------------------ actions -------------------------------------

// SelectEntrant toggles the human's pick. Selecting the current pick again
// clears it and restores the default wager; a first pick applies the
// default wager; switching picks keeps the wager.
func (s *Session) SelectEntrant(entrantID string) error {
	if s.phase != PhaseSelecting {
		return ErrWrongPhase
	}
	if _, ok := s.Race().Find(entrantID); !ok {
		return ErrUnknownEntrant
	}
	switch {
	case s.selection == entrantID:
		s.selection = ""
		s.wager = s.rules.DefaultWager
		s.notice = NoticeSelectionCleared
	case s.selection == "":
		s.selection = entrantID
		s.wager = s.rules.DefaultWager
		s.notice = NoticeEntrantSelected
	default:
		s.selection = entrantID
		s.notice = NoticeEntrantSelected
	}
	return nil
}

// SetWager changes the human's wager. Negative amounts are ignored and
// leave the session untouched.
func (s *Session) SetWager(amount int64) error {
	if s.phase != PhaseSelecting {
		return ErrWrongPhase
	}
	if amount < 0 {
		return nil
	}
	s.wager = amount
	s.notice = NoticeWagerChanged
	return nil
}

// AutoOpponentSelect makes the opponent's pick if it has not picked yet.
// Once the opponent has picked, further calls change nothing, even if the
// human's selection has moved onto that entrant since.
func (s *Session) AutoOpponentSelect() error {
	if s.phase != PhaseSelecting {
		return ErrWrongPhase
	}
	s.pickOpponent()
	return nil
}

// ConfirmWager validates the wager, debits both stakes and locks the race.
// Preconditions are checked in order; a failure changes nothing but Notice.
func (s *Session) ConfirmWager() error {
	if s.phase != PhaseSelecting {
		return ErrWrongPhase
	}
	stake := decimal.NewFromInt(s.rules.OpponentStake)
	switch {
	case s.selection == "":
		s.notice = NoticeNoSelection
		return ErrNoSelection
	case decimal.NewFromInt(s.wager).GreaterThan(s.humanBalance):
		s.notice = NoticeInsufficientBalance
		return ErrInsufficientBalance
	case stake.GreaterThan(s.opponentBalance):
		s.notice = NoticeOpponentInsufficient
		return ErrOpponentInsufficient
	case s.wager == 0:
		s.notice = NoticeZeroWager
		return ErrZeroWager
	}

	// Both debits or neither: every check above has already passed.
	s.humanBalance = s.humanBalance.Sub(decimal.NewFromInt(s.wager))
	s.opponentBalance = s.opponentBalance.Sub(stake)
	s.staked = true

	_ = s.AutoOpponentSelect()
	s.phase = PhaseLocked
	s.notice = NoticeWagerConfirmed
	return nil
}

// ResolveRace determines the winner and credits payouts. It is valid from
// selecting (countdown expiry) and locked (after confirmation). Calling it
// again once the race is resolved is a no-op.
func (s *Session) ResolveRace() error {
	switch s.phase {
	case PhaseResolved:
		return nil
	case PhaseSelecting, PhaseLocked:
	default:
		return ErrWrongPhase
	}
	if s.phase == PhaseSelecting {
		_ = s.AutoOpponentSelect()
	}

	race := s.Race()
	settlement := Settlement{
		RaceIndex:      s.index,
		RaceID:         race.ID,
		HumanPick:      s.selection,
		OpponentPick:   s.opponentPick,
		HumanWager:     s.wager,
		OpponentStake:  s.rules.OpponentStake,
		Staked:         s.staked,
		HumanPayout:    decimal.Zero,
		OpponentPayout: decimal.Zero,
	}
	if s.selection == "" {
		settlement.HumanWager = 0
	}

	winner, err := Winner(race)
	if err == nil && !winner.Odds.Valid {
		err = fmt.Errorf("%w: winner %s has no valid odds", ErrResolution, winner.EntrantID)
	}
	if err != nil {
		// Malformed race: resolved with no payout; stakes stay debited.
		settlement.Error = err.Error()
		s.resolveErr = err
		s.finishRace(settlement, NoticeResolutionFailed)
		return err
	}

	s.winner = &winner
	settlement.WinnerID = winner.EntrantID
	odds := winner.Odds.Decimal

	// Payouts follow the pick on both paths: a confirmed wager and a
	// countdown expiry are settled alike.
	humanWon := s.selection != "" && s.selection == winner.EntrantID
	opponentWon := s.opponentPick != "" && s.opponentPick == winner.EntrantID
	if humanWon {
		settlement.HumanPayout = decimal.NewFromInt(settlement.HumanWager).Mul(odds)
	}
	if opponentWon {
		settlement.OpponentPayout = decimal.NewFromInt(settlement.OpponentStake).Mul(odds)
	}
	s.humanBalance = s.humanBalance.Add(settlement.HumanPayout)
	s.opponentBalance = s.opponentBalance.Add(settlement.OpponentPayout)

	notice := NoticeNobodyWon
	switch {
	case humanWon && opponentWon:
		notice = NoticeBothWon
	case humanWon:
		notice = NoticeHumanWon
	case opponentWon:
		notice = NoticeOpponentWon
	}
	s.finishRace(settlement, notice)
	return nil
}

// Advance moves to the next race, or ends the session after the last one.
func (s *Session) Advance() error {
	if s.phase != PhaseResolved {
		return ErrWrongPhase
	}
	if s.index < len(s.races)-1 {
		s.startRace(s.index + 1)
		return nil
	}
	switch s.humanBalance.Cmp(s.opponentBalance) {
	case 1:
		s.outcome = OutcomeHuman
	case -1:
		s.outcome = OutcomeOpponent
	default:
		s.outcome = OutcomeTie
	}
	s.phase = PhaseTerminal
	s.notice = NoticeGameOver
	return nil
}

// Tick advances the countdown by one unit. At the opponent threshold the
// opponent picks if it has not yet; at zero the race is resolved.
// The returned error is a resolution error, if any.
func (s *Session) Tick() error {
	if s.phase != PhaseSelecting {
		return ErrWrongPhase
	}
	if s.countdown > 0 {
		s.countdown--
	}
	if s.countdown <= s.rules.OpponentThreshold {
		_ = s.AutoOpponentSelect()
	}
	if s.countdown == 0 {
		return s.ResolveRace()
	}
	return nil
}

// Snapshot copies the session state for rendering.
func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		ID:               s.id,
		RaceIndex:        s.index,
		RaceCount:        len(s.races),
		Race:             s.Race(),
		Phase:            s.phase,
		HumanBalance:     s.humanBalance,
		OpponentBalance:  s.opponentBalance,
		Selection:        s.selection,
		Wager:            s.wager,
		OpponentPick:     s.opponentPick,
		OpponentStake:    s.rules.OpponentStake,
		Countdown:        s.countdown,
		CountdownRunning: s.phase == PhaseSelecting,
		Finished:         s.phase == PhaseResolved || s.phase == PhaseTerminal,
		Terminal:         s.phase == PhaseTerminal,
		Outcome:          s.outcome,
		Notice:           s.notice,
		History:          make([]Settlement, len(s.history)),
	}
	copy(snap.History, s.history)
	if s.winner != nil {
		w := *s.winner
		snap.Winner = &w
	}
	if s.resolveErr != nil {
		snap.ResolutionError = s.resolveErr.Error()
	}
	return snap
}

// ------------------------------ internals -----------------------------------

// startRace resets all per-race fields for race i.
func (s *Session) startRace(i int) {
	s.index = i
	s.phase = PhaseSelecting
	s.selection = ""
	s.wager = s.rules.DefaultWager
	s.opponentPick = ""
	s.staked = false
	s.countdown = s.rules.Countdown
	s.winner = nil
	s.resolveErr = nil
	s.notice = NoticeRaceStarted
}

func (s *Session) finishRace(st Settlement, n Notice) {
	s.history = append(s.history, st)
	s.countdown = 0
	s.phase = PhaseResolved
	s.notice = n
}

// pickOpponent selects once per race; later calls are no-ops.
func (s *Session) pickOpponent() {
	if s.opponentPick != "" {
		return
	}
	if pick, ok := OpponentChoice(s.Race(), s.selection); ok {
		s.opponentPick = pick.EntrantID
		s.notice = NoticeOpponentSelected
	}
}

// OpponentChoice returns the entrant with the highest prediction score,
// excluding the human's pick unless it is the only entrant. Ties go to the
// first entrant in feed order; entrants without a score rank below any scored
// one.
func OpponentChoice(race racecard.Race, humanPick string) (racecard.Entrant, bool) {
	candidates := make([]racecard.Entrant, 0, len(race.Entrants))
	for _, e := range race.Entrants {
		if e.EntrantID != humanPick {
			candidates = append(candidates, e)
		}
	}
	if len(candidates) == 0 {
		candidates = race.Entrants
	}
	if len(candidates) == 0 {
		return racecard.Entrant{}, false
	}

	best := candidates[0]
	for _, e := range candidates[1:] {
		if e.Score == nil {
			continue
		}
		if best.Score == nil || *e.Score > *best.Score {
			best = e
		}
	}
	return best, true
}

// Winner returns the entrant with finishing rank 1, or the lowest finishing
// rank when nobody has rank 1. Entrants with an unreadable rank are skipped;
// ties go to the first entrant in feed order.
func Winner(race racecard.Race) (racecard.Entrant, error) {
	if len(race.Entrants) == 0 {
		return racecard.Entrant{}, fmt.Errorf("%w: race %s has no entrants", ErrResolution, race.ID)
	}
	var best *racecard.Entrant
	for i := range race.Entrants {
		e := &race.Entrants[i]
		if e.FinishRank == nil {
			continue
		}
		if *e.FinishRank == 1 {
			return *e, nil
		}
		if best == nil || *e.FinishRank < *best.FinishRank {
			best = e
		}
	}
	if best == nil {
		return racecard.Entrant{}, fmt.Errorf("%w: race %s has no finishing ranks", ErrResolution, race.ID)
	}
	return *best, nil
}
