// internal/game/types.go
//
// Core type definitions for the wager resolution engine.
// Defines:
//   - Phase:      per-race state (selecting → locked → resolved → selecting | terminal).
//   - Outcome:    terminal human-vs-opponent classification.
//   - Notice:     code describing the last event, mapped to text by the presentation layer.
//   - Rules:      balances, stakes and countdown settings for a session.
//   - Settlement: the debit/credit record of one resolved race.
//   - Snapshot:   read-only copy of the session for rendering.

package game

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/robalobadob/keiba-duel/internal/racecard"
)

// Phase is the single discriminated state of the current race.
type Phase string

const (
	PhaseSelecting Phase = "selecting" // countdown running, picks and wager editable
	PhaseLocked    Phase = "locked"    // wager confirmed, stakes debited, awaiting resolution
	PhaseResolved  Phase = "resolved"  // winner known, payouts credited
	PhaseTerminal  Phase = "terminal"  // all races done
)

// Outcome is the final comparison of balances.
type Outcome string

const (
	OutcomeHuman    Outcome = "human"
	OutcomeOpponent Outcome = "opponent"
	OutcomeTie      Outcome = "tie"
)

// Notice describes the last event applied to the session.
type Notice string

const (
	NoticeRaceStarted      Notice = "race_started"
	NoticeEntrantSelected  Notice = "entrant_selected"
	NoticeSelectionCleared Notice = "selection_cleared"
	NoticeWagerChanged     Notice = "wager_changed"
	NoticeOpponentSelected Notice = "opponent_selected"
	NoticeWagerConfirmed   Notice = "wager_confirmed"

	NoticeNoSelection          Notice = "no_selection"
	NoticeInsufficientBalance  Notice = "insufficient_balance"
	NoticeOpponentInsufficient Notice = "opponent_insufficient"
	NoticeZeroWager            Notice = "zero_wager"

	NoticeBothWon          Notice = "both_won"
	NoticeHumanWon         Notice = "human_won"
	NoticeOpponentWon      Notice = "opponent_won"
	NoticeNobodyWon        Notice = "nobody_won"
	NoticeResolutionFailed Notice = "resolution_failed"

	NoticeGameOver Notice = "game_over"
)

// Rules configures a session. Amounts are whole currency units.
type Rules struct {
	StartingBalance   int64 // both balances start here
	OpponentStake     int64 // fixed stake of the automated opponent
	DefaultWager      int64 // wager applied on first selection and after clearing
	Countdown         int   // ticks per race
	OpponentThreshold int   // ticks remaining at which the opponent picks on its own
}

// DefaultRules returns the standard game: 10,000 each, opponent stakes 1,000,
// 100 default wager, 30-tick countdown, opponent picks at 10 left.
func DefaultRules() Rules {
	return Rules{
		StartingBalance:   10000,
		OpponentStake:     1000,
		DefaultWager:      100,
		Countdown:         30,
		OpponentThreshold: 10,
	}
}

// Validate rejects rule sets the engine cannot run.
func (r Rules) Validate() error {
	switch {
	case r.StartingBalance < 0:
		return errors.New("starting balance must not be negative")
	case r.OpponentStake < 0:
		return errors.New("opponent stake must not be negative")
	case r.DefaultWager < 0:
		return errors.New("default wager must not be negative")
	case r.Countdown <= 0:
		return errors.New("countdown must be positive")
	case r.OpponentThreshold < 0 || r.OpponentThreshold >= r.Countdown:
		return errors.New("opponent threshold must be within the countdown")
	}
	return nil
}

// Settlement records how one race was settled.
type Settlement struct {
	RaceIndex int    `json:"raceIndex"`
	RaceID    string `json:"raceId"`
	WinnerID  string `json:"winnerId,omitempty"`

	HumanPick   string          `json:"humanPick,omitempty"`
	HumanWager  int64           `json:"humanWager"`
	HumanPayout decimal.Decimal `json:"humanPayout"`

	OpponentPick   string          `json:"opponentPick,omitempty"`
	OpponentStake  int64           `json:"opponentStake"`
	OpponentPayout decimal.Decimal `json:"opponentPayout"`

	Staked bool   `json:"staked"` // stakes were debited at confirmation
	Error  string `json:"error,omitempty"`
}

// Snapshot is a copy of the session state for the presentation layer.
type Snapshot struct {
	ID        string        `json:"id"`
	RaceIndex int           `json:"raceIndex"`
	RaceCount int           `json:"raceCount"`
	Race      racecard.Race `json:"race"`
	Phase     Phase         `json:"phase"`

	HumanBalance    decimal.Decimal `json:"humanBalance"`
	OpponentBalance decimal.Decimal `json:"opponentBalance"`

	Selection     string `json:"selection,omitempty"`
	Wager         int64  `json:"wager"`
	OpponentPick  string `json:"opponentPick,omitempty"`
	OpponentStake int64  `json:"opponentStake"`

	Countdown        int  `json:"countdown"`
	CountdownRunning bool `json:"countdownRunning"`
	Finished         bool `json:"finished"`

	Winner          *racecard.Entrant `json:"winner,omitempty"`
	ResolutionError string            `json:"resolutionError,omitempty"`

	Terminal bool    `json:"terminal"`
	Outcome  Outcome `json:"outcome,omitempty"`

	Notice  Notice       `json:"notice,omitempty"`
	History []Settlement `json:"history"`
}
