package game

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robalobadob/keiba-duel/internal/racecard"
)

func intp(n int) *int { return &n }
func floatp(f float64) *float64 { return &f }
func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func horse(race, id, odds string, rank int, score float64) racecard.Entrant {
	e := racecard.Entrant{RaceID: race, EntrantID: id, Name: id, FinishRank: intp(rank), Score: floatp(score)}
	if odds != "" {
		e.Odds = decimal.NewNullDecimal(dec(odds))
	}
	return e
}

// twoHorse is race "r1": A odds 2.5 finishes first, B odds 1.8 finishes second.
// The opponent prefers A.
func twoHorse() racecard.Race {
	return racecard.Race{ID: "r1", Entrants: []racecard.Entrant{
		horse("r1", "A", "2.5", 1, 0.9),
		horse("r1", "B", "1.8", 2, 0.5),
	}}
}

func newSession(t *testing.T, races ...racecard.Race) *Session {
	t.Helper()
	s, err := New(races, DefaultRules())
	require.NoError(t, err)
	return s
}

func assertBalances(t *testing.T, s *Session, human, opponent string) {
	t.Helper()
	h, o := s.Balances()
	assert.True(t, h.Equal(dec(human)), "human balance %s, want %s", h, human)
	assert.True(t, o.Equal(dec(opponent)), "opponent balance %s, want %s", o, opponent)
}

func TestNew_NoRaces(t *testing.T) {
	_, err := New(nil, DefaultRules())
	require.ErrorIs(t, err, racecard.ErrDataUnavailable)
}

func TestNew_InitialState(t *testing.T) {
	s := newSession(t, twoHorse())
	snap := s.Snapshot()

	assert.NotEmpty(t, snap.ID)
	assert.Equal(t, PhaseSelecting, snap.Phase)
	assert.Equal(t, 30, snap.Countdown)
	assert.True(t, snap.CountdownRunning)
	assert.False(t, snap.Finished)
	assert.Equal(t, int64(100), snap.Wager)
	assert.Empty(t, snap.Selection)
	assert.Empty(t, snap.OpponentPick)
	assertBalances(t, s, "10000", "10000")
}

func TestConfirmAndResolve_HumanWins(t *testing.T) {
	s := newSession(t, twoHorse())

	require.NoError(t, s.SelectEntrant("A"))
	require.NoError(t, s.SetWager(1000))
	require.NoError(t, s.ConfirmWager())

	assert.Equal(t, PhaseLocked, s.Phase())
	assert.Equal(t, "B", s.Snapshot().OpponentPick, "opponent must avoid the human's pick")
	assertBalances(t, s, "9000", "9000")

	require.NoError(t, s.ResolveRace())
	snap := s.Snapshot()
	assert.Equal(t, PhaseResolved, snap.Phase)
	require.NotNil(t, snap.Winner)
	assert.Equal(t, "A", snap.Winner.EntrantID)
	assert.Equal(t, NoticeHumanWon, snap.Notice)
	assertBalances(t, s, "11500", "9000")

	require.Len(t, snap.History, 1)
	st := snap.History[0]
	assert.True(t, st.Staked)
	assert.True(t, st.HumanPayout.Equal(dec("2500")))
	assert.True(t, st.OpponentPayout.IsZero())
}

func TestResolve_IsIdempotent(t *testing.T) {
	s := newSession(t, twoHorse())
	require.NoError(t, s.SelectEntrant("A"))
	require.NoError(t, s.ConfirmWager())
	require.NoError(t, s.ResolveRace())
	before := s.Snapshot()

	require.NoError(t, s.ResolveRace())
	after := s.Snapshot()
	assert.True(t, before.HumanBalance.Equal(after.HumanBalance))
	assert.True(t, before.OpponentBalance.Equal(after.OpponentBalance))
	assert.Len(t, after.History, 1)
}

func TestConfirm_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		rules  Rules
		setup  func(s *Session)
		want   error
		notice Notice
	}{
		{
			name:   "no selection",
			rules:  DefaultRules(),
			setup:  func(s *Session) {},
			want:   ErrNoSelection,
			notice: NoticeNoSelection,
		},
		{
			name:  "over balance",
			rules: DefaultRules(),
			setup: func(s *Session) {
				_ = s.SelectEntrant("A")
				_ = s.SetWager(20000)
			},
			want:   ErrInsufficientBalance,
			notice: NoticeInsufficientBalance,
		},
		{
			name: "opponent cannot cover stake",
			rules: Rules{
				StartingBalance: 500, OpponentStake: 1000, DefaultWager: 100,
				Countdown: 30, OpponentThreshold: 10,
			},
			setup:  func(s *Session) { _ = s.SelectEntrant("A") },
			want:   ErrOpponentInsufficient,
			notice: NoticeOpponentInsufficient,
		},
		{
			name:  "zero wager",
			rules: DefaultRules(),
			setup: func(s *Session) {
				_ = s.SelectEntrant("A")
				_ = s.SetWager(0)
			},
			want:   ErrZeroWager,
			notice: NoticeZeroWager,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s, err := New([]racecard.Race{twoHorse()}, tc.rules)
			require.NoError(t, err)
			tc.setup(s)
			hBefore, oBefore := s.Balances()

			err = s.ConfirmWager()
			require.ErrorIs(t, err, tc.want)
			assert.True(t, errors.Is(err, ErrInvalidWager))

			snap := s.Snapshot()
			assert.Equal(t, PhaseSelecting, snap.Phase)
			assert.Equal(t, tc.notice, snap.Notice)
			assert.True(t, snap.HumanBalance.Equal(hBefore))
			assert.True(t, snap.OpponentBalance.Equal(oBefore))
		})
	}
}

func TestSelectEntrant_Toggle(t *testing.T) {
	s := newSession(t, twoHorse())

	require.NoError(t, s.SelectEntrant("A"))
	assert.Equal(t, int64(100), s.Snapshot().Wager)

	require.NoError(t, s.SetWager(500))
	require.NoError(t, s.SelectEntrant("B"))
	snap := s.Snapshot()
	assert.Equal(t, "B", snap.Selection)
	assert.Equal(t, int64(500), snap.Wager, "switching picks keeps the wager")

	require.NoError(t, s.SelectEntrant("B"))
	snap = s.Snapshot()
	assert.Empty(t, snap.Selection)
	assert.Equal(t, int64(100), snap.Wager)
	assert.Equal(t, NoticeSelectionCleared, snap.Notice)

	require.ErrorIs(t, s.SelectEntrant("Z"), ErrUnknownEntrant)
}

func TestSetWager_NegativeIgnored(t *testing.T) {
	s := newSession(t, twoHorse())
	require.NoError(t, s.SetWager(250))
	before := s.Snapshot()

	require.NoError(t, s.SetWager(-5))
	after := s.Snapshot()
	assert.Equal(t, int64(250), after.Wager)
	assert.Equal(t, before.Notice, after.Notice)
}

func TestAutoOpponentSelect_PicksOnce(t *testing.T) {
	s := newSession(t, twoHorse())

	require.NoError(t, s.AutoOpponentSelect())
	assert.Equal(t, "A", s.Snapshot().OpponentPick)

	// The human moving onto the opponent's entrant does not make it re-pick.
	require.NoError(t, s.SelectEntrant("A"))
	require.NoError(t, s.AutoOpponentSelect())

	snap := s.Snapshot()
	assert.Equal(t, "A", snap.OpponentPick)
	assert.Equal(t, "A", snap.Selection)
	assertBalances(t, s, "10000", "10000")

	require.NoError(t, s.ConfirmWager())
	require.ErrorIs(t, s.AutoOpponentSelect(), ErrWrongPhase)
	assert.Equal(t, "A", s.Snapshot().OpponentPick)
}

func TestWrongPhase(t *testing.T) {
	s := newSession(t, twoHorse())
	require.ErrorIs(t, s.Advance(), ErrWrongPhase)

	require.NoError(t, s.SelectEntrant("A"))
	require.NoError(t, s.ConfirmWager())
	require.ErrorIs(t, s.SelectEntrant("B"), ErrWrongPhase)
	require.ErrorIs(t, s.SetWager(10), ErrWrongPhase)
	require.ErrorIs(t, s.ConfirmWager(), ErrWrongPhase)
	require.ErrorIs(t, s.Tick(), ErrWrongPhase)

	require.NoError(t, s.ResolveRace())
	require.NoError(t, s.Advance())
	assert.Equal(t, PhaseTerminal, s.Phase())
	require.ErrorIs(t, s.ResolveRace(), ErrWrongPhase)
	require.ErrorIs(t, s.Advance(), ErrWrongPhase)
}

func TestTick_OpponentPicksAtThreshold(t *testing.T) {
	s := newSession(t, twoHorse())
	require.NoError(t, s.SelectEntrant("A"))

	for i := 0; i < 19; i++ {
		require.NoError(t, s.Tick())
	}
	assert.Equal(t, 11, s.Countdown())
	assert.Empty(t, s.Snapshot().OpponentPick)

	require.NoError(t, s.Tick())
	assert.Equal(t, 10, s.Countdown())
	assert.Equal(t, "B", s.Snapshot().OpponentPick)
	assert.Equal(t, NoticeOpponentSelected, s.Snapshot().Notice)
}

func TestTick_TimeoutWithoutSelection(t *testing.T) {
	s := newSession(t, twoHorse())
	for i := 0; i < 30; i++ {
		require.NoError(t, s.Tick())
	}

	snap := s.Snapshot()
	assert.Equal(t, PhaseResolved, snap.Phase)
	assert.Equal(t, "A", snap.OpponentPick)
	require.NotNil(t, snap.Winner)
	assert.Equal(t, "A", snap.Winner.EntrantID)
	assert.Equal(t, NoticeOpponentWon, snap.Notice)
	assertBalances(t, s, "10000", "12500")

	require.Len(t, snap.History, 1)
	st := snap.History[0]
	assert.False(t, st.Staked)
	assert.Zero(t, st.HumanWager)
	assert.Equal(t, int64(1000), st.OpponentStake)
	assert.True(t, st.HumanPayout.IsZero())
	assert.True(t, st.OpponentPayout.Equal(dec("2500")))
}

func TestTick_TimeoutWithUnconfirmedSelection(t *testing.T) {
	s := newSession(t, twoHorse())
	require.NoError(t, s.SelectEntrant("A"))
	for i := 0; i < 30; i++ {
		require.NoError(t, s.Tick())
	}

	snap := s.Snapshot()
	assert.Equal(t, PhaseResolved, snap.Phase)
	assert.Equal(t, "B", snap.OpponentPick)
	assert.Equal(t, NoticeHumanWon, snap.Notice)
	assertBalances(t, s, "10250", "10000")

	st := snap.History[0]
	assert.Equal(t, int64(100), st.HumanWager)
	assert.True(t, st.HumanPayout.Equal(dec("250")))
}

func TestOpponentChoice(t *testing.T) {
	race := twoHorse()

	pick, ok := OpponentChoice(race, "")
	require.True(t, ok)
	assert.Equal(t, "A", pick.EntrantID)

	pick, ok = OpponentChoice(race, "A")
	require.True(t, ok)
	assert.Equal(t, "B", pick.EntrantID)

	solo := racecard.Race{ID: "r", Entrants: []racecard.Entrant{horse("r", "only", "2.0", 1, 0.1)}}
	pick, ok = OpponentChoice(solo, "only")
	require.True(t, ok)
	assert.Equal(t, "only", pick.EntrantID, "falls back to the whole field")

	tied := racecard.Race{ID: "r", Entrants: []racecard.Entrant{
		{RaceID: "r", EntrantID: "x"},
		horse("r", "y", "2.0", 1, 0.4),
		horse("r", "z", "2.0", 2, 0.4),
	}}
	pick, _ = OpponentChoice(tied, "")
	assert.Equal(t, "y", pick.EntrantID, "unscored ranks lowest, ties go to the first")
}

func TestWinner(t *testing.T) {
	t.Run("rank one", func(t *testing.T) {
		w, err := Winner(twoHorse())
		require.NoError(t, err)
		assert.Equal(t, "A", w.EntrantID)
	})
	t.Run("dead heat picks first in feed", func(t *testing.T) {
		race := racecard.Race{ID: "r", Entrants: []racecard.Entrant{
			horse("r", "p", "3.0", 2, 0),
			horse("r", "q", "4.0", 1, 0),
			horse("r", "s", "5.0", 1, 0),
		}}
		w, err := Winner(race)
		require.NoError(t, err)
		assert.Equal(t, "q", w.EntrantID)
	})
	t.Run("lowest rank when nobody is first", func(t *testing.T) {
		race := racecard.Race{ID: "r", Entrants: []racecard.Entrant{
			horse("r", "p", "3.0", 4, 0),
			horse("r", "q", "4.0", 2, 0),
			{RaceID: "r", EntrantID: "u"},
		}}
		w, err := Winner(race)
		require.NoError(t, err)
		assert.Equal(t, "q", w.EntrantID)
	})
	t.Run("no readable ranks", func(t *testing.T) {
		race := racecard.Race{ID: "r", Entrants: []racecard.Entrant{{RaceID: "r", EntrantID: "u"}}}
		_, err := Winner(race)
		require.ErrorIs(t, err, ErrResolution)
	})
}

func TestResolve_InvalidOddsPaysNothing(t *testing.T) {
	race := racecard.Race{ID: "bad", Entrants: []racecard.Entrant{
		horse("bad", "A", "", 1, 0.9),
		horse("bad", "B", "2.0", 2, 0.5),
	}}
	s := newSession(t, race)
	require.NoError(t, s.SelectEntrant("A"))
	require.NoError(t, s.ConfirmWager())

	err := s.ResolveRace()
	require.ErrorIs(t, err, ErrResolution)

	snap := s.Snapshot()
	assert.Equal(t, PhaseResolved, snap.Phase)
	assert.Equal(t, NoticeResolutionFailed, snap.Notice)
	assert.NotEmpty(t, snap.ResolutionError)
	assert.Nil(t, snap.Winner)
	assertBalances(t, s, "9900", "9000")
	require.Len(t, snap.History, 1)
	assert.True(t, snap.History[0].Staked)
	assert.True(t, snap.History[0].HumanPayout.IsZero())

	require.NoError(t, s.Advance())
	assert.Equal(t, OutcomeHuman, s.Outcome())
}

func TestAdvance_ResetsPerRaceState(t *testing.T) {
	second := racecard.Race{ID: "r2", Entrants: []racecard.Entrant{
		horse("r2", "C", "4.0", 1, 0.2),
		horse("r2", "D", "1.5", 2, 0.7),
	}}
	s := newSession(t, twoHorse(), second)
	require.NoError(t, s.SelectEntrant("A"))
	require.NoError(t, s.SetWager(700))
	require.NoError(t, s.ConfirmWager())
	require.NoError(t, s.ResolveRace())
	require.NoError(t, s.Advance())

	snap := s.Snapshot()
	assert.Equal(t, 1, snap.RaceIndex)
	assert.Equal(t, "r2", snap.Race.ID)
	assert.Equal(t, PhaseSelecting, snap.Phase)
	assert.Empty(t, snap.Selection)
	assert.Empty(t, snap.OpponentPick)
	assert.Nil(t, snap.Winner)
	assert.Equal(t, int64(100), snap.Wager)
	assert.Equal(t, 30, snap.Countdown)
	assert.Equal(t, NoticeRaceStarted, snap.Notice)
}

func TestTerminalOutcome(t *testing.T) {
	t.Run("human ahead", func(t *testing.T) {
		race := racecard.Race{ID: "r", Entrants: []racecard.Entrant{
			horse("r", "A", "3.0", 1, 0.1),
			horse("r", "B", "1.5", 2, 0.9),
		}}
		s := newSession(t, race)
		require.NoError(t, s.SelectEntrant("A"))
		require.NoError(t, s.SetWager(1000))
		require.NoError(t, s.ConfirmWager())
		require.NoError(t, s.ResolveRace())
		assertBalances(t, s, "12000", "9000")

		require.NoError(t, s.Advance())
		snap := s.Snapshot()
		assert.True(t, snap.Terminal)
		assert.Equal(t, OutcomeHuman, snap.Outcome)
		assert.Equal(t, NoticeGameOver, snap.Notice)
	})
	t.Run("opponent ahead", func(t *testing.T) {
		race := racecard.Race{ID: "r", Entrants: []racecard.Entrant{
			horse("r", "A", "3.0", 2, 0.1),
			horse("r", "B", "1.5", 1, 0.9),
		}}
		s := newSession(t, race)
		require.NoError(t, s.SelectEntrant("A"))
		require.NoError(t, s.SetWager(500))
		require.NoError(t, s.ConfirmWager())
		require.NoError(t, s.ResolveRace())
		assertBalances(t, s, "9500", "10500")

		require.NoError(t, s.Advance())
		assert.Equal(t, OutcomeOpponent, s.Outcome())
	})
	t.Run("equal balances tie", func(t *testing.T) {
		// The opponent's favourite loses and nobody else picked.
		race := racecard.Race{ID: "r", Entrants: []racecard.Entrant{
			horse("r", "A", "2.0", 2, 0.9),
			horse("r", "B", "4.0", 1, 0.1),
		}}
		s := newSession(t, race)
		for i := 0; i < 30; i++ {
			require.NoError(t, s.Tick())
		}
		require.NoError(t, s.Advance())
		assert.Equal(t, OutcomeTie, s.Outcome())
	})
}

func TestBothWin(t *testing.T) {
	// Single entrant: the opponent has no alternative to the human's pick.
	race := racecard.Race{ID: "r", Entrants: []racecard.Entrant{horse("r", "A", "2.0", 1, 0.5)}}
	s := newSession(t, race)
	require.NoError(t, s.SelectEntrant("A"))
	require.NoError(t, s.ConfirmWager())
	require.NoError(t, s.ResolveRace())

	assert.Equal(t, NoticeBothWon, s.Snapshot().Notice)
	assertBalances(t, s, "10100", "11000")
}
