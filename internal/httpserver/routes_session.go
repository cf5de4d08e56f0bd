// internal/httpserver/routes_session.go
//
// HTTP routes for one player's betting session.
//   - POST   /session/new      → start a session (returns id + token, sets cookie)
//   - GET    /session          → current snapshot
//   - POST   /session/select   → toggle the selected entrant {entrantId}
//   - POST   /session/wager    → change the wager {amount}
//   - POST   /session/confirm  → confirm the wager; the race resolves immediately
//   - POST   /session/advance  → next race, or the final result after the last one
//   - GET    /session/summary  → final outcome (409 until the session is over)
//   - DELETE /session          → tear the session down
//
// Sessions live in memory only; the token is a handle, not an identity.

package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/robalobadob/keiba-duel/internal/game"
	"github.com/robalobadob/keiba-duel/internal/racecard"
	"github.com/robalobadob/keiba-duel/internal/store"
	"github.com/robalobadob/keiba-duel/internal/table"
)

// ctxTableKey is the context key type for the request's *table.Table.
type ctxTableKey struct{}

// mountSession registers all /session routes.
func (s *Server) mountSession(r chi.Router) {
	r.Post("/session/new", s.handleNewSession)

	r.Group(func(r chi.Router) {
		r.Use(s.withSession())
		r.Get("/session", s.handleSnapshot)
		r.Delete("/session", s.handleDelete)
		r.Post("/session/select", s.handleSelect)
		r.Post("/session/wager", s.handleWager)
		r.Post("/session/confirm", s.handleConfirm)
		r.Post("/session/advance", s.handleAdvance)
		r.Get("/session/summary", s.handleSummary)
	})
}

// withSession resolves the session token to a live table.
// 503 when race data is unavailable, 401 on a missing or invalid token,
// 404 when the session no longer exists.
func (s *Server) withSession() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.data.Err != nil {
				writeUnavailable(w, s.data.Err)
				return
			}
			tok := s.bearerOrCookie(r)
			if tok == "" {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "no_session"})
				return
			}
			sid, ok := s.parseToken(tok)
			if !ok {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_token"})
				return
			}
			t, err := s.store.Get(r.Context(), sid)
			if errors.Is(err, store.ErrNotFound) {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "session_not_found"})
				return
			}
			if err != nil {
				log.Error().Err(err).Str("session", sid).Msg("load table")
				http.Error(w, `{"error":"internal"}`, http.StatusInternalServerError)
				return
			}
			ctx := context.WithValue(r.Context(), ctxTableKey{}, t)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func tableFrom(r *http.Request) *table.Table {
	t, _ := r.Context().Value(ctxTableKey{}).(*table.Table)
	return t
}

type newSessionRes struct {
	SessionID string        `json:"sessionId"`
	Token     string        `json:"token"`
	Snapshot  game.Snapshot `json:"snapshot"`
}

// handleNewSession creates a session at the first race with fresh balances.
// A session already attached to the request is torn down first.
func (s *Server) handleNewSession(w http.ResponseWriter, r *http.Request) {
	if s.data.Err != nil {
		writeUnavailable(w, s.data.Err)
		return
	}
	if tok := s.bearerOrCookie(r); tok != "" {
		if old, ok := s.parseToken(tok); ok {
			_ = s.store.Delete(r.Context(), old)
		}
	}

	sess, err := game.New(s.data.Races, s.opts.Rules)
	if err != nil {
		if errors.Is(err, racecard.ErrDataUnavailable) {
			writeUnavailable(w, err)
			return
		}
		log.Error().Err(err).Msg("new session")
		http.Error(w, `{"error":"session_failed"}`, http.StatusInternalServerError)
		return
	}
	t := table.New(sess, s.opts.TickInterval)
	if err := s.store.Save(r.Context(), t); err != nil {
		t.Close()
		log.Error().Err(err).Msg("save table")
		http.Error(w, `{"error":"save_failed"}`, http.StatusInternalServerError)
		return
	}

	tok, exp, err := s.signToken(t.ID())
	if err != nil {
		_ = s.store.Delete(r.Context(), t.ID())
		http.Error(w, `{"error":"sign_failed"}`, http.StatusInternalServerError)
		return
	}
	s.setSessionCookie(w, tok, exp)
	log.Info().Str("session", t.ID()).Int("races", len(s.data.Races)).Msg("session started")

	writeJSON(w, http.StatusCreated, newSessionRes{SessionID: t.ID(), Token: tok, Snapshot: t.Snapshot()})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	_ = json.NewEncoder(w).Encode(tableFrom(r).Snapshot())
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	t := tableFrom(r)
	if err := s.store.Delete(r.Context(), t.ID()); err != nil {
		http.Error(w, `{"error":"delete_failed"}`, http.StatusInternalServerError)
		return
	}
	s.clearSessionCookie(w)
	log.Info().Str("session", t.ID()).Msg("session ended")
	_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
}

type selectReq struct {
	EntrantID string `json:"entrantId"`
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req selectReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.EntrantID == "" {
		http.Error(w, `{"error":"bad_json"}`, http.StatusBadRequest)
		return
	}
	snap, err := tableFrom(r).Select(req.EntrantID)
	s.respond(w, snap, err)
}

type wagerReq struct {
	Amount *int64 `json:"amount"`
}

func (s *Server) handleWager(w http.ResponseWriter, r *http.Request) {
	var req wagerReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Amount == nil {
		http.Error(w, `{"error":"bad_json"}`, http.StatusBadRequest)
		return
	}
	snap, err := tableFrom(r).SetWager(*req.Amount)
	s.respond(w, snap, err)
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	snap, err := tableFrom(r).Confirm()
	s.respond(w, snap, err)
}

func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	snap, err := tableFrom(r).Advance()
	s.respond(w, snap, err)
}

type summaryRes struct {
	Outcome         game.Outcome      `json:"outcome"`
	HumanBalance    decimal.Decimal   `json:"humanBalance"`
	OpponentBalance decimal.Decimal   `json:"opponentBalance"`
	Races           []game.Settlement `json:"races"`
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	snap := tableFrom(r).Snapshot()
	if !snap.Terminal {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "not_finished", "phase": string(snap.Phase)})
		return
	}
	_ = json.NewEncoder(w).Encode(summaryRes{
		Outcome:         snap.Outcome,
		HumanBalance:    snap.HumanBalance,
		OpponentBalance: snap.OpponentBalance,
		Races:           snap.History,
	})
}

// actionError is the body of a rejected action. The snapshot lets the client
// render the notice without a second request.
type actionError struct {
	Error    string         `json:"error"`
	Notice   game.Notice    `json:"notice,omitempty"`
	Snapshot *game.Snapshot `json:"snapshot,omitempty"`
}

// respond maps an action result to a status code.
// A resolution error is not a failed request: the race is settled without payout
// and the snapshot carries the error.
func (s *Server) respond(w http.ResponseWriter, snap game.Snapshot, err error) {
	switch {
	case err == nil, errors.Is(err, game.ErrResolution):
		_ = json.NewEncoder(w).Encode(snap)
	case errors.Is(err, game.ErrInvalidWager):
		writeJSON(w, http.StatusUnprocessableEntity, actionError{Error: "invalid_wager", Notice: snap.Notice, Snapshot: &snap})
	case errors.Is(err, game.ErrWrongPhase):
		writeJSON(w, http.StatusConflict, actionError{Error: "wrong_phase", Snapshot: &snap})
	case errors.Is(err, game.ErrUnknownEntrant):
		writeJSON(w, http.StatusBadRequest, actionError{Error: "unknown_entrant"})
	case errors.Is(err, table.ErrClosed):
		writeJSON(w, http.StatusNotFound, actionError{Error: "session_not_found"})
	default:
		log.Error().Err(err).Msg("session action")
		http.Error(w, `{"error":"internal"}`, http.StatusInternalServerError)
	}
}
