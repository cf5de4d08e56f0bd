// internal/httpserver/server.go
//
// HTTP server wiring for the race-betting backend.
// Responsibilities:
//   - Router + middleware (CORS, timeouts, panic recovery, request IDs, metrics).
//   - Public endpoints: "/", "/health", "/metrics", "/races".
//   - Session endpoints: mounted under /session (see routes_session.go).
//   - Session handle: HS256 JWT carrying the session id, sent as bearer token
//     or cookie.
//
// Notes:
//   - When the race card failed to load the server still starts; "/races" and
//     every /session route answer 503 so the client can show a blocking state.
//   - The WebSocket stream is mounted outside the Timeout middleware.

package httpserver

import (
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/robalobadob/keiba-duel/internal/game"
	"github.com/robalobadob/keiba-duel/internal/monitoring"
	"github.com/robalobadob/keiba-duel/internal/racecard"
	"github.com/robalobadob/keiba-duel/internal/store"
)

// RaceData is the result of the one-shot race card load made at boot.
type RaceData struct {
	Entrants []racecard.Entrant
	Races    []racecard.Race
	Err      error // non-nil means data unavailable
}

// Options carries per-deployment settings.
type Options struct {
	Rules         game.Rules
	TickInterval  time.Duration
	SessionSecret string
	ClientOrigin  string
	CookieName    string
	SecureCookie  bool
}

// Server bundles router, table store and the loaded race card.
type Server struct {
	r     *chi.Mux
	store store.Store
	data  RaceData
	opts  Options
}

// New constructs a Server, installs middleware, and registers routes.
func New(st store.Store, data RaceData, opts Options) *Server {
	if opts.CookieName == "" {
		opts.CookieName = "keiba_session"
	}
	if opts.SessionSecret == "" {
		opts.SessionSecret = "dev_secret_change_me"
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}
	if data.Err == nil && len(data.Races) == 0 {
		data.Err = racecard.ErrDataUnavailable
	}
	s := &Server{r: chi.NewRouter(), store: st, data: data, opts: opts}

	// --- middleware ---
	s.r.Use(chimw.RequestID) // add X-Request-ID
	s.r.Use(chimw.RealIP)    // set RemoteAddr from X-Forwarded-For etc.
	s.r.Use(chimw.Recoverer) // recover from panics
	s.r.Use(countRequests)   // prometheus request counter
	s.r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{opts.ClientOrigin},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s.r.Handle("/metrics", promhttp.Handler())

	// WebSocket stream lives outside the handler timeout.
	s.r.With(s.withSession()).Get("/session/stream", s.handleStream)

	s.r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(10 * time.Second)) // bound handler time
		r.Use(jsonContentType)                 // default JSON responses

		// --- diagnostics ---
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"service":"keiba-duel","endpoints":["/health","/races","POST /session/new","/session/*"]}`))
		})
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"ok":            true,
				"dataAvailable": s.data.Err == nil,
				"races":         len(s.data.Races),
			})
		})

		r.Get("/races", s.handleRaces)
		s.mountSession(r)

		// JSON 404 for easier debugging
		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"error":"not_found","path":"`+r.URL.Path+`"}`, http.StatusNotFound)
		})
	})

	return s
}

// Start begins serving HTTP on addr.
func (s *Server) Start(addr string) error { return http.ListenAndServe(addr, s.r) }

// Router exposes the internal router (useful for tests).
func (s *Server) Router() chi.Router { return s.r }

// handleRaces serves the loaded race card grouped by race.
func (s *Server) handleRaces(w http.ResponseWriter, r *http.Request) {
	if s.data.Err != nil {
		writeUnavailable(w, s.data.Err)
		return
	}
	_ = json.NewEncoder(w).Encode(s.data.Races)
}

// ----------------------------- middleware ----------------------------------

// jsonContentType sets a default JSON Content-Type header on all responses.
func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		next.ServeHTTP(w, r)
	})
}

// countRequests records every request by method, route pattern and status.
func countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		monitoring.HttpRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
	})
}

// ------------------------------ JWT & cookies ------------------------------

const sessionTTL = 24 * time.Hour

// signToken creates an HS256 JWT carrying the session id.
func (s *Server) signToken(sessionID string) (string, time.Time, error) {
	exp := time.Now().Add(sessionTTL)
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sid": sessionID,
		"exp": exp.Unix(),
		"iat": time.Now().Unix(),
	})
	ss, err := t.SignedString([]byte(s.opts.SessionSecret))
	return ss, exp, err
}

// parseToken validates a token and returns its session id.
func (s *Server) parseToken(tok string) (string, bool) {
	claims := jwt.MapClaims{}
	t, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(s.opts.SessionSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !t.Valid {
		return "", false
	}
	sid, _ := claims["sid"].(string)
	return sid, sid != ""
}

// setSessionCookie writes the session token cookie.
func (s *Server) setSessionCookie(w http.ResponseWriter, token string, exp time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.opts.CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.opts.SecureCookie,
		SameSite: s.sameSite(),
		Expires:  exp,
	})
}

// clearSessionCookie deletes the session token cookie.
func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.opts.CookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   s.opts.SecureCookie,
		SameSite: s.sameSite(),
		MaxAge:   -1,
	})
}

func (s *Server) sameSite() http.SameSite {
	if s.opts.SecureCookie {
		return http.SameSiteNoneMode // required for third-party contexts when Secure
	}
	return http.SameSiteLaxMode
}

// bearerOrCookie extracts a token from the Authorization header or the
// session cookie. Browsers cannot set headers on a WebSocket handshake, so a
// "token" query parameter is accepted last.
func (s *Server) bearerOrCookie(r *http.Request) string {
	if a := r.Header.Get("Authorization"); strings.HasPrefix(strings.ToLower(a), "bearer ") {
		return strings.TrimSpace(a[7:])
	}
	if c, err := r.Cookie(s.opts.CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	return r.URL.Query().Get("token")
}

// ------------------------------- responses ---------------------------------

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("encode response")
	}
}

func writeUnavailable(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{
		"error":  "data_unavailable",
		"detail": err.Error(),
	})
}

// SecureCookieFromEnv reports whether cookies should carry the Secure flag.
func SecureCookieFromEnv() bool { return os.Getenv("NODE_ENV") == "production" }
