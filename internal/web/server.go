// Package web serves the browser front end: a search form and the
// recommendation cards for the last query of each session.
package web

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"animerec/internal/domain"
	"animerec/internal/logging"
	"animerec/internal/metrics"
)

//go:embed templates/index.html
var templateFS embed.FS

// MinQueryLength is the shortest query, in characters, that triggers a search.
const MinQueryLength = 2

// LowMatchThreshold marks scores below it as conceptual rather than direct matches.
const LowMatchThreshold = 75

const defaultWhy = "Matches your search criteria"

// Recommender is the pipeline entry point the server calls per search.
type Recommender interface {
	Recommend(ctx context.Context, query string) ([]domain.Recommendation, error)
}

// Options tunes the HTTP layer. Zero RateLimitPerMinute disables limiting.
type Options struct {
	RateLimitPerMinute int
	SessionTTL         time.Duration
}

// Server renders the search page and handles form submissions.
type Server struct {
	rec      Recommender
	sessions *SessionStore
	tmpl     *template.Template
	opts     Options
	log      zerolog.Logger
}

// NewServer parses the embedded page template.
func NewServer(rec Recommender, opts Options) (*Server, error) {
	if rec == nil {
		return nil, errors.New("web: nil recommender")
	}
	tmpl, err := template.ParseFS(templateFS, "templates/index.html")
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	return &Server{
		rec:      rec,
		sessions: NewSessionStore(opts.SessionTTL),
		tmpl:     tmpl,
		opts:     opts,
		log:      logging.Component("web"),
	}, nil
}

// Sessions exposes the session store, mainly for sweeping.
func (s *Server) Sessions() *SessionStore { return s.sessions }

// Handler builds the chi router with the middleware stack.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if s.opts.RateLimitPerMinute > 0 {
			r.Use(httprate.LimitByIP(s.opts.RateLimitPerMinute, time.Minute))
		}
		r.Get("/", s.handleIndex)
		r.Post("/search", s.handleSearch)
	})
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go s.sweepSessions(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("web server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.log.Info().Msg("shutting down web server")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) sweepSessions(ctx context.Context) {
	t := time.NewTicker(5 * time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := s.sessions.Sweep(); n > 0 {
				s.log.Debug().Int("expired", n).Msg("swept sessions")
			}
		}
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			route := r.URL.Path
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			elapsed := time.Since(start)
			metrics.RecordHTTPRequest(r.Method, route, status, elapsed)
			s.log.Info().
				Str("request_id", chimiddleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("route", route).
				Int("status", status).
				Dur("duration", elapsed).
				Msg("http request")
		}()
		next.ServeHTTP(ww, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// card is one recommendation prepared for the template.
type card struct {
	Rank        int
	Title       string
	Description string
	Year        string
	Genres      string
	Score       int
	LowMatch    bool
	Why         string
}

type page struct {
	Query       string
	Warning     string
	Notice      string
	Error       string
	ErrorDetail string
	Elapsed     string
	Cards       []card
	LastQuery   string
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	id := s.sessions.sessionID(w, r)
	p := page{}
	if st, ok := s.sessions.Get(id); ok && len(st.LastResults) > 0 {
		p.LastQuery = st.LastQuery
	}
	s.render(w, http.StatusOK, p)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	id := s.sessions.sessionID(w, r)
	if err := r.ParseForm(); err != nil {
		s.render(w, http.StatusBadRequest, page{Warning: "Could not read the search form"})
		return
	}
	raw := r.PostForm.Get("query")
	query := strings.TrimSpace(raw)
	st, _ := s.sessions.Get(id)
	p := page{Query: raw}
	if len(st.LastResults) > 0 {
		p.LastQuery = st.LastQuery
	}

	if utf8.RuneCountInString(query) < MinQueryLength {
		p.Warning = fmt.Sprintf("Please enter at least %d characters", MinQueryLength)
		s.render(w, http.StatusOK, p)
		return
	}

	start := time.Now()
	recs, err := s.rec.Recommend(r.Context(), query)
	if err != nil {
		s.log.Error().Err(err).Str("query", query).Msg("recommendation failed")
		p.Error = "Service temporarily unavailable"
		p.ErrorDetail = err.Error()
		s.render(w, http.StatusServiceUnavailable, p)
		return
	}

	s.sessions.Put(id, SessionState{LastQuery: raw, LastResults: recs})
	if len(recs) == 0 {
		p.Warning = "No matches found. Try different keywords."
		s.render(w, http.StatusOK, p)
		return
	}
	p.LastQuery = raw
	p.Notice = fmt.Sprintf("Found %d recommendations", len(recs))
	p.Elapsed = fmt.Sprintf("%.1fs", time.Since(start).Seconds())
	p.Cards = toCards(recs)
	s.render(w, http.StatusOK, p)
}

func toCards(recs []domain.Recommendation) []card {
	cards := make([]card, len(recs))
	for i, rec := range recs {
		why := strings.TrimSpace(rec.Why)
		if why == "" {
			why = defaultWhy
		}
		cards[i] = card{
			Rank:        i + 1,
			Title:       rec.Anime,
			Description: rec.Description,
			Year:        rec.Year,
			Genres:      strings.Join(rec.Genres, ", "),
			Score:       rec.MatchScore,
			LowMatch:    rec.MatchScore < LowMatchThreshold,
			Why:         why,
		}
	}
	return cards
}

func (s *Server) render(w http.ResponseWriter, status int, p page) {
	var buf strings.Builder
	if err := s.tmpl.Execute(&buf, p); err != nil {
		s.log.Error().Err(err).Msg("template render failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(buf.String()))
}
