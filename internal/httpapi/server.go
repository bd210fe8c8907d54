package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/hamed0406/netwatch/internal/domain"
	"github.com/hamed0406/netwatch/internal/history"
	apimw "github.com/hamed0406/netwatch/internal/httpapi/middleware"
	"github.com/hamed0406/netwatch/internal/registry"
	"github.com/hamed0406/netwatch/internal/scheduler"
	"github.com/hamed0406/netwatch/internal/snapshot"
)

// Trigger requests an immediate probe; scheduler.Scheduler satisfies it.
type Trigger interface {
	Trigger(id domain.ServiceID) error
}

type Server struct {
	Logger    *zap.Logger
	Registry  *registry.Registry
	Bus       *snapshot.Bus
	History   *history.Reader
	Trigger   Trigger
	Heartbeat time.Duration // SSE keep-alive comment interval

	now func() time.Time
}

func NewServer(l *zap.Logger, reg *registry.Registry, bus *snapshot.Bus, h *history.Reader, tr Trigger) *Server {
	return &Server{Logger: l, Registry: reg, Bus: bus, History: h, Trigger: tr, Heartbeat: 15 * time.Second, now: time.Now}
}

// Router wires the routes. Reads need a public or admin key, triggering a
// probe needs an admin key; with no keys configured everything is open.
func (s *Server) Router(keys apimw.Keys, allowedOrigins []string, publicRPM, publicBurst int) http.Handler {
	r := chi.NewRouter()
	if len(allowedOrigins) == 0 {
		r.Use(cors.AllowAll().Handler)
	} else {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: allowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type", "X-API-Key"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(apimw.RateLimit(publicRPM, publicBurst))
		r.Use(apimw.RequireAny(keys))

		r.Get("/status", s.handleStatus)
		r.Get("/services", s.handleServices)
		r.Get("/events", s.handleEvents)
		r.Route("/services/{id}", func(r chi.Router) {
			r.Get("/uptime", s.handleUptime)
			r.Get("/history", s.handleHistory)
			r.Get("/transitions", s.handleTransitions)
			r.With(apimw.RequireAdmin(keys)).Post("/probe", s.handleProbe)
		})
	})
	return r
}

type statusResponse struct {
	Version  uint64              `json:"version"`
	TakenAt  time.Time           `json:"taken_at"`
	Services []domain.StatusView `json:"services"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.Bus.Snapshot()
	writeJSON(w, http.StatusOK, statusResponse{Version: snap.Version, TakenAt: snap.TakenAt, Services: snap.List()})
}

func (s *Server) handleServices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Registry.Services())
}

func (s *Server) handleUptime(w http.ResponseWriter, r *http.Request) {
	id, ok := s.service(w, r)
	if !ok {
		return
	}
	from, to, ok := s.window(w, r, 24*time.Hour)
	if !ok {
		return
	}
	agg, err := s.History.Uptime(r.Context(), id, from, to)
	if err != nil {
		s.Logger.Warn("uptime_query_error", zap.String("service_id", string(id)), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "uptime query failed")
		return
	}
	writeJSON(w, http.StatusOK, agg)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := s.service(w, r)
	if !ok {
		return
	}
	from, to, ok := s.window(w, r, time.Hour)
	if !ok {
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 10_000 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 10000")
			return
		}
		limit = n
	}
	recs, err := s.History.History(r.Context(), id, from, to, limit)
	if err != nil {
		s.Logger.Warn("history_query_error", zap.String("service_id", string(id)), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "history query failed")
		return
	}
	if recs == nil {
		recs = []domain.HistoryRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleTransitions(w http.ResponseWriter, r *http.Request) {
	id, ok := s.service(w, r)
	if !ok {
		return
	}
	from, to, ok := s.window(w, r, 24*time.Hour)
	if !ok {
		return
	}
	evs, err := s.History.Transitions(r.Context(), id, from, to)
	if err != nil {
		s.Logger.Warn("transitions_query_error", zap.String("service_id", string(id)), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "transitions query failed")
		return
	}
	if evs == nil {
		evs = []domain.TransitionEvent{}
	}
	writeJSON(w, http.StatusOK, evs)
}

func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	id, ok := s.service(w, r)
	if !ok {
		return
	}
	if err := s.Trigger.Trigger(id); err != nil {
		if errors.Is(err, scheduler.ErrUnknownService) {
			writeError(w, http.StatusNotFound, "unknown service")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.Logger.Info("probe_triggered", zap.String("service_id", string(id)))
	writeJSON(w, http.StatusAccepted, map[string]string{"service_id": string(id), "status": "scheduled"})
}

func (s *Server) service(w http.ResponseWriter, r *http.Request) (domain.ServiceID, bool) {
	id := domain.ServiceID(chi.URLParam(r, "id"))
	if _, ok := s.Registry.Get(id); !ok {
		writeError(w, http.StatusNotFound, "unknown service")
		return "", false
	}
	return id, true
}

// window reads ?window=DURATION ending now.
func (s *Server) window(w http.ResponseWriter, r *http.Request, def time.Duration) (time.Time, time.Time, bool) {
	d := def
	if v := r.URL.Query().Get("window"); v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "window must be a positive duration such as 1h")
			return time.Time{}, time.Time{}, false
		}
		d = parsed
	}
	to := s.now().UTC()
	return to.Add(-d), to, true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
