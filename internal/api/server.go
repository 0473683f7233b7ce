// Package api is the HTTP surface for the orchestration core (§6): inbound
// provider webhooks, the internal queue-trigger endpoints a cron hits, and
// the tenant-facing notification API. Routing and the public/protected
// split follow apicall's internal/api/server.go, adapted to a JSON-only
// mux with no static asset serving.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/sddhantjaiii/callorch/internal/auth"
	"github.com/sddhantjaiii/callorch/internal/billing"
	"github.com/sddhantjaiii/callorch/internal/config"
	"github.com/sddhantjaiii/callorch/internal/database"
	"github.com/sddhantjaiii/callorch/internal/notify"
	"github.com/sddhantjaiii/callorch/internal/processor"
	"github.com/sddhantjaiii/callorch/internal/queue"
	"github.com/sddhantjaiii/callorch/internal/reconciler"
	"github.com/sddhantjaiii/callorch/internal/schedule"
	"github.com/sddhantjaiii/callorch/internal/webhook"
	"github.com/sddhantjaiii/callorch/internal/wsfeed"
)

var validate = validator.New()

// Server wires every component onto the HTTP surface.
type Server struct {
	cfg        *config.Config
	repo       *database.Repository
	queue      *queue.Queue
	processor  *processor.Processor
	schedule   *schedule.Cache
	reconciler *reconciler.Reconciler
	ingestor   *webhook.Ingestor
	notify     *notify.Dispatcher
	billing    *billing.Hook
	auth       *auth.Issuer
	hub        *wsfeed.Hub
}

// New constructs a Server. Every dependency is pre-wired by the caller
// (cmd/orchestratord); Server itself only routes and translates HTTP.
func New(
	cfg *config.Config,
	repo *database.Repository,
	q *queue.Queue,
	proc *processor.Processor,
	sched *schedule.Cache,
	recon *reconciler.Reconciler,
	ingestor *webhook.Ingestor,
	notifyDispatcher *notify.Dispatcher,
	billingHook *billing.Hook,
	issuer *auth.Issuer,
	hub *wsfeed.Hub,
) *Server {
	return &Server{
		cfg: cfg, repo: repo, queue: q, processor: proc, schedule: sched,
		reconciler: recon, ingestor: ingestor, notify: notifyDispatcher,
		billing: billingHook, auth: issuer, hub: hub,
	}
}

// Handler builds the top-level mux: public webhook/health/ws routes plus a
// JWT-protected internal/tenant API, following apicall's
// public-mux-wraps-protected-mux split.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/webhooks/calls", s.handleCallWebhook)
	mux.HandleFunc("/ws", s.hub.HandleWebSocket)

	protected := http.NewServeMux()
	protected.HandleFunc("/queue/process", s.handleQueueProcess)
	protected.HandleFunc("/queue/process/immediate", s.handleQueueProcessImmediate)
	protected.HandleFunc("/queue/schedule", s.handleQueueSchedule)
	protected.HandleFunc("/queue/schedule/refresh", s.handleQueueScheduleRefresh)
	protected.HandleFunc("/queue/reconcile", s.handleReconcile)
	protected.HandleFunc("/calls/queue/status", s.handleQueueStatus)
	protected.HandleFunc("/calls/initiate", s.handleCallsInitiate)
	protected.HandleFunc("/notifications/preferences", s.handleNotificationPreferences)
	protected.HandleFunc("/notifications/history", s.handleNotificationHistory)

	mainHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || r.URL.Path == "/webhooks/calls" || r.URL.Path == "/ws" {
			mux.ServeHTTP(w, r)
			return
		}
		s.auth.Middleware(protected).ServeHTTP(w, r)
	})

	return s.recoverMiddleware(s.corsMiddleware(mainHandler))
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.cfg.Server.EnableCORS {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error().Interface("panic", rec).Str("path", r.URL.Path).Msg("recovered from panic in handler")
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeAndValidate(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

func tenantIDFromQuery(r *http.Request) (int64, error) {
	v := r.URL.Query().Get("tenant_id")
	if v == "" {
		return 0, fmt.Errorf("tenant_id is required")
	}
	return strconv.ParseInt(v, 10, 64)
}
