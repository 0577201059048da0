// Package server exposes the scheduler over HTTP and WebSocket.
//
// JSON endpoints edit the schedule session, preview capacity and cost, count
// and submit number files, page through remote jobs, and report budget and
// watcher state. /ws pushes window_ended, schedule_updated and
// batch_submitted messages to every connected client.
package server

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/smtaidev/outbound/batchapi"
	"github.com/smtaidev/outbound/errors"
	"github.com/smtaidev/outbound/logger"
	"github.com/smtaidev/outbound/pulse/budget"
	"github.com/smtaidev/outbound/pulse/registry"
	"github.com/smtaidev/outbound/pulse/rollover"
	"github.com/smtaidev/outbound/pulse/schedule"
	"github.com/smtaidev/outbound/pulse/submission"
	"github.com/smtaidev/outbound/pulse/watcher"
)

// NumberCounter counts dialable numbers in an uploaded file
type NumberCounter interface {
	CountNumbers(ctx context.Context, filename string, data []byte) (*batchapi.CountResponse, error)
}

// Deps are the components the server exposes. Tracker, Limiter and Rollover
// are optional.
type Deps struct {
	Session     *schedule.Session
	Estimator   *budget.Estimator
	Counter     NumberCounter
	Submissions *submission.Service
	Registry    *registry.Registry
	Tracker     *budget.Tracker
	Limiter     *budget.Limiter
	Watcher     *watcher.Watcher
	Rollover    *rollover.Rollover
}

// Config configures the listener
type Config struct {
	Addr           string
	AllowedOrigins []string
}

// Server serves the HTTP API and WebSocket events
type Server struct {
	deps    Deps
	cfg     Config
	logger  *zap.SugaredLogger
	handler http.Handler
	http    *http.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	clients map[*wsClient]struct{}
}

// New builds a server; call Start or use Handler directly
func New(deps Deps, cfg Config, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = logger.ComponentLogger("server")
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		deps:    deps,
		cfg:     cfg,
		logger:  log,
		ctx:     ctx,
		cancel:  cancel,
		clients: make(map[*wsClient]struct{}),
	}
	s.handler = s.corsMiddleware(s.logMiddleware(s.routes()))
	return s
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/schedule", s.handleSchedule)
	mux.HandleFunc("/api/projection", s.handleProjection)
	mux.HandleFunc("/api/numbers/count", s.handleCount)
	mux.HandleFunc("/api/batches", s.handleBatches)
	mux.HandleFunc("/api/jobs", s.handleJobs)
	mux.HandleFunc("/api/budget", s.handleBudget)
	mux.HandleFunc("/api/watcher", s.handleWatcher)
	mux.HandleFunc("/api/watcher/check", s.handleWatcherCheck)
	mux.HandleFunc("/api/watcher/arm", s.handleWatcherArm)
	mux.HandleFunc("/api/watcher/disarm", s.handleWatcherDisarm)
	mux.HandleFunc("/ws", s.handleWebSocket)
	return mux
}

// Handler returns the full HTTP handler (routes plus middleware)
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start forwards watcher events to WebSocket clients and begins listening.
// It returns once the listener is up or failed to bind.
func (s *Server) Start() error {
	s.forwardWatcherEvents()

	s.http = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return errors.Wrapf(err, "failed to listen on %s", s.cfg.Addr)
	case <-time.After(100 * time.Millisecond):
	}
	s.logger.Infow("Server listening", logger.FieldAddress, s.cfg.Addr)
	return nil
}

// Stop shuts the listener down and closes every WebSocket client
func (s *Server) Stop(ctx context.Context) error {
	s.cancel()
	var err error
	if s.http != nil {
		err = s.http.Shutdown(ctx)
	}
	s.closeClients()
	s.wg.Wait()
	s.logger.Infow("Server stopped")
	return err
}

// forwardWatcherEvents relays window-end events as window_ended messages
func (s *Server) forwardWatcherEvents() {
	if s.deps.Watcher == nil {
		return
	}
	sub := s.deps.Watcher.Subscribe()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer sub.Close()
		for {
			ev, err := sub.Next(s.ctx)
			if err != nil {
				return
			}
			n := s.broadcast(WindowEndedMessage{
				Type:       MsgWindowEnded,
				Generation: ev.Generation,
				WindowEnd:  ev.WindowEnd,
				FiredAt:    ev.FiredAt.Unix(),
			})
			s.logger.Debugw("Broadcast window end", logger.FieldGeneration, ev.Generation, "clients", n)
		}
	}()
}

const requestIDHeader = "X-Request-ID"

// logMiddleware tags each request with an id (the caller's X-Request-ID when
// present and at most 64 bytes) and logs it at debug level
func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := r.Header.Get(requestIDHeader)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		ctx := logger.WithRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
		logger.FromContext(ctx, s.logger).Debugw("HTTP request",
			logger.FieldMethod, r.Method,
			logger.FieldPath, r.URL.Path,
			logger.FieldDurationMS, time.Since(start).Milliseconds())
	})
}

// corsMiddleware allows configured browser origins
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+requestIDHeader)
			w.Header().Set("Access-Control-Expose-Headers", requestIDHeader)
			w.Header().Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// originAllowed reports whether a browser origin may call the API.
// Requests without an Origin header (curl, CLI) are always allowed.
func (s *Server) originAllowed(origin string) bool {
	if origin == "" {
		return true
	}
	return slices.Contains(s.cfg.AllowedOrigins, "*") || slices.Contains(s.cfg.AllowedOrigins, origin)
}

// Addr formats a listen address for a port
func Addr(port int) string {
	return fmt.Sprintf(":%d", port)
}
