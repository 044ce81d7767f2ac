// Package httpapi exposes the REST and WebSocket surface of spec.md §6.
// The BuildRouter/Start/graceful-shutdown shape follows the teacher's
// internal/gateway/server.go, rerouted onto gorilla/mux for
// path-parameter routes.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/climpire/internal/bus"
	"github.com/nextlevelbuilder/climpire/internal/cliauth"
	"github.com/nextlevelbuilder/climpire/internal/config"
	"github.com/nextlevelbuilder/climpire/internal/delegation"
	"github.com/nextlevelbuilder/climpire/internal/errs"
	"github.com/nextlevelbuilder/climpire/internal/orchestrator"
	"github.com/nextlevelbuilder/climpire/internal/store"
	"github.com/nextlevelbuilder/climpire/internal/usage"
	"github.com/nextlevelbuilder/climpire/internal/vault"
	"github.com/nextlevelbuilder/climpire/internal/worktree"
)

const appName = "climpire"

// Server serves the REST API and the WebSocket event stream.
type Server struct {
	cfg        *config.Config
	store      *store.Store
	bus        *bus.Bus
	orch       *orchestrator.Orchestrator
	delegation *delegation.Engine
	worktrees  *worktree.Manager
	usage      *usage.Probe
	cliStatus  *cliauth.Detector
	vault      *vault.Vault
	logsDir    string
	version    string
	log        zerolog.Logger

	upgrader   websocket.Upgrader
	limiter    *rate.Limiter
	httpServer *http.Server

	wsMu    sync.Mutex
	wsConns map[string]*wsClient
}

// New creates a Server over all wired components.
func New(cfg *config.Config, st *store.Store, eventBus *bus.Bus, orch *orchestrator.Orchestrator,
	deleg *delegation.Engine, wt *worktree.Manager, probe *usage.Probe, detector *cliauth.Detector,
	vlt *vault.Vault, logsDir, version string, log zerolog.Logger) *Server {
	s := &Server{
		cfg:        cfg,
		store:      st,
		bus:        eventBus,
		orch:       orch,
		delegation: deleg,
		worktrees:  wt,
		usage:      probe,
		cliStatus:  detector,
		vault:      vlt,
		logsDir:    logsDir,
		version:    version,
		log:        log.With().Str("component", "httpapi").Logger(),
		limiter:    rate.NewLimiter(rate.Limit(50), 100),
		wsConns:    make(map[string]*wsClient),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(*http.Request) bool { return true }, // local-first single-CEO server
	}
	return s
}

// BuildRouter registers every route of spec.md §6.
func (s *Server) BuildRouter() *mux.Router {
	r := mux.NewRouter()

	for _, p := range []string{"/api/health", "/health", "/healthz"} {
		r.HandleFunc(p, s.handleHealth).Methods(http.MethodGet)
	}
	r.HandleFunc("/ws", s.handleWebSocket)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.rateLimitMiddleware, s.authMiddleware)

	api.HandleFunc("/departments", s.handleListDepartments).Methods(http.MethodGet)
	api.HandleFunc("/agents", s.handleListAgents).Methods(http.MethodGet)
	api.HandleFunc("/agents/{id}", s.handlePatchAgent).Methods(http.MethodPatch)

	api.HandleFunc("/tasks", s.handleListTasks).Methods(http.MethodGet)
	api.HandleFunc("/tasks", s.handleCreateTask).Methods(http.MethodPost)
	api.HandleFunc("/tasks/{id}", s.handlePatchTask).Methods(http.MethodPatch)
	api.HandleFunc("/tasks/{id}", s.handleDeleteTask).Methods(http.MethodDelete)
	api.HandleFunc("/tasks/{id}/assign", s.handleAssignTask).Methods(http.MethodPost)
	api.HandleFunc("/tasks/{id}/run", s.handleRunTask).Methods(http.MethodPost)
	api.HandleFunc("/tasks/{id}/stop", s.handleStopTask).Methods(http.MethodPost)
	api.HandleFunc("/tasks/{id}/resume", s.handleResumeTask).Methods(http.MethodPost)
	api.HandleFunc("/tasks/{id}/terminal", s.handleTaskTerminal).Methods(http.MethodGet)
	api.HandleFunc("/tasks/{id}/diff", s.handleTaskDiff).Methods(http.MethodGet)
	api.HandleFunc("/tasks/{id}/merge", s.handleTaskMerge).Methods(http.MethodPost)
	api.HandleFunc("/tasks/{id}/discard", s.handleTaskDiscard).Methods(http.MethodPost)
	api.HandleFunc("/tasks/{id}/meeting-minutes", s.handleMeetingMinutes).Methods(http.MethodGet)

	api.HandleFunc("/messages", s.handlePostMessage).Methods(http.MethodPost)
	api.HandleFunc("/messages", s.handleListMessages).Methods(http.MethodGet)
	api.HandleFunc("/messages", s.handleDeleteMessages).Methods(http.MethodDelete)
	api.HandleFunc("/announcements", s.handlePostAnnouncement).Methods(http.MethodPost)

	api.HandleFunc("/cli-status", s.handleCliStatus).Methods(http.MethodGet)
	api.HandleFunc("/cli-usage", s.handleCliUsage).Methods(http.MethodGet)
	api.HandleFunc("/cli-usage/refresh", s.handleCliUsageRefresh).Methods(http.MethodPost)

	api.HandleFunc("/settings", s.handleGetSettings).Methods(http.MethodGet)
	api.HandleFunc("/settings", s.handlePutSettings).Methods(http.MethodPut)

	api.HandleFunc("/oauth/status", s.handleOAuthStatus).Methods(http.MethodGet)
	api.HandleFunc("/oauth/start", s.handleOAuthStart).Methods(http.MethodGet)
	api.HandleFunc("/oauth/callback/github-copilot", s.handleOAuthCallbackGitHub).Methods(http.MethodGet)
	api.HandleFunc("/oauth/callback/antigravity", s.handleOAuthCallbackAntigravity).Methods(http.MethodGet)
	api.HandleFunc("/oauth/disconnect", s.handleOAuthDisconnect).Methods(http.MethodPost)
	api.HandleFunc("/oauth/github-copilot/device-start", s.handleDeviceStart).Methods(http.MethodPost)
	api.HandleFunc("/oauth/github-copilot/device-poll", s.handleDevicePoll).Methods(http.MethodPost)

	return r
}

// Start listens on the configured address until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:    s.cfg.Addr(),
		Handler: s.BuildRouter(),
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.httpServer.Addr).Msg("listening")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return nil
	}
}

// Shutdown closes WebSocket subscribers with code 1001 and stops the
// HTTP listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeAllWebSockets(websocket.CloseGoingAway, "server shutting down")
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "rate_limited", "")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authMiddleware verifies a signed bearer token when GATEWAY_TOKEN is
// configured. OAuth callbacks are exempt — they arrive as bare browser
// redirects.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secret := s.cfg.GatewayToken
		if secret == "" || strings.HasPrefix(r.URL.Path, "/api/oauth/callback/") {
			next.ServeHTTP(w, r)
			return
		}

		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}
		token, err := jwt.Parse(strings.TrimPrefix(auth, "Bearer "), func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("unexpected signing method")
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	body := map[string]string{"error": code}
	if message != "" {
		body["message"] = message
	}
	writeJSON(w, status, body)
}

// writeDomainError maps the four-kind error taxonomy of spec.md §7 to
// HTTP responses.
func writeDomainError(w http.ResponseWriter, err error) {
	var inputErr *errs.InputError
	if errors.As(err, &inputErr) {
		writeError(w, http.StatusBadRequest, inputErr.Code, inputErr.Message)
		return
	}
	var notFound *errs.NotFoundError
	if errors.As(err, &notFound) {
		writeError(w, http.StatusNotFound, "not_found", "")
		return
	}
	writeError(w, http.StatusInternalServerError, "internal", err.Error())
}

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"version": s.version,
		"app":     appName,
		"dbPath":  s.cfg.DBPath,
	})
}

// nowMillis is split out for the WS connected frame.
func nowMillis() int64 { return time.Now().UnixMilli() }
