// Package api exposes the engine's command surface and live manifest
// stream over HTTP: a JWT-gated command-submission endpoint, a
// websocket stream of TickManifests, and a health/readiness/metrics
// sidecar for operators.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/nomai-sim/nomai/internal/cache"
	"github.com/nomai-sim/nomai/internal/command"
	"github.com/nomai-sim/nomai/internal/ecs"
	"github.com/nomai-sim/nomai/internal/orchestrator"
	"github.com/nomai-sim/nomai/pkg/logger"
	"github.com/nomai-sim/nomai/pkg/metrics"
)

// Claims is the JWT payload command-surface callers must present.
type Claims struct {
	ClientID string `json:"client_id"`
	jwt.RegisteredClaims
}

// Server wires the orchestrator to an HTTP router.
type Server struct {
	orch      *orchestrator.Orchestrator
	router    *mux.Router
	jwtSecret []byte
	log       *logger.Logger

	upgrader  websocket.Upgrader
	broadcast chan orchMsg
	clientsMu sync.Mutex
	clients   map[*websocket.Conn]bool

	limiter *rate.Limiter

	manifestCache *cache.ManifestCache
}

// AttachCache wires an optional Redis-backed manifest cache in front of
// the manifest-by-tick endpoint. Without it, every read goes straight
// to the in-process pipeline's bounded history.
func (s *Server) AttachCache(c *cache.ManifestCache) { s.manifestCache = c }

type orchMsg struct {
	manifestBytes []byte
}

// NewServer builds a Server with routes registered, ready for
// http.ListenAndServe.
func NewServer(orch *orchestrator.Orchestrator, jwtSecret []byte, log *logger.Logger) *Server {
	s := &Server{
		orch:      orch,
		router:    mux.NewRouter(),
		jwtSecret: jwtSecret,
		log:       log,
		upgrader:  websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096, CheckOrigin: func(*http.Request) bool { return true }},
		broadcast: make(chan orchMsg, 64),
		clients:   make(map[*websocket.Conn]bool),
		limiter:   rate.NewLimiter(rate.Limit(50), 100),
	}
	s.routes()
	go s.broadcastLoop()
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/healthz", s.healthHandler).Methods("GET")
	s.router.HandleFunc("/readyz", s.readyHandler).Methods("GET")
	s.router.Handle("/metrics", metrics.Handler()).Methods("GET")

	protected := s.router.PathPrefix("/v1").Subrouter()
	protected.Use(s.rateLimitMiddleware)
	protected.Use(s.authMiddleware)
	protected.HandleFunc("/commands", s.submitCommandHandler).Methods("POST")
	protected.HandleFunc("/manifests/{tick}", s.manifestAtTickHandler).Methods("GET")
	protected.HandleFunc("/manifests/stream", s.streamHandler)
}

// Router exposes the underlying mux.Router, e.g. for tests via httptest.
func (s *Server) Router() http.Handler { return s.router }

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ready",
		"tick_counter": s.orch.TickCounter(),
	})
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if len(header) < 8 || header[:7] != "Bearer " {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing bearer token"})
			return
		}
		tokenStr := header[7:]
		claims := &Claims{}
		_, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
			return s.jwtSecret, nil
		})
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// submitCommandRequest is the JSON body accepted by POST /v1/commands.
type submitCommandRequest struct {
	Kind          string         `json:"kind"`
	Target        uint64         `json:"target,omitempty"`
	ComponentName string         `json:"component_name,omitempty"`
	Value         map[string]any `json:"value,omitempty"`
	Reason        string         `json:"reason"`
}

func (s *Server) submitCommandHandler(w http.ResponseWriter, r *http.Request) {
	var req submitCommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	switch req.Kind {
	case "set_component":
		s.orch.External().PushSetComponent(command.EngineInternal, command.PlayerInput(req.Reason), ecs.EntityId(req.Target), req.ComponentName, req.Value)
	case "despawn":
		s.orch.External().PushDespawn(command.EngineInternal, command.PlayerInput(req.Reason), ecs.EntityId(req.Target))
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown command kind"})
		return
	}
	metrics.CommandOutcomes.WithLabelValues("submitted").Inc()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (s *Server) manifestAtTickHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	tick, err := strconv.ParseUint(vars["tick"], 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid tick"})
		return
	}
	if s.manifestCache != nil {
		if cached, ok := s.manifestCache.GetManifest(r.Context(), tick, s.orch.World().ArchetypeGeneration()); ok {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Cache", "hit")
			w.WriteHeader(http.StatusOK)
			w.Write(cached)
			return
		}
	}

	m, ok := s.orch.Manifest().ManifestAtTick(tick)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "tick outside retained history"})
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) streamHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithTick(s.orch.TickCounter()).WithError(err).Warn("websocket upgrade failed")
		return
	}
	s.clientsMu.Lock()
	s.clients[conn] = true
	s.clientsMu.Unlock()
}

// PublishManifest broadcasts a tick manifest to every connected stream
// client — called by the caller's tick loop after each Orchestrator.Tick().
func (s *Server) PublishManifest(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case s.broadcast <- orchMsg{manifestBytes: b}:
	default:
		// Drop on a full channel rather than block the tick loop.
	}
}

func (s *Server) broadcastLoop() {
	for msg := range s.broadcast {
		s.clientsMu.Lock()
		for conn := range s.clients {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg.manifestBytes); err != nil {
				conn.Close()
				delete(s.clients, conn)
			}
		}
		s.clientsMu.Unlock()
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
