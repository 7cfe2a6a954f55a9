// Package httpapi is the thin HTTP/WebSocket front end spec §4.G describes:
// a status/control REST surface plus a `/ws` broadcaster that mirrors every
// state-store change, built the way the teacher's ap.httpd wires gorilla/mux
// and securecookie over net/http.
package httpapi

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/securecookie"
	"go.uber.org/zap"

	"github.com/pamir-ai-pkgs/distiller-services/internal/netmgr"
	"github.com/pamir-ai-pkgs/distiller-services/internal/orchestrator"
	"github.com/pamir-ai-pkgs/distiller-services/internal/statestore"
)

const sessionCookieName = "session_id"

// Server is the bound HTTP surface: one *http.Server plus the shared state
// needed by handlers (scan cache, websocket hub, session cookie cutter).
type Server struct {
	addr   string
	apIP   string
	apPort int

	orch  *orchestrator.Orchestrator
	store *statestore.Store
	net   netmgr.Adapter
	slog  *zap.SugaredLogger

	cutter *securecookie.SecureCookie
	scans  *scanCache
	hub    *wsHub

	// connectInFlight tracks sessions with an in-progress /api/connect call,
	// rate-limiting each client to one in-flight attempt (spec §4.G).
	connectInFlight sync.Map

	httpSrv *http.Server
}

// New wires the mux.Router and returns an unstarted Server.
func New(addr, apIP string, apPort int, orch *orchestrator.Orchestrator,
	store *statestore.Store, net netmgr.Adapter, slog *zap.SugaredLogger) *Server {

	hashKey := securecookie.GenerateRandomKey(64)
	blockKey := securecookie.GenerateRandomKey(32)

	s := &Server{
		addr:   addr,
		apIP:   apIP,
		apPort: apPort,
		orch:   orch,
		store:  store,
		net:    net,
		slog:   slog,
		cutter: securecookie.New(hashKey, blockKey),
		scans:  newScanCache(5 * time.Second),
		hub:    newWSHub(slog),
	}

	router := mux.NewRouter()
	s.routes(router)

	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           loggingMiddleware(slog)(router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	store.OnChange(func(old, new statestore.SystemState) {
		s.hub.broadcast(new)
	})

	return s
}

func (s *Server) routes(r *mux.Router) {
	r.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/networks", s.handleNetworks).Methods(http.MethodGet)
	r.HandleFunc("/api/connect", s.handleConnect).Methods(http.MethodPost)
	r.HandleFunc("/api/disconnect", s.handleDisconnect).Methods(http.MethodPost)
	r.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.handleWebSocket)

	for _, path := range []string{"/generate_204", "/hotspot-detect.html", "/library/test/success.html", "/ncsi.txt"} {
		r.HandleFunc(path, s.handleCaptiveProbe(path)).Methods(http.MethodGet)
	}

	r.PathPrefix("/").HandlerFunc(s.handleCatchAll)
}

// Start runs the HTTP server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.slog.Infow("http listener starting", "addr", s.addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
