// Package server exposes live execution events over WebSocket.
//
//	/ws                    every event, plus daemon log batches
//	/ws/executions/{id}    one execution: a snapshot, then its events
//
// Clients may send control messages (cancel, input) on either socket.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/teranos/opsdeck/am"
	"github.com/teranos/opsdeck/errors"
	"github.com/teranos/opsdeck/logger"
	"github.com/teranos/opsdeck/pulse/events"
	"github.com/teranos/opsdeck/pulse/ledger"
	"github.com/teranos/opsdeck/server/wslogs"
)

// Controller acts on running executions. Implemented by runner.Runner.
type Controller interface {
	Cancel(ctx context.Context, id int64) error
	ProvideInput(id int64, text string) error
}

// Snapshotter reads an execution for late joiners. Implemented by ledger.Store.
type Snapshotter interface {
	GetWithDetails(ctx context.Context, id int64) (*ledger.Details, error)
}

// Config configures the event server
type Config struct {
	Port             int
	AllowedOrigins   []string // prefix match; empty allows only requests without Origin
	LogFlushInterval time.Duration
}

// ConfigFromAM maps the [server] section onto server settings.
func ConfigFromAM(cfg *am.Config) Config {
	return Config{
		Port:             cfg.GetServerPort(),
		AllowedOrigins:   cfg.GetServerAllowedOrigins(),
		LogFlushInterval: DefaultLogFlushInterval,
	}
}

// Dependencies wires a Server
type Dependencies struct {
	Hub     *events.Hub
	Control Controller
	Ledger  Snapshotter

	// Logs and LogBatcher are optional; without them no log batches are sent.
	Logs       *wslogs.Transport
	LogBatcher *wslogs.Batcher

	Logger *zap.SugaredLogger
}

// Server is the live event server
type Server struct {
	cfg        Config
	hub        *events.Hub
	control    Controller
	ledger     Snapshotter
	logs       *wslogs.Transport
	logBatcher *wslogs.Batcher
	logger     *zap.SugaredLogger

	clients map[*Client]struct{}
	mu      sync.RWMutex

	// ctx is cancelled on shutdown so pumps and control calls stop
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Server
func New(cfg Config, deps Dependencies) *Server {
	if cfg.LogFlushInterval <= 0 {
		cfg.LogFlushInterval = DefaultLogFlushInterval
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:        cfg,
		hub:        deps.Hub,
		control:    deps.Control,
		ledger:     deps.Ledger,
		logs:       deps.Logs,
		logBatcher: deps.LogBatcher,
		logger:     log.With(logger.FieldComponent, "server"),
		clients:    make(map[*Client]struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Handler returns the router serving the WebSocket endpoints
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/ws", s.HandleWebSocket).Methods(http.MethodGet)
	r.HandleFunc("/ws/executions/{id:[0-9]+}", s.HandleExecutionWebSocket).Methods(http.MethodGet)
	r.HandleFunc("/health", s.HandleHealth).Methods(http.MethodGet, http.MethodOptions)
	r.Use(s.corsMiddleware)
	return r
}

// Serve listens on the configured port until ctx is done, then shuts down.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return errors.Wrapf(err, "failed to listen on port %d", s.cfg.Port)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener serves on ln until ctx is done.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.startLogFlusher()

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Serve(ln)
	}()
	s.logger.Infow("Event server listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		s.Close()
		if err != nil && err != http.ErrServerClosed {
			return errors.Wrap(err, "event server failed")
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	// hijacked WebSocket connections are not closed by Shutdown
	s.Close()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "event server shutdown")
	}
	return nil
}

// Close disconnects every client and stops background goroutines.
func (s *Server) Close() {
	s.cancel()

	s.mu.Lock()
	clients := make([]*Client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	if len(clients) > 0 {
		s.logger.Infow("Closing client connections", logger.FieldCount, len(clients))
	}
	for _, c := range clients {
		c.conn.Close()
	}
	s.wg.Wait()
}

func (s *Server) startLogFlusher() {
	if s.logBatcher == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.LogFlushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.ctx.Done():
				s.logBatcher.Flush()
				return
			case <-ticker.C:
				s.logBatcher.Flush()
			}
		}
	}()
}

// register admits a client unless the server is full or closing
func (s *Server) register(c *Client) bool {
	s.mu.Lock()
	if len(s.clients) >= MaxClients || s.ctx.Err() != nil {
		s.mu.Unlock()
		return false
	}
	s.clients[c] = struct{}{}
	total := len(s.clients)
	// under the lock: Close must not Wait while the group grows
	s.wg.Add(2)
	if s.logs != nil {
		s.logs.RegisterClient(c.id, c.sendLog)
	}
	s.mu.Unlock()

	s.logger.Infow("Client connected",
		logger.FieldClientID, c.id,
		logger.FieldExecutionID, c.executionID,
		"total_clients", total,
	)
	return true
}

func (s *Server) unregister(c *Client) {
	s.mu.Lock()
	_, ok := s.clients[c]
	delete(s.clients, c)
	total := len(s.clients)
	s.mu.Unlock()
	if !ok {
		return
	}

	if s.logs != nil {
		s.logs.UnregisterClient(c.id)
	}
	s.hub.Unsubscribe(c.events)
	c.close()

	s.logger.Infow("Client disconnected",
		logger.FieldClientID, c.id,
		"total_clients", total,
	)
}

// ClientCount reports connected clients
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// HandleWebSocket serves the firehose stream
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.serveClient(w, r, 0)
}

// HandleExecutionWebSocket serves one execution's stream
func (s *Server) HandleExecutionWebSocket(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid execution id")
		return
	}
	s.serveClient(w, r, id)
}

// HandleHealth reports server liveness
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":              "ok",
		"pid":                 os.Getpid(),
		"clients":             s.ClientCount(),
		"evicted_subscribers": s.hub.Evicted(),
	})
}

func (s *Server) serveClient(w http.ResponseWriter, r *http.Request, executionID int64) {
	if s.ClientCount() >= MaxClients {
		writeError(w, http.StatusServiceUnavailable, "Too many clients")
		return
	}

	// Subscribe before reading the snapshot so no event falls between the two.
	// A line may then appear in both; clients treat the snapshot as a base.
	sub := s.hub.SubscribeExecution(executionID)

	var snapshot *SnapshotMessage
	if executionID != 0 {
		exec, err := s.ledger.GetWithDetails(r.Context(), executionID)
		if err != nil {
			s.hub.Unsubscribe(sub)
			if errors.IsNotFoundError(err) {
				writeError(w, http.StatusNotFound, "Execution not found")
				return
			}
			s.logger.Errorw("Failed to load execution snapshot", logger.FieldExecutionID, executionID, logger.FieldError, err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		snapshot = &SnapshotMessage{
			Type:        MsgSnapshot,
			ExecutionID: exec.ID,
			ScriptName:  exec.ScriptName,
			Status:      string(exec.Status),
			Output:      exec.Output,
			StartTime:   exec.StartTime,
			EndTime:     exec.EndTime,
		}
	}

	upgrader := newUpgrader(s.cfg.AllowedOrigins)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.hub.Unsubscribe(sub)
		s.logger.Warnw("WebSocket upgrade failed", logger.FieldError, err, "remote", r.RemoteAddr)
		return
	}

	c := newClient(s, conn, executionID, sub, snapshot)
	if !s.register(c) {
		s.hub.Unsubscribe(sub)
		conn.Close()
		return
	}

	go func() {
		defer s.wg.Done()
		c.writePump()
	}()
	go func() {
		defer s.wg.Done()
		c.readPump()
	}()
}
