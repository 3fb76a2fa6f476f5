package recorder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"sentinelqa/metrics"
)

const DefaultAddr = "127.0.0.1:8765"

type ServerOptions struct {
	Addr    string
	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

// Server exposes host storage to the recorder UI. A UI that was closed
// fetches the recording again and then follows the live stream.
type Server struct {
	ctx      context.Context
	Addr     string
	store    *HostStore
	metrics  *metrics.Metrics
	log      *zap.Logger
	upgrader websocket.Upgrader
	server   *http.Server

	mu        sync.Mutex
	recorders map[string]*Recorder
}

func NewServer(ctx context.Context, store *HostStore, options *ServerOptions) *Server {
	s := &Server{
		ctx:       ctx,
		Addr:      DefaultAddr,
		store:     store,
		log:       zap.NewNop(),
		recorders: make(map[string]*Recorder),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// the UI runs as a browser extension page with its own origin
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	if options != nil {
		if options.Addr != "" {
			s.Addr = options.Addr
		}
		s.metrics = options.Metrics
		if options.Logger != nil {
			s.log = options.Logger
		}
	}
	s.log = s.log.Named("recorder-server")
	return s
}

// Register makes a live recorder controllable through the server.
func (s *Server) Register(r *Recorder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recorders[r.ID()] = r
}

func (s *Server) recorder(id string) (*Recorder, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recorders[id]
	return r, ok
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.logRequests)
	r.Get("/api/kv", s.handleGetKey)
	r.Post("/api/kv", s.handleSetKey)
	r.Get("/recordings", s.handleListRecordings)
	r.Get("/recordings/{id}", s.handleGetRecording)
	r.Post("/recordings/{id}/start", s.handleToggle(true))
	r.Post("/recordings/{id}/stop", s.handleToggle(false))
	r.Get("/recordings/{id}/live", s.handleLive)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}
	return r
}

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("error listening on %s: %w", s.Addr, err)
	}
	s.Addr = ln.Addr().String()
	s.server = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("serve failed", zap.Error(err))
		}
	}()
	s.log.Info("listening", zap.String("addr", s.Addr))
	return nil
}

func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("error shutting down recorder server: %w", err)
	}
	s.log.Info("stopped")
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.log.Debug("request", zap.String("method", r.Method), zap.String("path", r.URL.Path))
		next.ServeHTTP(w, r)
	})
}

type keyValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (s *Server) handleGetKey(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		http.Error(w, "key not specified", http.StatusBadRequest)
		return
	}
	value, err := s.store.Get(key)
	if errors.Is(err, ErrKeyNotFound) {
		http.Error(w, fmt.Sprintf("key not found: %s", key), http.StatusNotFound)
		return
	} else if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": keyValue{Key: key, Value: value}})
}

func (s *Server) handleSetKey(w http.ResponseWriter, r *http.Request) {
	var data keyValue
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	} else if data.Key == "" {
		http.Error(w, "key not specified", http.StatusBadRequest)
		return
	}
	if err := s.store.Set(r.Context(), data.Key, data.Value); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleListRecordings(w http.ResponseWriter, r *http.Request) {
	ids, err := s.store.ListRecordings()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"recordings": ids})
}

type recordingView struct {
	Recording   *Recording `json:"recording"`
	Instruction string     `json:"instruction"`
}

func (s *Server) view(id string) (*recordingView, error) {
	rec, err := s.store.LoadRecording(id)
	if err != nil {
		return nil, err
	}
	instr := ""
	if live, ok := s.recorder(id); ok {
		instr = live.Instruction()
	}
	return &recordingView{Recording: rec, Instruction: instr}, nil
}

func (s *Server) handleGetRecording(w http.ResponseWriter, r *http.Request) {
	view, err := s.view(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleToggle(on bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		live, ok := s.recorder(id)
		if !ok {
			http.Error(w, fmt.Sprintf("no live recorder: %s", id), http.StatusNotFound)
			return
		}
		var err error
		if on {
			err = live.Start(r.Context())
		} else {
			err = live.Stop(r.Context())
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"recording": on})
	}
}

type liveMessage struct {
	Type     string         `json:"type"`
	Snapshot *recordingView `json:"snapshot,omitempty"`
	Change   *Change        `json:"change,omitempty"`
}

// handleLive sends the stored recording first and then every change to it.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	changes, unsubscribe, err := s.store.Notifier().Subscribe(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	defer unsubscribe()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	view, err := s.view(id)
	if err != nil {
		conn.WriteJSON(map[string]string{"error": err.Error()})
		return
	}
	if err := conn.WriteJSON(liveMessage{Type: "snapshot", Snapshot: view}); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(liveMessage{Type: "change", Change: &change}); err != nil {
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
