package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/hashstructure/v2"
	"github.com/tcriess/queue-coordinator/room"
	"github.com/tcriess/queue-coordinator/types"
)

const (
	readHeaderTimeout = 10 * time.Second
)

// Rooms is the read-only view of the registry the HTTP endpoints need.
type Rooms interface {
	Lookup(roomId string) (types.RoomInfo, error)
	Rooms() int
}

// Options configures the HTTP surface. Nil handlers are not mounted.
type Options struct {
	Addr          string
	Rooms         Rooms
	Websocket     http.Handler
	WebsocketPath string
	SocketIO      http.Handler
	Metrics       http.Handler
	MetricsPath   string
	Logger        hclog.Logger
}

type Server struct {
	router *mux.Router
	srv    *http.Server
	rooms  Rooms
	logger hclog.Logger
}

func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = hclog.NewNullLogger()
	}
	s := &Server{
		router: mux.NewRouter(),
		rooms:  opts.Rooms,
		logger: opts.Logger,
	}
	s.setupRoutes(opts)
	s.srv = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return s
}

func (s *Server) setupRoutes(opts Options) {
	if opts.Websocket != nil {
		path := opts.WebsocketPath
		if path == "" {
			path = "/ws"
		}
		s.router.Handle(path, opts.Websocket).Methods(http.MethodGet)
	}
	if opts.SocketIO != nil {
		s.router.PathPrefix("/socket.io/").Handler(opts.SocketIO)
	}
	if opts.Metrics != nil {
		path := opts.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		s.router.Handle(path, opts.Metrics).Methods(http.MethodGet)
	}
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/api/rooms/{roomId}", s.handleGetRoom).Methods(http.MethodGet)
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe blocks until the server is shut down. A regular shutdown returns nil.
func (s *Server) ListenAndServe() error {
	s.logger.Info("listening", "addr", s.srv.Addr)
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("could not write response", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "rooms": s.rooms.Rooms()})
}

// handleGetRoom serves the projection of a live room. The ETag changes whenever the projection does.
func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	roomId := mux.Vars(r)["roomId"]
	info, err := s.rooms.Lookup(roomId)
	if errors.Is(err, room.ErrRoomNotFound) {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "Room does not exist"})
		return
	}
	if err != nil {
		s.logger.Error("could not look up room", "room", roomId, "error", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	hash, err := hashstructure.Hash(info, hashstructure.FormatV2, nil)
	if err != nil {
		s.logger.Error("could not hash room info", "room", roomId, "error", err)
		s.writeJSON(w, http.StatusOK, info)
		return
	}
	etag := fmt.Sprintf(`"%x"`, hash)
	w.Header().Set("ETag", etag)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	s.writeJSON(w, http.StatusOK, info)
}
