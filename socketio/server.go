package socketio

import (
	"fmt"
	"net/http"

	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/queue-coordinator/types"
	eiotypes "github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io/v2/socket"
)

// Dispatcher receives the events of every socket.
type Dispatcher interface {
	HandleMessage(conn types.Conn, event string, data interface{})
	Disconnect(conn types.Conn)
}

var inboundEvents = []string{
	types.EventCreateRoom,
	types.EventJoinRoom,
	types.EventAddToQueue,
	types.EventDequeueUser,
	types.EventExitQueue,
	types.EventImInRoom,
	types.EventEndAndDestroyRoom,
}

// Server serves the event contract over socket.io (v4 protocol, v3 clients accepted).
type Server struct {
	io         *socket.Server
	opts       *socket.ServerOptions
	dispatcher Dispatcher
	logger     hclog.Logger
}

func NewServer(dispatcher Dispatcher, allowedOrigin string, logger hclog.Logger) *Server {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if allowedOrigin == "" {
		allowedOrigin = "*"
	}
	opts := socket.DefaultServerOptions()
	opts.SetCors(&eiotypes.Cors{
		Origin:      allowedOrigin,
		Credentials: true,
	})
	opts.SetAllowEIO3(true)

	s := &Server{
		io:         socket.NewServer(nil, opts),
		opts:       opts,
		dispatcher: dispatcher,
		logger:     logger,
	}
	s.io.On("connection", func(clients ...any) {
		client := clients[0].(*socket.Socket)
		s.register(client)
	})
	return s
}

func (s *Server) register(client *socket.Socket) {
	conn := newConn(client)
	s.logger.Debug("client connected", "conn", conn.Id())
	for _, ev := range inboundEvents {
		event := ev
		client.On(event, func(args ...any) {
			s.dispatcher.HandleMessage(conn, event, fromWire(args))
		})
	}
	client.On("disconnect", func(args ...any) {
		reason := ""
		if len(args) > 0 {
			reason = fmt.Sprintf("%v", args[0])
		}
		conn.close()
		s.dispatcher.Disconnect(conn)
		s.logger.Debug("client disconnected", "conn", conn.Id(), "reason", reason)
	})
}

// Handler serves the socket.io endpoint. Mount it under /socket.io/.
func (s *Server) Handler() http.Handler {
	return s.io.ServeHandler(s.opts)
}

func (s *Server) Close() {
	s.io.Close(nil)
}
