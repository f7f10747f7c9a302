package socketio

import (
	"encoding/json"
	"errors"
	"sync/atomic"

	"github.com/zishang520/socket.io/v2/socket"
)

var ErrConnClosed = errors.New("socket disconnected")

// Conn adapts a socket.io socket to types.Conn.
type Conn struct {
	id     string
	emit   func(event string, args ...any)
	closed atomic.Bool
}

func newConn(s *socket.Socket) *Conn {
	return &Conn{
		id: string(s.Id()),
		emit: func(event string, args ...any) {
			s.Emit(event, args...)
		},
	}
}

func (c *Conn) Id() string {
	return c.id
}

// Emit hands the event to the socket.io server, which buffers it per socket. It fails once the socket disconnected.
func (c *Conn) Emit(event string, data interface{}) error {
	if c.closed.Load() {
		return ErrConnClosed
	}
	payload, err := toWire(data)
	if err != nil {
		return err
	}
	c.emit(event, payload)
	return nil
}

func (c *Conn) close() {
	c.closed.Store(true)
}

// toWire turns a payload into the plain maps and slices the socket.io encoder expects.
func toWire(data interface{}) (interface{}, error) {
	if data == nil {
		return map[string]interface{}{}, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// fromWire extracts the payload of an inbound event. Some clients send the object JSON-encoded as a string.
func fromWire(args []any) interface{} {
	if len(args) == 0 {
		return nil
	}
	switch v := args[0].(type) {
	case string:
		var m map[string]interface{}
		if err := json.Unmarshal([]byte(v), &m); err == nil {
			return m
		}
		return v
	default:
		return v
	}
}
