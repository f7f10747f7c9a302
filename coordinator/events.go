package coordinator

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mitchellh/mapstructure"
	"github.com/tcriess/queue-coordinator/types"
)

// HandleMessage decodes the payload of an inbound event and dispatches it. data is whatever the transport produced:
// a decoded JSON object, a json.RawMessage or nil. Unknown events and undecodable payloads are logged and dropped.
func (c *Coordinator) HandleMessage(conn types.Conn, event string, data interface{}) {
	var err error
	switch event {
	case types.EventCreateRoom:
		msg := types.CreateRoomMessage{}
		if err = decode(data, &msg); err == nil {
			_, err = c.CreateRoom(conn, msg)
		}

	case types.EventJoinRoom, types.EventAddToQueue, types.EventDequeueUser, types.EventExitQueue,
		types.EventImInRoom, types.EventEndAndDestroyRoom:
		msg := types.RoomMessage{}
		if err = decode(data, &msg); err != nil {
			break
		}
		switch event {
		case types.EventJoinRoom:
			c.JoinRoom(conn, msg)
		case types.EventAddToQueue:
			c.AddToQueue(conn, msg)
		case types.EventDequeueUser:
			c.DequeueUser(conn, msg)
		case types.EventExitQueue:
			c.ExitQueue(conn, msg)
		case types.EventImInRoom:
			c.ImInRoom(conn, msg)
		case types.EventEndAndDestroyRoom:
			c.EndAndDestroyRoom(conn, msg)
		}

	default:
		c.logger.Debug("unknown event", "conn", conn.Id(), "event", event)
		c.observer.Operation("unknown", OutcomeInvalid)
		return
	}
	if err != nil {
		c.logger.Warn("could not handle event", "conn", conn.Id(), "event", event, "error", err)
		var de *decodeError
		if errors.As(err, &de) {
			c.observer.Operation(event, OutcomeInvalid)
		}
	}
}

type decodeError struct {
	err error
}

func (e *decodeError) Error() string {
	return fmt.Sprintf("could not decode payload: %s", e.err)
}

func (e *decodeError) Unwrap() error {
	return e.err
}

func decode(data interface{}, v interface{}) error {
	switch d := data.(type) {
	case nil:
		return nil
	case json.RawMessage:
		if len(d) == 0 {
			return nil
		}
		m := make(map[string]interface{})
		if err := json.Unmarshal(d, &m); err != nil {
			return &decodeError{err: err}
		}
		data = m
	case []byte:
		return decode(json.RawMessage(d), v)
	}
	if err := mapstructure.WeakDecode(data, v); err != nil {
		return &decodeError{err: err}
	}
	return nil
}
