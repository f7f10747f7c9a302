package types

import "encoding/json"

// JSON-serialized WebsocketMessage is what is actually sent via the Websocket connection
type WebsocketMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// NewWebsocketMessage wraps data under the given event name and returns the serialized envelope.
func NewWebsocketMessage(event string, data interface{}) ([]byte, error) {
	if data == nil {
		data = Empty{}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(WebsocketMessage{
		Event: event,
		Data:  raw,
	})
}

// Conn is one live client connection, independent of the transport (plain websocket or socket.io).
// Emit must never block: a connection that cannot take the message reports an error instead.
type Conn interface {
	Id() string
	Emit(event string, data interface{}) error
}
