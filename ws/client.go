package ws

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/queue-coordinator/types"
)

const (
	maxMessageSize  = 4096
	pongWait        = 2 * time.Minute
	pingPeriod      = time.Minute
	writeWait       = 10 * time.Second
	sendChannelSize = 256
)

var (
	ErrConnClosed     = errors.New("connection closed")
	ErrSendBufferFull = errors.New("send buffer full")
)

// Dispatcher receives the decoded events of a connection.
type Dispatcher interface {
	HandleMessage(conn types.Conn, event string, data interface{})
	Disconnect(conn types.Conn)
}

// Client is a middleman between the websocket connection and the coordinator. It implements types.Conn.
type Client struct {
	id string

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages. It is never closed, done signals the end of the connection instead.
	send chan []byte

	done      chan struct{}
	closeOnce sync.Once

	dispatcher Dispatcher
	logger     hclog.Logger

	// WaitGroup which keeps track of running read/write loops.
	sync.WaitGroup
}

func NewClient(conn *websocket.Conn, dispatcher Dispatcher, logger hclog.Logger) (*Client, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Client{
		id:         id.String(),
		conn:       conn,
		send:       make(chan []byte, sendChannelSize),
		done:       make(chan struct{}),
		dispatcher: dispatcher,
		logger:     logger.With("conn", id.String()),
	}, nil
}

func (c *Client) Id() string {
	return c.id
}

// Emit queues the event for the write loop. It never blocks: a closed connection or a full send buffer is reported
// as an error and the message is dropped.
func (c *Client) Emit(event string, data interface{}) error {
	msg, err := types.NewWebsocketMessage(event, data)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case c.send <- msg:
		return nil
	case <-c.done:
		return ErrConnClosed
	default:
		return ErrSendBufferFull
	}
}

// Close ends both loops. It is safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// ReadLoop pumps messages from the websocket connection to the dispatcher.
//
// The application runs ReadLoop in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Client) ReadLoop() {
	defer func() {
		c.Close()
		c.dispatcher.Disconnect(c)
		c.Done()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Info("ws closed unexpected", "error", err)
			}
			return
		}
		message := types.WebsocketMessage{}
		if err := json.Unmarshal(raw, &message); err != nil {
			c.logger.Warn("could not unmarshal ws message", "error", err)
			continue
		}
		c.dispatcher.HandleMessage(c, message.Event, message.Data)
	}
}

// WriteLoop pumps messages from the send buffer to the websocket connection.
//
// A goroutine running WriteLoop is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) WriteLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
		c.Done()
	}()
	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				c.logger.Debug("could not write to ws connection, exiting write loop", "error", err)
				return
			}
			_, _ = w.Write(message)
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("could not send ping message, exiting write loop", "error", err)
				return
			}

		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		}
	}
}
