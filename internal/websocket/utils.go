package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second
	readWait  = 5 * time.Minute
)

// ErrInvalidPayload wraps any decode failure of a client message.
var ErrInvalidPayload = errors.New("invalid payload")

// Conn serialises writes: gorilla allows one concurrent writer, and session
// events are pushed from the countdown goroutine while replies come from
// the read loop.
type Conn struct {
	*websocket.Conn
	mu sync.Mutex
}

// Wrap adopts an upgraded connection.
func Wrap(conn *websocket.Conn) *Conn {
	return &Conn{Conn: conn}
}

// WriteTyped sends a strongly-typed response payload over the WebSocket.
func (c *Conn) WriteTyped(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.SetWriteDeadline(time.Now().Add(writeWait))
	return c.WriteJSON(v)
}

// WriteError sends a typed ErrorResponse over the WebSocket.
func (c *Conn) WriteError(code, errMsg string) error {
	return c.WriteTyped(ErrorResponse{
		Event: EventError,
		Code:  code,
		Error: errMsg,
	})
}

// ReadEnvelope reads one message and peeks its action. The raw payload is
// kept for the action-specific decode.
func (c *Conn) ReadEnvelope() (*RequestEnvelope, error) {
	_ = c.SetReadDeadline(time.Now().Add(readWait))
	_, data, err := c.ReadMessage()
	if err != nil {
		return nil, err
	}
	env := &RequestEnvelope{Raw: data}
	if err := json.Unmarshal(data, env); err != nil {
		return env, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return env, nil
}

// Decode parses the envelope's payload into v.
func (e *RequestEnvelope) Decode(v interface{}) error {
	if err := json.Unmarshal(e.Raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}
