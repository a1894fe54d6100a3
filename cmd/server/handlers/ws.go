package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/dipeo/dipeo/cmd/server/container"
	"github.com/dipeo/dipeo/common/events"
	"github.com/dipeo/dipeo/common/ids"
	"github.com/dipeo/dipeo/common/logger"
	"github.com/dipeo/dipeo/common/sdk"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 30 * time.Second
	pingPeriod     = 25 * time.Second
	maxMessageSize = 512
	sendBuffer     = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Subscriptions are read-only; any origin may watch an execution it
	// knows the ID of.
	CheckOrigin: func(*http.Request) bool { return true },
}

// WSHandler upgrades subscription requests and bridges them onto the router.
type WSHandler struct {
	container *container.Container
	log       *logger.Logger
}

// NewWSHandler creates the handler.
func NewWSHandler(c *container.Container) *WSHandler {
	return &WSHandler{container: c, log: c.Components.Logger}
}

// Subscribe streams an execution's events over a websocket.
// GET /ws/executions/:id?last_seq=N
func (h *WSHandler) Subscribe(c echo.Context) error {
	execID := ids.ExecutionID(c.Param("id"))

	var lastSeq int64
	if v := c.QueryParam("last_seq"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil || parsed < 0 {
			return badRequest(c, "invalid_request", fmt.Errorf("last_seq must be a non-negative integer"))
		}
		lastSeq = parsed
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return fmt.Errorf("upgrade subscription: %w", err)
	}

	client := &wsClient{
		id:        "ws_" + uuid.New().String(),
		conn:      conn,
		send:      make(chan []byte, sendBuffer),
		done:      make(chan struct{}),
		replaying: true,
		lastSeq:   lastSeq,
	}

	router := h.container.Components.Router
	router.Register(client)
	if err := router.Subscribe(client.id, execID); err != nil {
		router.Unregister(client.id)
		conn.Close()
		return nil
	}

	// Live events arriving while the cold replay drains wait in a backlog;
	// the sequence filter then drops anything the replay already delivered.
	for _, event := range h.container.Components.Bus.Replay(execID, lastSeq) {
		if err := client.deliver(event); err != nil {
			break
		}
	}
	client.finishReplay()

	go client.writePump(h.log)
	client.readPump(router.Unregister)
	return nil
}

// wsClient is one subscription connection. It implements router.Connection;
// Send never blocks, a full queue drops the client.
type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	done chan struct{}

	mu        sync.Mutex
	replaying bool
	backlog   []events.Event
	lastSeq   int64
}

func (c *wsClient) ID() string { return c.id }

func (c *wsClient) Send(event events.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.replaying {
		c.backlog = append(c.backlog, event)
		return nil
	}
	return c.enqueueLocked(event)
}

// deliver pushes a replayed event, advancing the sequence watermark.
func (c *wsClient) deliver(event events.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enqueueLocked(event)
}

// finishReplay flushes the backlog and switches to live delivery. Backlog
// entries the replay already covered fall to the sequence filter.
func (c *wsClient) finishReplay() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, event := range c.backlog {
		if err := c.enqueueLocked(event); err != nil {
			break
		}
	}
	c.backlog = nil
	c.replaying = false
}

// enqueueLocked frames one event onto the send queue. Callers hold c.mu; the
// queue push never blocks.
func (c *wsClient) enqueueLocked(event events.Event) error {
	if event.Sequence <= c.lastSeq {
		return nil
	}

	frame := sdk.EventFrame{
		ExecutionID: string(event.ExecutionID),
		EventType:   string(event.Type),
		Sequence:    event.Sequence,
		Timestamp:   event.Timestamp,
	}
	if event.Payload != nil {
		data, err := json.Marshal(event.Payload)
		if err != nil {
			return fmt.Errorf("encode event payload: %w", err)
		}
		frame.Data = data
	}
	msg, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encode event frame: %w", err)
	}

	select {
	case c.send <- msg:
		c.lastSeq = event.Sequence
		return nil
	case <-c.done:
		return fmt.Errorf("connection %s closed", c.id)
	default:
		return fmt.Errorf("connection %s send queue full", c.id)
	}
}

func (c *wsClient) Close() error {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	return c.conn.Close()
}

// readPump discards client frames; its job is detecting disconnects.
func (c *wsClient) readPump(unregister func(string)) {
	defer func() {
		unregister(c.id)
		c.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *wsClient) writePump(log *logger.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Debug("subscription write failed", "connection_id", c.id, "error", err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
