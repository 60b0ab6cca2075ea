package server

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/kode4food/conduit/internal/watch"
	"github.com/kode4food/conduit/pkg/api"
	"github.com/kode4food/conduit/pkg/log"
)

type (
	// Client represents a WebSocket client following run activity
	Client struct {
		conn      *websocket.Conn
		consumer  watch.Consumer
		getRun    RunFunc
		refresh   time.Duration
		following map[api.RunID][]byte
		closeOnce sync.Once
	}

	// RunFunc retrieves the current trace of a run
	RunFunc func(context.Context, api.RunID) (*api.FlowRunTrace, bool, error)
)

const (
	writeWait          = 10 * time.Second
	pongWait           = 60 * time.Second
	pingPeriod         = (pongWait * 9) / 10
	maxMessageSize     = 4096
	wsBufferSize       = 1024
	incomingBufferSize = 16

	subscribeType = "subscribe"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  wsBufferSize,
	WriteBufferSize: wsBufferSize,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func (s *Server) handleWebSocket(c *gin.Context) {
	consumer := s.watcher.NewConsumer()
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		consumer.Close()
		slog.Error("WebSocket upgrade failed",
			log.Error(err))
		return
	}

	client := &Client{
		conn:      conn,
		consumer:  consumer,
		getRun:    s.getRunTrace,
		refresh:   s.refresh,
		following: map[api.RunID][]byte{},
	}
	s.registerWebSocket(client)

	go func() {
		defer s.unregisterWebSocket(client)
		client.run()
	}()
}

func (s *Server) getRunTrace(
	ctx context.Context, id api.RunID,
) (*api.FlowRunTrace, bool, error) {
	return s.tracer.Runs().GetByID(ctx, string(id))
}

// Close terminates the client connection
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		_ = c.conn.Close()
	})
}

func (c *Client) run() {
	defer func() {
		c.consumer.Close()
		c.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	refresh := time.NewTicker(c.refresh)
	defer refresh.Stop()

	incoming := make(chan []byte, incomingBufferSize)
	done := make(chan struct{})
	defer close(done)
	go c.readMessages(incoming, done)

	for {
		select {
		case message, ok := <-incoming:
			if !ok {
				return
			}
			if !c.handleSubscribe(message) {
				return
			}

		case ev, ok := <-c.consumer.Receive():
			if !ok {
				return
			}
			if !c.sendRunCreated(ev) {
				return
			}

		case <-refresh.C:
			if !c.refreshFollowed() {
				return
			}

		case <-ping.C:
			if !c.sendPing() {
				return
			}
		}
	}
}

func (c *Client) readMessages(
	incoming chan<- []byte, done <-chan struct{},
) {
	defer close(incoming)
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		select {
		case incoming <- message:
		case <-done:
			return
		}
	}
}

func (c *Client) handleSubscribe(message []byte) bool {
	var sub api.SubscribeRequest
	if err := json.Unmarshal(message, &sub); err != nil {
		slog.Error("Failed to parse WebSocket message",
			log.Error(err))
		return true
	}

	if sub.Type != subscribeType {
		return true
	}

	c.following = make(map[api.RunID][]byte, len(sub.Data.RunIDs))
	for _, id := range sub.Data.RunIDs {
		c.following[id] = nil
	}
	return c.refreshFollowed()
}

func (c *Client) refreshFollowed() bool {
	for id, last := range c.following {
		data, ok := c.fetchRun(id)
		if !ok || bytes.Equal(data, last) {
			continue
		}
		c.following[id] = data
		if !c.write(&api.WebSocketEvent{
			Type:  api.EventTypeRunState,
			RunID: id,
			Data:  data,
		}) {
			return false
		}
	}
	return true
}

func (c *Client) sendRunCreated(ev *api.RunEvent) bool {
	data, _ := c.fetchRun(ev.RunID)
	return c.write(&api.WebSocketEvent{
		Type:  ev.Type,
		RunID: ev.RunID,
		Data:  data,
	})
}

func (c *Client) fetchRun(id api.RunID) (json.RawMessage, bool) {
	run, ok, err := c.getRun(context.Background(), id)
	if err != nil {
		slog.Error("Failed to get run for WebSocket client",
			log.RunID(id),
			log.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}

	data, err := json.Marshal(run)
	if err != nil {
		slog.Error("Failed to marshal run",
			log.RunID(id),
			log.Error(err))
		return nil, false
	}
	return data, true
}

func (c *Client) write(ev *api.WebSocketEvent) bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(ev); err != nil {
		slog.Error("WebSocket write failed",
			slog.String("context", string(ev.Type)),
			log.Error(err))
		return false
	}
	return true
}

func (c *Client) sendPing() bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := c.conn.WriteMessage(websocket.PingMessage, nil)
	return err == nil
}
