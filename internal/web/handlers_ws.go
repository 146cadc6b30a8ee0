package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"kobold-bridge/internal/robot"
)

// wsFeed fans robot manager events out to connected websocket clients. The
// feed is one-way: clients subscribe by connecting, anything they send is
// ignored.
type wsFeed struct {
	logger *slog.Logger

	register   chan *wsClient
	unregister chan *wsClient
	events     chan robot.Event

	done     chan struct{}
	stopOnce sync.Once
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

func newWSFeed(logger *slog.Logger) *wsFeed {
	return &wsFeed{
		logger:     logger,
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		events:     make(chan robot.Event, 256),
		done:       make(chan struct{}),
	}
}

// Run owns the client set. Registration, fan-out and shutdown all happen on
// this goroutine, so the set needs no locking.
func (f *wsFeed) Run() {
	clients := make(map[*wsClient]struct{})
	for {
		select {
		case <-f.done:
			for client := range clients {
				close(client.send)
			}
			return

		case client := <-f.register:
			clients[client] = struct{}{}
			f.logger.Debug("event feed client connected", "total", len(clients))

		case client := <-f.unregister:
			if _, ok := clients[client]; ok {
				delete(clients, client)
				close(client.send)
			}
			f.logger.Debug("event feed client disconnected", "total", len(clients))

		case event := <-f.events:
			data, err := json.Marshal(event)
			if err != nil {
				f.logger.Error("event feed marshal", "err", err, "type", event.Type)
				continue
			}
			for client := range clients {
				select {
				case client.send <- data:
				default:
					// A client that cannot keep up with the robot feed is cut off.
					delete(clients, client)
					close(client.send)
					f.logger.Warn("event feed client evicted", "type", event.Type)
				}
			}
		}
	}
}

// Stop shuts the feed down and disconnects all clients. Safe to call more
// than once.
func (f *wsFeed) Stop() {
	f.stopOnce.Do(func() {
		close(f.done)
	})
}

// Broadcast queues a manager event for delivery to every connected client.
func (f *wsFeed) Broadcast(event robot.Event) {
	select {
	case f.events <- event:
	default:
		f.logger.Warn("event feed full, dropping event", "type", event.Type, "robot_id", event.RobotID)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{}
	if len(s.allowedOrigins) > 0 {
		opts.OriginPatterns = s.allowedOrigins
	}
	// If no allowedOrigins configured, nhooyr defaults to same-origin check.

	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		s.logger.Error("ws accept", "err", err)
		return
	}

	conn.SetReadLimit(4096)

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 64),
	}

	select {
	case s.feed.register <- client:
	case <-s.feed.done:
		conn.Close(websocket.StatusGoingAway, "bridge shutting down")
		return
	}

	go s.wsWritePump(client)
	s.wsReadPump(client)
}

func (s *Server) wsWritePump(client *wsClient) {
	for msg := range client.send {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := client.conn.Write(ctx, websocket.MessageText, msg)
		cancel()
		if err != nil {
			return
		}
	}
	// Channel closed by the feed; the subscription is over.
	client.conn.Close(websocket.StatusNormalClosure, "event feed closed")
}

func (s *Server) wsReadPump(client *wsClient) {
	defer func() {
		select {
		case s.feed.unregister <- client:
		case <-s.feed.done:
			// Feed already shut down; close the connection directly.
			client.conn.Close(websocket.StatusGoingAway, "bridge shutting down")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Cancel the read when the feed shuts down.
	go func() {
		select {
		case <-s.feed.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		_, _, err := client.conn.Read(ctx)
		if err != nil {
			return
		}
		// Incoming client messages are ignored; the feed is one-way.
	}
}
