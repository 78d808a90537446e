package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// EventHub fans session lifecycle events (turn_started, turn_completed,
// session_summarized) out to connected WebSocket clients. Delivery is
// best-effort: a slow client gets disconnected, never blocks a turn.
type EventHub struct {
	originPatterns []string

	clients    map[*hubClient]bool
	broadcast  chan interface{}
	register   chan *hubClient
	unregister chan *hubClient
	mu         sync.Mutex
	ctx        context.Context
	cancel     context.CancelFunc
}

type hubClient struct {
	hub  *EventHub
	conn *websocket.Conn
	send chan []byte
}

// NewEventHub creates an event hub accepting connections from the given
// origin patterns.
func NewEventHub(originPatterns []string) *EventHub {
	ctx, cancel := context.WithCancel(context.Background())
	return &EventHub{
		originPatterns: originPatterns,
		clients:        make(map[*hubClient]bool),
		broadcast:      make(chan interface{}, 256),
		register:       make(chan *hubClient),
		unregister:     make(chan *hubClient),
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Run processes registration and broadcast traffic until Stop.
func (h *EventHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			log.Printf("Event client connected (total: %d)", count)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			log.Printf("Event client disconnected (total: %d)", count)

		case message := <-h.broadcast:
			data, err := json.Marshal(message)
			if err != nil {
				log.Printf("ERROR: failed to marshal event: %v", err)
				continue
			}
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- data:
				default:
					// Send buffer full; drop the client.
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()

		case <-h.ctx.Done():
			return
		}
	}
}

// Stop shuts the hub down and closes every client.
func (h *EventHub) Stop() {
	h.cancel()
	h.mu.Lock()
	for client := range h.clients {
		close(client.send)
		_ = client.conn.Close(websocket.StatusNormalClosure, "")
	}
	h.clients = make(map[*hubClient]bool)
	h.mu.Unlock()
}

// Broadcast queues an event for every connected client. Never blocks.
func (h *EventHub) Broadcast(event interface{}) {
	select {
	case h.broadcast <- event:
	default:
		log.Println("Warning: event broadcast channel full, dropping event")
	}
}

// ServeHTTP upgrades the request to a WebSocket connection and subscribes
// it to the event stream.
func (h *EventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		log.Printf("ERROR: WebSocket upgrade failed: %v", err)
		return
	}

	client := &hubClient{hub: h, conn: conn, send: make(chan []byte, 256)}
	select {
	case h.register <- client:
	case <-h.ctx.Done():
		_ = conn.Close(websocket.StatusGoingAway, "shutting down")
		return
	}

	go client.writePump()
	go client.readPump()
}

// drop hands the client back to the hub loop. Once the hub has stopped,
// nobody drains the unregister channel anymore, so the send must give way to
// ctx.Done or the pump goroutine would block forever.
func (h *EventHub) drop(c *hubClient) {
	select {
	case h.unregister <- c:
	case <-h.ctx.Done():
	}
}

func (c *hubClient) writePump() {
	defer func() {
		c.hub.drop(c)
		_ = c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for message := range c.send {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := c.conn.Write(ctx, websocket.MessageText, message)
		cancel()
		if err != nil {
			return
		}
	}
}

// readPump drains inbound frames to detect disconnects; clients never send
// meaningful messages.
func (c *hubClient) readPump() {
	defer func() {
		c.hub.drop(c)
		_ = c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		if _, _, err := c.conn.Read(context.Background()); err != nil {
			return
		}
	}
}
