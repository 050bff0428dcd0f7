package websocket

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/pluree/api/internal/model"
)

// Client represents a WebSocket client. Send is never closed; done is
// closed once the hub drops the client.
type Client struct {
	JobID string
	Conn  *websocket.Conn
	Send  chan []byte
	done  chan struct{}
}

// NewClient creates a client subscribed to jobID
func NewClient(jobID string, conn *websocket.Conn, buffer int) *Client {
	return &Client{
		JobID: jobID,
		Conn:  conn,
		Send:  make(chan []byte, buffer),
		done:  make(chan struct{}),
	}
}

// Done is closed when the hub stops delivering to the client
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Hub maintains active WebSocket connections. It replaces the admin
// panel's global busy events with a per-job subscription.
type Hub struct {
	// Clients grouped by job ID
	clients map[string]map[*Client]bool

	// Register requests
	register chan *Client

	// Unregister requests
	unregister chan *Client

	// Broadcast messages to job subscribers
	broadcast chan *BroadcastMessage

	mu sync.RWMutex
}

// BroadcastMessage represents a message to broadcast
type BroadcastMessage struct {
	JobID   string
	Message []byte
}

// NewHub creates a new Hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, 256),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.JobID] == nil {
				h.clients[client.JobID] = make(map[*Client]bool)
			}
			h.clients[client.JobID][client] = true
			h.mu.Unlock()
			log.Printf("Client registered for job %s", client.JobID)

		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			h.mu.Unlock()
			log.Printf("Client unregistered from job %s", client.JobID)

		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients[msg.JobID] {
				select {
				case client.Send <- msg.Message:
				default:
					// slow consumer
					h.remove(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// remove drops client and closes done. Callers hold mu.
func (h *Hub) remove(client *Client) {
	clients, ok := h.clients[client.JobID]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}
	delete(clients, client)
	close(client.done)
	if len(clients) == 0 {
		delete(h.clients, client.JobID)
	}
}

// Register adds a new client
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Subscribers returns the number of clients listening on jobID
func (h *Hub) Subscribers(jobID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[jobID])
}

// BroadcastTrainingStart tells job subscribers a run began and input is busy
func (h *Hub) BroadcastTrainingStart(jobID string) {
	h.send(jobID, model.WSTrainingStartMessage{
		Type:  model.WSMessageTypeTrainingStart,
		JobID: jobID,
		Busy:  true,
	})
}

// BroadcastStatus sends one status line to all job subscribers
func (h *Hub) BroadcastStatus(msg model.WSStatusMessage) {
	msg.Type = model.WSMessageTypeStatus
	h.send(msg.JobID, msg)
}

// BroadcastTrainingEnd sends the final message; input is re-enabled
func (h *Hub) BroadcastTrainingEnd(jobID string, status model.JobStatus, message string) {
	h.send(jobID, model.WSTrainingEndMessage{
		Type:    model.WSMessageTypeTrainingEnd,
		JobID:   jobID,
		Status:  status,
		Message: message,
		Busy:    false,
	})
}

// BroadcastError sends an error message to all job subscribers
func (h *Hub) BroadcastError(jobID string, code, message string) {
	h.send(jobID, model.WSErrorMessage{
		Type:  model.WSMessageTypeError,
		JobID: jobID,
		Error: model.WSError{
			Code:    code,
			Message: message,
		},
	})
}

func (h *Hub) send(jobID string, msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Failed to marshal websocket message: %v", err)
		return
	}

	h.broadcast <- &BroadcastMessage{
		JobID:   jobID,
		Message: data,
	}
}

// HandleConnection handles a WebSocket connection. initial, when set, is
// written first so late subscribers see the current job state.
func (h *Hub) HandleConnection(c *websocket.Conn, jobID string, initial []byte) {
	client := NewClient(jobID, c, 256)
	if initial != nil {
		client.Send <- initial
	}

	h.Register(client)
	defer h.Unregister(client)

	// Start writer goroutine
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-client.done:
				c.WriteMessage(websocket.CloseMessage, []byte{})
				return

			case message := <-client.Send:
				if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
					return
				}

			case <-ticker.C:
				// Send ping for keep-alive
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Reader loop
	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		// Handle client messages (ping/pong)
		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		if msg.Type == model.WSMessageTypePing {
			pong := model.WSMessage{Type: model.WSMessageTypePong}
			data, _ := json.Marshal(pong)
			select {
			case <-client.done:
				return
			case client.Send <- data:
			default:
			}
		}
	}
}
