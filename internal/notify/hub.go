// Package notify pushes job state changes to websocket clients.
package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/timmy/papershelf/internal/domain"
	"github.com/timmy/papershelf/internal/logger"
)

const (
	writeWait      = 5 * time.Second
	broadcastQueue = 256
)

// JobUpdate is the message sent for every job transition.
type JobUpdate struct {
	Type        string       `json:"type"`
	JobID       string       `json:"job_id"`
	PaperID     string       `json:"paper_id"`
	Status      domain.Phase `json:"status"`
	StartedAt   time.Time    `json:"started_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	Error       string       `json:"error,omitempty"`
	Timestamp   time.Time    `json:"timestamp"`
}

// Snapshot is sent once to a client right after it connects.
type Snapshot struct {
	Type string             `json:"type"`
	Jobs []domain.JobStatus `json:"jobs"`
}

// Hub fans job updates out to connected websocket clients.
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.Mutex
	upgrader   websocket.Upgrader
	snapshot   func() []domain.JobStatus
	now        func() time.Time
	done       chan struct{}
}

// NewHub creates a hub. snapshot, if set, supplies the jobs sent to new clients.
func NewHub(snapshot func() []domain.JobStatus) *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, broadcastQueue),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		snapshot: snapshot,
		now:      time.Now,
		done:     make(chan struct{}),
	}
}

// Run processes registrations and broadcasts until ctx is done, then
// closes every client.
func (h *Hub) Run(ctx context.Context) {
	log := logger.GetDefault().WithField(logger.FieldComponent, "notify")
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return
		case client := <-h.register:
			// Updates queued after the snapshot is taken are broadcast only
			// once this case returns, so the client sees every later transition.
			h.mu.Lock()
			if err := h.sendSnapshot(client); err != nil {
				h.mu.Unlock()
				log.WithError(err).Debug("Failed to send snapshot")
				client.Close()
				continue
			}
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			log.WithField("clients", n).Debug("Websocket client connected")
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			n := len(h.clients)
			h.mu.Unlock()
			log.WithField("clients", n).Debug("Websocket client disconnected")
		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				client.SetWriteDeadline(time.Now().Add(writeWait))
				if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
					log.WithError(err).Debug("Dropping websocket client")
					client.Close()
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) sendSnapshot(conn *websocket.Conn) error {
	jobs := []domain.JobStatus{}
	if h.snapshot != nil {
		jobs = h.snapshot()
	}
	data, err := json.Marshal(Snapshot{Type: "snapshot", Jobs: jobs})
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Publish queues a job update. It never blocks; updates are dropped when the
// queue is full. Suitable as a tracker observer.
func (h *Hub) Publish(s domain.JobStatus) {
	data, err := json.Marshal(JobUpdate{
		Type:        "job_update",
		JobID:       s.JobID,
		PaperID:     s.PaperID,
		Status:      s.Phase,
		StartedAt:   s.StartedAt,
		CompletedAt: s.CompletedAt,
		Error:       s.Error,
		Timestamp:   h.now(),
	})
	if err != nil {
		logger.GetDefault().WithError(err).Warn("Failed to marshal job update")
		return
	}
	select {
	case h.broadcast <- data:
	default:
		logger.GetDefault().WithField(logger.FieldPaperID, s.PaperID).Warn("Job update dropped, broadcast queue full")
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeWS upgrades the request and hands the connection to Run, which
// sends the current job snapshot before any later update. The connection
// stays registered until the client goes away.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.FromContext(r.Context()).WithError(err).Warn("Failed to upgrade to websocket")
		return
	}

	select {
	case h.register <- conn:
	case <-h.done:
		conn.Close()
		return
	}

	// Clients only listen; reading detects when they leave.
	go func() {
		defer func() {
			select {
			case h.unregister <- conn:
			case <-h.done:
			}
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
