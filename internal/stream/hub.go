// Package stream pushes resistance alerts to connected websocket clients.
package stream

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/resistance-prophet-server/internal/domain"
)

// EventResistanceAlert is the only event type the hub emits.
const EventResistanceAlert = "resistance_alert"

const (
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// Event is the JSON frame sent for an assessment at or above MEDIUM.
type Event struct {
	Type         string           `json:"type"`
	AssessmentID string           `json:"assessment_id"`
	PatientID    string           `json:"patient_id,omitempty"`
	Level        domain.RiskLevel `json:"level"`
	Probability  float64          `json:"probability"`
	Confidence   float64          `json:"confidence"`
	Urgency      domain.Urgency   `json:"urgency"`
	Actions      []string         `json:"actions"`
	AssessedAt   time.Time        `json:"assessed_at"`
}

// NewEvent builds the alert frame for a.
func NewEvent(a *domain.RiskAssessment) Event {
	return Event{
		Type:         EventResistanceAlert,
		AssessmentID: a.ID,
		PatientID:    a.PatientID,
		Level:        a.Level,
		Probability:  a.Probability,
		Confidence:   a.Confidence,
		Urgency:      a.Urgency,
		Actions:      a.Actions,
		AssessedAt:   a.AssessedAt,
	}
}

type client struct {
	id        string
	patientID string
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	once      sync.Once
}

func (c *client) stop() {
	c.once.Do(func() { close(c.done) })
}

// Hub fans alerts out to websocket subscribers. A client may narrow its
// subscription with ?patient_id=. Clients whose buffer is full are dropped.
type Hub struct {
	bufferSize   int
	writeTimeout time.Duration
	logger       *logrus.Logger
	upgrader     websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
	wg      sync.WaitGroup
}

// NewHub creates a hub. An empty origins list or "*" accepts any origin.
func NewHub(cfg domain.StreamConfig, origins []string, logger *logrus.Logger) *Hub {
	h := &Hub{
		bufferSize:   cfg.BufferSize,
		writeTimeout: cfg.WriteTimeout,
		logger:       logger,
		clients:      make(map[*client]struct{}),
	}
	if h.bufferSize <= 0 {
		h.bufferSize = 16
	}
	if h.writeTimeout <= 0 {
		h.writeTimeout = 10 * time.Second
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(origins),
	}
	return h
}

func originChecker(origins []string) func(*http.Request) bool {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		allowed[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || len(allowed) == 0 || allowed[origin]
	}
}

// Publish implements domain.AlertPublisher.
func (h *Hub) Publish(a *domain.RiskAssessment) {
	if a == nil || !a.Level.AtLeast(domain.RiskMedium) {
		return
	}
	msg, err := json.Marshal(NewEvent(a))
	if err != nil {
		h.logger.WithError(err).Error("Failed to encode resistance alert")
		return
	}

	var slow []*client
	h.mu.RLock()
	for c := range h.clients {
		if c.patientID != "" && c.patientID != a.PatientID {
			continue
		}
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.WithField("client_id", c.id).Warn("Dropping slow stream client; outbound buffer full")
		h.remove(c)
	}
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and subscribes the connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		http.Error(w, "stream closed", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Debug("Websocket upgrade failed")
		return
	}

	c := &client{
		id:        uuid.New().String(),
		patientID: r.URL.Query().Get("patient_id"),
		conn:      conn,
		send:      make(chan []byte, h.bufferSize),
		done:      make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.wg.Add(2)
	h.mu.Unlock()

	h.logger.WithFields(logrus.Fields{
		"client_id":  c.id,
		"patient_id": c.patientID,
	}).Info("Stream client connected")

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	c.stop()
	if ok {
		h.logger.WithField("client_id", c.id).Info("Stream client disconnected")
	}
}

// readPump only services control frames; any read error ends the client.
func (h *Hub) readPump(c *client) {
	defer h.wg.Done()
	defer h.remove(c)

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		h.wg.Done()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.remove(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server closing"),
				time.Now().Add(time.Second))
			return
		}
	}
}

// Close disconnects every client and waits for their goroutines to exit.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()

	for _, c := range clients {
		c.stop()
	}
	h.wg.Wait()
	h.logger.WithField("clients", len(clients)).Info("Stream hub closed")
}
