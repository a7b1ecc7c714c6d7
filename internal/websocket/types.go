package websocket

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/raaihank/txn-sentinel/internal/anonymizer"
	"github.com/raaihank/txn-sentinel/internal/stats"
)

// EventType represents the type of WebSocket event
type EventType string

const (
	// EventTypeDetection is sent after a text or record was anonymized
	EventTypeDetection EventType = "detection"
	// EventTypeBatchProgress is sent while a transaction batch runs
	EventTypeBatchProgress EventType = "batch_progress"
	// EventTypeBatchCompleted is sent when a transaction batch finishes
	EventTypeBatchCompleted EventType = "batch_completed"
	// EventTypeSystemStatus carries the periodic processing summary
	EventTypeSystemStatus EventType = "system_status"
	// EventTypeConnection represents connection events
	EventTypeConnection EventType = "connection"
	// EventTypePong answers a client ping
	EventTypePong EventType = "pong"
)

// Event represents a WebSocket event sent to clients
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
	RequestID string    `json:"request_id,omitempty"`
}

// DetectionEvent summarizes one anonymized text. It never carries the
// source text or the matched values.
type DetectionEvent struct {
	RequestID      string                        `json:"request_id"`
	EntitiesByType map[anonymizer.EntityType]int `json:"entities_by_type"`
	TotalEntities  int                           `json:"total_entities"`
	Confidence     float64                       `json:"confidence"`
	Stages         []anonymizer.Stage            `json:"stages"`
	RequiresReview bool                          `json:"requires_review"`
	ProcessingMS   float64                       `json:"processing_ms"`
}

// BatchEvent reports transaction batch progress or completion
type BatchEvent struct {
	RunID          string                        `json:"run_id"`
	Total          int64                         `json:"total"`
	Done           int64                         `json:"done"`
	Failed         int64                         `json:"failed"`
	RatePerSecond  float64                       `json:"rate_per_second,omitempty"`
	ReviewCount    int64                         `json:"review_count,omitempty"`
	EntitiesByType map[anonymizer.EntityType]int `json:"entities_by_type,omitempty"`
	Cancelled      bool                          `json:"cancelled,omitempty"`
}

// SystemStatusEvent represents system status information
type SystemStatusEvent struct {
	Status           string        `json:"status"`
	Uptime           string        `json:"uptime"`
	Summary          stats.Summary `json:"summary"`
	ConnectedClients int           `json:"connected_clients"`
}

// ConnectionEvent represents WebSocket connection events
type ConnectionEvent struct {
	Action   string `json:"action"` // "connected", "disconnected"
	ClientID string `json:"client_id"`
	Message  string `json:"message,omitempty"`
}

// ClientMessage represents messages sent from clients to server
type ClientMessage struct {
	Type   string      `json:"type"`
	Events []EventType `json:"events,omitempty"`
}

// Client represents a WebSocket client connection
type Client struct {
	ID          string
	Conn        *websocket.Conn
	Send        chan Event
	Events      map[EventType]bool // nil means every event
	ConnectedAt time.Time
	IP          string
}

func (c *Client) wants(t EventType) bool {
	return c.Events == nil || c.Events[t]
}
