package admin

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/maxpert/headcount/announcer"
	"github.com/maxpert/headcount/publisher"
	"github.com/maxpert/headcount/subscriber"
	"github.com/rs/zerolog/log"
)

// PublisherView exposes the publishing side of the pipeline
type PublisherView interface {
	Topic() string
	Last() (int64, bool)
}

// SamplerView exposes sampling progress
type SamplerView interface {
	Stats() publisher.SamplerStats
}

// SubscriberView exposes the consuming side of the pipeline
type SubscriberView interface {
	Snapshot() map[string]subscriber.TopicSnapshot
	Stats() subscriber.Stats
}

// AnnouncerView exposes the side-effect runner
type AnnouncerView interface {
	Stats() announcer.Stats
}

// Components are the parts of the pipeline running in this process.
// Nil fields are omitted from the status.
type Components struct {
	InstanceID string
	Role       string
	Broker     string
	Publisher  PublisherView
	Sampler    SamplerView
	Subscriber SubscriberView
	Announcer  AnnouncerView
	Changes    ChangeSource
}

// AdminHandlers serves pipeline status
type AdminHandlers struct {
	components Components
	startedAt  time.Time
}

// NewAdminHandlers creates a new AdminHandlers instance
func NewAdminHandlers(components Components) *AdminHandlers {
	return &AdminHandlers{
		components: components,
		startedAt:  time.Now(),
	}
}

type publisherStatus struct {
	Topic       string                  `json:"topic"`
	LastEmitted *int64                  `json:"last_emitted"`
	Sampler     *publisher.SamplerStats `json:"sampler,omitempty"`
}

type subscriberStatus struct {
	Topics map[string]subscriber.TopicSnapshot `json:"topics"`
	Stats  subscriber.Stats                    `json:"stats"`
}

type statusResponse struct {
	InstanceID    string            `json:"instance_id"`
	Role          string            `json:"role"`
	Broker        string            `json:"broker"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Publisher     *publisherStatus  `json:"publisher,omitempty"`
	Subscriber    *subscriberStatus `json:"subscriber,omitempty"`
	Announcer     *announcer.Stats  `json:"announcer,omitempty"`
}

// handleStatus returns a snapshot of every running component
func (h *AdminHandlers) handleStatus(w http.ResponseWriter, r *http.Request) {
	c := h.components
	response := statusResponse{
		InstanceID:    c.InstanceID,
		Role:          c.Role,
		Broker:        c.Broker,
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
	}

	if c.Publisher != nil {
		ps := &publisherStatus{Topic: c.Publisher.Topic()}
		if v, ok := c.Publisher.Last(); ok {
			ps.LastEmitted = &v
		}
		if c.Sampler != nil {
			stats := c.Sampler.Stats()
			ps.Sampler = &stats
		}
		response.Publisher = ps
	}

	if c.Subscriber != nil {
		response.Subscriber = &subscriberStatus{
			Topics: c.Subscriber.Snapshot(),
			Stats:  c.Subscriber.Stats(),
		}
	}

	if c.Announcer != nil {
		stats := c.Announcer.Stats()
		response.Announcer = &stats
	}

	writeJSONResponse(w, response)
}

// handleHealth reports liveness
func (h *AdminHandlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, map[string]interface{}{"healthy": true})
}

// writeJSONResponse writes a successful JSON response
func writeJSONResponse(w http.ResponseWriter, data interface{}) {
	response := map[string]interface{}{
		"data": data,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error JSON response
func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	response := map[string]interface{}{
		"error": message,
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("Failed to encode error response")
	}
}
