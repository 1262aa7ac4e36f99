package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"folio/cmd/internal/auth/session"

	"github.com/prometheus/client_golang/prometheus"
)

// Hub tracks connected devices per subject and fans session events out to them.
//
// Publish never blocks: a device whose queue is full is disconnected instead.
type Hub struct {
	log *slog.Logger
	now func() time.Time

	mu       sync.RWMutex
	subjects map[string]map[string]*Client

	connected prometheus.Gauge
	delivered *prometheus.CounterVec
}

var _ session.EventSink = (*Hub)(nil)

// NewHub constructs a Hub. A nil reg skips metric registration.
func NewHub(log *slog.Logger, reg prometheus.Registerer) *Hub {
	if log == nil {
		log = slog.Default()
	}
	h := &Hub{
		log:      log,
		now:      time.Now,
		subjects: make(map[string]map[string]*Client),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "folio",
			Subsystem: "ws",
			Name:      "connections",
			Help:      "Open /ws/session connections.",
		}),
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "folio",
			Subsystem: "ws",
			Name:      "session_events_total",
			Help:      "Session events offered to connected devices by result.",
		}, []string{"type", "result"}),
	}
	if reg != nil {
		reg.MustRegister(h.connected, h.delivered)
	}
	return h
}

// Join registers client under its subject.
func (h *Hub) Join(c *Client) {
	if c == nil || c.SubjectID == "" || c.ConnID == "" {
		return
	}
	h.mu.Lock()
	conns, ok := h.subjects[c.SubjectID]
	if !ok {
		conns = make(map[string]*Client)
		h.subjects[c.SubjectID] = conns
	}
	conns[c.ConnID] = c
	h.mu.Unlock()

	h.connected.Inc()
	h.log.Info("ws.client.join", "subject_id", c.SubjectID, "conn_id", c.ConnID)
}

// Leave removes client and then signals it to stop, so no publisher holds it afterwards.
func (h *Hub) Leave(c *Client) {
	if c == nil {
		return
	}
	var removed bool

	h.mu.Lock()
	if conns, ok := h.subjects[c.SubjectID]; ok {
		if _, ok := conns[c.ConnID]; ok {
			delete(conns, c.ConnID)
			removed = true
		}
		if len(conns) == 0 {
			delete(h.subjects, c.SubjectID)
		}
	}
	h.mu.Unlock()

	c.Close()
	if removed {
		h.connected.Dec()
		h.log.Info("ws.client.leave", "subject_id", c.SubjectID, "conn_id", c.ConnID)
	}
}

// Connections returns the number of open connections for subjectID.
func (h *Hub) Connections(subjectID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subjects[subjectID])
}

// Publish implements session.EventSink.
func (h *Hub) Publish(_ context.Context, ev session.Event) {
	env := newEnvelope(string(ev.Type), SessionPayload{SubjectID: ev.SubjectID, Reason: ev.Reason}, h.now().UTC())

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.subjects[ev.SubjectID]))
	for _, c := range h.subjects[ev.SubjectID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if c.offer(env) {
			h.delivered.WithLabelValues(env.Type, "queued").Inc()
			continue
		}
		h.delivered.WithLabelValues(env.Type, "dropped").Inc()
		h.log.Warn("ws.publish.drop", "subject_id", ev.SubjectID, "conn_id", c.ConnID, "type", env.Type)
		h.Leave(c)
	}
}
