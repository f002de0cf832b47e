package live

import (
	"expvar"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

var (
	subscribersGauge = expvar.NewInt("live_subscribers")
	framesDropped    = expvar.NewInt("live_frames_dropped_total")
)

// Subscriber receives encoded frames of one service on Send. Send is closed
// when the subscriber is unregistered.
type Subscriber struct {
	ID        string
	ServiceID int64
	Send      chan []byte
	closeOnce sync.Once
}

// Hub is the per-service subscription registry.
type Hub struct {
	mu       sync.RWMutex
	services map[int64]map[string]*Subscriber
	buffer   int
	log      *slog.Logger
}

func NewHub(buffer int, logger *slog.Logger) *Hub {
	if buffer < 2 {
		buffer = 16
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		services: make(map[int64]map[string]*Subscriber),
		buffer:   buffer,
		log:      logger,
	}
}

// NewSubscriber returns an unregistered subscriber. Frames written to its
// Send channel before Register are delivered first.
func (h *Hub) NewSubscriber(serviceID int64) *Subscriber {
	return &Subscriber{
		ID:        uuid.NewString(),
		ServiceID: serviceID,
		Send:      make(chan []byte, h.buffer),
	}
}

func (h *Hub) Register(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.services[sub.ServiceID]
	if !ok {
		subs = make(map[string]*Subscriber)
		h.services[sub.ServiceID] = subs
	}
	subs[sub.ID] = sub
	subscribersGauge.Add(1)
}

// Unregister removes sub and closes its Send channel. Calling it twice is safe.
func (h *Hub) Unregister(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.services[sub.ServiceID]; ok {
		if _, ok := subs[sub.ID]; ok {
			delete(subs, sub.ID)
			subscribersGauge.Add(-1)
		}
		if len(subs) == 0 {
			delete(h.services, sub.ServiceID)
		}
	}
	sub.closeOnce.Do(func() { close(sub.Send) })
}

// CloseAll unregisters every subscriber, ending their streams.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	var subs []*Subscriber
	for serviceID, set := range h.services {
		for _, sub := range set {
			subs = append(subs, sub)
		}
		delete(h.services, serviceID)
	}
	subscribersGauge.Add(-int64(len(subs)))
	h.mu.Unlock()

	for _, sub := range subs {
		sub.closeOnce.Do(func() { close(sub.Send) })
	}
}

// Publish offers payload to every subscriber of serviceID and returns how
// many accepted it. A subscriber whose buffer is full misses the frame.
func (h *Hub) Publish(serviceID int64, payload []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for _, sub := range h.services[serviceID] {
		if h.offer(sub, payload) {
			delivered++
		}
	}
	return delivered
}

// SendTo delivers payload to one registered subscriber.
func (h *Hub) SendTo(sub *Subscriber, payload []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.services[sub.ServiceID][sub.ID]; !ok {
		return false
	}
	return h.offer(sub, payload)
}

func (h *Hub) offer(sub *Subscriber, payload []byte) bool {
	select {
	case sub.Send <- payload:
		return true
	default:
		framesDropped.Add(1)
		h.log.Warn("drop frame for slow subscriber", "subscriber", sub.ID, "service_id", sub.ServiceID)
		return false
	}
}

// Count returns the number of subscribers of serviceID.
func (h *Hub) Count(serviceID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.services[serviceID])
}
