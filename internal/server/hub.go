package server

import (
	"sort"
	"sync"

	"github.com/codefionn/buildwire/internal/channel"
	"github.com/codefionn/buildwire/internal/logger"
)

// Hub maintains the set of live channels of a server.
type Hub struct {
	mu       sync.RWMutex
	channels map[string]*channel.Channel
}

// NewHub creates a new hub
func NewHub() *Hub {
	return &Hub{
		channels: make(map[string]*channel.Channel),
	}
}

// Register adds a channel.
func (h *Hub) Register(ch *channel.Channel) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.channels[ch.Name()] = ch
	logger.Info("Channel registered: %s (total: %d)", ch.Name(), len(h.channels))
}

// Unregister removes a channel. Only the registered instance is removed.
func (h *Hub) Unregister(ch *channel.Channel) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if existing, ok := h.channels[ch.Name()]; ok && existing == ch {
		delete(h.channels, ch.Name())
		logger.Info("Channel unregistered: %s (total: %d)", ch.Name(), len(h.channels))
	}
}

// Get returns the channel called name.
func (h *Hub) Get(name string) (*channel.Channel, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ch, ok := h.channels[name]
	return ch, ok
}

// Count returns the number of live channels.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.channels)
}

// Names returns the sorted names of the live channels.
func (h *Hub) Names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.channels))
	for name := range h.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Broadcast sends a notification to every live channel and returns how many
// channels accepted it.
func (h *Hub) Broadcast(method string, params interface{}) int {
	sent := 0
	for _, ch := range h.snapshot() {
		if err := ch.Notify(method, params); err != nil {
			logger.Debug("Broadcast to %s dropped: %v", ch.Name(), err)
			continue
		}
		sent++
	}
	return sent
}

// Shutdown closes all channels
func (h *Hub) Shutdown() {
	channels := h.snapshot()
	logger.Info("Shutting down hub, closing %d channels", len(channels))

	for _, ch := range channels {
		ch.Shutdown()
	}
}

func (h *Hub) snapshot() []*channel.Channel {
	h.mu.RLock()
	defer h.mu.RUnlock()

	channels := make([]*channel.Channel, 0, len(h.channels))
	for _, ch := range h.channels {
		channels = append(channels, ch)
	}
	return channels
}
