package concurrency

import (
	"sync"

	"quill/internal/object"
)

// ChannelManager is the name → channel registry shared across a runtime
// instance. Creation is idempotent: asking for an existing name returns the
// channel already registered under it.
type ChannelManager struct {
	mu       sync.Mutex
	channels map[string]*Channel[object.Object]
}

func NewChannelManager() *ChannelManager {
	return &ChannelManager{channels: make(map[string]*Channel[object.Object])}
}

// Create returns the channel registered under name, creating it if needed.
func (m *ChannelManager) Create(name string) *Channel[object.Object] {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.channels[name]; ok {
		return ch
	}
	ch := NewChannel[object.Object]()
	m.channels[name] = ch
	return ch
}

// Get returns the named channel or nil if it was never created.
func (m *ChannelManager) Get(name string) *Channel[object.Object] {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.channels[name]
}

// CloseChannel closes the named channel if it exists.
func (m *ChannelManager) CloseChannel(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.channels[name]; ok {
		ch.Close()
	}
}

// CloseAll closes every managed channel. Channels stay registered so late
// receivers still observe the close.
func (m *ChannelManager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.channels {
		ch.Close()
	}
}

// Remove drops the named channel from management without closing it.
func (m *ChannelManager) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.channels, name)
}

// Names lists the currently managed channel names.
func (m *ChannelManager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	return names
}
