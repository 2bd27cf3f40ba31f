package chat

import "sync"

// Hub は端末ごとの購読者へ会話履歴の変更を通知する。
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[chan struct{}]struct{}
}

// NewHub はHubを生成する。
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan struct{}]struct{})}
}

// Subscribe は端末の通知チャネルと購読解除関数を返す。
// 通知は合流されるため、受信が遅れても最新の変更を取りこぼさない。
func (h *Hub) Subscribe(deviceID string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	h.mu.Lock()
	if h.subs[deviceID] == nil {
		h.subs[deviceID] = make(map[chan struct{}]struct{})
	}
	h.subs[deviceID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[deviceID], ch)
			if len(h.subs[deviceID]) == 0 {
				delete(h.subs, deviceID)
			}
		})
	}
}

// Notify は端末の全購読者へ通知する。ブロックしない。
func (h *Hub) Notify(deviceID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[deviceID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Subscribers は端末の購読者数を返す。テスト用。
func (h *Hub) Subscribers(deviceID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[deviceID])
}
