package chat

import (
	"testing"
	"time"
)

func TestHub_NotifySubscribers(t *testing.T) {
	h := NewHub()
	ch, unsubscribe := h.Subscribe("d1")
	other, unsubscribeOther := h.Subscribe("d2")
	defer unsubscribeOther()

	h.Notify("d1")
	h.Notify("d1") // 合流される

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("notification not delivered")
	}
	select {
	case <-other:
		t.Error("other device should not be notified")
	default:
	}

	unsubscribe()
	unsubscribe()
	if h.Subscribers("d1") != 0 {
		t.Errorf("subscribers = %d, want 0", h.Subscribers("d1"))
	}
	h.Notify("d1")
}
