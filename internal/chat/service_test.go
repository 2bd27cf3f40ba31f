package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/moodie/internal/model"
	"github.com/hitoshi/moodie/internal/repository"
)

// --- モック定義 ---

// memStorage はメモリ上の端末ストレージ。
type memStorage struct {
	mu     sync.Mutex
	values map[string]string
}

func newMemStorage() *memStorage {
	return &memStorage{values: map[string]string{}}
}

func (m *memStorage) Get(_ context.Context, deviceID, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[deviceID+"/"+key]
	return v, ok && v != "", nil
}

func (m *memStorage) Update(_ context.Context, deviceID, key string, fn repository.UpdateFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.values[deviceID+"/"+key]
	next, err := fn(cur, cur != "")
	if err != nil {
		return err
	}
	m.values[deviceID+"/"+key] = next
	return nil
}

func (m *memStorage) set(deviceID, key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[deviceID+"/"+key] = value
}

type mockPrompter struct {
	promptFn func(ctx context.Context, text string) (string, error)
	prompts  []string
}

func (m *mockPrompter) Prompt(ctx context.Context, text string) (string, error) {
	m.prompts = append(m.prompts, text)
	return m.promptFn(ctx, text)
}

type countingNotifier struct {
	mu    sync.Mutex
	count map[string]int
}

func (n *countingNotifier) Notify(deviceID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.count == nil {
		n.count = map[string]int{}
	}
	n.count[deviceID]++
}

func newTestService(storage Storage, prompter Prompter, notifier Notifier) (*Service, *bytes.Buffer) {
	var buf bytes.Buffer
	s := NewService(storage, prompter, notifier, Config{}, slog.New(slog.NewJSONHandler(&buf, nil)))
	return s, &buf
}

func TestService_Load_DefaultGreeting(t *testing.T) {
	s, _ := newTestService(newMemStorage(), nil, nil)

	msgs, err := s.Load(context.Background(), "d1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != 1 || msgs[0].Sender != model.SenderBot || msgs[0].Text != GreetingText {
		t.Errorf("Load = %+v, want greeting", msgs)
	}
}

func TestService_Load_RestoresStoredTranscriptInOrder(t *testing.T) {
	storage := newMemStorage()
	ts := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	stored := make([]model.ChatMessage, 0, 7)
	for i := 1; i <= 7; i++ {
		sender := model.SenderUser
		if i%2 == 1 {
			sender = model.SenderBot
		}
		stored = append(stored, model.ChatMessage{ID: i, Sender: sender, Text: fmt.Sprintf("m%d", i), Timestamp: ts})
	}
	data, _ := json.Marshal(stored)
	storage.set("d1", StorageKey, string(data))

	s, _ := newTestService(storage, nil, nil)
	msgs, err := s.Load(context.Background(), "d1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(msgs) != len(stored) {
		t.Fatalf("len = %d, want %d", len(msgs), len(stored))
	}
	for i := range stored {
		if msgs[i].ID != stored[i].ID || msgs[i].Text != stored[i].Text || msgs[i].Sender != stored[i].Sender {
			t.Errorf("msgs[%d] = %+v, want %+v", i, msgs[i], stored[i])
		}
		if !msgs[i].Timestamp.Equal(ts) {
			t.Errorf("msgs[%d].Timestamp = %v, want %v", i, msgs[i].Timestamp, ts)
		}
	}
}

func TestService_Load_CorruptTranscriptIsDiscarded(t *testing.T) {
	storage := newMemStorage()
	storage.set("d1", StorageKey, "{not json")
	s, logs := newTestService(storage, nil, nil)

	msgs, err := s.Load(context.Background(), "d1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Text != GreetingText {
		t.Errorf("Load = %+v, want greeting", msgs)
	}
	if !strings.Contains(logs.String(), "discarding corrupt chat transcript") {
		t.Error("warning was not logged")
	}
}

func TestService_Send_EmptyTextIsRejected(t *testing.T) {
	storage := newMemStorage()
	s, _ := newTestService(storage, nil, nil)

	_, err := s.Send(context.Background(), "d1", "   ")
	if !model.IsKind(err, model.ErrCodeValidation) {
		t.Fatalf("err = %v, want VALIDATION_ERROR", err)
	}
	if _, found, _ := storage.Get(context.Background(), "d1", StorageKey); found {
		t.Error("nothing should be stored for an empty message")
	}
}

func TestService_SendAndComplete(t *testing.T) {
	storage := newMemStorage()
	prompter := &mockPrompter{promptFn: func(context.Context, string) (string, error) {
		return "Try a short walk.", nil
	}}
	notifier := &countingNotifier{}
	s, _ := newTestService(storage, prompter, notifier)
	ctx := context.Background()

	initial, _ := s.Load(ctx, "d1")

	ex, err := s.Send(ctx, "d1", "  I feel tired  ")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	pending, _ := s.Load(ctx, "d1")
	if len(pending) != len(initial)+2 {
		t.Fatalf("len after Send = %d, want %d", len(pending), len(initial)+2)
	}
	user, typing := pending[len(pending)-2], pending[len(pending)-1]
	if user.Sender != model.SenderUser || user.Text != "I feel tired" {
		t.Errorf("user message = %+v", user)
	}
	if !typing.IsTyping || typing.Text != TypingText || typing.ID != ex.PlaceholderID {
		t.Errorf("typing message = %+v", typing)
	}

	if err := s.Complete(ctx, "d1", ex); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	final, _ := s.Load(ctx, "d1")
	if len(final) != len(initial)+2 {
		t.Fatalf("final len = %d, want %d", len(final), len(initial)+2)
	}
	last := final[len(final)-1]
	if last.IsTyping || last.Sender != model.SenderBot || last.Text != "Try a short walk." {
		t.Errorf("bot message = %+v", last)
	}
	for _, m := range final {
		if m.IsTyping {
			t.Errorf("typing placeholder remains: %+v", m)
		}
	}

	wantPrompt := "Bot: " + GreetingText + "\nUser: I feel tired"
	if len(prompter.prompts) != 1 || prompter.prompts[0] != wantPrompt {
		t.Errorf("prompt = %q, want %q", prompter.prompts, wantPrompt)
	}
	if notifier.count["d1"] != 2 {
		t.Errorf("notifications = %d, want 2", notifier.count["d1"])
	}
}

func TestService_Complete_FailureUsesApology(t *testing.T) {
	storage := newMemStorage()
	prompter := &mockPrompter{promptFn: func(context.Context, string) (string, error) {
		return "", errors.New("backend down")
	}}
	s, _ := newTestService(storage, prompter, nil)
	ctx := context.Background()

	ex, err := s.Send(ctx, "d1", "hello")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := s.Complete(ctx, "d1", ex); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	final, _ := s.Load(ctx, "d1")
	if len(final) != 3 {
		t.Fatalf("len = %d, want 3", len(final))
	}
	if final[2].Text != ApologyText || final[2].IsTyping {
		t.Errorf("last = %+v, want apology", final[2])
	}
}

func TestService_OverlappingSendsKeepTheirOwnPlaceholders(t *testing.T) {
	storage := newMemStorage()
	prompter := &mockPrompter{promptFn: func(_ context.Context, text string) (string, error) {
		return "re:" + text[strings.LastIndex(text, "User: ")+6:], nil
	}}
	s, _ := newTestService(storage, prompter, nil)
	ctx := context.Background()

	first, _ := s.Send(ctx, "d1", "one")
	second, _ := s.Send(ctx, "d1", "two")
	if err := s.Complete(ctx, "d1", second); err != nil {
		t.Fatalf("Complete second: %v", err)
	}

	mid, _ := s.Load(ctx, "d1")
	typing := 0
	for _, m := range mid {
		if m.IsTyping {
			typing++
			if m.ID != first.PlaceholderID {
				t.Errorf("remaining placeholder id = %d, want %d", m.ID, first.PlaceholderID)
			}
		}
	}
	if typing != 1 {
		t.Errorf("typing placeholders = %d, want 1", typing)
	}

	if err := s.Complete(ctx, "d1", first); err != nil {
		t.Fatalf("Complete first: %v", err)
	}
	final, _ := s.Load(ctx, "d1")
	if len(final) != 5 {
		t.Errorf("len = %d, want 5", len(final))
	}
}

func TestBuildPrompt_UsesLastMessagesExcludingTyping(t *testing.T) {
	var history []model.ChatMessage
	for i := 1; i <= 20; i++ {
		history = append(history, model.ChatMessage{ID: i, Sender: model.SenderUser, Text: fmt.Sprintf("u%d", i)})
	}
	history = append(history, model.ChatMessage{ID: 21, Sender: model.SenderBot, Text: TypingText, IsTyping: true})

	prompt := BuildPrompt(history, "now", 15)
	lines := strings.Split(prompt, "\n")
	if len(lines) != 16 {
		t.Fatalf("lines = %d, want 16", len(lines))
	}
	if lines[0] != "User: u6" {
		t.Errorf("first line = %q, want User: u6", lines[0])
	}
	if lines[15] != "User: now" {
		t.Errorf("last line = %q", lines[15])
	}
	if strings.Contains(prompt, TypingText) {
		t.Error("typing placeholder leaked into prompt")
	}
}

func TestBuildPrompt_EmptyHistory(t *testing.T) {
	if got := BuildPrompt(nil, "hi", 15); got != "\nUser: hi" {
		t.Errorf("BuildPrompt = %q", got)
	}
}
