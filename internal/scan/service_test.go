package scan

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/moodie/internal/model"
)

// --- モック定義 ---

type mockBackend struct {
	mu         sync.Mutex
	scanFn     func(ctx context.Context, image string) (string, error)
	promptFn   func(ctx context.Context, text string) (string, error)
	calls      []string
	lastPrompt string
}

func (m *mockBackend) ScanImage(ctx context.Context, image string) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, "scanImage")
	m.mu.Unlock()
	return m.scanFn(ctx, image)
}

func (m *mockBackend) Prompt(ctx context.Context, text string) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, "prompt")
	m.lastPrompt = text
	m.mu.Unlock()
	return m.promptFn(ctx, text)
}

type memStorage struct {
	values map[string]string
}

func (m *memStorage) Get(_ context.Context, deviceID, key string) (string, bool, error) {
	v, ok := m.values[deviceID+"/"+key]
	return v, ok, nil
}

func (m *memStorage) Put(_ context.Context, deviceID, key, value string) error {
	m.values[deviceID+"/"+key] = value
	return nil
}

func (m *memStorage) Delete(_ context.Context, deviceID, key string) error {
	delete(m.values, deviceID+"/"+key)
	return nil
}

func newTestService(b Backend, cfg Config) (*Service, *memStorage, *[]time.Duration) {
	storage := &memStorage{values: map[string]string{}}
	var buf bytes.Buffer
	s := NewService(b, storage, cfg, slog.New(slog.NewJSONHandler(&buf, nil)))
	var slept []time.Duration
	s.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}
	return s, storage, &slept
}

func okBackend() *mockBackend {
	n := 0
	return &mockBackend{
		scanFn: func(context.Context, string) (string, error) {
			n++
			return []string{"discarded", "rice and chicken"}[min(n-1, 1)], nil
		},
		promptFn: func(context.Context, string) (string, error) {
			return "Balanced meal. Take a walk.", nil
		},
	}
}

func TestService_Scan_TwoPhaseWithDelay(t *testing.T) {
	b := okBackend()
	s, _, slept := newTestService(b, Config{Warmup: true, Delay: time.Second})

	res, err := s.Scan(context.Background(), "data:image/jpeg;base64,AAAA")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if res.ScanText != "rice and chicken" {
		t.Errorf("ScanText = %q, want second call result", res.ScanText)
	}
	if res.Analysis != "Balanced meal. Take a walk." {
		t.Errorf("Analysis = %q", res.Analysis)
	}
	if got := strings.Join(b.calls, ","); got != "scanImage,scanImage,prompt" {
		t.Errorf("calls = %s", got)
	}
	if len(*slept) != 1 || (*slept)[0] != time.Second {
		t.Errorf("slept = %v, want [1s]", *slept)
	}
	if !strings.Contains(b.lastPrompt, "rice and chicken") || strings.Contains(b.lastPrompt, "discarded") {
		t.Errorf("prompt = %q", b.lastPrompt)
	}
}

func TestService_Scan_WithoutWarmup(t *testing.T) {
	b := okBackend()
	s, _, slept := newTestService(b, Config{Warmup: false, Delay: time.Second})

	if _, err := s.Scan(context.Background(), "data:image/png;base64,AA=="); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if got := strings.Join(b.calls, ","); got != "scanImage,prompt" {
		t.Errorf("calls = %s", got)
	}
	if len(*slept) != 0 {
		t.Errorf("slept = %v, want none", *slept)
	}
}

func TestService_Scan_MissingImage(t *testing.T) {
	b := okBackend()
	s, _, _ := newTestService(b, Config{Warmup: true})

	_, err := s.Scan(context.Background(), "")
	if !model.IsKind(err, model.ErrCodeValidation) {
		t.Fatalf("err = %v, want VALIDATION_ERROR", err)
	}
	if len(b.calls) != 0 {
		t.Errorf("backend calls = %v, want none", b.calls)
	}
}

func TestService_Scan_FailureReturnsNoPartialResult(t *testing.T) {
	b := okBackend()
	b.promptFn = func(context.Context, string) (string, error) {
		return "", errors.New("inference failed")
	}
	s, _, _ := newTestService(b, Config{Warmup: true})

	res, err := s.Scan(context.Background(), "data:image/png;base64,AA==")
	if res != nil {
		t.Errorf("result = %+v, want nil", res)
	}
	if !model.IsKind(err, model.ErrCodeBackendCall) {
		t.Errorf("err = %v, want BACKEND_CALL_ERROR", err)
	}
}

func TestService_Scan_CancelledDuringDelay(t *testing.T) {
	b := okBackend()
	s, _, _ := newTestService(b, Config{Warmup: true, Delay: time.Hour})
	s.sleep = sleepContext

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := s.Scan(ctx, "data:image/png;base64,AA==")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
	if len(b.calls) != 1 {
		t.Errorf("calls = %v, want only the warm-up", b.calls)
	}
}

func TestService_StoreImage(t *testing.T) {
	s, storage, _ := newTestService(okBackend(), Config{})
	ctx := context.Background()

	uri, err := s.StoreImage(ctx, "d1", "image/jpeg", jpegOfSize(1<<20))
	if err != nil {
		t.Fatalf("StoreImage: %v", err)
	}
	if uri == "" {
		t.Fatal("data URI should not be empty")
	}
	if got, _ := s.PendingImage(ctx, "d1"); got != uri {
		t.Error("stored image does not match")
	}

	// 検証エラーでは保存済みの画像を変更しない
	if _, err := s.StoreImage(ctx, "d1", "image/jpeg", jpegOfSize(3<<20)); !model.IsKind(err, model.ErrCodeValidation) {
		t.Fatalf("err = %v, want VALIDATION_ERROR", err)
	}
	if storage.values["d1/"+StorageKey] != uri {
		t.Error("rejected upload replaced the stored image")
	}

	if err := s.ClearImage(ctx, "d1"); err != nil {
		t.Fatalf("ClearImage: %v", err)
	}
	if got, _ := s.PendingImage(ctx, "d1"); got != "" {
		t.Errorf("PendingImage = %q after clear", got)
	}
}
