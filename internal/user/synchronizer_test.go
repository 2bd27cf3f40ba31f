package user

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/hitoshi/moodie/internal/localstate"
	"github.com/hitoshi/moodie/internal/model"
)

// --- モック定義 ---

type mockBackend struct {
	getFn          func(ctx context.Context, principal string) (*model.User, error)
	authenticateFn func(ctx context.Context, principal string) error
	updateFn       func(ctx context.Context, update model.ProfileUpdate) error

	getCalls          int
	authenticateCalls int
}

func (m *mockBackend) GetUserByPrincipal(ctx context.Context, principal string) (*model.User, error) {
	m.getCalls++
	if m.getFn != nil {
		return m.getFn(ctx, principal)
	}
	return nil, nil
}

func (m *mockBackend) AuthenticateUser(ctx context.Context, principal string) error {
	m.authenticateCalls++
	if m.authenticateFn != nil {
		return m.authenticateFn(ctx, principal)
	}
	return nil
}

func (m *mockBackend) UpdateUserProfile(ctx context.Context, update model.ProfileUpdate) error {
	if m.updateFn != nil {
		return m.updateFn(ctx, update)
	}
	return nil
}

func newTestSynchronizer(t *testing.T, b Backend) *Synchronizer {
	t.Helper()
	cache := localstate.New[model.User](time.Hour)
	t.Cleanup(cache.Stop)
	var buf bytes.Buffer
	return NewSynchronizer(b, cache, slog.New(slog.NewJSONHandler(&buf, nil)))
}

func TestSynchronizer_Load_ExistingUserIsCached(t *testing.T) {
	b := &mockBackend{
		getFn: func(context.Context, string) (*model.User, error) {
			return &model.User{ID: "u1", Name: model.StringPtr("Alice")}, nil
		},
	}
	s := newTestSynchronizer(t, b)

	for i := 0; i < 2; i++ {
		u, err := s.Load(context.Background(), "p1")
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if u.ID != "u1" {
			t.Errorf("ID = %q, want u1", u.ID)
		}
	}
	if b.getCalls != 1 {
		t.Errorf("GetUserByPrincipal calls = %d, want 1", b.getCalls)
	}
	if b.authenticateCalls != 0 {
		t.Errorf("AuthenticateUser calls = %d, want 0", b.authenticateCalls)
	}
}

func TestSynchronizer_Load_RegistersMissingUser(t *testing.T) {
	registered := false
	b := &mockBackend{
		getFn: func(context.Context, string) (*model.User, error) {
			if !registered {
				return nil, nil
			}
			return &model.User{ID: "new"}, nil
		},
		authenticateFn: func(_ context.Context, principal string) error {
			if principal != "p1" {
				t.Errorf("principal = %q, want p1", principal)
			}
			registered = true
			return nil
		},
	}
	s := newTestSynchronizer(t, b)

	u, err := s.Load(context.Background(), "p1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if u.ID != "new" {
		t.Errorf("ID = %q, want new", u.ID)
	}
	if b.getCalls != 2 || b.authenticateCalls != 1 {
		t.Errorf("calls get=%d authenticate=%d, want 2/1", b.getCalls, b.authenticateCalls)
	}
}

func TestSynchronizer_Load_StillMissingAfterRegister(t *testing.T) {
	s := newTestSynchronizer(t, &mockBackend{})
	_, err := s.Load(context.Background(), "p1")
	if !model.IsKind(err, model.ErrCodeUserNotFound) {
		t.Errorf("err = %v, want USER_NOT_FOUND", err)
	}
}

func TestSynchronizer_Update_MergesOnlyProvidedFields(t *testing.T) {
	var sent model.ProfileUpdate
	b := &mockBackend{
		getFn: func(context.Context, string) (*model.User, error) {
			return &model.User{
				ID:             "u1",
				Username:       model.StringPtr("old"),
				Name:           model.StringPtr("Alice"),
				ProfilePicture: model.StringPtr("data:image/png;base64,AA=="),
			}, nil
		},
		updateFn: func(_ context.Context, u model.ProfileUpdate) error {
			sent = u
			return nil
		},
	}
	s := newTestSynchronizer(t, b)
	ctx := context.Background()

	if _, err := s.Load(ctx, "p1"); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := s.Update(ctx, "p1", model.ProfileUpdate{Username: model.StringPtr("alice"), Name: model.StringPtr("")}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if sent.Username == nil || *sent.Username != "alice" {
		t.Errorf("sent username = %v", sent.Username)
	}

	u, err := s.Load(ctx, "p1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if *u.Username != "alice" {
		t.Errorf("Username = %q, want alice", *u.Username)
	}
	if *u.Name != "Alice" {
		t.Errorf("Name = %q, want unchanged Alice", *u.Name)
	}
	if u.ProfilePicture == nil {
		t.Error("ProfilePicture should be unchanged")
	}
	if b.getCalls != 1 {
		t.Errorf("GetUserByPrincipal calls = %d, want 1 (no refetch)", b.getCalls)
	}
}

func TestSynchronizer_Update_FailureKeepsCache(t *testing.T) {
	b := &mockBackend{
		getFn: func(context.Context, string) (*model.User, error) {
			return &model.User{ID: "u1", Name: model.StringPtr("Alice")}, nil
		},
		updateFn: func(context.Context, model.ProfileUpdate) error {
			return errors.New("backend down")
		},
	}
	s := newTestSynchronizer(t, b)
	ctx := context.Background()
	s.Load(ctx, "p1")

	err := s.Update(ctx, "p1", model.ProfileUpdate{Name: model.StringPtr("Bob")})
	if !model.IsKind(err, model.ErrCodeProfileUpdate) {
		t.Fatalf("err = %v, want PROFILE_UPDATE_ERROR", err)
	}
	u, _ := s.Load(ctx, "p1")
	if *u.Name != "Alice" {
		t.Errorf("Name = %q, want Alice", *u.Name)
	}
}

func TestSynchronizer_Update_EmptyIsValidationError(t *testing.T) {
	called := false
	b := &mockBackend{updateFn: func(context.Context, model.ProfileUpdate) error {
		called = true
		return nil
	}}
	s := newTestSynchronizer(t, b)

	err := s.Update(context.Background(), "p1", model.ProfileUpdate{Name: model.StringPtr("")})
	if !model.IsKind(err, model.ErrCodeValidation) {
		t.Errorf("err = %v, want VALIDATION_ERROR", err)
	}
	if called {
		t.Error("backend should not be called for an empty update")
	}
}

func TestSynchronizer_Forget(t *testing.T) {
	b := &mockBackend{getFn: func(context.Context, string) (*model.User, error) {
		return &model.User{ID: "u1"}, nil
	}}
	s := newTestSynchronizer(t, b)
	ctx := context.Background()

	s.Load(ctx, "p1")
	s.Forget("p1")
	s.Load(ctx, "p1")
	if b.getCalls != 2 {
		t.Errorf("GetUserByPrincipal calls = %d, want 2", b.getCalls)
	}
}
