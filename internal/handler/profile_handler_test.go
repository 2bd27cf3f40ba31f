package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/hitoshi/moodie/internal/model"
	"github.com/hitoshi/moodie/internal/scan"
)

func TestProfile_ShowUpdatedNotice(t *testing.T) {
	env := newTestEnv(t)

	w := env.get(t, "/profile?updated=1", true)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	requireText(t, parseHTML(t, w), "notice", "Profile updated successfully!")
}

func TestProfile_ShowPrefillsCurrentValues(t *testing.T) {
	env := newTestEnv(t)

	w := env.get(t, "/profile", true)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	doc := parseHTML(t, w)
	if in := findByID(doc, "profile-username"); in == nil || attr(in, "value") != "alice" {
		t.Error("username input should be prefilled with alice")
	}
	if in := findByID(doc, "profile-name"); in == nil || attr(in, "value") != "Alice" {
		t.Error("name input should be prefilled with Alice")
	}
}

func TestProfile_ShowWithoutNameLeavesInputsEmpty(t *testing.T) {
	env := newTestEnv(t)
	env.users.loadFn = func(ctx context.Context, principal string) (*model.User, error) {
		return &model.User{ID: "user-1"}, nil
	}

	doc := parseHTML(t, env.get(t, "/profile", true))
	if in := findByID(doc, "profile-name"); in == nil || attr(in, "value") != "" {
		t.Error("name input should be empty")
	}
}

func TestProfile_UpdateTextFieldsOnly(t *testing.T) {
	env := newTestEnv(t)

	w := env.postMultipart(t, "/profile", map[string]string{"username": "", "name": "Carol"}, nil)
	if w.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want 303: %s", w.Code, w.Body.String())
	}
	if loc := w.Header().Get("Location"); loc != "/profile?updated=1" {
		t.Errorf("Location = %q", loc)
	}
	if len(env.users.updates) != 1 {
		t.Fatalf("Update called %d times, want 1", len(env.users.updates))
	}
	update := env.users.updates[0]
	if model.Deref(update.Name, "") != "Carol" {
		t.Errorf("name = %v", update.Name)
	}
	if model.Present(update.Username) != nil || model.Present(update.ProfilePicture) != nil {
		t.Error("empty fields should be left unspecified")
	}
	if len(env.fetcher.urls) != 0 {
		t.Error("fetcher should not be called without a URL")
	}
}

func TestProfile_UploadPicture(t *testing.T) {
	env := newTestEnv(t)

	w := env.postMultipart(t, "/profile", nil, &multipartFile{
		field: "picture", filename: "me.png", contentType: "image/png", data: pngBytes(512),
	})
	if w.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want 303: %s", w.Code, w.Body.String())
	}
	pic := model.Deref(env.users.updates[0].ProfilePicture, "")
	if !strings.HasPrefix(pic, "data:image/png;base64,") {
		t.Errorf("picture = %.40q, want data URI", pic)
	}
}

func TestProfile_ImportPictureFromURL(t *testing.T) {
	env := newTestEnv(t)
	env.fetcher.fetchFn = func(ctx context.Context, rawURL string) (string, []byte, error) {
		return "image/png", pngBytes(256), nil
	}

	w := env.postMultipart(t, "/profile", map[string]string{"picture_url": "https://example.com/me.png"}, nil)
	if w.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want 303", w.Code)
	}
	if len(env.fetcher.urls) != 1 || env.fetcher.urls[0] != "https://example.com/me.png" {
		t.Errorf("fetched = %v", env.fetcher.urls)
	}
	if !strings.HasPrefix(model.Deref(env.users.updates[0].ProfilePicture, ""), "data:image/png;base64,") {
		t.Error("imported picture should be stored as a data URI")
	}
}

func TestProfile_ImportPictureFailure(t *testing.T) {
	env := newTestEnv(t)
	env.fetcher.fetchFn = func(ctx context.Context, rawURL string) (string, []byte, error) {
		return "", nil, errors.New("unsafe url")
	}

	w := env.postMultipart(t, "/profile", map[string]string{"picture_url": "http://169.254.169.254/"}, nil)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", w.Code)
	}
	requireText(t, parseHTML(t, w), "profile-error", msgPictureImportFail)
	if len(env.users.updates) != 0 {
		t.Error("profile should not be updated")
	}
}

func TestProfile_PictureTooLarge(t *testing.T) {
	env := newTestEnv(t)

	w := env.postMultipart(t, "/profile", nil, &multipartFile{
		field: "picture", filename: "big.png", contentType: "image/png", data: pngBytes(3 * 1024 * 1024),
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", w.Code)
	}
	requireText(t, parseHTML(t, w), "profile-error", scan.MsgTooLarge)
}

func TestProfile_UpdateFailure(t *testing.T) {
	env := newTestEnv(t)
	env.users.updateFn = func(ctx context.Context, principal string, update model.ProfileUpdate) error {
		return model.NewProfileUpdateError(errors.New("backend down"))
	}

	w := env.postMultipart(t, "/profile", map[string]string{"name": "Carol"}, nil)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", w.Code)
	}
	doc := parseHTML(t, w)
	requireText(t, doc, "profile-error", "Failed to update profile.")
	if !strings.Contains(w.Body.String(), `value="Carol"`) {
		t.Error("form values should be kept")
	}
}
