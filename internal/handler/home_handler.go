package handler

import (
	"net/http"
	"strings"

	"github.com/hitoshi/moodie/internal/model"
	"github.com/hitoshi/moodie/internal/web"
)

const (
	msgNameRequired = "Please enter your name."
	msgNameFailed   = "Failed to save name."
	msgNameSaved    = "Name saved successfully!"
)

// HomeHandler はホーム画面と初回の名前登録のHTTPハンドラー。
type HomeHandler struct {
	pages *pages
}

// NewHomeHandler はHomeHandlerを生成する。
func NewHomeHandler(p *pages) *HomeHandler {
	return &HomeHandler{pages: p}
}

// Show はホーム画面を表示する。名前が未登録ならオンボーディングを表示する。
// GET /
func (h *HomeHandler) Show(w http.ResponseWriter, r *http.Request) {
	page := h.pages.build(r, "/", "")
	content := web.HomeContent{ShowOnboarding: needsOnboarding(page)}
	if r.URL.Query().Get("saved") == "1" {
		content.Notice = msgNameSaved
	}
	h.pages.render(w, http.StatusOK, web.PageHome, page, content)
}

// SaveName はオンボーディングで入力された名前を保存する。
// POST /profile/name
func (h *HomeHandler) SaveName(w http.ResponseWriter, r *http.Request) {
	page := h.pages.build(r, "/", "")
	if !h.pages.protect(w, page, web.PageHome, web.HomeContent{}) {
		return
	}

	name := strings.TrimSpace(r.PostFormValue("name"))
	content := web.HomeContent{ShowOnboarding: true, Name: name}
	if name == "" {
		content.Error = msgNameRequired
		h.pages.render(w, http.StatusUnprocessableEntity, web.PageHome, page, content)
		return
	}

	err := h.pages.users.Update(r.Context(), principal(r), model.ProfileUpdate{Name: model.StringPtr(name)})
	if err != nil {
		content.Error = msgNameFailed
		h.pages.render(w, statusFor(err), web.PageHome, page, content)
		return
	}

	http.Redirect(w, r, "/?saved=1", http.StatusSeeOther)
}

func needsOnboarding(page *web.Page) bool {
	if !page.Authenticated {
		return false
	}
	return page.User == nil || model.Present(page.User.Name) == nil
}
