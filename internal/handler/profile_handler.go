package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/moodie/internal/model"
	"github.com/hitoshi/moodie/internal/scan"
	"github.com/hitoshi/moodie/internal/web"
)

const (
	msgProfileUpdated    = "Profile updated successfully!"
	msgProfileFailed     = "Failed to update profile."
	msgPictureImportFail = "Could not import the picture from that URL."
)

// ImageFetcher は外部URLの画像を取得するインターフェース。
type ImageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (string, []byte, error)
}

// ProfileHandler はプロフィール画面のHTTPハンドラー。
type ProfileHandler struct {
	fetcher       ImageFetcher
	maxImageBytes int64
	pages         *pages
	logger        *slog.Logger
}

// NewProfileHandler はProfileHandlerを生成する。
func NewProfileHandler(fetcher ImageFetcher, maxImageBytes int64, p *pages) *ProfileHandler {
	if maxImageBytes <= 0 {
		maxImageBytes = scan.DefaultMaxImageBytes
	}
	return &ProfileHandler{fetcher: fetcher, maxImageBytes: maxImageBytes, pages: p, logger: p.logger}
}

// Show はプロフィール画面を表示する。
// GET /profile
func (h *ProfileHandler) Show(w http.ResponseWriter, r *http.Request) {
	page := h.pages.build(r, "/profile", "Profile")
	if !h.pages.protect(w, page, web.PageProfile, web.ProfileContent{}) {
		return
	}

	content := web.ProfileContent{}
	if page.User != nil {
		content.Username = model.Deref(page.User.Username, "")
		content.Name = model.Deref(page.User.Name, "")
	}
	if r.URL.Query().Get("updated") == "1" {
		content.Notice = msgProfileUpdated
	}
	h.pages.render(w, http.StatusOK, web.PageProfile, page, content)
}

// Update はプロフィールを部分更新する。空の項目は変更しない。
// 画像はアップロードまたはURLからの取り込みで指定し、データURIとして保存する。
// POST /profile
func (h *ProfileHandler) Update(w http.ResponseWriter, r *http.Request) {
	page := h.pages.build(r, "/profile", "Profile")
	if !h.pages.protect(w, page, web.PageProfile, web.ProfileContent{}) {
		return
	}

	content := web.ProfileContent{
		Username:   strings.TrimSpace(r.PostFormValue("username")),
		Name:       strings.TrimSpace(r.PostFormValue("name")),
		PictureURL: strings.TrimSpace(r.PostFormValue("picture_url")),
	}

	picture, err := h.picture(r, content.PictureURL)
	if err != nil {
		content.Error = errorMessage(err, msgProfileFailed)
		h.pages.render(w, statusFor(err), web.PageProfile, page, content)
		return
	}

	update := model.ProfileUpdate{
		Username:       model.StringPtr(content.Username),
		Name:           model.StringPtr(content.Name),
		ProfilePicture: model.StringPtr(picture),
	}
	if err := h.pages.users.Update(r.Context(), principal(r), update); err != nil {
		content.Error = errorMessage(err, msgProfileFailed)
		h.pages.render(w, statusFor(err), web.PageProfile, page, content)
		return
	}

	http.Redirect(w, r, "/profile?updated=1", http.StatusSeeOther)
}

// picture はアップロードされた画像、なければURLの画像をデータURIにして返す。
// どちらも指定されていなければ空文字を返す。
func (h *ProfileHandler) picture(r *http.Request, pictureURL string) (string, error) {
	declared, data, err := readUpload(r, "picture", h.maxImageBytes)
	if err != nil && !errors.Is(err, errNoUpload) {
		return "", err
	}

	if len(data) == 0 {
		if pictureURL == "" {
			return "", nil
		}
		declared, data, err = h.fetcher.Fetch(r.Context(), pictureURL)
		if err != nil {
			h.logger.Warn("picture import failed",
				slog.String("url", pictureURL),
				slog.String("error", err.Error()),
			)
			return "", model.NewValidationError(msgPictureImportFail)
		}
	}

	mimeType, err := scan.ValidateImage(declared, data, h.maxImageBytes)
	if err != nil {
		return "", err
	}
	return scan.EncodeDataURI(mimeType, data), nil
}
