package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/hitoshi/moodie/internal/middleware"
	"github.com/hitoshi/moodie/internal/model"
	"github.com/hitoshi/moodie/internal/scan"
	"github.com/hitoshi/moodie/internal/web"
)

const (
	msgScanFailed   = "Failed to scan the image. Please try again."
	msgUploadFailed = "Failed to upload the image."
)

// ScanServiceInterface はスキャンサービスのインターフェース。
type ScanServiceInterface interface {
	MaxImageBytes() int64
	StoreImage(ctx context.Context, deviceID, declaredType string, data []byte) (string, error)
	PendingImage(ctx context.Context, deviceID string) (string, error)
	Scan(ctx context.Context, dataURI string) (*scan.Result, error)
}

// ScanHandler はスキャン画面のHTTPハンドラー。
type ScanHandler struct {
	service ScanServiceInterface
	pages   *pages
	logger  *slog.Logger
}

// NewScanHandler はScanHandlerを生成する。
func NewScanHandler(service ScanServiceInterface, p *pages) *ScanHandler {
	return &ScanHandler{service: service, pages: p, logger: p.logger}
}

// Show はスキャン画面を表示する。アップロード済みの画像があればプレビューする。
// GET /scan
func (h *ScanHandler) Show(w http.ResponseWriter, r *http.Request) {
	page := h.pages.build(r, "/scan", "Scan")
	if !h.pages.protect(w, page, web.PageScan, web.ScanContent{}) {
		return
	}
	h.render(w, r, page, http.StatusOK, web.ScanContent{})
}

// Upload は画像を検証して保存する。検証に失敗した場合は保存済みの画像を維持する。
// POST /scan/image
func (h *ScanHandler) Upload(w http.ResponseWriter, r *http.Request) {
	page := h.pages.build(r, "/scan", "Scan")
	if !h.pages.protect(w, page, web.PageScan, web.ScanContent{}) {
		return
	}

	declared, data, err := readUpload(r, "image", h.service.MaxImageBytes())
	if errors.Is(err, errNoUpload) {
		err = model.NewValidationError(scan.MsgNoImage)
	}
	if err == nil {
		_, err = h.service.StoreImage(r.Context(), middleware.DeviceIDFromContext(r.Context()), declared, data)
	}
	if err != nil {
		h.render(w, r, page, statusFor(err), web.ScanContent{Error: errorMessage(err, msgUploadFailed)})
		return
	}

	http.Redirect(w, r, "/scan", http.StatusSeeOther)
}

// Scan は保存済みの画像を推論し、栄養と気分の分析を表示する。
// POST /scan
func (h *ScanHandler) Scan(w http.ResponseWriter, r *http.Request) {
	page := h.pages.build(r, "/scan", "Scan")
	if !h.pages.protect(w, page, web.PageScan, web.ScanContent{}) {
		return
	}

	uri, err := h.service.PendingImage(r.Context(), middleware.DeviceIDFromContext(r.Context()))
	if err != nil {
		h.render(w, r, page, http.StatusInternalServerError, web.ScanContent{Error: msgScanFailed})
		return
	}

	result, err := h.service.Scan(r.Context(), uri)
	if err != nil {
		h.render(w, r, page, statusFor(err), web.ScanContent{Error: errorMessage(err, msgScanFailed)})
		return
	}

	h.render(w, r, page, http.StatusOK, web.ScanContent{ScanText: result.ScanText, Analysis: result.Analysis})
}

func (h *ScanHandler) render(w http.ResponseWriter, r *http.Request, page *web.Page, status int, content web.ScanContent) {
	uri, err := h.service.PendingImage(r.Context(), middleware.DeviceIDFromContext(r.Context()))
	if err != nil {
		h.logger.Warn("failed to load scan image", slog.String("error", err.Error()))
	}
	if uri != "" {
		content.Preview = &uri
	}
	h.pages.render(w, status, web.PageScan, page, content)
}

// errNoUpload はフォームにファイルが添付されていないことを示す。
var errNoUpload = errors.New("no file uploaded")

// readUpload はmultipartフォームのファイルを読み込む。
// 上限を1バイトでも超えた内容は検証側でサイズ超過として扱えるよう、max+1バイトまで読む。
func readUpload(r *http.Request, field string, max int64) (string, []byte, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return "", nil, model.NewValidationError(scan.MsgTooLarge)
		}
		return "", nil, errNoUpload
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, max+1))
	if err != nil {
		return "", nil, err
	}
	return header.Header.Get("Content-Type"), data, nil
}
