package scan

import (
	"encoding/base64"
	"mime"
	"net/http"
	"strings"

	"github.com/hitoshi/moodie/internal/model"
)

// DefaultMaxImageBytes はアップロード画像の上限サイズ（2MB）。
const DefaultMaxImageBytes = 2 * 1024 * 1024

// 画像検証のエラーメッセージ。
const (
	MsgNotImage     = "Only image files are allowed."
	MsgTooLarge     = "Maximum image size is 2MB."
	MsgNoImage      = "Please upload an image first."
	sniffFallback   = "application/octet-stream"
	imageTypePrefix = "image/"
)

// ValidateImage は宣言されたContent-Typeと内容の両方を検査し、
// データURIに使うMIMEタイプを返す。maxBytesが0以下の場合は2MBを上限とする。
func ValidateImage(declared string, data []byte, maxBytes int64) (string, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxImageBytes
	}

	declaredType := ""
	if declared != "" {
		mt, _, err := mime.ParseMediaType(declared)
		if err != nil || !strings.HasPrefix(mt, imageTypePrefix) {
			return "", model.NewValidationError(MsgNotImage)
		}
		declaredType = mt
	}

	if len(data) == 0 {
		return "", model.NewValidationError(MsgNoImage)
	}

	sniffed := http.DetectContentType(data)
	detected := sniffed
	if i := strings.IndexByte(detected, ';'); i >= 0 {
		detected = detected[:i]
	}
	switch {
	case strings.HasPrefix(detected, imageTypePrefix):
	case detected == sniffFallback && declaredType != "":
		// 判別できない形式（HEIC等）は宣言された画像タイプを採用する
		detected = declaredType
	default:
		return "", model.NewValidationError(MsgNotImage)
	}

	if int64(len(data)) > maxBytes {
		return "", model.NewValidationError(MsgTooLarge)
	}
	return detected, nil
}

// EncodeDataURI は画像をbase64のデータURIにする。
func EncodeDataURI(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
