package scan

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/hitoshi/moodie/internal/model"
)

// jpegOfSize は先頭にJPEGシグネチャを持つ指定サイズのデータを返す。
func jpegOfSize(n int) []byte {
	data := bytes.Repeat([]byte{0x00}, n)
	copy(data, []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00})
	return data
}

func TestValidateImage_AcceptsOneMegabyteJPEG(t *testing.T) {
	data := jpegOfSize(1 << 20)

	mimeType, err := ValidateImage("image/jpeg", data, 0)
	if err != nil {
		t.Fatalf("ValidateImage: %v", err)
	}
	if mimeType != "image/jpeg" {
		t.Errorf("mime = %q, want image/jpeg", mimeType)
	}
	uri := EncodeDataURI(mimeType, data)
	if !strings.HasPrefix(uri, "data:image/jpeg;base64,/9j/") {
		t.Errorf("data URI prefix = %q", uri[:30])
	}
}

func TestValidateImage_RejectsThreeMegabytes(t *testing.T) {
	_, err := ValidateImage("image/jpeg", jpegOfSize(3<<20), 0)
	assertValidation(t, err, MsgTooLarge)
}

func TestValidateImage_BoundaryIsInclusive(t *testing.T) {
	if _, err := ValidateImage("image/jpeg", jpegOfSize(DefaultMaxImageBytes), 0); err != nil {
		t.Errorf("exactly 2MB should be accepted: %v", err)
	}
	_, err := ValidateImage("image/jpeg", jpegOfSize(DefaultMaxImageBytes+1), 0)
	assertValidation(t, err, MsgTooLarge)
}

func TestValidateImage_RejectsNonImages(t *testing.T) {
	tests := []struct {
		name     string
		declared string
		data     []byte
	}{
		{"declared text", "text/plain", jpegOfSize(10)},
		{"sniffed text", "image/png", []byte("hello, this is plain text")},
		{"pdf", "", []byte("%PDF-1.4 fake")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateImage(tt.declared, tt.data, 0)
			assertValidation(t, err, MsgNotImage)
		})
	}
}

func TestValidateImage_UnknownBinaryUsesDeclaredImageType(t *testing.T) {
	data := []byte{0x00, 0x00, 0x00, 0x18, 'f', 't', 'y', 'p', 'h', 'e', 'i', 'c', 0x01, 0x02}
	mimeType, err := ValidateImage("image/heic", data, 0)
	if err != nil {
		t.Fatalf("ValidateImage: %v", err)
	}
	if mimeType != "image/heic" {
		t.Errorf("mime = %q, want image/heic", mimeType)
	}
}

func TestValidateImage_Empty(t *testing.T) {
	_, err := ValidateImage("image/png", nil, 0)
	assertValidation(t, err, MsgNoImage)
}

func assertValidation(t *testing.T, err error, wantMessage string) {
	t.Helper()
	if !model.IsKind(err, model.ErrCodeValidation) {
		t.Fatalf("err = %v, want VALIDATION_ERROR", err)
	}
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Message != wantMessage {
		t.Errorf("message = %v, want %q", err, wantMessage)
	}
}
