package security

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultFetchTimeout = 10 * time.Second

// ImageFetcher はユーザーが指定した画像URLを取得する。
type ImageFetcher struct {
	client   *http.Client
	validate func(rawURL string) error
	maxBytes int64
}

// NewImageFetcher はImageFetcherを生成する。
// clientがnilの場合はGuardのSafeClientを使用する。
// 取得するボディはmaxBytes+1バイトで打ち切られるため、呼び出し側でサイズ超過を判定できる。
func NewImageFetcher(guard *Guard, client *http.Client, maxBytes int64) *ImageFetcher {
	if client == nil {
		client = guard.NewSafeClient(defaultFetchTimeout)
	}
	return &ImageFetcher{
		client:   client,
		validate: guard.ValidateURL,
		maxBytes: maxBytes,
	}
}

// Fetch はURLから画像を取得し、宣言されたContent-Typeと本文を返す。
func (f *ImageFetcher) Fetch(ctx context.Context, rawURL string) (string, []byte, error) {
	if err := f.validate(rawURL); err != nil {
		return "", nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", nil, fmt.Errorf("build image request: %w", err)
	}
	req.Header.Set("Accept", "image/*")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", nil, fmt.Errorf("fetch image: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return "", nil, fmt.Errorf("read image: %w", err)
	}
	return resp.Header.Get("Content-Type"), data, nil
}
