package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

const nonceSize = 24

// ErrSealedDataInvalid は封印データの改ざん・鍵不一致・形式不正を表す。
var ErrSealedDataInvalid = errors.New("sealed data is invalid")

// Sealer はsecretboxによる対称暗号化を行う。
// セッション鍵の保存とログイン途中状態のCookieに使う。
type Sealer struct {
	key [32]byte
}

// NewSealer はシークレットのSHA-256を鍵とするSealerを生成する。
func NewSealer(secret string) (*Sealer, error) {
	if secret == "" {
		return nil, errors.New("sealer secret is required")
	}
	return &Sealer{key: sha256.Sum256([]byte(secret))}, nil
}

// Seal はランダムなnonceを先頭に付けて暗号化する。
func (s *Sealer) Seal(plain []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plain, &nonce, &s.key), nil
}

// Open はSealで封印したデータを復号する。
func (s *Sealer) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < nonceSize+secretbox.Overhead {
		return nil, ErrSealedDataInvalid
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	plain, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &s.key)
	if !ok {
		return nil, ErrSealedDataInvalid
	}
	return plain, nil
}

// SealJSON は値をJSONにして封印し、Cookie向けにbase64url文字列で返す。
func (s *Sealer) SealJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode sealed value: %w", err)
	}
	sealed, err := s.Seal(data)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// OpenJSON はSealJSONの結果を復号してvにデコードする。
func (s *Sealer) OpenJSON(token string, v any) error {
	sealed, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return ErrSealedDataInvalid
	}
	data, err := s.Open(sealed)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode sealed value: %w", err)
	}
	return nil
}
