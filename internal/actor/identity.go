package actor

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// signatureTTL は1回の呼び出し署名の有効期間。
const signatureTTL = 5 * time.Minute

// ErrDelegationExpired は委任の有効期限が切れている場合のエラー。
var ErrDelegationExpired = errors.New("delegation expired")

// Identity はバックエンド呼び出しに署名するアイデンティティ。
type Identity interface {
	// Principal はプリンシパルのテキスト表現を返す。
	Principal() string
	// Sign は呼び出し用の署名トークンを生成する。
	Sign(now time.Time) (string, error)
}

// CallClaims は呼び出し署名トークンのクレーム。
type CallClaims struct {
	jwt.RegisteredClaims
	Delegation string `json:"del"`
}

// DelegationIdentity はIdPが発行した委任とセッション鍵からなるアイデンティティ。
type DelegationIdentity struct {
	principal  string
	key        ed25519.PrivateKey
	delegation string
	expiresAt  time.Time
}

// NewDelegationIdentity はDelegationIdentityを生成する。
func NewDelegationIdentity(principal string, key ed25519.PrivateKey, delegation string, expiresAt time.Time) (*DelegationIdentity, error) {
	if _, err := ParsePrincipal(principal); err != nil {
		return nil, err
	}
	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("session key must be %d bytes", ed25519.PrivateKeySize)
	}
	if delegation == "" {
		return nil, errors.New("delegation is required")
	}
	return &DelegationIdentity{
		principal:  principal,
		key:        key,
		delegation: delegation,
		expiresAt:  expiresAt,
	}, nil
}

// Principal はプリンシパルのテキスト表現を返す。
func (d *DelegationIdentity) Principal() string {
	return d.principal
}

// ExpiresAt は委任の有効期限を返す。
func (d *DelegationIdentity) ExpiresAt() time.Time {
	return d.expiresAt
}

// Sign はEdDSAで署名した短命のJWTを生成する。
// 委任の有効期限を超えて署名することはない。
func (d *DelegationIdentity) Sign(now time.Time) (string, error) {
	if !d.expiresAt.IsZero() && !now.Before(d.expiresAt) {
		return "", ErrDelegationExpired
	}
	exp := now.Add(signatureTTL)
	if !d.expiresAt.IsZero() && d.expiresAt.Before(exp) {
		exp = d.expiresAt
	}
	claims := CallClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   d.principal,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Delegation: d.delegation,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(d.key)
	if err != nil {
		return "", fmt.Errorf("sign call token: %w", err)
	}
	return token, nil
}

// compile-time interface check
var _ Identity = (*DelegationIdentity)(nil)
