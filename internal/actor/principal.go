// Package actor はバックエンド呼び出しに使う署名アイデンティティを提供する。
//
// Agentが現在有効なIdentityを保持し、backendパッケージはリクエストごとに
// コンテキストから取り出したAgentで呼び出しに署名する。
package actor

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"strings"
)

// AnonymousPrincipal は未認証呼び出しに使う匿名プリンシパルのテキスト表現。
const AnonymousPrincipal = "2vxsx-fai"

const (
	selfAuthenticatingSuffix = 0x02
	anonymousSuffix          = 0x04
	maxPrincipalBytes        = 29
)

// ed25519DERPrefix はEd25519公開鍵のSubjectPublicKeyInfo DERプレフィックス。
var ed25519DERPrefix = []byte{0x30, 0x2a, 0x30, 0x05, 0x06, 0x03, 0x2b, 0x65, 0x70, 0x03, 0x21, 0x00}

var principalEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// ErrInvalidPrincipal はプリンシパルのテキスト表現が不正な場合のエラー。
var ErrInvalidPrincipal = errors.New("invalid principal")

// Principal はアイデンティティの不透明な一意識別子。
type Principal []byte

// SelfAuthenticating は公開鍵から自己認証プリンシパルを導出する。
func SelfAuthenticating(pub ed25519.PublicKey) Principal {
	der := make([]byte, 0, len(ed25519DERPrefix)+len(pub))
	der = append(der, ed25519DERPrefix...)
	der = append(der, pub...)
	sum := sha256.Sum224(der)
	return append(Principal(sum[:]), selfAuthenticatingSuffix)
}

// Anonymous は匿名プリンシパルを返す。
func Anonymous() Principal {
	return Principal{anonymousSuffix}
}

// Text はプリンシパルのテキスト表現を返す。
// CRC32チェックサムを先頭に付けてbase32化し、5文字ごとにハイフンで区切る。
func (p Principal) Text() string {
	buf := make([]byte, 4+len(p))
	binary.BigEndian.PutUint32(buf, crc32.ChecksumIEEE(p))
	copy(buf[4:], p)
	encoded := strings.ToLower(principalEncoding.EncodeToString(buf))

	var b strings.Builder
	for i := 0; i < len(encoded); i += 5 {
		if i > 0 {
			b.WriteByte('-')
		}
		end := min(i+5, len(encoded))
		b.WriteString(encoded[i:end])
	}
	return b.String()
}

// IsAnonymous は匿名プリンシパルかどうかを判定する。
func (p Principal) IsAnonymous() bool {
	return len(p) == 1 && p[0] == anonymousSuffix
}

// ParsePrincipal はテキスト表現をパースし、チェックサムを検証する。
func ParsePrincipal(text string) (Principal, error) {
	raw := strings.ToUpper(strings.ReplaceAll(text, "-", ""))
	if raw == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidPrincipal)
	}
	decoded, err := principalEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrincipal, err)
	}
	if len(decoded) < 4 || len(decoded)-4 > maxPrincipalBytes {
		return nil, fmt.Errorf("%w: bad length", ErrInvalidPrincipal)
	}
	p := Principal(decoded[4:])
	if binary.BigEndian.Uint32(decoded[:4]) != crc32.ChecksumIEEE(p) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrInvalidPrincipal)
	}
	if p.Text() != strings.ToLower(text) {
		return nil, fmt.Errorf("%w: not in canonical form", ErrInvalidPrincipal)
	}
	return p, nil
}
