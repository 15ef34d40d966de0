package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"
)

// ErrInvalidSignature はCookie値の署名が一致しないことを示す。
var ErrInvalidSignature = errors.New("invalid cookie signature")

// signer はセッションIDにHMAC-SHA256署名を付与・検証する。
type signer struct {
	secret []byte
}

func newSigner(secret string) *signer {
	return &signer{secret: []byte(secret)}
}

// Sign は "<id>.<署名>" 形式の値を返す。
func (s *signer) Sign(id string) string {
	return id + "." + base64.RawURLEncoding.EncodeToString(s.mac(id))
}

// Verify は署名付きの値を検証し、セッションIDを返す。
func (s *signer) Verify(value string) (string, error) {
	i := strings.LastIndexByte(value, '.')
	if i <= 0 || i == len(value)-1 {
		return "", ErrInvalidSignature
	}
	id, sig := value[:i], value[i+1:]

	got, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil {
		return "", ErrInvalidSignature
	}
	if !hmac.Equal(got, s.mac(id)) {
		return "", ErrInvalidSignature
	}
	return id, nil
}

func (s *signer) mac(id string) []byte {
	h := hmac.New(sha256.New, s.secret)
	h.Write([]byte(id))
	return h.Sum(nil)
}
