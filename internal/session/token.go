package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"

	"github.com/google/uuid"
)

// signSessionID produces the cookie value "base64(id).base64(hmac)".
func (m *Manager) signSessionID(id uuid.UUID) (string, error) {
	encoded := base64.URLEncoding.EncodeToString(id[:])

	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte(encoded))
	signature := mac.Sum(nil)

	return encoded + "." + base64.URLEncoding.EncodeToString(signature), nil
}

// verifySessionID validates the HMAC and recovers the session ID.
func (m *Manager) verifySessionID(token string) (uuid.UUID, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 2 {
		return uuid.Nil, ErrInvalidSession
	}

	encoded := parts[0]
	receivedSig, err := base64.URLEncoding.DecodeString(parts[1])
	if err != nil {
		return uuid.Nil, ErrInvalidSession
	}

	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte(encoded))
	expectedSig := mac.Sum(nil)

	if !hmac.Equal(receivedSig, expectedSig) {
		return uuid.Nil, ErrInvalidSession
	}

	raw, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil || len(raw) != 16 {
		return uuid.Nil, ErrInvalidSession
	}

	var id uuid.UUID
	copy(id[:], raw)
	return id, nil
}
