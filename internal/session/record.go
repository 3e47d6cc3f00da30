package session

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	mrand "math/rand"
	"strconv"
	"time"
)

// ProfileFragment is the sanitized subset of user identity persisted with a
// session. Credentials, tokens and other secrets are excluded by
// construction: there is nowhere to put them.
type ProfileFragment struct {
	ID        string `json:"id"`
	Email     string `json:"email,omitempty"`
	Role      string `json:"role,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

func (p *ProfileFragment) encode() (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to marshal profile: %w", err)
	}
	return string(data), nil
}

func decodeProfile(value string) (*ProfileFragment, error) {
	var p ProfileFragment
	if err := json.Unmarshal([]byte(value), &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal profile: %w", err)
	}
	return &p, nil
}

// NewSessionID generates an opaque 256-bit session identifier from the
// cryptographic random source. If the source is unusable it falls back to a
// weaker timestamp+random composite rather than failing session creation.
func NewSessionID() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err == nil {
		return hex.EncodeToString(buf)
	}

	now := time.Now().UnixNano()
	return strconv.FormatInt(now, 36) + "-" +
		strconv.FormatInt(mrand.Int63(), 36) + "-" +
		strconv.FormatInt(mrand.Int63(), 36)
}

func formatMillis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func parseMillis(value string) (time.Time, error) {
	ms, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", value, err)
	}
	return time.UnixMilli(ms), nil
}
