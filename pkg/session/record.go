package session

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrUnknownSession is returned when a session id has no record.
var ErrUnknownSession = errors.New("unknown session")

// Record tracks one session and the credentials that may act on it. Field
// names stay wire-stable; the record is persisted in the registry snapshot.
type Record struct {
	SessionID    string    `json:"session_id"`
	SessionToken string    `json:"session_token"`
	AgentID      string    `json:"agent_id"`
	ConfigID     string    `json:"config_id"`
	CreatedAt    Timestamp `json:"created_at"`
	LastActive   Timestamp `json:"last_active"`
	APIKeyHash   string    `json:"api_key_hash"`
}

func (r *Record) clone() *Record {
	cp := *r
	return &cp
}

// Timestamp is a UTC time that tolerates missing or malformed values when
// decoding a registry written by an older or damaged deployment. Such values
// decode as the current time rather than failing the whole snapshot.
type Timestamp struct {
	time.Time
}

// Now returns the current time as a Timestamp, truncated to microseconds so
// round-tripping through the registry is lossless.
func Now() Timestamp {
	return At(time.Now())
}

// At converts a time to a registry Timestamp.
func At(t time.Time) Timestamp {
	return Timestamp{t.UTC().Truncate(time.Microsecond)}
}

// MarshalJSON encodes the timestamp as RFC 3339 in UTC.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

// UnmarshalJSON decodes an RFC 3339 timestamp, coercing zone-less values to
// UTC and falling back to the current time when the value is unusable.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil || raw == "" {
		*t = Now()
		return nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		// Zone-less timestamps are treated as UTC.
		parsed, err = time.ParseInLocation("2006-01-02T15:04:05.999999999", raw, time.UTC)
		if err != nil {
			*t = Now()
			return nil
		}
	}
	*t = Timestamp{parsed.UTC()}
	return nil
}

// newSessionID mints a 128-bit session identifier rendered as 32 hex chars.
func newSessionID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

// newSessionToken mints a 192-bit URL-safe bearer token.
func newSessionToken() string {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("failed to read random bytes: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}

// hashAPIKey renders the SHA-256 of an API key as lowercase hex.
func hashAPIKey(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])
}
