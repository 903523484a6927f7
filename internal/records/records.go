// Package records persists the token to stored-object mapping. Records are
// immutable once written.
package records

import (
	"context"
	"encoding/base64"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/backend"
)

var (
	// ErrNotFound is returned when no record exists for a token.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateToken is returned by Put when the token is taken.
	ErrDuplicateToken = errors.New("duplicate token")
)

// Record maps a public token to a file stored in the log channel.
type Record struct {
	Token     string            `json:"token"`
	Ref       backend.ObjectRef `json:"-"`
	FileName  string            `json:"file_name"`
	MimeType  string            `json:"mime_type"`
	Size      int64             `json:"size"`
	OwnerID   int64             `json:"owner_id"`
	CreatedAt time.Time         `json:"created_at"`
}

type Store interface {
	Put(ctx context.Context, rec Record) error
	Get(ctx context.Context, token string) (Record, error)
}

// NewToken encodes a random UUIDv4 (122 random bits) as 22 URL-safe characters.
func NewToken() string {
	id := uuid.New()
	return base64.RawURLEncoding.EncodeToString(id[:])
}

// ValidToken reports whether s has the shape of a token minted by NewToken.
func ValidToken(s string) bool {
	if len(s) != 22 {
		return false
	}
	_, err := base64.RawURLEncoding.DecodeString(s)
	return err == nil
}
