// Package backend defines the narrow capability the gateway needs from the
// upstream file store: authenticate a session, write a file into a chat,
// forward an existing message, read a byte window of a stored file and
// check channel membership.
package backend

import (
	"context"
	"io"
)

// DefaultChunkSize is the read granularity of the Telegram file store.
const DefaultChunkSize = 1 << 20

// ObjectRef locates a stored file. FileID is only valid for the session named
// by Session; other sessions resolve their own id through FileUniqueID.
type ObjectRef struct {
	ChatID       int64
	MessageID    int
	FileID       string
	FileUniqueID string
	Session      string
}

// FileInfo describes the file attached to a message.
type FileInfo struct {
	FileID       string
	FileUniqueID string
	Name         string
	MimeType     string
	Size         int64
}

// Message is a message in a chat that carries a file.
type Message struct {
	ChatID    int64
	MessageID int
	File      FileInfo
}

// Ref returns the object reference of m as seen by session.
func (m Message) Ref(session string) ObjectRef {
	return ObjectRef{
		ChatID:       m.ChatID,
		MessageID:    m.MessageID,
		FileID:       m.File.FileID,
		FileUniqueID: m.File.FileUniqueID,
		Session:      session,
	}
}

// Upload is a local file to write into a chat.
type Upload struct {
	Name     string
	MimeType string
	Size     int64
	Reader   io.Reader
}

// Client is one authenticated upstream session.
type Client interface {
	Name() string
	Authenticate(ctx context.Context) error
	SendFile(ctx context.Context, chatID int64, upload Upload) (Message, error)
	ForwardMessage(ctx context.Context, toChatID, fromChatID int64, messageID int) (Message, error)
	// FetchChunk returns at most limit bytes starting at offset. A short
	// result is not an error; callers ask again from where it ended.
	FetchChunk(ctx context.Context, ref ObjectRef, offset int64, limit int) ([]byte, error)
	IsMember(ctx context.Context, chatID, userID int64) (bool, error)
}
