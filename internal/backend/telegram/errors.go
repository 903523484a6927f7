package telegram

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/backend"
)

// defaultRetryAfter is used when Telegram reports 429 without a delay.
const defaultRetryAfter = 5 * time.Second

// mapError converts Bot API failures into the backend error vocabulary.
func mapError(err error) error {
	apiErr, ok := asAPIError(err)
	if !ok {
		return err
	}
	switch {
	case apiErr.Code == http.StatusTooManyRequests || apiErr.RetryAfter > 0:
		d := time.Duration(apiErr.RetryAfter) * time.Second
		if d <= 0 {
			d = defaultRetryAfter
		}
		return &backend.FloodWaitError{Delay: d}
	case apiErr.Code == http.StatusUnauthorized:
		return errors.Join(backend.ErrUnauthorized, err)
	case apiErr.Code == http.StatusBadRequest && isMissingObject(apiErr.Message):
		return errors.Join(backend.ErrObjectUnavailable, err)
	}
	return err
}

func asAPIError(err error) (tgbotapi.Error, bool) {
	var ptr *tgbotapi.Error
	if errors.As(err, &ptr) && ptr != nil {
		return *ptr, true
	}
	var val tgbotapi.Error
	if errors.As(err, &val) {
		return val, true
	}
	return tgbotapi.Error{}, false
}

func isMissingObject(msg string) bool {
	msg = strings.ToLower(msg)
	for _, s := range []string{"file is too big", "wrong file_id", "message to forward not found", "invalid file_id"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func retryAfter(header string) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return defaultRetryAfter
}

// toMessage extracts the file carried by msg. Photos resolve to their
// largest size.
func toMessage(msg tgbotapi.Message) (backend.Message, error) {
	info, ok := FileOf(&msg)
	if !ok {
		return backend.Message{}, backend.ErrNoFile
	}
	var chatID int64
	if msg.Chat != nil {
		chatID = msg.Chat.ID
	}
	return backend.Message{ChatID: chatID, MessageID: msg.MessageID, File: info}, nil
}

// FileOf returns the file attached to msg, if any.
func FileOf(msg *tgbotapi.Message) (backend.FileInfo, bool) {
	switch {
	case msg == nil:
		return backend.FileInfo{}, false
	case msg.Document != nil:
		d := msg.Document
		return backend.FileInfo{FileID: d.FileID, FileUniqueID: d.FileUniqueID, Name: d.FileName, MimeType: d.MimeType, Size: int64(d.FileSize)}, true
	case msg.Video != nil:
		v := msg.Video
		return backend.FileInfo{FileID: v.FileID, FileUniqueID: v.FileUniqueID, Name: v.FileName, MimeType: v.MimeType, Size: int64(v.FileSize)}, true
	case msg.Audio != nil:
		a := msg.Audio
		return backend.FileInfo{FileID: a.FileID, FileUniqueID: a.FileUniqueID, Name: a.FileName, MimeType: a.MimeType, Size: int64(a.FileSize)}, true
	case msg.Animation != nil:
		a := msg.Animation
		return backend.FileInfo{FileID: a.FileID, FileUniqueID: a.FileUniqueID, Name: a.FileName, MimeType: a.MimeType, Size: int64(a.FileSize)}, true
	case msg.Voice != nil:
		v := msg.Voice
		return backend.FileInfo{FileID: v.FileID, FileUniqueID: v.FileUniqueID, Name: "voice.ogg", MimeType: v.MimeType, Size: int64(v.FileSize)}, true
	case len(msg.Photo) > 0:
		p := msg.Photo[len(msg.Photo)-1]
		return backend.FileInfo{FileID: p.FileID, FileUniqueID: p.FileUniqueID, Name: p.FileUniqueID + ".jpg", MimeType: "image/jpeg", Size: int64(p.FileSize)}, true
	}
	return backend.FileInfo{}, false
}
