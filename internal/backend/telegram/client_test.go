package telegram

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/backend"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAuthenticate(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/botgood/") {
			_, _ = io.WriteString(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"files","username":"filesbot"}}`)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"ok":false,"error_code":401,"description":"Unauthorized"}`)
	}))
	defer srv.Close()

	endpoint := srv.URL + "/bot%s/%s"
	good := NewClient(testLogger(), Options{Name: "primary", Token: "good", APIEndpoint: endpoint})
	require.NoError(t, good.Authenticate(context.Background()))
	require.NotNil(t, good.Bot())
	assert.Equal(t, "filesbot", good.Bot().Self.UserName)

	bad := NewClient(testLogger(), Options{Name: "extra", Token: "bad", APIEndpoint: endpoint})
	err := bad.Authenticate(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, backend.ErrUnauthorized)
	assert.Nil(t, bad.Bot())
}

func TestMapError(t *testing.T) {
	t.Parallel()

	flood := mapError(&tgbotapi.Error{Code: 429, Message: "Too Many Requests", ResponseParameters: tgbotapi.ResponseParameters{RetryAfter: 12}})
	d, ok := backend.FloodDelay(flood)
	require.True(t, ok)
	assert.Equal(t, 12*time.Second, d)

	noDelay := mapError(tgbotapi.Error{Code: 429})
	d, ok = backend.FloodDelay(noDelay)
	require.True(t, ok)
	assert.Equal(t, defaultRetryAfter, d)

	assert.ErrorIs(t, mapError(&tgbotapi.Error{Code: 401}), backend.ErrUnauthorized)
	assert.ErrorIs(t, mapError(&tgbotapi.Error{Code: 400, Message: "Bad Request: file is too big"}), backend.ErrObjectUnavailable)

	plain := errors.New("dial tcp: timeout")
	assert.Same(t, plain, mapError(plain))
}

func TestFileOf(t *testing.T) {
	t.Parallel()

	msg := &tgbotapi.Message{Video: &tgbotapi.Video{FileID: "v", FileUniqueID: "uv", FileName: "clip.mp4", MimeType: "video/mp4", FileSize: 42}}
	info, ok := FileOf(msg)
	require.True(t, ok)
	assert.Equal(t, backend.FileInfo{FileID: "v", FileUniqueID: "uv", Name: "clip.mp4", MimeType: "video/mp4", Size: 42}, info)

	photo := &tgbotapi.Message{Photo: []tgbotapi.PhotoSize{{FileID: "small", FileUniqueID: "s"}, {FileID: "big", FileUniqueID: "b", FileSize: 9}}}
	info, ok = FileOf(photo)
	require.True(t, ok)
	assert.Equal(t, "big", info.FileID)

	_, ok = FileOf(&tgbotapi.Message{Text: "hello"})
	assert.False(t, ok)
}

func newDownloadClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := NewClient(testLogger(), Options{Name: "primary", Token: "tok", FileEndpoint: srv.URL + "/file/bot%s/%s"})
	c.paths.SetDefault("fid", "documents/file_1.bin")
	return c
}

func TestFetchChunkHonorsRange(t *testing.T) {
	t.Parallel()

	data := bytes.Repeat([]byte("0123456789"), 100)
	c := newDownloadClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "file_1.bin", time.Time{}, bytes.NewReader(data))
	}))
	ref := backend.ObjectRef{FileID: "fid", FileUniqueID: "u", Session: "primary"}

	got, err := c.FetchChunk(context.Background(), ref, 95, 10)
	require.NoError(t, err)
	assert.Equal(t, data[95:105], got)

	tail, err := c.FetchChunk(context.Background(), ref, 995, 10)
	require.NoError(t, err)
	assert.Equal(t, data[995:], tail)

	past, err := c.FetchChunk(context.Background(), ref, 1000, 10)
	require.NoError(t, err)
	assert.Empty(t, past)
}

func TestFetchChunkWithoutRangeSupport(t *testing.T) {
	t.Parallel()

	data := []byte("abcdefghijklmnopqrstuvwxyz")
	c := newDownloadClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(data)
	}))
	got, err := c.FetchChunk(context.Background(), backend.ObjectRef{FileID: "fid", Session: "primary"}, 3, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte("defg"), got)
}

func TestFetchChunkFloodWait(t *testing.T) {
	t.Parallel()

	c := newDownloadClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	_, err := c.FetchChunk(context.Background(), backend.ObjectRef{FileID: "fid", Session: "primary"}, 0, 4)
	d, ok := backend.FloodDelay(err)
	require.True(t, ok, fmt.Sprint(err))
	assert.Equal(t, 3*time.Second, d)
}

func TestFetchChunkExpiredPathIsEvicted(t *testing.T) {
	t.Parallel()

	c := newDownloadClient(t, http.NotFoundHandler())
	_, err := c.FetchChunk(context.Background(), backend.ObjectRef{FileID: "fid", Session: "primary"}, 0, 4)
	require.Error(t, err)
	_, cached := c.paths.Get("fid")
	assert.False(t, cached)
}

func TestSharedLookupSurvivesCallerCancel(t *testing.T) {
	t.Parallel()

	c := NewClient(testLogger(), Options{Name: "primary", Token: "t"})
	entered := make(chan struct{})
	release := make(chan struct{})
	lookup := func(ctx context.Context) (string, error) {
		close(entered)
		select {
		case <-release:
			return "documents/file_1.bin", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := c.shared(ctxA, "path:fid", lookup)
		errA <- err
	}()
	<-entered

	pathB := make(chan string, 1)
	errB := make(chan error, 1)
	go func() {
		p, err := c.shared(context.Background(), "path:fid", lookup)
		pathB <- p
		errB <- err
	}()
	time.Sleep(20 * time.Millisecond)

	cancelA()
	require.ErrorIs(t, <-errA, context.Canceled)
	close(release)

	select {
	case err := <-errB:
		require.NoError(t, err)
		assert.Equal(t, "documents/file_1.bin", <-pathB)
	case <-time.After(5 * time.Second):
		t.Fatal("waiting caller never returned")
	}
}
