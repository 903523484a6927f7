// Package fake is an in-memory backend.Client used by tests across the
// module. All clients created from one Backend share the same chats, so a
// file written by one session can be read by another.
package fake

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/backend"
)

type msgKey struct {
	chat int64
	id   int
}

type storedFile struct {
	info backend.FileInfo
	data []byte
}

type Backend struct {
	mu       sync.Mutex
	nextID   int
	messages map[msgKey]string
	files    map[string]storedFile
	members  map[int64]map[int64]bool
	clients  map[string]*Client
}

func New() *Backend {
	return &Backend{
		messages: make(map[msgKey]string),
		files:    make(map[string]storedFile),
		members:  make(map[int64]map[int64]bool),
		clients:  make(map[string]*Client),
	}
}

// Client returns the session called name, creating it on first use.
func (b *Backend) Client(name string) *Client {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.clients[name]; ok {
		return c
	}
	c := &Client{name: name, b: b}
	b.clients[name] = c
	return c
}

// Put stores data as a new message in chatID and returns it as seen by
// session.
func (b *Backend) Put(chatID int64, session, name, mime string, data []byte) backend.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.putLocked(chatID, session, name, mime, append([]byte(nil), data...))
}

func (b *Backend) putLocked(chatID int64, session, name, mime string, data []byte) backend.Message {
	b.nextID++
	uid := fmt.Sprintf("u%d", b.nextID)
	info := backend.FileInfo{
		FileUniqueID: uid,
		Name:         name,
		MimeType:     mime,
		Size:         int64(len(data)),
	}
	b.files[uid] = storedFile{info: info, data: data}
	return b.linkLocked(chatID, session, uid)
}

func (b *Backend) linkLocked(chatID int64, session, uid string) backend.Message {
	b.nextID++
	id := b.nextID
	b.messages[msgKey{chat: chatID, id: id}] = uid
	info := b.files[uid].info
	info.FileID = fileID(session, uid)
	return backend.Message{ChatID: chatID, MessageID: id, File: info}
}

// Delete removes a stored object so further reads fail permanently.
func (b *Backend) Delete(uniqueID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.files, uniqueID)
}

// Messages counts the messages stored in chatID.
func (b *Backend) Messages(chatID int64) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for k := range b.messages {
		if k.chat == chatID {
			n++
		}
	}
	return n
}

func (b *Backend) SetMember(chatID, userID int64, member bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.members[chatID] == nil {
		b.members[chatID] = make(map[int64]bool)
	}
	b.members[chatID][userID] = member
}

func fileID(session, uid string) string { return session + ":" + uid }

// Client is one fake session. Faults are injected per client.
type Client struct {
	name string
	b    *Backend

	mu        sync.Mutex
	faults    []error
	fetchHook func(offset int64) error
	delay     time.Duration
	maxRead   int
	authErr   error

	fetches     atomic.Int64
	memberCalls atomic.Int64
	sends       atomic.Int64
}

var _ backend.Client = (*Client)(nil)

func (c *Client) Name() string { return c.name }

// FailNext makes the next len(errs) calls of any kind fail in order.
func (c *Client) FailNext(errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.faults = append(c.faults, errs...)
}

// SetFetchHook installs a function consulted before every chunk read; a
// non-nil result fails that read.
func (c *Client) SetFetchHook(fn func(offset int64) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetchHook = fn
}

// SetDelay makes every chunk read take at least d.
func (c *Client) SetDelay(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delay = d
}

// SetMaxRead caps how many bytes a single chunk read returns.
func (c *Client) SetMaxRead(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxRead = n
}

func (c *Client) SetAuthError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authErr = err
}

func (c *Client) Fetches() int64     { return c.fetches.Load() }
func (c *Client) MemberCalls() int64 { return c.memberCalls.Load() }
func (c *Client) Sends() int64       { return c.sends.Load() }

func (c *Client) popFault() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.faults) == 0 {
		return nil
	}
	err := c.faults[0]
	c.faults = c.faults[1:]
	return err
}

func (c *Client) Authenticate(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authErr
}

func (c *Client) SendFile(ctx context.Context, chatID int64, upload backend.Upload) (backend.Message, error) {
	c.sends.Add(1)
	if err := ctx.Err(); err != nil {
		return backend.Message{}, err
	}
	if err := c.popFault(); err != nil {
		return backend.Message{}, err
	}
	data, err := io.ReadAll(upload.Reader)
	if err != nil {
		return backend.Message{}, err
	}
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	return c.b.putLocked(chatID, c.name, upload.Name, upload.MimeType, data), nil
}

func (c *Client) ForwardMessage(ctx context.Context, toChatID, fromChatID int64, messageID int) (backend.Message, error) {
	c.sends.Add(1)
	if err := ctx.Err(); err != nil {
		return backend.Message{}, err
	}
	if err := c.popFault(); err != nil {
		return backend.Message{}, err
	}
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	uid, ok := c.b.messages[msgKey{chat: fromChatID, id: messageID}]
	if !ok {
		return backend.Message{}, fmt.Errorf("forward %d/%d: %w", fromChatID, messageID, backend.ErrObjectUnavailable)
	}
	if _, ok := c.b.files[uid]; !ok {
		return backend.Message{}, backend.ErrNoFile
	}
	return c.b.linkLocked(toChatID, c.name, uid), nil
}

func (c *Client) FetchChunk(ctx context.Context, ref backend.ObjectRef, offset int64, limit int) ([]byte, error) {
	c.fetches.Add(1)
	c.mu.Lock()
	delay, hook, maxRead := c.delay, c.fetchHook, c.maxRead
	c.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := c.popFault(); err != nil {
		return nil, err
	}
	if hook != nil {
		if err := hook(offset); err != nil {
			return nil, err
		}
	}

	c.b.mu.Lock()
	f, ok := c.b.files[ref.FileUniqueID]
	c.b.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("fetch %s: %w", ref.FileUniqueID, backend.ErrObjectUnavailable)
	}
	if offset >= int64(len(f.data)) {
		return nil, nil
	}
	end := offset + int64(limit)
	if maxRead > 0 && end > offset+int64(maxRead) {
		end = offset + int64(maxRead)
	}
	if end > int64(len(f.data)) {
		end = int64(len(f.data))
	}
	return append([]byte(nil), f.data[offset:end]...), nil
}

func (c *Client) IsMember(ctx context.Context, chatID, userID int64) (bool, error) {
	c.memberCalls.Add(1)
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := c.popFault(); err != nil {
		return false, err
	}
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	return c.b.members[chatID][userID], nil
}
