// Package links builds the public URLs handed out for stored files.
package links

import (
	"net/url"
	"strings"
	"time"

	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/auth"
)

// Links are the two public URLs of one stored file.
type Links struct {
	Watch    string `json:"watch"`
	Download string `json:"download"`
}

type Builder struct {
	base   string
	secret string
	ttl    time.Duration
	sign   bool
}

// NewBuilder returns a builder rooted at base. When sign is set, links carry
// a sig parameter naming the requester so the HTTP side can apply the same
// policy as the bot.
func NewBuilder(base, secret string, ttl time.Duration, sign bool) *Builder {
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return &Builder{base: base, secret: secret, ttl: ttl, sign: sign}
}

func (b *Builder) Base() string { return b.base }

// For returns the links of token as issued to requester.
func (b *Builder) For(token string, requester int64) (Links, error) {
	escaped := url.PathEscape(token)
	out := Links{
		Watch:    b.base + "watch/" + escaped,
		Download: b.base + "dl/" + escaped,
	}
	if !b.sign || requester == 0 {
		return out, nil
	}
	sig, err := auth.SignLink(requester, token, b.secret, b.ttl)
	if err != nil {
		return Links{}, err
	}
	q := "?" + url.Values{"sig": {sig}}.Encode()
	out.Watch += q
	out.Download += q
	return out, nil
}
