package policy

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	originalURLParam = "originalUrl"
	timestampParam   = "timestamp"
)

// BlockPage builds and recognises block-page addresses of the form
// <base>?originalUrl=<escaped>&timestamp=<epoch-ms>.
type BlockPage struct {
	base string
}

// NewBlockPage validates base and returns a BlockPage for it.
func NewBlockPage(base string) (BlockPage, error) {
	u, err := url.Parse(base)
	if err != nil {
		return BlockPage{}, fmt.Errorf("invalid block page base: %w", err)
	}
	if u.Scheme == "" || (u.Host == "" && u.Scheme != "file") {
		return BlockPage{}, fmt.Errorf("invalid block page base %q: want an absolute URL", base)
	}
	if u.RawQuery != "" || u.Fragment != "" || u.ForceQuery {
		return BlockPage{}, fmt.Errorf("invalid block page base %q: must not carry a query or fragment", base)
	}
	// Browsers report "http://host" as "http://host/" and lower-case the
	// scheme and host. Only a base they echo back byte for byte can be
	// recognised by prefix.
	if u.Path == "" || u.Path == "/" {
		return BlockPage{}, fmt.Errorf("invalid block page base %q: needs a path such as /blocked", base)
	}
	if u.Scheme != strings.ToLower(u.Scheme) || u.Host != strings.ToLower(u.Host) {
		return BlockPage{}, fmt.Errorf("invalid block page base %q: scheme and host must be lower case", base)
	}
	if u.String() != base {
		return BlockPage{}, fmt.Errorf("invalid block page base %q: not in canonical form %q", base, u.String())
	}
	return BlockPage{base: base}, nil
}

// Base returns the configured prefix.
func (p BlockPage) Base() string { return p.base }

// Address returns the block-page URL carrying original.
// The timestamp only defeats caching and is never read back.
func (p BlockPage) Address(original string, now time.Time) string {
	return p.base + "?" + originalURLParam + "=" + url.QueryEscape(original) +
		"&" + timestampParam + "=" + strconv.FormatInt(now.UnixMilli(), 10)
}

// IsBlockPage reports whether rawURL is an address on this block page.
// The check is a byte prefix match on the base followed by a query,
// fragment, or nothing.
func (p BlockPage) IsBlockPage(rawURL string) bool {
	if p.base == "" || !strings.HasPrefix(rawURL, p.base) {
		return false
	}
	rest := rawURL[len(p.base):]
	return rest == "" || rest[0] == '?' || rest[0] == '#'
}

// Original decodes the URL a block-page address was created for.
func (p BlockPage) Original(rawURL string) (string, bool) {
	if !p.IsBlockPage(rawURL) {
		return "", false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	original := u.Query().Get(originalURLParam)
	if original == "" {
		return "", false
	}
	return original, true
}
