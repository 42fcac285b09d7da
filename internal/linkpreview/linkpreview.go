// Package linkpreview extracts OpenGraph metadata for links posted in chat.
package linkpreview

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"
)

const (
	// DefaultTimeout caps one preview fetch so chat delivery is never held up.
	DefaultTimeout = 4 * time.Second
	// maxBody limits how much of a page is read; only <head> matters.
	maxBody = 256 * 1024
	// maxRedirects is the number of redirects followed before giving up.
	maxRedirects = 3
)

var urlPattern = regexp.MustCompile(`https?://[^\s<>"]+`)

// ErrNoURL is returned when the text has nothing to preview.
var ErrNoURL = errors.New("no link in message")

// Preview holds metadata extracted from a web page.
type Preview struct {
	URL         string
	Title       string
	Description string
	Image       string
	SiteName    string
}

// Empty reports whether the page yielded no displayable metadata.
func (p Preview) Empty() bool {
	return p.Title == "" && p.Description == "" && p.Image == ""
}

// FirstURL returns the first http(s) URL in text, or "".
func FirstURL(text string) string {
	return urlPattern.FindString(text)
}

// Fetcher retrieves previews over HTTP.
type Fetcher struct {
	client *http.Client
}

// NewFetcher returns a Fetcher with the given per-request timeout.
func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Fetcher{client: &http.Client{
		Timeout: timeout,
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}}
}

// ForText previews the first link in a chat message.
func (f *Fetcher) ForText(ctx context.Context, text string) (Preview, error) {
	u := FirstURL(text)
	if u == "" {
		return Preview{}, ErrNoURL
	}
	return f.Fetch(ctx, u)
}

// Fetch downloads rawURL and extracts its metadata. Non-HTML responses yield a
// Preview carrying only the URL.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (Preview, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Preview{}, fmt.Errorf("build preview request: %w", err)
	}
	req.Header.Set("User-Agent", "huddle-linkpreview/1.0")
	req.Header.Set("Accept", "text/html")

	resp, err := f.client.Do(req)
	if err != nil {
		return Preview{}, fmt.Errorf("fetch preview: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Preview{}, fmt.Errorf("fetch preview: status %d", resp.StatusCode)
	}
	ct := resp.Header.Get("Content-Type")
	if !strings.Contains(ct, "text/html") && !strings.Contains(ct, "application/xhtml") {
		return Preview{URL: rawURL}, nil
	}
	return Parse(rawURL, io.LimitReader(resp.Body, maxBody)), nil
}

// Parse reads HTML from r and extracts OpenGraph tags, the description meta tag
// and <title>. Parsing stops at <body>.
func Parse(rawURL string, r io.Reader) Preview {
	p := Preview{URL: rawURL}
	z := html.NewTokenizer(r)
	var (
		inTitle bool
		title   strings.Builder
	)
	finish := func() Preview {
		if p.Title == "" {
			p.Title = strings.TrimSpace(title.String())
		}
		return p
	}

	for {
		switch z.Next() {
		case html.ErrorToken:
			return finish()

		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			switch string(name) {
			case "title":
				inTitle = true
			case "body":
				return finish()
			case "meta":
				if hasAttr {
					applyMeta(z, &p)
				}
			}

		case html.TextToken:
			if inTitle {
				title.Write(z.Text())
			}

		case html.EndTagToken:
			if name, _ := z.TagName(); string(name) == "title" {
				inTitle = false
			}
		}
	}
}

func applyMeta(z *html.Tokenizer, p *Preview) {
	var property, name, content string
	for {
		key, val, more := z.TagAttr()
		switch string(key) {
		case "property":
			property = string(val)
		case "name":
			name = string(val)
		case "content":
			content = string(val)
		}
		if !more {
			break
		}
	}
	if content == "" {
		return
	}

	switch property {
	case "og:title":
		p.Title = content
	case "og:description":
		p.Description = content
	case "og:image":
		p.Image = content
	case "og:site_name":
		p.SiteName = content
	}
	if name == "description" && p.Description == "" {
		p.Description = content
	}
}
