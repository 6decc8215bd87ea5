package remote

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"github.com/CharanSaiVaddi/blockctl/internal/job"
)

var accountIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`data-user-id\s*=\s*["']?(\d+)`),
	regexp.MustCompile(`"user_?[iI]d"\s*:\s*"?(\d+)`),
	regexp.MustCompile(`/api/users/(\d+)/`),
	regexp.MustCompile(`(?i)user[-_ ]?id\D{0,4}(\d+)`),
}

// Resolve fetches a profile page and returns the account id the action
// endpoints expect.
func (c *Client) Resolve(ctx context.Context, targetURL string) (string, error) {
	username := job.DeriveUsername(targetURL)
	status, body, err := c.get(ctx, targetURL)
	if err != nil {
		return "", &ActionError{Step: "resolve", Err: err}
	}
	if status == http.StatusNotFound || status == http.StatusGone {
		return "", fmt.Errorf("%s: %w", username, ErrUserNotFound)
	}
	if status < 200 || status > 299 {
		return "", &ActionError{Step: "resolve", Status: status}
	}

	if id := accountIDFromDocument(body); id != "" {
		return id, nil
	}
	for _, re := range accountIDPatterns {
		if m := re.FindSubmatch(body); m != nil {
			return string(m[1]), nil
		}
	}
	if id := scanUID(string(body)); id != "" {
		return id, nil
	}
	return "", fmt.Errorf("%s: %w", username, ErrProfileParse)
}

func accountIDFromDocument(body []byte) string {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	var id string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if id != "" {
			return
		}
		if n.Type == html.ElementNode {
			var metaName, metaContent string
			for _, a := range n.Attr {
				switch {
				case a.Key == "data-user-id" && isDigits(a.Val):
					id = a.Val
					return
				case n.Data == "meta" && a.Key == "name":
					metaName = a.Val
				case n.Data == "meta" && a.Key == "content":
					metaContent = a.Val
				}
			}
			if metaName == "user-id" && isDigits(metaContent) {
				id = metaContent
				return
			}
		}
		for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
			walk(ch)
		}
	}
	walk(doc)
	return id
}

// scanUID is the last resort: the first run of digits following "uid=".
func scanUID(s string) string {
	for {
		i := strings.Index(s, "uid=")
		if i < 0 {
			return ""
		}
		s = s[i+len("uid="):]
		end := 0
		for end < len(s) && s[end] >= '0' && s[end] <= '9' {
			end++
		}
		if end > 0 {
			return s[:end]
		}
	}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
