package remote

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/html"

	"github.com/CharanSaiVaddi/blockctl/internal/job"
)

// FetchTargets returns the deduplicated, ordered profile URLs of every
// account that favorited sourceID.
func (c *Client) FetchTargets(ctx context.Context, sourceID string) ([]string, error) {
	listURL := c.base.String() + "/p/" + url.PathEscape(sourceID) + "/favorites"
	status, body, err := c.get(ctx, listURL)
	if err != nil {
		return nil, &ListFetchError{SourceID: sourceID, Kind: ParseFailure, Err: err}
	}
	switch {
	case status == http.StatusNotFound:
		return nil, &ListFetchError{SourceID: sourceID, Kind: EntryNotFound}
	case status < 200 || status > 299:
		return nil, &ListFetchError{SourceID: sourceID, Kind: ParseFailure, Err: &ActionError{Step: "list", Status: status}}
	case len(bytes.TrimSpace(body)) == 0:
		return nil, &ListFetchError{SourceID: sourceID, Kind: ParseFailure}
	}

	targets := c.extractProfileLinks(body)
	if len(targets) == 0 {
		targets = c.scanProfileLinks(body)
		if len(targets) > 0 {
			c.log.WithFields(logrus.Fields{"source_id": sourceID, "count": len(targets)}).Debug("profile links recovered by text scan")
		}
	}
	if len(targets) == 0 {
		return nil, &ListFetchError{SourceID: sourceID, Kind: NoFavorites}
	}
	return targets, nil
}

// extractProfileLinks walks the parsed document for anchors pointing at
// profile pages.
func (c *Client) extractProfileLinks(body []byte) []string {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil
	}
	var hrefs []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, a := range n.Attr {
				if a.Key == "href" {
					hrefs = append(hrefs, a.Val)
				}
			}
		}
		for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
			walk(ch)
		}
	}
	walk(doc)
	return c.normalizeAll(hrefs)
}

// scanProfileLinks applies increasingly lenient patterns to the raw body and
// stops at the first one that yields anything.
func (c *Client) scanProfileLinks(body []byte) []string {
	text := string(body)
	for _, re := range c.scanPatterns {
		var found []string
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			found = append(found, m[len(m)-1])
		}
		if out := c.normalizeAll(found); len(out) > 0 {
			return out
		}
	}
	return nil
}

func (c *Client) normalizeAll(hrefs []string) []string {
	seen := make(map[string]struct{}, len(hrefs))
	out := make([]string, 0, len(hrefs))
	for _, h := range hrefs {
		u, ok := c.normalizeProfileURL(h)
		if !ok {
			continue
		}
		name := job.DeriveUsername(u)
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, u)
	}
	return out
}

// normalizeProfileURL resolves href against the forum base and accepts it
// only if it names exactly one profile on the forum's own host.
func (c *Client) normalizeProfileURL(href string) (string, bool) {
	href = html.UnescapeString(strings.TrimSpace(href))
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	abs := c.base.ResolveReference(ref)
	if !strings.EqualFold(abs.Host, c.base.Host) {
		return "", false
	}
	lowerPath := strings.ToLower(abs.Path)
	if !strings.HasPrefix(lowerPath, strings.ToLower(c.profilePath)) {
		return "", false
	}
	name := strings.Trim(abs.Path[len(c.profilePath):], "/")
	if name == "" || strings.Contains(name, "/") {
		return "", false
	}
	return c.base.Scheme + "://" + c.base.Host + c.profilePath + url.PathEscape(name), true
}
