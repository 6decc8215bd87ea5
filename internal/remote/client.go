package remote

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/CharanSaiVaddi/blockctl/internal/job"
)

const maxBodyBytes = 4 << 20

type Config struct {
	BaseURL     string
	ProfilePath string
	AuthCookie  string
	UserAgent   string
	HTTPClient  *http.Client
}

// Client talks to the forum. It implements the list fetcher, the user
// resolver and the individual action calls.
type Client struct {
	base        *url.URL
	profilePath string
	cookie      string
	userAgent   string
	http        *http.Client
	log         logrus.FieldLogger

	// fallback profile-link patterns, most to least strict
	scanPatterns []*regexp.Regexp
}

func NewClient(cfg Config, log logrus.FieldLogger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", cfg.BaseURL)
	}
	profilePath := cfg.ProfilePath
	if profilePath == "" {
		profilePath = "/u/"
	}
	if !strings.HasPrefix(profilePath, "/") {
		profilePath = "/" + profilePath
	}
	if !strings.HasSuffix(profilePath, "/") {
		profilePath += "/"
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	p := regexp.QuoteMeta(profilePath)
	host := regexp.QuoteMeta(base.Host)
	scan := []*regexp.Regexp{
		regexp.MustCompile(`href\s*=\s*["']([^"']*` + p + `[^"'/?#\s]+)/?["']`),
		regexp.MustCompile(`https?://` + host + p + `[^\s"'<>/?#,;()\\]+`),
		regexp.MustCompile(`(?i)` + p + `[^\s"'<>/?#,;()\\]+`),
	}
	return &Client{
		base:         base,
		profilePath:  profilePath,
		cookie:       cfg.AuthCookie,
		userAgent:    cfg.UserAgent,
		http:         hc,
		log:          log,
		scanPatterns: scan,
	}, nil
}

// Act mutes or blocks an account.
func (c *Client) Act(ctx context.Context, accountID string, mode job.Mode) error {
	return c.post(ctx, "act", "/api/users/"+url.PathEscape(accountID)+"/"+mode.String(), nil)
}

func (c *Client) BlockThreads(ctx context.Context, accountID string) error {
	return c.post(ctx, "block-threads", "/api/users/"+url.PathEscape(accountID)+"/block-threads", nil)
}

// Annotate attaches a moderation note to the account.
func (c *Client) Annotate(ctx context.Context, username, accountID, note string) error {
	form := url.Values{"note": {note}, "user_id": {accountID}}
	return c.post(ctx, "annotate", "/api/users/"+url.PathEscape(username)+"/note", form)
}

func (c *Client) get(ctx context.Context, rawURL string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, nil, err
	}
	c.decorate(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

func (c *Client) post(ctx context.Context, step, path string, form url.Values) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base.String()+path, body)
	if err != nil {
		return &ActionError{Step: step, Err: err}
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	c.decorate(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return &ActionError{Step: step, Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &ActionError{Step: step, Status: resp.StatusCode}
	}
	return nil
}

func (c *Client) decorate(req *http.Request) {
	if c.cookie != "" {
		req.Header.Set("Cookie", c.cookie)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
}
