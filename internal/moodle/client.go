// Package moodle talks to a Moodle instance the way a browser does: form
// login, session cookies, and HTML pages. There is no web-service API on the
// instances this module targets, so everything goes through the regular
// report and review pages.
package moodle

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/quizpulse/quizpulse/internal/model"
)

const defaultTimeout = 40 * time.Second

// userAgent identifies as a desktop browser; some Moodle themes serve
// reduced markup to unknown agents.
const userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"

// Client is an HTTP session against one Moodle instance. The zero value is
// not usable; construct with NewClient. Safe for concurrent use after Login.
type Client struct {
	http     *http.Client
	baseURL  string
	username string
	password string
	loggedIn bool
}

// NewClient builds a client from scraping configuration. No request is made
// until Login or FetchDocument is called.
func NewClient(cfg model.QuizConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("moodle base URL is required")
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	timeout := cfg.FetchTimeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		http:     &http.Client{Jar: jar, Timeout: timeout},
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		username: cfg.Username,
		password: cfg.Password,
	}, nil
}

// Login runs the standard Moodle form flow: fetch the login page, read the
// logintoken hidden field, post the credentials. Moodle answers a successful
// login with a page that embeds a sesskey; its absence means rejection.
func (c *Client) Login(ctx context.Context) error {
	loginURL := c.baseURL + "/login/index.php"

	doc, err := c.FetchDocument(ctx, loginURL)
	if err != nil {
		return fmt.Errorf("fetch login page: %w", err)
	}
	token, ok := doc.Find(`input[name="logintoken"]`).First().Attr("value")
	if !ok {
		return fmt.Errorf("login page has no logintoken field")
	}

	form := url.Values{}
	form.Set("username", c.username)
	form.Set("password", c.password)
	form.Set("logintoken", token)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, loginURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Referer", loginURL)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post login: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read login response: %w", err)
	}
	if !strings.Contains(string(body), "sesskey") {
		return fmt.Errorf("login rejected for %q", c.username)
	}
	c.loggedIn = true
	return nil
}

// LoggedIn reports whether a Login has succeeded on this client.
func (c *Client) LoggedIn() bool { return c.loggedIn }

// FetchDocument GETs a page and parses it.
func (c *Client) FetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: status %d", pageURL, resp.StatusCode)
	}
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", pageURL, err)
	}
	return doc, nil
}

// OverviewURL is the quiz's overview report listing every enrolled attempt.
func (c *Client) OverviewURL(quizID string) string {
	return c.baseURL + "/mod/quiz/report.php?id=" + url.QueryEscape(quizID) +
		"&mode=overview&attempts=enrolled_with&onlygraded&onlyregraded&slotmarks=1"
}

// ResolveURL turns a possibly relative href from a scraped page into an
// absolute URL on this instance.
func (c *Client) ResolveURL(href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	return c.baseURL + "/" + strings.TrimLeft(href, "/")
}
