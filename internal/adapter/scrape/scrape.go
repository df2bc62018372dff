// Package scrape reads the running donation total from the fundraising page.
package scrape

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/jonboulle/clockwork"
	"github.com/phixarhasse/musikhjaelpen-alert/internal/domain"
	"github.com/phixarhasse/musikhjaelpen-alert/internal/platform/retry"
)

const (
	DefaultAmountSelector  = ".entry-amount-module--amount--5ecff"
	DefaultSpinnerSelector = ".entry-amount-module--spinnerWrapper--70e75"
	DefaultUserAgent       = "musikhjaelpen-alert/1.0"
	DefaultTimeout         = 30 * time.Second
	DefaultLoadWait        = 30 * time.Second
	DefaultRetryInterval   = time.Second
)

// Config selects the page and elements to read. LoadWait bounds how long a
// page showing the loading spinner is re-fetched.
type Config struct {
	URL             string
	AmountSelector  string
	SpinnerSelector string
	UserAgent       string
	Timeout         time.Duration
	LoadWait        time.Duration
	RetryInterval   time.Duration
}

// Client implements domain.TotalSource over plain HTTP.
type Client struct {
	http  *http.Client
	clock clockwork.Clock
	cfg   Config
}

var _ domain.TotalSource = (*Client)(nil)

func New(cfg Config, clock clockwork.Clock) *Client {
	if cfg.AmountSelector == "" {
		cfg.AmountSelector = DefaultAmountSelector
	}
	if cfg.SpinnerSelector == "" {
		cfg.SpinnerSelector = DefaultSpinnerSelector
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.LoadWait <= 0 {
		cfg.LoadWait = DefaultLoadWait
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	return &Client{
		http:  &http.Client{Timeout: cfg.Timeout},
		clock: clock,
		cfg:   cfg,
	}
}

// CurrentText returns the trimmed text of the amount element. While the page
// only shows its loading spinner it is fetched again every RetryInterval,
// for at most LoadWait.
func (c *Client) CurrentText(ctx context.Context) (string, error) {
	deadline := c.clock.Now().Add(c.cfg.LoadWait)

	for {
		doc, err := c.fetch(ctx)
		if err != nil {
			return "", err
		}

		if text := strings.TrimSpace(doc.Find(c.cfg.AmountSelector).First().Text()); text != "" {
			return text, nil
		}
		if doc.Find(c.cfg.SpinnerSelector).Length() == 0 {
			return "", fmt.Errorf("%w: no element matches %q", domain.ErrTotalUnavailable, c.cfg.AmountSelector)
		}
		if !c.clock.Now().Before(deadline) {
			return "", fmt.Errorf("%w: page still loading after %s", domain.ErrTotalUnavailable, c.cfg.LoadWait)
		}

		if err := retry.Sleep(ctx, c.clock, c.cfg.RetryInterval); err != nil {
			return "", err
		}
	}
}

func (c *Client) fetch(ctx context.Context) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching page: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parsing HTML: %w", err)
	}
	return doc, nil
}
