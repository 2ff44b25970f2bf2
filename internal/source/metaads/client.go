// Package metaads pulls advertising performance data from the Meta Graph
// API: per-ad daily insights, paginated and optionally chunked over a date
// range, plus the account's custom conversion definitions.
//
// Responses are decoded with json.Number preserved, so integer metrics the
// API reports as quoted strings survive untouched for downstream
// validation.
package metaads

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"strings"
	"time"

	"adsync/internal/source/httpds"
	"adsync/pkg/records"
)

// DefaultBaseURL is the Graph API endpoint, pinned to a known-good version.
const DefaultBaseURL = "https://graph.facebook.com/v18.0"

// ErrPartialFetch marks a ranged fetch that skipped one or more chunks.
// The records that were fetched are still returned alongside it.
var ErrPartialFetch = errors.New("some chunks could not be fetched")

// APIError is the Graph API's structured error envelope.
type APIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
	Subcode int    `json:"error_subcode"`
	TraceID string `json:"fbtrace_id"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (code %d): %s", e.Type, e.Code, e.Message)
}

// CustomConversion is one custom conversion definition of an ad account.
type CustomConversion struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	CustomEventType string `json:"custom_event_type"`
}

// ActionType returns the action_type code under which this conversion's
// results appear in insights action groups.
func (c CustomConversion) ActionType() string {
	return "offsite_conversion.custom." + c.ID
}

// Config configures the Graph API client.
type Config struct {
	// BaseURL overrides DefaultBaseURL, primarily for tests.
	BaseURL string

	// AccessToken is the system-user token sent with every request.
	AccessToken string

	// Fields is the insights field list to request. Empty sends no fields
	// parameter, leaving the API's default field set.
	Fields []string

	// PageLimit is the per-page row limit, 500 by default.
	PageLimit int

	// ChunkDays is the window width for ranged fetches, 7 by default and
	// never below 2. Consecutive chunks share a boundary day so that rows
	// the API attributes to either side of the cut are not lost; the
	// duplicates are removed with Dedupe afterwards.
	ChunkDays int

	// ChunkDelay is the pause between chunk requests, rate-limit friendly.
	ChunkDelay time.Duration
}

// Client fetches insights and custom conversions for ad accounts.
type Client struct {
	http       *httpds.Client
	baseURL    string
	token      string
	fields     string
	pageLimit  int
	chunkDays  int
	chunkDelay time.Duration

	// sleep is injectable to make tests fast and deterministic.
	sleep func(time.Duration)
}

// NewClient builds a Client on top of the retrying HTTP layer.
func NewClient(hc *httpds.Client, cfg Config) (*Client, error) {
	if hc == nil {
		return nil, fmt.Errorf("metaads: nil http client")
	}
	if cfg.AccessToken == "" {
		return nil, fmt.Errorf("metaads: access token must be set")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = 500
	}
	if cfg.ChunkDays < 2 {
		cfg.ChunkDays = 7
	}
	return &Client{
		http:       hc,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.AccessToken,
		fields:     strings.Join(cfg.Fields, ","),
		pageLimit:  cfg.PageLimit,
		chunkDays:  cfg.ChunkDays,
		chunkDelay: cfg.ChunkDelay,
		sleep:      time.Sleep,
	}, nil
}

// page is the Graph API list envelope.
type page struct {
	Data   []records.Record `json:"data"`
	Paging struct {
		Next string `json:"next"`
	} `json:"paging"`
}

// Insights fetches the last 30 days of per-ad daily metrics for the
// account, following pagination until exhausted.
func (c *Client) Insights(ctx context.Context, accountID string) ([]records.Record, error) {
	params := c.insightsParams()
	params.Set("date_preset", "last_30d")
	return c.fetchAll(ctx, c.accountURL(accountID, "insights", params))
}

// InsightsRange fetches per-ad daily metrics for [start, end] in chunks of
// ChunkDays, pausing ChunkDelay between chunk requests. A chunk that fails
// is logged and skipped; if any were skipped the fetched records are
// returned together with ErrPartialFetch.
func (c *Client) InsightsRange(ctx context.Context, accountID string, start, end time.Time) ([]records.Record, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("metaads: range end %s before start %s",
			end.Format("2006-01-02"), start.Format("2006-01-02"))
	}

	var out []records.Record
	var skipped []string

	cur := start
	for {
		chunkEnd := cur.AddDate(0, 0, c.chunkDays-1)
		if chunkEnd.After(end) {
			chunkEnd = end
		}

		params := c.insightsParams()
		params.Set("time_range", fmt.Sprintf(`{"since":"%s","until":"%s"}`,
			cur.Format("2006-01-02"), chunkEnd.Format("2006-01-02")))

		recs, err := c.fetchAll(ctx, c.accountURL(accountID, "insights", params))
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			label := cur.Format("2006-01-02") + ".." + chunkEnd.Format("2006-01-02")
			log.Printf("metaads: account %s: chunk %s failed, skipping: %v", accountID, label, err)
			skipped = append(skipped, label)
		} else {
			out = append(out, recs...)
		}

		if !chunkEnd.Before(end) {
			break
		}
		// Advance by ChunkDays-1 so the next chunk starts on this chunk's
		// last day.
		cur = cur.AddDate(0, 0, c.chunkDays-1)

		if err := c.pause(ctx); err != nil {
			return out, err
		}
	}

	if len(skipped) > 0 {
		return out, fmt.Errorf("%w: account %s: %s", ErrPartialFetch, accountID, strings.Join(skipped, ", "))
	}
	return out, nil
}

// CustomConversions lists the account's custom conversion definitions.
func (c *Client) CustomConversions(ctx context.Context, accountID string) ([]CustomConversion, error) {
	params := url.Values{}
	params.Set("access_token", c.token)
	params.Set("fields", "id,name,custom_event_type")

	var out []CustomConversion
	next := c.accountURL(accountID, "customconversions", params)
	for next != "" {
		body, err := c.http.Fetch(ctx, next, nil)
		if err != nil {
			return nil, fmt.Errorf("metaads: custom conversions of %s: %w", accountID, apiError(err))
		}
		var pg struct {
			Data   []CustomConversion `json:"data"`
			Paging struct {
				Next string `json:"next"`
			} `json:"paging"`
		}
		if err := json.Unmarshal(body, &pg); err != nil {
			return nil, fmt.Errorf("metaads: decode custom conversions of %s: %w", accountID, err)
		}
		out = append(out, pg.Data...)
		next = pg.Paging.Next
	}
	return out, nil
}

// fetchAll follows paging.next until the listing is exhausted.
func (c *Client) fetchAll(ctx context.Context, u string) ([]records.Record, error) {
	var out []records.Record
	for u != "" {
		pg, err := c.fetchPage(ctx, u)
		if err != nil {
			return nil, err
		}
		out = append(out, pg.Data...)
		u = pg.Paging.Next
	}
	return out, nil
}

func (c *Client) fetchPage(ctx context.Context, u string) (*page, error) {
	body, err := c.http.Fetch(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("metaads: fetch: %w", apiError(err))
	}

	var pg page
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&pg); err != nil {
		return nil, fmt.Errorf("metaads: decode page: %w", err)
	}
	return &pg, nil
}

func (c *Client) insightsParams() url.Values {
	params := url.Values{}
	params.Set("access_token", c.token)
	params.Set("level", "ad")
	params.Set("time_increment", "1")
	params.Set("limit", strconv.Itoa(c.pageLimit))
	if c.fields != "" {
		params.Set("fields", c.fields)
	}
	return params
}

func (c *Client) accountURL(accountID, edge string, params url.Values) string {
	id := strings.TrimPrefix(accountID, "act_")
	return fmt.Sprintf("%s/act_%s/%s?%s", c.baseURL, id, edge, params.Encode())
}

// pause waits ChunkDelay between chunk requests, aborting on cancellation.
func (c *Client) pause(ctx context.Context) error {
	if c.chunkDelay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(c.chunkDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		c.sleep(0)
		return nil
	}
}

// apiError unwraps a StatusError into the platform's error envelope when
// one is present.
func apiError(err error) error {
	var se *httpds.StatusError
	if !errors.As(err, &se) {
		return err
	}
	var envelope struct {
		Error *APIError `json:"error"`
	}
	if jerr := json.Unmarshal(se.Body, &envelope); jerr == nil && envelope.Error != nil {
		return envelope.Error
	}
	return err
}
