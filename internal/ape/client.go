// Package ape is a minimal client for the Monkeytype "Ape" API results
// endpoint.
package ape

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/typesync/typesync/internal/fetch"
	"github.com/typesync/typesync/internal/results"
)

// DefaultBaseURL is the public Monkeytype API.
const DefaultBaseURL = "https://api.monkeytype.com"

// maxBodyBytes bounds a single page response.
const maxBodyBytes = 64 << 20

var (
	// ErrMissingKey is returned by NewClient when no Ape key is given.
	ErrMissingKey = errors.New("ape key is required")

	// ErrMalformed is returned when a response body is not the expected
	// {"data": [...]} document.
	ErrMalformed = errors.New("malformed API response")
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("API returned %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API returned %d", e.StatusCode)
}

// Options configures a Client.
type Options struct {
	BaseURL    string
	APEKey     string
	Timeout    time.Duration
	UserAgent  string
	HTTPClient *http.Client
}

// Client fetches pages of typing-test results.
type Client struct {
	baseURL   string
	apeKey    string
	userAgent string
	http      *http.Client
}

// NewClient creates a Client. BaseURL defaults to DefaultBaseURL and
// Timeout to 30 seconds.
func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APEKey) == "" {
		return nil, ErrMissingKey
	}

	base := strings.TrimSpace(opts.BaseURL)
	if base == "" {
		base = DefaultBaseURL
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	ua := strings.TrimSpace(opts.UserAgent)
	if ua == "" {
		ua = "typesync/1.0"
	}

	return &Client{
		baseURL:   strings.TrimRight(base, "/"),
		apeKey:    opts.APEKey,
		userAgent: ua,
		http:      httpClient,
	}, nil
}

// ResultsURL builds the request URL for one page.
func (c *Client) ResultsURL(req fetch.PageRequest) string {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(req.Limit))
	params.Set("offset", strconv.Itoa(req.Offset))
	if req.OnOrAfter != 0 {
		params.Set("onOrAfterTimestamp", strconv.FormatInt(req.OnOrAfter, 10))
	}
	return c.baseURL + "/results?" + params.Encode()
}

// FetchPage implements fetch.PageSource.
func (c *Client) FetchPage(ctx context.Context, req fetch.PageRequest) (*fetch.Page, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.ResultsURL(req), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "ApeKey "+c.apeKey)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			Message:    gjson.GetBytes(body, "message").String(),
		}
	}

	return ParsePage(body)
}

// ParsePage decodes a {"data": [...]} response body.
//
// A missing or null data field is an empty page, which ends pagination.
func ParsePage(body []byte) (*fetch.Page, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: invalid JSON", ErrMalformed)
	}
	doc := gjson.ParseBytes(body)
	if !doc.IsObject() {
		return nil, fmt.Errorf("%w: expected an object", ErrMalformed)
	}

	data := doc.Get("data")
	if !data.Exists() || data.Type == gjson.Null {
		return &fetch.Page{}, nil
	}
	if !data.IsArray() {
		return nil, fmt.Errorf("%w: data is not an array", ErrMalformed)
	}

	records, skipped, err := results.DecodeList([]byte(data.Raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	return &fetch.Page{
		Records: records,
		Size:    len(records) + len(skipped),
		Skipped: skipped,
	}, nil
}
