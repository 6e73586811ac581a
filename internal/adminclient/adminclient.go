// Package adminclient implements the outbound HTTP client used by both
// tiers to talk to the external configuration/admin API: router and edge
// discovery, application settings, and status/performance reporting.
package adminclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const basePath = "internal-server-to-server/v1/"

// Client is a retrying HTTP client against the admin API.
type Client struct {
	baseURL    string
	secret     string
	httpClient *http.Client
	maxElapsed time.Duration
}

// New constructs a Client against baseURL, authenticating with secret via
// X-CHAT-INTERNAL-SECRET.
func New(baseURL, secret string, maxElapsed time.Duration) *Client {
	return &Client{
		baseURL:    baseURL,
		secret:     secret,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		maxElapsed: maxElapsed,
	}
}

// ChatServerEntry is one entry of GET chat-server/.
type ChatServerEntry struct {
	Identifier string `json:"identifier"`
	Instances  int    `json:"instances"`
}

// ChatCentralRouterEntry is one entry of GET chat-central-router/.
type ChatCentralRouterEntry struct {
	Identifier string `json:"identifier"`
	PublicIP   string `json:"public_ip"`
}

// ApplicationEntry is one entry of GET applications/.
type ApplicationEntry struct {
	Identifier               string `json:"identifier"`
	IsChatActive             bool   `json:"is_chat_active"`
	MaxConcurrentOnlineUsers int    `json:"max_concurrent_online_users"`
	FirebaseServerKey        string `json:"firebase_server_key"`
}

type applicationsResponse struct {
	Results []ApplicationEntry `json:"results"`
}

// ExpectedEdgeCount fetches GET chat-server/ and returns the CR's
// startup barrier count: the sum of every entry's instances.
func (c *Client) ExpectedEdgeCount(ctx context.Context) (int, error) {
	var entries []ChatServerEntry
	if err := c.getJSON(ctx, "chat-server/", &entries); err != nil {
		return 0, err
	}
	total := 0
	for _, e := range entries {
		total += e.Instances
	}
	return total, nil
}

// Routers fetches GET chat-central-router/, the ES's router discovery
// set.
func (c *Client) Routers(ctx context.Context) ([]ChatCentralRouterEntry, error) {
	var entries []ChatCentralRouterEntry
	if err := c.getJSON(ctx, "chat-central-router/", &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Applications fetches GET applications/.
func (c *Client) Applications(ctx context.Context) ([]ApplicationEntry, error) {
	var resp applicationsResponse
	if err := c.getJSON(ctx, "applications/", &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// StatusReport is the body of POST chat-server-status/report-status/.
type StatusReport struct {
	Identifier            string         `json:"identifier"`
	ConnectedClientsCount int            `json:"connected_clients_count"`
	ApplicationData       map[string]any `json:"application_data"`
}

// ReportStatus posts the periodic status ping.
func (c *Client) ReportStatus(ctx context.Context, report StatusReport) error {
	return c.postJSON(ctx, "chat-server-status/report-status/", report)
}

// PerformanceReport is the body of POST chat-server-status/report-performance/.
type PerformanceReport struct {
	Identifier      string         `json:"identifier"`
	TimestampFrom   string         `json:"timestamp_from"`
	TimestampTo     string         `json:"timestamp_to"`
	PerformanceData map[string]any `json:"performance_data"`
}

// ReportPerformance posts the periodic performance ping. Timestamps must
// be ISO-8601 with microseconds and a Z suffix; see FormatTimestamp.
func (c *Client) ReportPerformance(ctx context.Context, report PerformanceReport) error {
	return c.postJSON(ctx, "chat-server-status/report-performance/", report)
}

// FormatTimestamp renders t as ISO-8601 with microsecond precision and a
// trailing Z, matching the admin API's expected format.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000Z")
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	return c.retry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+basePath+path, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("X-CHAT-INTERNAL-SECRET", c.secret)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("adminclient: GET %s: %s", path, resp.Status)
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(fmt.Errorf("adminclient: GET %s: %s", path, resp.Status))
		}

		return json.NewDecoder(resp.Body).Decode(out)
	})
}

func (c *Client) postJSON(ctx context.Context, path string, body any) error {
	return c.retry(ctx, func() error {
		b, err := json.Marshal(body)
		if err != nil {
			return backoff.Permanent(err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+basePath+path, bytes.NewReader(b))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("X-CHAT-INTERNAL-SECRET", c.secret)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)

		if resp.StatusCode >= 500 {
			return fmt.Errorf("adminclient: POST %s: %s", path, resp.Status)
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(fmt.Errorf("adminclient: POST %s: %s", path, resp.Status))
		}
		return nil
	})
}

func (c *Client) retry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxElapsedTime = c.maxElapsed
	return backoff.Retry(op, backoff.WithContext(b, ctx))
}
