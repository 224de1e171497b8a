// Package sink writes weekly progress records to a Notion database. The
// upsert is keyed by the week label: an existing page for the week is
// patched, otherwise a page is created. Sink failures never touch the
// canonical store.
package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// WeeklyProgress is the canonical record the sink accepts.
type WeeklyProgress struct {
	WeekLabel     string
	Status        string
	Goal          string
	Notes         string
	ActionItems   []string
	DistanceKm    float64
	SessionsCount int
	NextFocus     string
	WeekStartDate string // YYYY-MM-DD, optional
}

type Options struct {
	BaseURL    string
	Token      string
	DatabaseID string
	APIVersion string
	HTTPClient *http.Client
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

type Client struct {
	baseURL    string
	token      string
	databaseID string
	apiVersion string
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

func NewClient(opts Options) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.notion.com"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	apiVersion := strings.TrimSpace(opts.APIVersion)
	if apiVersion == "" {
		apiVersion = "2022-06-28"
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		token:      opts.Token,
		databaseID: opts.DatabaseID,
		apiVersion: apiVersion,
		httpClient: httpClient,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
	}
}

// UpsertWeek writes one progress record, keyed by the week label. Repeating
// the call with the same record converges on the same page.
func (c *Client) UpsertWeek(ctx context.Context, wp WeeklyProgress) error {
	if wp.WeekLabel == "" {
		return fmt.Errorf("sink: empty week label")
	}
	pageID, err := c.findPageByWeek(ctx, wp.WeekLabel)
	if err != nil {
		return err
	}

	props := buildProperties(wp)
	if pageID == "" {
		payload := map[string]any{
			"parent":     map[string]any{"database_id": c.databaseID},
			"properties": props,
		}
		_, err = c.do(ctx, http.MethodPost, "/v1/pages", payload)
		return err
	}
	payload := map[string]any{"properties": props}
	_, err = c.do(ctx, http.MethodPatch, "/v1/pages/"+pageID, payload)
	return err
}

func (c *Client) findPageByWeek(ctx context.Context, weekLabel string) (string, error) {
	payload := map[string]any{
		"filter": map[string]any{
			"property": "Week",
			"title":    map[string]any{"equals": weekLabel},
		},
		"page_size": 1,
	}
	body, err := c.do(ctx, http.MethodPost, "/v1/databases/"+c.databaseID+"/query", payload)
	if err != nil {
		return "", err
	}

	var parsed struct {
		Results []struct {
			ID string `json:"id"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("sink: decode query response: %w", err)
	}
	if len(parsed.Results) == 0 {
		return "", nil
	}
	return parsed.Results[0].ID, nil
}

// Status option names differ between the planning vocabulary and the Notion
// database; map the former onto the latter.
var statusNames = map[string]string{
	"Planning":    "Not started",
	"In Progress": "In progress",
	"Completed":   "Done",
}

func normalizeStatus(status string) string {
	if mapped, ok := statusNames[status]; ok {
		return mapped
	}
	return status
}

func buildProperties(wp WeeklyProgress) map[string]any {
	props := map[string]any{
		"Week": map[string]any{
			"title": []any{richText(wp.WeekLabel)},
		},
	}
	if wp.Status != "" {
		props["Status"] = map[string]any{
			"status": map[string]any{"name": normalizeStatus(wp.Status)},
		}
	}
	if wp.WeekStartDate != "" {
		props["Date"] = map[string]any{
			"date": map[string]any{"start": wp.WeekStartDate},
		}
	}
	if wp.Goal != "" {
		props["Weekly Goal"] = map[string]any{"rich_text": []any{richText(wp.Goal)}}
	}
	if wp.Notes != "" {
		props["Progress Notes"] = map[string]any{"rich_text": []any{richText(wp.Notes)}}
	}
	if len(wp.ActionItems) > 0 {
		items := make([]any, 0, len(wp.ActionItems))
		for _, item := range wp.ActionItems {
			items = append(items, map[string]any{"name": item})
		}
		props["Action Items"] = map[string]any{"multi_select": items}
	}
	props["Distance This Week"] = map[string]any{"number": wp.DistanceKm}
	props["Sessions This Week"] = map[string]any{"number": wp.SessionsCount}
	if wp.NextFocus != "" {
		props["Next Week Focus"] = map[string]any{"rich_text": []any{richText(wp.NextFocus)}}
	}
	return props
}

func richText(content string) map[string]any {
	return map[string]any{"text": map[string]any{"content": content}}
}

func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	correlationID := "wk_" + uuid.NewString()

	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(bodyBytes))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Notion-Version", c.apiVersion)
		req.Header.Set("X-Correlation-Id", correlationID)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries {
				if waitErr := c.sleep(ctx, attempt+1, ""); waitErr != nil {
					return nil, waitErr
				}
				continue
			}
			return nil, err
		}

		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, readErr
		}
		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			return respBody, nil
		}

		if (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500) && attempt < c.maxRetries {
			if waitErr := c.sleep(ctx, attempt+1, resp.Header.Get("Retry-After")); waitErr != nil {
				return nil, waitErr
			}
			continue
		}

		return nil, fmt.Errorf("sink: %s %s failed: status=%d message=%s",
			method, path, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
}

func (c *Client) sleep(ctx context.Context, attempt int, retryAfterHeader string) error {
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			delay = c.maxDelay
			break
		}
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(retryAfterHeader)); err == nil && secs > 0 {
		parsed := time.Duration(secs) * time.Second
		if parsed < c.maxDelay {
			delay = parsed
		} else {
			delay = c.maxDelay
		}
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}
