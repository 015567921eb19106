// Package studio implements livestream.Repository against the remote studio
// REST service.
package studio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/smazurov/livecast/internal/livestream"
	"github.com/smazurov/livecast/internal/logging"
	"github.com/smazurov/livecast/internal/metrics"
	"github.com/smazurov/livecast/internal/version"
)

// DefaultTimeout bounds a single studio request when no timeout is configured.
const DefaultTimeout = 10 * time.Second

// maxErrorBody caps how much of an error response is read for its message.
const maxErrorBody = 4 << 10

// Client is an HTTP client for the studio API. It keeps no state between
// calls and never retries.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

var _ livestream.Repository = (*Client)(nil)

// NewClient creates a new studio API client.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logging.GetLogger("studio"),
	}
}

// Fetch returns the podcast's stream, or nil if none exists.
func (c *Client) Fetch(ctx context.Context, podcastID string) (*livestream.LiveStream, error) {
	var rec StreamRecord
	found, err := c.do(ctx, "fetch", http.MethodGet, podcastPath(podcastID), nil, &rec, true)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return decodeStreamResponse(rec)
}

// Create creates the podcast's stream.
func (c *Client) Create(ctx context.Context, podcastID string, input livestream.CreateInput) (*livestream.LiveStream, error) {
	var rec StreamRecord
	if _, err := c.do(ctx, "create", http.MethodPost, podcastPath(podcastID), EncodeCreate(input), &rec, false); err != nil {
		return nil, err
	}
	return decodeStreamResponse(rec)
}

// Start requests the broadcast to start.
func (c *Client) Start(ctx context.Context, streamID string) (*livestream.LiveStream, error) {
	var rec StreamRecord
	if _, err := c.do(ctx, "start", http.MethodPost, streamPath(streamID, "start"), nil, &rec, false); err != nil {
		return nil, err
	}
	return decodeStreamResponse(rec)
}

// Stop requests the broadcast to stop.
func (c *Client) Stop(ctx context.Context, streamID string) (*livestream.LiveStream, error) {
	var rec StreamRecord
	if _, err := c.do(ctx, "stop", http.MethodPost, streamPath(streamID, "stop"), nil, &rec, false); err != nil {
		return nil, err
	}
	return decodeStreamResponse(rec)
}

// Status samples the stream's current status.
func (c *Client) Status(ctx context.Context, streamID string) (*livestream.StatusSnapshot, error) {
	var rec SnapshotRecord
	if _, err := c.do(ctx, "status", http.MethodGet, streamPath(streamID, "status"), nil, &rec, false); err != nil {
		return nil, err
	}
	snap, err := DecodeSnapshot(rec)
	if err != nil {
		return nil, livestream.TransportError("malformed response", err)
	}
	return snap, nil
}

// UpdatePreferences submits a partial preference update.
func (c *Client) UpdatePreferences(ctx context.Context, streamID string, patch livestream.PreferencesPatch) (*livestream.LiveStream, error) {
	var rec StreamRecord
	if _, err := c.do(ctx, "update_preferences", http.MethodPatch, streamPath(streamID, "preferences"), EncodePreferences(patch), &rec, false); err != nil {
		return nil, err
	}
	return decodeStreamResponse(rec)
}

func podcastPath(podcastID string) string {
	return "/v1/podcasts/" + url.PathEscape(podcastID) + "/live-stream"
}

func streamPath(streamID, action string) string {
	return "/v1/live-streams/" + url.PathEscape(streamID) + "/" + action
}

func decodeStreamResponse(rec StreamRecord) (*livestream.LiveStream, error) {
	s, err := DecodeStream(rec)
	if err != nil {
		return nil, livestream.TransportError("malformed response", err)
	}
	return s, nil
}

// do performs one request. When allowNotFound is set, a 404 reports
// found=false instead of an error.
func (c *Client) do(ctx context.Context, op, method, path string, body, out any, allowNotFound bool) (bool, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return false, livestream.NewError(livestream.ErrCodeValidation, "failed to encode request", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return false, livestream.TransportError("failed to build request", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.ObserveStudioRequest(op, 0, time.Since(start))
		c.logger.Debug("Studio request failed", "method", method, "path", path, "error", err)
		return false, livestream.TransportError(fmt.Sprintf("%s %s", method, path), err)
	}
	defer resp.Body.Close()

	metrics.ObserveStudioRequest(op, resp.StatusCode, time.Since(start))
	c.logger.Debug("Studio request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration", time.Since(start))

	if resp.StatusCode == http.StatusNotFound && allowNotFound {
		return false, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, statusError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, livestream.TransportError("malformed response", err)
	}
	return true, nil
}

// problem covers both RFC 9457 problem details and plain {"message"} bodies.
type problem struct {
	Title   string `json:"title"`
	Detail  string `json:"detail"`
	Message string `json:"message"`
	Errors  []struct {
		Message  string `json:"message"`
		Location string `json:"location"`
	} `json:"errors"`
}

func (p problem) text() string {
	msg := p.Detail
	if msg == "" {
		msg = p.Message
	}
	if msg == "" {
		msg = p.Title
	}
	if len(p.Errors) > 0 {
		details := make([]string, 0, len(p.Errors))
		for _, e := range p.Errors {
			if e.Location != "" {
				details = append(details, e.Location+": "+e.Message)
			} else {
				details = append(details, e.Message)
			}
		}
		msg = strings.TrimSpace(msg + " (" + strings.Join(details, "; ") + ")")
	}
	return msg
}

func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var p problem
	msg := ""
	if err := json.Unmarshal(raw, &p); err == nil {
		msg = p.text()
	}
	if msg == "" {
		msg = strings.TrimSpace(string(raw))
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	switch resp.StatusCode {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return livestream.NewError(livestream.ErrCodeValidation, msg, nil)
	case http.StatusConflict:
		return livestream.NewError(livestream.ErrCodeStateConflict, msg, nil)
	default:
		return livestream.TransportError(msg, errors.New(resp.Status))
	}
}
