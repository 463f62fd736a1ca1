package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// ErrNoItem is returned by Next when the daemon had nothing ready before the
// request deadline expired.
var ErrNoItem = errors.New("no item ready")

// StatusError carries the HTTP status and decoded message of a non-2xx reply.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s (http %d)", e.Message, e.Code)
	}
	return fmt.Sprintf("http %d", e.Code)
}

// Client talks to a running daemon over its HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a client for the given API address. A bare host:port is
// promoted to an http URL. Deadlines come from the per-call context.
func NewClient(addr string) *Client {
	base := strings.TrimRight(strings.TrimSpace(addr), "/")
	if base != "" && !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{baseURL: base, http: &http.Client{}}
}

// Health probes GET /healthz.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

// Status fetches the full daemon status document.
func (c *Client) Status(ctx context.Context) (*DaemonStatus, error) {
	var out DaemonStatus
	if err := c.do(ctx, http.MethodGet, "/api/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Roots fetches the configured media roots and their health.
func (c *Client) Roots(ctx context.Context) (*RootsResponse, error) {
	var out RootsResponse
	if err := c.do(ctx, http.MethodGet, "/api/roots", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PatchRoots applies root mutations and returns the resulting root list.
func (c *Client) PatchRoots(ctx context.Context, patch RootsPatch) (*RootsResponse, error) {
	var out RootsResponse
	if err := c.do(ctx, http.MethodPatch, "/api/roots", patch, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Next withdraws the next ready item, optionally restricted to the given
// kinds. ErrNoItem is returned when the daemon answered 204.
func (c *Client) Next(ctx context.Context, kinds ...string) (*NextItem, error) {
	path := "/api/next"
	if len(kinds) > 0 {
		path += "?kinds=" + strings.Join(kinds, ",")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNoContent:
		return nil, ErrNoItem
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, decodeError(resp)
	}
	var out NextItem
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

// History fetches the most recent plays, newest first.
func (c *Client) History(ctx context.Context, limit int) (*HistoryResponse, error) {
	path := "/api/history"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out HistoryResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Reset clears the dedup cache so every path is samplable again.
func (c *Client) Reset(ctx context.Context) (*CommandResponse, error) {
	var out CommandResponse
	if err := c.do(ctx, http.MethodPost, "/api/reset", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Player fetches the built-in player's status.
func (c *Client) Player(ctx context.Context) (*PlayerStatus, error) {
	var out PlayerStatus
	if err := c.do(ctx, http.MethodGet, "/api/player", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PlayerPause pauses active playback.
func (c *Client) PlayerPause(ctx context.Context) (*CommandResponse, error) {
	return c.playerCommand(ctx, "/api/player/pause", nil)
}

// PlayerResume resumes paused playback.
func (c *Client) PlayerResume(ctx context.Context) (*CommandResponse, error) {
	return c.playerCommand(ctx, "/api/player/resume", nil)
}

// PlayerSkip abandons the current item and moves to the next.
func (c *Client) PlayerSkip(ctx context.Context) (*CommandResponse, error) {
	return c.playerCommand(ctx, "/api/player/skip", nil)
}

// PlayerSpeed sets the playback rate. Speed is an absolute rate such as "2x"
// or one of "faster" and "slower".
func (c *Client) PlayerSpeed(ctx context.Context, speed string) (*CommandResponse, error) {
	return c.playerCommand(ctx, "/api/player/speed", &SpeedRequest{Speed: speed})
}

// PlayerNext starts the player if it is stopped, otherwise skips ahead.
func (c *Client) PlayerNext(ctx context.Context) (*CommandResponse, error) {
	return c.playerCommand(ctx, "/api/player/next", nil)
}

func (c *Client) playerCommand(ctx context.Context, path string, body any) (*CommandResponse, error) {
	var out CommandResponse
	if err := c.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		payload = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var envelope ErrorResponse
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Error != "" {
		return &StatusError{Code: resp.StatusCode, Message: envelope.Error}
	}
	return &StatusError{Code: resp.StatusCode, Message: strings.TrimSpace(string(data))}
}
