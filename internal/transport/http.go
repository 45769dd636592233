// ABOUTME: HTTP adapter implementing the history and send RPC boundaries
// ABOUTME: Maps gateway HTTP failures onto grpc status codes; streams via SSE

package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// HTTPClient talks to the gateway's REST surface. It implements Lister and
// Sender; the push subscription lives on the websocket adapter.
type HTTPClient struct {
	baseURL string
	tokens  *TokenSource
	hc      *http.Client
	logger  *slog.Logger
}

// NewHTTPClient creates a client for the gateway base URL (http:// or
// https://). Pass nil logger for default.
func NewHTTPClient(baseURL string, tokens *TokenSource, logger *slog.Logger) *HTTPClient {
	if logger == nil {
		logger = slog.Default()
	}
	if tokens == nil {
		tokens = NewTokenSource("")
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		hc:      http.DefaultClient,
		logger:  logger.With("component", "http-client"),
	}
}

// List fetches one backward page of a task's history.
func (c *HTTPClient) List(ctx context.Context, params ListParams) (*Page, error) {
	if params.TaskID == "" {
		return nil, status.Error(codes.InvalidArgument, "task_id required")
	}

	q := url.Values{}
	if params.Cursor != "" {
		q.Set("cursor", params.Cursor)
	}
	if params.Limit > 0 {
		q.Set("limit", strconv.Itoa(params.Limit))
	}
	endpoint := fmt.Sprintf("%s/api/tasks/%s/messages", c.baseURL, url.PathEscape(params.TaskID))
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	c.authorize(req)

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, status.Errorf(codes.Unavailable, "fetching history: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, httpStatusErr(resp)
	}

	var page Page
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, status.Errorf(codes.Internal, "parsing page: %v", err)
	}
	return &page, nil
}

// rpcResult is the gateway's non-streaming RPC envelope.
type rpcResult struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Call issues a non-streaming RPC.
func (c *HTTPClient) Call(ctx context.Context, method string, payload any) (json.RawMessage, error) {
	resp, err := c.post(ctx, method, payload, "application/json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, httpStatusErr(resp)
	}

	var out rpcResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, status.Errorf(codes.Internal, "parsing response: %v", err)
	}
	if out.Error != "" {
		return nil, status.Error(codes.Unknown, out.Error)
	}
	return out.Result, nil
}

// Stream issues a streaming RPC and returns a channel of inbound deltas.
// The channel closes when the server finishes the stream; a mid-stream
// failure arrives as a StreamEvent carrying Err.
func (c *HTTPClient) Stream(ctx context.Context, method string, payload any) (<-chan StreamEvent, error) {
	resp, err := c.post(ctx, method, payload, "text/event-stream")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, httpStatusErr(resp)
	}

	out := make(chan StreamEvent, 16)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		if err := pumpSSE(ctx, resp.Body, out); err != nil {
			select {
			case out <- StreamEvent{Err: err}:
			case <-ctx.Done():
			}
		}
	}()
	return out, nil
}

// post sends the RPC envelope.
func (c *HTTPClient) post(ctx context.Context, method string, payload any, accept string) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/rpc/%s", c.baseURL, url.PathEscape(method))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", accept)
	c.authorize(req)

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, status.Errorf(codes.Unavailable, "dispatching %s: %v", method, err)
	}
	return resp, nil
}

func (c *HTTPClient) authorize(req *http.Request) {
	for k, vals := range c.tokens.Header() {
		for _, v := range vals {
			req.Header.Set(k, v)
		}
	}
}

// pumpSSE parses server-sent events, forwarding each data payload as a
// delta. An "error" event becomes a stream failure.
func pumpSSE(ctx context.Context, body io.Reader, out chan<- StreamEvent) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var eventType string
	var dataLines []string

	flush := func() error {
		defer func() { eventType, dataLines = "", nil }()
		if len(dataLines) == 0 {
			return nil
		}
		data := strings.Join(dataLines, "\n")
		if eventType == "error" {
			return status.Error(codes.Unknown, data)
		}
		select {
		case out <- StreamEvent{Delta: json.RawMessage(data)}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Text()

		if line == "" {
			if err := flush(); err != nil {
				return err
			}
			continue
		}
		if strings.HasPrefix(line, "event:") {
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			continue
		}
		if strings.HasPrefix(line, "data:") {
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if err := flush(); err != nil {
		return err
	}
	if err := scanner.Err(); err != nil {
		return status.Errorf(codes.Unavailable, "stream interrupted: %v", err)
	}
	return nil
}

// httpStatusErr maps a non-200 gateway response to a grpc status error so
// the engine's taxonomy helpers can classify it.
func httpStatusErr(resp *http.Response) error {
	msg := fmt.Sprintf("gateway returned status %d", resp.StatusCode)
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		var errResp map[string]string
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil {
			if m, ok := errResp["error"]; ok && m != "" {
				msg = m
			}
		}
	}

	switch {
	case resp.StatusCode == http.StatusBadRequest:
		return status.Error(codes.InvalidArgument, msg)
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return status.Error(codes.PermissionDenied, msg)
	case resp.StatusCode == http.StatusNotFound:
		return status.Error(codes.NotFound, msg)
	case resp.StatusCode == http.StatusTooManyRequests:
		return status.Error(codes.ResourceExhausted, msg)
	case resp.StatusCode >= 500:
		return status.Error(codes.Unavailable, msg)
	default:
		return status.Error(codes.Unknown, msg)
	}
}
