package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultBaseURL is the production MediBot service.
const DefaultBaseURL = "https://medibotbackend-production.up.railway.app"

// DefaultTimeout bounds every individual call unless overridden.
const DefaultTimeout = 30 * time.Second

// maxErrorBody caps how much of a failed response is read for its message.
const maxErrorBody = 64 * 1024

// Client talks to the MediBot service over HTTP+JSON. Every call is bounded
// by the client timeout in addition to the caller's context.
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	logger     *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-call timeout. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger sets the logger used for request tracing.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a Client targeting baseURL (DefaultBaseURL when empty).
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		timeout:    DefaultTimeout,
		httpClient: &http.Client{},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the service root this client targets.
func (c *Client) BaseURL() string { return c.baseURL }

// Chat sends a user message with the current summary as context.
func (c *Client) Chat(ctx context.Context, message, summary string) (ChatReply, error) {
	const op = "chat"
	var reply ChatReply
	if err := c.do(ctx, op, http.MethodPost, "/api/chat-voice", ChatRequest{Message: message, Context: summary}, &reply); err != nil {
		return ChatReply{}, err
	}
	// An audio-only reply is still a reply.
	if reply.Text == "" && reply.AudioURL == "" {
		return ChatReply{}, &MalformedResponseError{Op: op, Reason: "missing text and audioUrl"}
	}
	return reply, nil
}

// Summarize asks the service to summarize patient data.
func (c *Client) Summarize(ctx context.Context, text string) (string, error) {
	const op = "summary"
	var resp SummaryResponse
	if err := c.do(ctx, op, http.MethodPost, "/api/summary", SummaryRequest{Text: text}, &resp); err != nil {
		return "", err
	}
	if resp.Text == "" {
		return "", &MalformedResponseError{Op: op, Reason: "missing text"}
	}
	return resp.Text, nil
}

// SubmitVideo starts a video generation job and returns its identifier.
func (c *Client) SubmitVideo(ctx context.Context, summary string) (string, error) {
	const op = "video submit"
	var resp VideoSubmitResponse
	if err := c.do(ctx, op, http.MethodPost, "/api/video", VideoRequest{Summary: summary}, &resp); err != nil {
		return "", err
	}
	if resp.VideoID == "" {
		if resp.Error != "" {
			return "", &ServiceError{Op: op, StatusCode: http.StatusOK, Message: resp.Error}
		}
		return "", &MalformedResponseError{Op: op, Reason: "missing videoId"}
	}
	return resp.VideoID, nil
}

// VideoStatus fetches the current status of a video job.
func (c *Client) VideoStatus(ctx context.Context, videoID string) (VideoStatus, error) {
	const op = "video status"
	var st VideoStatus
	if err := c.do(ctx, op, http.MethodGet, "/api/video-status/"+url.PathEscape(videoID), nil, &st); err != nil {
		return VideoStatus{}, err
	}
	return st, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: marshal request: %w", op, err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classify(op, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("backend call",
		zap.String("op", op),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if err != nil {
			return classify(op, err)
		}
		return &ServiceError{Op: op, StatusCode: resp.StatusCode, Message: errorMessage(data)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return classify(op, err)
		}
		return &MalformedResponseError{Op: op, Reason: err.Error()}
	}
	return nil
}

// classify maps a transport error onto the error taxonomy. Cancellation by
// the caller is passed through unchanged so it is never reported as a fault.
func classify(op string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &TimeoutError{Op: op, Err: err}
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%s: %w", op, context.Canceled)
	default:
		return &NetworkError{Op: op, Err: err}
	}
}

func errorMessage(data []byte) string {
	var eb errorBody
	if err := json.Unmarshal(data, &eb); err == nil {
		if eb.Error != "" {
			return eb.Error
		}
		return eb.Message
	}
	return strings.TrimSpace(string(data))
}
