package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"github.com/vishalp-65/patient-case-notes-system/pkg/platform/circuit"
)

// HTTPClient talks to the recognition service over its REST API:
//
//	POST {base}/v1/transcriptions        multipart file, mime_type[, callback_url, callback_token]
//	GET  {base}/v1/transcriptions/{id}   Status JSON
type HTTPClient struct {
	baseURL       string
	callbackURL   string
	callbackToken string
	http          *http.Client
	breaker       *circuit.Breaker
	logger        *slog.Logger
}

type HTTPOption func(*HTTPClient)

// WithCallback asks the provider to push results to u instead of being
// polled. token is echoed back in the X-Callback-Token header.
func WithCallback(u, token string) HTTPOption {
	return func(c *HTTPClient) {
		c.callbackURL = u
		c.callbackToken = token
	}
}

func WithHTTPClient(h *http.Client) HTTPOption {
	return func(c *HTTPClient) {
		c.http = h
	}
}

func WithBreaker(b *circuit.Breaker) HTTPOption {
	return func(c *HTTPClient) {
		c.breaker = b
	}
}

func WithHTTPLogger(logger *slog.Logger) HTTPOption {
	return func(c *HTTPClient) {
		c.logger = logger
	}
}

func NewHTTPClient(baseURL string, opts ...HTTPOption) *HTTPClient {
	c := &HTTPClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 60 * time.Second},
		breaker: circuit.New("transcription"),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type submitResponse struct {
	RequestID string `json:"request_id"`
}

func (c *HTTPClient) Submit(ctx context.Context, data []byte, mimeType string) (string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "document")
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := writer.WriteField("mime_type", mimeType); err != nil {
		return "", err
	}
	if c.callbackURL != "" {
		if err := writer.WriteField("callback_url", c.callbackURL); err != nil {
			return "", err
		}
		if err := writer.WriteField("callback_token", c.callbackToken); err != nil {
			return "", err
		}
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/transcriptions", body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var resp submitResponse
	if err := c.do(req, &resp); err != nil {
		return "", err
	}
	if resp.RequestID == "" {
		return "", fmt.Errorf("%w: response carried no request_id", ErrRejected)
	}
	return resp.RequestID, nil
}

func (c *HTTPClient) Status(ctx context.Context, requestID string) (Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/transcriptions/"+url.PathEscape(requestID), nil)
	if err != nil {
		return Status{}, err
	}
	var st Status
	if err := c.do(req, &st); err != nil {
		return Status{}, err
	}
	switch st.State {
	case StatePending, StateCompleted, StateFailed:
		return st, nil
	default:
		return Status{}, fmt.Errorf("%w: unknown status %q", ErrRejected, st.State)
	}
}

// do sends req through the breaker. Transport errors and 5xx count as
// failures; a 4xx is the caller's problem and wraps ErrRejected.
func (c *HTTPClient) do(req *http.Request, out any) error {
	if !c.breaker.Allow() {
		return ErrCircuitOpen
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.recordFailure(req)
		return fmt.Errorf("transcription request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		c.recordFailure(req)
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("transcription provider error: %s - %s", resp.Status, string(msg))
	}
	if _, change := c.breaker.RecordSuccess(); change.Closed {
		c.logger.InfoContext(req.Context(), "transcription circuit closed")
	}
	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%w: %s - %s", ErrRejected, resp.Status, string(msg))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrRejected, err)
	}
	return nil
}

func (c *HTTPClient) recordFailure(req *http.Request) {
	if _, change := c.breaker.RecordFailure(); change.Opened {
		c.logger.WarnContext(req.Context(), "transcription circuit opened")
	}
}
