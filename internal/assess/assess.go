// Package assess asks a text-generation service for a short threat
// assessment of a node. Results are cached per node fingerprint and calls
// are rate limited and retried on transient failures.
package assess

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/latebit/torunveil/internal/cache"
	"github.com/latebit/torunveil/internal/topology"
)

const (
	DefaultEndpoint = "https://generativelanguage.googleapis.com/v1beta"
	DefaultModel    = "gemini-2.5-flash"
	// Provider names the key in the key store.
	Provider = "gemini"
)

var (
	ErrNoAPIKey      = errors.New("API key is not configured")
	ErrInvalidAPIKey = errors.New("the provided API key is not valid")
	ErrUnavailable   = errors.New("the assessment service is unavailable")
	ErrEmptyResponse = errors.New("the assessment service returned no text")
)

// Options configures the client.
type Options struct {
	APIKey     string
	Endpoint   string
	Model      string
	HTTPClient *http.Client
	Timeout    time.Duration
	Cache      *cache.Cache
	// RatePerMinute caps outgoing requests. Cache hits are not counted.
	RatePerMinute float64
	MaxRetries    int
	Backoff       time.Duration
	Logger        *slog.Logger
}

func (o *Options) applyDefaults() {
	if o.Endpoint == "" {
		o.Endpoint = DefaultEndpoint
	}
	if o.Model == "" {
		o.Model = DefaultModel
	}
	if o.Timeout == 0 {
		o.Timeout = 30 * time.Second
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: o.Timeout}
	}
	if o.RatePerMinute <= 0 {
		o.RatePerMinute = 10
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.Backoff == 0 {
		o.Backoff = 100 * time.Millisecond
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Result is an assessment and how it was served.
type Result struct {
	Node      topology.Node
	Text      string
	Model     string
	FromCache bool
}

// Client calls the generateContent endpoint.
type Client struct {
	opts    Options
	limiter *rate.Limiter
}

// New creates a client. A missing API key is reported by Assess, not here,
// so the rest of the application keeps working without one.
func New(opts Options) *Client {
	opts.applyDefaults()
	every := time.Duration(float64(time.Minute) / opts.RatePerMinute)
	return &Client{
		opts:    opts,
		limiter: rate.NewLimiter(rate.Every(every), max(1, int(opts.RatePerMinute/6))),
	}
}

// Model returns the model name requests are sent to.
func (c *Client) Model() string { return c.opts.Model }

// Prompt builds the assessment request text for n.
func Prompt(n topology.Node) string {
	var b strings.Builder
	b.WriteString("Analyze the following TOR network node data and provide a concise, one-paragraph threat assessment and geopolitical context.\n")
	b.WriteString("Focus on potential risks associated with this node's type and location. Be factual and analytical.\n\n")
	b.WriteString("Node Data:\n")
	fmt.Fprintf(&b, "- IP Address: %s\n", n.ID)
	fmt.Fprintf(&b, "- Type: %s\n", n.Category)
	fmt.Fprintf(&b, "- Country: %s\n", n.Country)
	fmt.Fprintf(&b, "- Uptime: %g hours\n", n.Uptime)
	fmt.Fprintf(&b, "- Bandwidth: %g KB/s\n\n", n.Bandwidth)
	b.WriteString("Assessment:\n")
	return b.String()
}

// Key is the cache key for an assessment of n by model. It changes whenever
// any attribute in the prompt changes.
func Key(n topology.Node, model string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + Prompt(n)))
	return n.ID + "-" + hex.EncodeToString(sum[:8])
}

// Assess returns an assessment of n, from the cache when possible.
func (c *Client) Assess(ctx context.Context, n topology.Node) (Result, error) {
	if c.opts.APIKey == "" {
		return Result{}, ErrNoAPIKey
	}
	key := Key(n, c.opts.Model)
	if c.opts.Cache != nil {
		if e, err := c.opts.Cache.Get(key); err == nil && e != nil {
			return Result{Node: n, Text: e.Text, Model: e.Model, FromCache: true}, nil
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return Result{}, err
	}
	text, err := c.doWithRetry(ctx, Prompt(n))
	if err != nil {
		return Result{}, err
	}

	if c.opts.Cache != nil {
		if err := c.opts.Cache.Put(key, cache.Entry{NodeID: n.ID, Model: c.opts.Model, Text: text}); err != nil {
			c.opts.Logger.Warn("assessment cache write failed", "node", n.ID, "error", err)
		}
	}
	return Result{Node: n, Text: text, Model: c.opts.Model}, nil
}

// doWithRetry retries transient failures with exponential backoff + jitter.
func (c *Client) doWithRetry(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	for attempt := 0; attempt < c.opts.MaxRetries; attempt++ {
		text, err := c.generate(ctx, prompt)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if attempt == c.opts.MaxRetries-1 || !isTransientError(err) {
			break
		}
		backoff := c.opts.Backoff * time.Duration(1<<uint(attempt))
		if backoff > 1 {
			backoff += time.Duration(rand.Int63n(int64(backoff / 2)))
		}
		c.opts.Logger.Debug("assessment retry", "attempt", attempt+1, "backoff", backoff, "error", err)
		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return "", ctx.Err()
		case <-t.C:
		}
	}
	return "", lastErr
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Parts []part `json:"parts"`
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// statusError is a non-2xx reply from the service.
type statusError struct {
	code    int
	message string
}

func (e *statusError) Error() string {
	if e.message == "" {
		return fmt.Sprintf("%s: HTTP %d", ErrUnavailable, e.code)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", ErrUnavailable, e.code, e.message)
}

func (e *statusError) Unwrap() error { return ErrUnavailable }

func (c *Client) generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(generateRequest{Contents: []content{{Parts: []part{{Text: prompt}}}}})
	if err != nil {
		return "", err
	}
	url := fmt.Sprintf("%s/models/%s:generateContent", strings.TrimRight(c.opts.Endpoint, "/"), c.opts.Model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.opts.APIKey)

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("%w: read response: %w", ErrUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		var ae apiError
		_ = json.Unmarshal(data, &ae)
		msg := ae.Error.Message
		if strings.Contains(msg, "API key not valid") || resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return "", ErrInvalidAPIKey
		}
		return "", &statusError{code: resp.StatusCode, message: msg}
	}

	var gr generateResponse
	if err := json.Unmarshal(data, &gr); err != nil {
		return "", fmt.Errorf("%w: decode response: %w", ErrUnavailable, err)
	}
	var out strings.Builder
	for _, cand := range gr.Candidates {
		for _, p := range cand.Content.Parts {
			out.WriteString(p.Text)
		}
		if out.Len() > 0 {
			break
		}
	}
	if strings.TrimSpace(out.String()) == "" {
		return "", ErrEmptyResponse
	}
	return strings.TrimSpace(out.String()), nil
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "connection reset") || strings.Contains(errStr, "connection refused")
}
