package ota

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/solatis/aadnode/internal/core/auth"
	"github.com/solatis/aadnode/internal/types"
)

const (
	halJSON = "application/hal+json"

	// DefaultTimeout bounds each request and, for downloads, each wait for data.
	DefaultTimeout = 3 * time.Second

	maxDocumentSize = 64 << 10
)

const configDataBody = `{"mode":"merge","data":{"VIN":"JH4TB2H26CC000001","hwRevision":"1"},"status":{"result":{"finished":"success"},"execution":"closed","details":[]}}`

const successDetails = "The update was successfully installed."

// Client talks to the deployment server's device API.
type Client struct {
	http    *http.Client
	cfg     *Config
	serial  uint32
	timeout time.Duration
}

// NewClient builds a client authenticating with the configured target token.
// Redirects are not followed.
func NewClient(cfg *Config, serial uint32, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	base := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: timeout}).DialContext,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
	}
	return &Client{
		http: &http.Client{
			Transport: &auth.Transport{
				Base:   base,
				Source: func() auth.Credentials { return auth.TargetToken(cfg.Settings().Token) },
			},
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		},
		cfg:     cfg,
		serial:  serial,
		timeout: timeout,
	}
}

// PollURL is the controller base resource for this device.
func (c *Client) PollURL() string {
	return c.cfg.Settings().PollURL(c.serial)
}

// FeedbackURL is where the result for actionID is posted.
func (c *Client) FeedbackURL(actionID string) string {
	return fmt.Sprintf("%s/deploymentBase/%s/feedback", c.PollURL(), actionID)
}

func (c *Client) do(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, r)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", method, err)
	}
	req.Header.Set("Accept", halJSON)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, url, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return data, fmt.Errorf("%s %s: status %d", method, url, resp.StatusCode)
	}
	return data, nil
}

// Poll fetches the controller base resource.
func (c *Client) Poll(ctx context.Context) ([]byte, error) {
	return c.do(ctx, http.MethodGet, c.PollURL(), nil)
}

// PutConfigData answers a configData request with the device attributes.
func (c *Client) PutConfigData(ctx context.Context, url string) error {
	_, err := c.do(ctx, http.MethodPut, url, []byte(configDataBody))
	return err
}

// GetDeployment fetches a deploymentBase document.
func (c *Client) GetDeployment(ctx context.Context, url string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, url, nil)
}

type feedback struct {
	ID     string         `json:"id"`
	Status feedbackStatus `json:"status"`
}

type feedbackStatus struct {
	Result    feedbackResult `json:"result"`
	Execution string         `json:"execution"`
	Details   []string       `json:"details"`
}

type feedbackResult struct {
	Finished string `json:"finished"`
}

// FeedbackBody renders the feedback document for a latched result.
func FeedbackBody(actionID string, result types.UpdateResult, details string) []byte {
	if result == types.ResultSuccess {
		details = successDetails
	}
	out, _ := json.Marshal(feedback{
		ID: actionID,
		Status: feedbackStatus{
			Result:    feedbackResult{Finished: result.String()},
			Execution: "closed",
			Details:   []string{details},
		},
	})
	return out
}

// PostFeedback reports the result of actionID.
func (c *Client) PostFeedback(ctx context.Context, actionID string, result types.UpdateResult, details string) error {
	_, err := c.do(ctx, http.MethodPost, c.FeedbackURL(actionID), FeedbackBody(actionID, result, details))
	return err
}

// Download opens an artifact. The caller closes the body. Connection setup
// and response headers are bounded by the timeout, and so is every wait for
// body data: a stalled read fails with types.ErrIncompleteImage.
func (c *Client) Download(ctx context.Context, url string) (*http.Response, error) {
	ctx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to build download request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	resp.Body = newIdleBody(resp.Body, c.timeout, cancel)
	return resp, nil
}

// idleBody cancels the download when a single Read waits longer than timeout.
type idleBody struct {
	body    io.ReadCloser
	timeout time.Duration
	cancel  context.CancelFunc
	timer   *time.Timer
	expired atomic.Bool
}

func newIdleBody(body io.ReadCloser, timeout time.Duration, cancel context.CancelFunc) *idleBody {
	b := &idleBody{body: body, timeout: timeout, cancel: cancel}
	b.timer = time.AfterFunc(timeout, func() {
		b.expired.Store(true)
		cancel()
	})
	b.timer.Stop()
	return b
}

func (b *idleBody) Read(p []byte) (int, error) {
	if b.expired.Load() {
		return 0, b.stalled()
	}
	b.timer.Reset(b.timeout)
	n, err := b.body.Read(p)
	b.timer.Stop()
	if err != nil && b.expired.Load() {
		return n, b.stalled()
	}
	return n, err
}

func (b *idleBody) stalled() error {
	return fmt.Errorf("%w: no data for %s", types.ErrIncompleteImage, b.timeout)
}

func (b *idleBody) Close() error {
	b.timer.Stop()
	err := b.body.Close()
	b.cancel()
	return err
}
