// Package twocaptcha is a minimal client for the 2captcha task API
// (createTask / getTaskResult), limited to Cloudflare Turnstile tasks.
package twocaptcha

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/h2non/gentleman.v2"
	gcontext "gopkg.in/h2non/gentleman.v2/context"
)

// Defaults mirror the reference 2captcha clients.
const (
	DefaultBaseURL         = "https://api.2captcha.com"
	DefaultPollingInterval = 10 * time.Second
	DefaultTimeout         = 120 * time.Second
	DefaultHTTPTimeout     = 30 * time.Second
)

// Client talks to the 2captcha API. A Client is not safe for concurrent use.
type Client struct {
	apiKey       string
	baseURL      string
	pollInterval time.Duration
	timeout      time.Duration
	httpTimeout  time.Duration
	log          zerolog.Logger

	http *gentleman.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another API host.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u = strings.TrimRight(strings.TrimSpace(u), "/"); u != "" {
			c.baseURL = u
		}
	}
}

// WithPollingInterval sets the delay between getTaskResult calls.
func WithPollingInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithTimeout bounds how long Turnstile waits for a task to become ready.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithHTTPTimeout bounds a single HTTP round trip.
func WithHTTPTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpTimeout = d
		}
	}
}

// WithLogger attaches a logger for debug output. The default is a no-op logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// New creates a client for the given API key.
func New(apiKey string, opts ...Option) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}

	c := &Client{
		apiKey:       apiKey,
		baseURL:      DefaultBaseURL,
		pollInterval: DefaultPollingInterval,
		timeout:      DefaultTimeout,
		httpTimeout:  DefaultHTTPTimeout,
		log:          zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.http = gentleman.New().URL(c.baseURL)
	c.http.Context.Client.Timeout = c.httpTimeout
	return c, nil
}

// Turnstile submits a Turnstile task and blocks until it is solved, the
// service reports an error, ctx ends, or the client timeout elapses.
func (c *Client) Turnstile(ctx context.Context, req TurnstileRequest) (*Result, error) {
	task, err := newTurnstileTask(req)
	if err != nil {
		return nil, err
	}

	taskID, err := c.createTask(ctx, task)
	if err != nil {
		return nil, err
	}
	c.log.Debug().Uint64("task_id", taskID).Str("type", task.Type).Msg("task created")

	return c.waitResult(ctx, taskID)
}

func newTurnstileTask(req TurnstileRequest) (turnstileTask, error) {
	siteKey := strings.TrimSpace(req.SiteKey)
	pageURL := strings.TrimSpace(req.PageURL)
	if siteKey == "" {
		return turnstileTask{}, errors.New("sitekey is required")
	}
	if pageURL == "" {
		return turnstileTask{}, errors.New("url is required")
	}

	task := turnstileTask{
		Type:       taskTurnstileProxyless,
		WebsiteURL: pageURL,
		WebsiteKey: siteKey,
		Action:     req.Action,
		Data:       req.CData,
		PageData:   req.PageData,
		UserAgent:  req.UserAgent,
	}
	if p := req.Proxy; p != nil {
		task.Type = taskTurnstile
		task.ProxyType = p.Type
		task.ProxyAddress = p.Address
		task.ProxyPort = p.Port
		task.ProxyLogin = p.Login
		task.ProxyPassword = p.Password
	}
	return task, nil
}

func (c *Client) createTask(ctx context.Context, task turnstileTask) (uint64, error) {
	var out createTaskResponse
	if err := c.post(ctx, "/createTask", createTaskRequest{ClientKey: c.apiKey, Task: task}, &out); err != nil {
		return 0, err
	}
	if err := out.err(); err != nil {
		return 0, err
	}
	if out.TaskID == 0 {
		return 0, errors.New("createTask: missing taskId")
	}
	return out.TaskID, nil
}

func (c *Client) waitResult(parent context.Context, taskID uint64) (*Result, error) {
	ctx, cancel := context.WithTimeout(parent, c.timeout)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := parent.Err(); err != nil {
				return nil, err
			}
			return nil, &TimeoutError{After: c.timeout}
		case <-ticker.C:
		}

		var out getTaskResultResponse
		if err := c.post(ctx, "/getTaskResult", getTaskResultRequest{ClientKey: c.apiKey, TaskID: taskID}, &out); err != nil {
			if ctx.Err() != nil && parent.Err() == nil {
				return nil, &TimeoutError{After: c.timeout}
			}
			return nil, err
		}
		if err := out.err(); err != nil {
			return nil, err
		}

		switch out.Status {
		case statusReady:
			if out.Solution.Token == "" {
				return nil, ErrEmptySolution
			}
			return &Result{TaskID: taskID, Code: out.Solution.Token, UserAgent: out.Solution.UserAgent}, nil
		case statusProcessing, "":
			c.log.Debug().Uint64("task_id", taskID).Msg("task processing")
		default:
			return nil, fmt.Errorf("getTaskResult: unexpected status %q", out.Status)
		}
	}
}

// post sends body as JSON and decodes the JSON response into out. The
// request is aborted when ctx ends.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	res, err := c.http.Request().
		UseRequest(func(gc *gcontext.Context, h gcontext.Handler) {
			h.Next(gc.SetCancelContext(ctx))
		}).
		Method(http.MethodPost).
		Path(path).
		JSON(body).
		Send()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("request %s: %w", path, err)
	}
	if !res.Ok {
		return &HTTPError{StatusCode: res.StatusCode, Body: res.String()}
	}
	if err := res.JSON(out); err != nil {
		return fmt.Errorf("parse %s response: %w", path, err)
	}
	return nil
}
