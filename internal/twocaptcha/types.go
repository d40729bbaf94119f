package twocaptcha

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Task types understood by the 2captcha createTask endpoint.
const (
	taskTurnstileProxyless = "TurnstileTaskProxyless"
	taskTurnstile          = "TurnstileTask"
)

// Task statuses returned by getTaskResult.
const (
	statusProcessing = "processing"
	statusReady      = "ready"
)

// ErrEmptySolution is returned when the service reports a task as ready but
// carries no token.
var ErrEmptySolution = errors.New("empty solution token")

// TurnstileRequest describes one Cloudflare Turnstile challenge.
type TurnstileRequest struct {
	SiteKey   string
	PageURL   string
	Action    string
	CData     string
	PageData  string
	UserAgent string
	Proxy     *Proxy
}

// Result is a solved challenge.
type Result struct {
	TaskID    uint64
	Code      string
	UserAgent string
}

// APIError is a failure reported by the service itself (errorId != 0).
type APIError struct {
	ID          int
	Code        string
	Description string
}

func (e *APIError) Error() string {
	if e.Description != "" {
		return e.Description
	}
	if e.Code != "" {
		return e.Code
	}
	return fmt.Sprintf("2captcha error %d", e.ID)
}

// TimeoutError means the task was not solved within the client timeout. The
// message gives the timeout in seconds, like the reference clients.
type TimeoutError struct {
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return "timeout " + strconv.FormatFloat(e.After.Seconds(), 'f', -1, 64) + " exceeded"
}

// HTTPError is a non-2xx response from the API endpoint.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("2captcha http %d", e.StatusCode)
}

// turnstileTask is the task object of a createTask call.
type turnstileTask struct {
	Type          string `json:"type"`
	WebsiteURL    string `json:"websiteURL"`
	WebsiteKey    string `json:"websiteKey"`
	Action        string `json:"action,omitempty"`
	Data          string `json:"data,omitempty"`
	PageData      string `json:"pagedata,omitempty"`
	UserAgent     string `json:"userAgent,omitempty"`
	ProxyType     string `json:"proxyType,omitempty"`
	ProxyAddress  string `json:"proxyAddress,omitempty"`
	ProxyPort     int    `json:"proxyPort,omitempty"`
	ProxyLogin    string `json:"proxyLogin,omitempty"`
	ProxyPassword string `json:"proxyPassword,omitempty"`
}

type createTaskRequest struct {
	ClientKey string        `json:"clientKey"`
	Task      turnstileTask `json:"task"`
}

// apiStatus is the error envelope shared by every endpoint response.
type apiStatus struct {
	ErrorID          int    `json:"errorId"`
	ErrorCode        string `json:"errorCode"`
	ErrorDescription string `json:"errorDescription"`
}

func (s apiStatus) err() error {
	if s.ErrorID == 0 {
		return nil
	}
	return &APIError{ID: s.ErrorID, Code: s.ErrorCode, Description: s.ErrorDescription}
}

type createTaskResponse struct {
	apiStatus
	TaskID uint64 `json:"taskId"`
}

type getTaskResultRequest struct {
	ClientKey string `json:"clientKey"`
	TaskID    uint64 `json:"taskId"`
}

type getTaskResultResponse struct {
	apiStatus
	Status   string `json:"status"`
	Solution struct {
		Token     string `json:"token"`
		UserAgent string `json:"userAgent"`
	} `json:"solution"`
}
