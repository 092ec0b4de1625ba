package builtin

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shaiso/Conveyor/internal/action"
)

const (
	HTTPRequestAction = "conveyor.http.request"

	defaultHTTPTimeout = 30 * time.Second
	maxResponseBody    = 10 * 1024 * 1024 // 10 MB
)

// HTTPRequest — вход action conveyor.http.request.
//
//	{
//	    "method": "POST",
//	    "url": "https://hooks.example.com/orders",
//	    "headers": {"Authorization": "Bearer ..."},
//	    "body": {"order_id": 42},
//	    "follow_redirects": true,
//	    "validate_ssl": true,
//	    "timeout_sec": 10
//	}
type HTTPRequest struct {
	Method          string            `json:"method"`
	URL             string            `json:"url"`
	Headers         map[string]string `json:"headers,omitempty"`
	Body            json.RawMessage   `json:"body,omitempty"`
	FollowRedirects *bool             `json:"follow_redirects,omitempty"`
	ValidateSSL     *bool             `json:"validate_ssl,omitempty"`
	TimeoutSec      int               `json:"timeout_sec,omitempty"`
}

// HTTPResponse — результат action conveyor.http.request.
type HTTPResponse struct {
	StatusCode int               `json:"status_code"`
	Headers    map[string]string `json:"headers"`
	Body       any               `json:"body"`
}

// HTTPError — ответ с кодом 4xx/5xx.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Status)
}

// NewHTTPRequestAction создаёт action для исходящих HTTP запросов (webhooks).
//
// Ответы 5xx и 429 повторяются, остальные 4xx — нет. Сетевые таймауты
// и обрывы соединения повторяются по общим правилам executor'а.
func NewHTTPRequestAction(maxAttempts int) *action.Action {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &action.Action{
		Name:       HTTPRequestAction,
		ModuleName: "conveyor",
		Retry:      &action.RetryPolicy{MaxAttempts: maxAttempts},
		Validate:   validateHTTPRequest,
		Handler: func(ctx context.Context, ec *action.Context, input any) (any, error) {
			req, ok := input.(*HTTPRequest)
			if !ok {
				return nil, fmt.Errorf("unexpected input %T", input)
			}
			return doHTTP(ctx, req)
		},
	}
}

// validateHTTPRequest приводит вход к *HTTPRequest.
func validateHTTPRequest(input any) (any, error) {
	var req HTTPRequest

	switch v := input.(type) {
	case *HTTPRequest:
		req = *v
	case HTTPRequest:
		req = v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, fmt.Errorf("decode http request: %w", err)
		}
	}

	if req.URL == "" {
		return nil, errors.New("url is required")
	}
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	req.Method = strings.ToUpper(req.Method)
	if req.Headers == nil {
		req.Headers = make(map[string]string)
	}
	return &req, nil
}

func doHTTP(ctx context.Context, req *HTTPRequest) (*HTTPResponse, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
		if _, ok := req.Headers["Content-Type"]; !ok {
			req.Headers["Content-Type"] = "application/json"
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	resp, err := buildClient(req).Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	return parseResponse(resp)
}

func buildClient(req *HTTPRequest) *http.Client {
	timeout := defaultHTTPTimeout
	if req.TimeoutSec > 0 {
		timeout = time.Duration(req.TimeoutSec) * time.Second
	}

	var checkRedirect func(*http.Request, []*http.Request) error
	if req.FollowRedirects != nil && !*req.FollowRedirects {
		checkRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	transport := http.DefaultTransport
	if req.ValidateSSL != nil && !*req.ValidateSSL {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		transport = t
	}

	return &http.Client{
		Timeout:       timeout,
		CheckRedirect: checkRedirect,
		Transport:     transport,
	}
}

func parseResponse(resp *http.Response) (*HTTPResponse, error) {
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, action.Retryable(fmt.Errorf("read response body: %w", err))
	}

	if resp.StatusCode >= 400 {
		httpErr := &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status, Body: string(data)}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, action.Retryable(httpErr)
		}
		return nil, httpErr
	}

	var body any = string(data)
	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		var parsed any
		if err := json.Unmarshal(data, &parsed); err == nil {
			body = parsed
		}
	}

	headers := make(map[string]string, len(resp.Header))
	for key := range resp.Header {
		headers[key] = resp.Header.Get(key)
	}

	return &HTTPResponse{StatusCode: resp.StatusCode, Headers: headers, Body: body}, nil
}
