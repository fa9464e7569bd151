package ai

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrMissingCredential is returned before any request is sent when no bearer token is set.
var ErrMissingCredential = errors.New("api credential is missing")

// Reason says why a provider rejected a request.
type Reason string

const (
	ReasonAuth          Reason = "auth"
	ReasonRateLimit     Reason = "rate_limit"
	ReasonBadRequest    Reason = "bad_request"
	ReasonModelNotFound Reason = "model_not_found"
	ReasonQuota         Reason = "quota"
	ReasonServer        Reason = "server"
	ReasonOther         Reason = "other"
)

var reasonText = map[Reason]string{
	ReasonAuth:          "authentication failed",
	ReasonRateLimit:     "rate limited",
	ReasonBadRequest:    "bad request",
	ReasonModelNotFound: "model not found",
	ReasonQuota:         "quota exceeded",
	ReasonServer:        "provider error",
}

// APIError is a non-2xx answer from a chat-completion endpoint.
type APIError struct {
	StatusCode int
	Reason     Reason
	Code       string
	Message    string
	RequestID  string
	// RetryAfter is the provider's Retry-After hint, zero when absent.
	RetryAfter time.Duration
	Raw        map[string]any
}

func (e *APIError) Error() string {
	var b strings.Builder
	if txt, ok := reasonText[e.Reason]; ok {
		b.WriteString(txt)
		b.WriteString(": ")
	}
	fmt.Fprintf(&b, "status=%d", e.StatusCode)
	if e.Code != "" {
		fmt.Fprintf(&b, " code=%s", e.Code)
	}
	if e.RequestID != "" {
		fmt.Fprintf(&b, " request_id=%s", e.RequestID)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, " message=%s", e.Message)
	}
	if e.Reason == ReasonRateLimit && e.RetryAfter > 0 {
		fmt.Fprintf(&b, " (retry in %ds)", int(e.RetryAfter.Seconds()))
	}
	return b.String()
}

// Retryable reports whether repeating the same request may succeed.
func (e *APIError) Retryable() bool {
	return e.Reason == ReasonRateLimit || e.Reason == ReasonServer
}

// HasReason reports whether err wraps an APIError with reason r.
func HasReason(err error, r Reason) bool {
	var e *APIError
	return errors.As(err, &e) && e.Reason == r
}

// UnreachableError indicates the endpoint could not be reached (DNS, refused connection, timeout).
type UnreachableError struct {
	Host string
	Err  error
}

func (e *UnreachableError) Unwrap() error { return e.Err }

func (e *UnreachableError) Error() string {
	if e.Host != "" {
		return fmt.Sprintf("endpoint unreachable at %s: %v", e.Host, e.Err)
	}
	return fmt.Sprintf("endpoint unreachable: %v", e.Err)
}

// DecodeError indicates a 2xx response whose body was not a chat completion.
type DecodeError struct{ Err error }

func (e *DecodeError) Error() string { return fmt.Sprintf("decode response: %v", e.Err) }

func (e *DecodeError) Unwrap() error { return e.Err }

// readAPIError builds an APIError from a non-2xx response. OpenAI-style
// {"error":{...}}, Ollama-style {"error":"..."} and flat {"message":...}
// bodies are all understood.
func readAPIError(resp *http.Response) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
	var raw map[string]any
	_ = json.Unmarshal(body, &raw)
	e := &APIError{StatusCode: resp.StatusCode, Raw: raw, RequestID: requestID(resp.Header)}
	src := raw
	switch v := raw["error"].(type) {
	case map[string]any:
		src = v
	case string:
		e.Message = v
	}
	if msg, ok := src["message"].(string); ok && e.Message == "" {
		e.Message = msg
	}
	if code, ok := src["code"].(string); ok {
		e.Code = code
	}
	if e.Message == "" && len(raw) == 0 {
		e.Message = strings.TrimSpace(string(body))
	}
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := parseRetryAfterSeconds(v); err == nil && secs > 0 {
			e.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	e.Reason = reasonFor(e.StatusCode, e.Code, e.Message)
	return e
}

func reasonFor(status int, code, msg string) Reason {
	lower := strings.ToLower(msg)
	has := func(subs ...string) bool {
		for _, s := range subs {
			if !strings.Contains(lower, s) {
				return false
			}
		}
		return true
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ReasonAuth
	case status == http.StatusTooManyRequests:
		return ReasonRateLimit
	case status == http.StatusNotFound && (code == "model_not_found" || has("model", "not", "found")):
		return ReasonModelNotFound
	case status == http.StatusBadRequest:
		return ReasonBadRequest
	case code == "quota_exceeded" || has("quota") || has("billing") || has("limit exceeded"):
		return ReasonQuota
	case status >= 500 && status <= 599:
		return ReasonServer
	}
	return ReasonOther
}

// parseRetryAfterSeconds interprets a Retry-After value given as seconds or an HTTP date.
func parseRetryAfterSeconds(v string) (int, error) {
	if s, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		return s, nil
	}
	if t, err := http.ParseTime(v); err == nil {
		d := time.Until(t)
		if d < 0 {
			d = 0
		}
		return int(d.Seconds()), nil
	}
	return 0, fmt.Errorf("invalid Retry-After: %q", v)
}

// requestID pulls a best-effort request ID from common headers.
func requestID(h http.Header) string {
	for _, k := range []string{"X-Request-Id", "OpenAI-Request-ID", "Openrouter-Request-ID", "X-Amzn-Requestid"} {
		if v := h.Get(k); v != "" {
			return v
		}
	}
	return ""
}
