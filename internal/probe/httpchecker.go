package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/hamed0406/netwatch/internal/domain"
)

const maxBodyBytes = 1 << 20

type HTTPChecker struct {
	Client    *http.Client
	UserAgent string
}

// NewHTTPChecker returns a checker whose client has no timeout of its own;
// the per-probe context bounds every request.
func NewHTTPChecker() *HTTPChecker {
	return &HTTPChecker{
		Client: &http.Client{
			Transport: http.DefaultTransport.(*http.Transport).Clone(),
		},
		UserAgent: "netwatch/1.0",
	}
}

// Check issues one request. Latency is measured up to the response headers.
func (h *HTTPChecker) Check(ctx context.Context, def domain.ServiceDefinition) CheckResult {
	method := def.HTTP.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, def.Target, nil)
	if err != nil {
		return failed(domain.ErrInvalidTarget, 0, err.Error())
	}
	if h.UserAgent != "" {
		req.Header.Set("User-Agent", h.UserAgent)
	}

	start := time.Now()
	resp, err := h.Client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return failed(Classify(err), latency, err.Error())
	}
	defer resp.Body.Close()

	out := CheckResult{Latency: latency, StatusCode: resp.StatusCode, Attempts: 1}
	lo, hi := def.HTTP.ExpectedStatusMin, def.HTTP.ExpectedStatusMax
	if lo == 0 && hi == 0 {
		lo, hi = 200, 399
	}
	if resp.StatusCode < lo || resp.StatusCode > hi {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		out.Kind = domain.ErrHTTPStatus
		out.Message = fmt.Sprintf("expected status %d-%d, got %d", lo, hi, resp.StatusCode)
		return out
	}

	if len(def.HTTP.Assertions) == 0 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		out.Success = true
		out.Message = resp.Status
		return out
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		out.Kind = Classify(err)
		out.Message = fmt.Sprintf("read body: %v", err)
		return out
	}
	if err := checkAssertions(body, def.HTTP.Assertions); err != nil {
		out.Kind = domain.ErrAssertion
		out.Message = err.Error()
		return out
	}
	out.Success = true
	out.Message = resp.Status
	return out
}

func checkAssertions(body []byte, assertions []domain.JSONAssertion) error {
	if !gjson.ValidBytes(body) {
		return fmt.Errorf("response body is not valid JSON")
	}
	for _, a := range assertions {
		v := gjson.GetBytes(body, a.Path)
		op := strings.ToLower(strings.TrimSpace(a.Operator))
		if op == "exists" {
			if !v.Exists() {
				return fmt.Errorf("JSON path %q not found", a.Path)
			}
			continue
		}
		if !v.Exists() {
			return fmt.Errorf("JSON path %q not found", a.Path)
		}
		if !compare(v, a.Value, op) {
			return fmt.Errorf("assertion failed: %s %s %v, got %v", a.Path, a.Operator, a.Value, v.Value())
		}
	}
	return nil
}

func compare(actual gjson.Result, expected any, op string) bool {
	switch op {
	case "==", "equals":
		return equals(actual, expected)
	case "!=", "not_equals":
		return !equals(actual, expected)
	case "contains":
		s, ok := expected.(string)
		return ok && strings.Contains(actual.String(), s)
	case ">", "<", ">=", "<=":
		want, ok := number(expected)
		if !ok || actual.Type != gjson.Number {
			return false
		}
		got := actual.Float()
		switch op {
		case ">":
			return got > want
		case "<":
			return got < want
		case ">=":
			return got >= want
		default:
			return got <= want
		}
	}
	return false
}

func equals(actual gjson.Result, expected any) bool {
	switch v := expected.(type) {
	case nil:
		return actual.Type == gjson.Null
	case string:
		return actual.String() == v
	case bool:
		return (actual.Type == gjson.True || actual.Type == gjson.False) && actual.Bool() == v
	}
	if want, ok := number(expected); ok {
		return actual.Type == gjson.Number && actual.Float() == want
	}
	return false
}

// number accepts the numeric types YAML and JSON decoders produce.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}
