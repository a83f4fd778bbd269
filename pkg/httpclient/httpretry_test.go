package httpclient

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

type scriptedClient struct {
	responses []*http.Response
	errs      []error
	calls     int
	bodies    []string
}

func (s *scriptedClient) Do(_ context.Context, req *http.Request) (*http.Response, error) {
	i := s.calls
	s.calls++
	if req.Body != nil {
		b, _ := io.ReadAll(req.Body)
		s.bodies = append(s.bodies, string(b))
	}
	var resp *http.Response
	if i < len(s.responses) {
		resp = s.responses[i]
	}
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	return resp, err
}

func respWith(status int, headers map[string]string) *http.Response {
	r := &http.Response{
		StatusCode: status,
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader("")),
	}
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	return r
}

func TestRetryClientRetriesServerErrors(t *testing.T) {
	delegate := &scriptedClient{
		responses: []*http.Response{
			respWith(502, map[string]string{"Retry-After": "1"}),
			respWith(200, nil),
		},
	}
	c := NewRetryClient(delegate, 3, zap.NewNop().Sugar())

	req, _ := http.NewRequest(http.MethodPost, "https://example.com/hook", bytes.NewReader([]byte(`{"v":1}`)))
	resp, err := c.Do(context.Background(), req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if delegate.calls != 2 {
		t.Fatalf("delegate called %d times, want 2", delegate.calls)
	}
	// тело восстанавливается для каждой попытки
	for i, b := range delegate.bodies {
		if b != `{"v":1}` {
			t.Fatalf("attempt %d body = %q", i, b)
		}
	}
}

func TestRetryClientDoesNotRetryClientErrors(t *testing.T) {
	delegate := &scriptedClient{responses: []*http.Response{respWith(422, nil)}}
	c := NewRetryClient(delegate, 3, zap.NewNop().Sugar())

	req, _ := http.NewRequest(http.MethodPost, "https://example.com/hook", nil)
	resp, err := c.Do(context.Background(), req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if resp.StatusCode != 422 || delegate.calls != 1 {
		t.Fatalf("4xx must not be retried: status=%d calls=%d", resp.StatusCode, delegate.calls)
	}
}

func TestRetryClientHonorsRetryAfter(t *testing.T) {
	delegate := &scriptedClient{
		responses: []*http.Response{
			respWith(429, map[string]string{"Retry-After": "1"}),
			respWith(200, nil),
		},
	}
	c := NewRetryClient(delegate, 3, zap.NewNop().Sugar())

	req, _ := http.NewRequest(http.MethodPost, "https://example.com/hook", nil)
	start := time.Now()
	resp, err := c.Do(context.Background(), req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if elapsed := time.Since(start); elapsed < time.Second {
		t.Fatalf("Retry-After pause ignored: waited only %s", elapsed)
	}
}

func TestRetryClientStopsOnContextCancel(t *testing.T) {
	delegate := &scriptedClient{errs: []error{context.Canceled}}
	c := NewRetryClient(delegate, 3, zap.NewNop().Sugar())

	req, _ := http.NewRequest(http.MethodPost, "https://example.com/hook", nil)
	_, err := c.Do(context.Background(), req)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if delegate.calls != 1 {
		t.Fatalf("canceled request retried: %d calls", delegate.calls)
	}
}

func TestRetryAfterParsing(t *testing.T) {
	if _, ok := retryAfter(nil); ok {
		t.Fatal("nil response must not yield a pause")
	}
	if _, ok := retryAfter(respWith(503, nil)); ok {
		t.Fatal("missing header must not yield a pause")
	}
	if d, ok := retryAfter(respWith(503, map[string]string{"Retry-After": "2"})); !ok || d != 2*time.Second {
		t.Fatalf("seconds form: d=%s ok=%v", d, ok)
	}
	if d, ok := retryAfter(respWith(503, map[string]string{"Retry-After": "3600"})); !ok || d != maxRetryPause {
		t.Fatalf("pause must be capped, got %s ok=%v", d, ok)
	}
	if _, ok := retryAfter(respWith(503, map[string]string{"Retry-After": "-5"})); ok {
		t.Fatal("negative seconds must be ignored")
	}
	at := time.Now().Add(5 * time.Second).UTC().Format(http.TimeFormat)
	if d, ok := retryAfter(respWith(503, map[string]string{"Retry-After": at})); !ok || d <= 0 || d > 5*time.Second {
		t.Fatalf("http-date form: d=%s ok=%v", d, ok)
	}
	past := time.Now().Add(-time.Minute).UTC().Format(http.TimeFormat)
	if _, ok := retryAfter(respWith(503, map[string]string{"Retry-After": past})); ok {
		t.Fatal("past date must be ignored")
	}
}
