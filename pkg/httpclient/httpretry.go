package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"coordinator/internal/application/common"

	"go.uber.org/zap"
)

// Верхняя граница паузы между попытками: webhook-получатель с неадекватным
// Retry-After не должен держать доставку часами, для этого есть scheduled_for.
const maxRetryPause = 30 * time.Second

// RetryClient закрывает транзитные сбои webhook-доставки внутри одного
// Publish: сетевые ошибки, 5xx и 429 повторяются с джиттерованным бэкоффом.
// Исчерпание попыток - не приговор: классификация наружу останется
// retryable, и сообщение вернётся через scheduled_for.
type RetryClient struct {
	delegate   HTTPClient
	maxRetries int
	// Предикат можно подменить, если получатель сигналит перегрузку иначе
	ShouldRetry func(*http.Response, error) bool
	logger      *zap.SugaredLogger
}

func NewRetryClient(delegate HTTPClient, maxRetries int, logger *zap.SugaredLogger) *RetryClient {
	if maxRetries == 0 {
		maxRetries = 3
	}

	return &RetryClient{
		delegate:   delegate,
		maxRetries: maxRetries,
		ShouldRetry: func(resp *http.Response, err error) bool {
			// не ретраим явную отмену/дедлайн
			if err != nil {
				return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
			}
			// resp может быть nil
			if resp == nil {
				return true
			}
			// 5xx и 429 - кандидаты на повтор; 4xx - проблема сообщения
			return resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		},
		logger: logger,
	}
}

func (c *RetryClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	var resp *http.Response
	var err error

	// Готовим переиспользуемое тело: если GetBody нет, создаём его один раз
	if req.Body != nil && req.GetBody == nil {
		buf, e := io.ReadAll(req.Body)
		if e != nil {
			return nil, e
		}
		_ = req.Body.Close()
		req.ContentLength = int64(len(buf))
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(buf)), nil
		}
		rc, _ := req.GetBody()
		req.Body = rc
	}

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		// Восстановим тело для этой попытки
		if req.GetBody != nil {
			rc, e := req.GetBody()
			if e != nil {
				return nil, e
			}
			req.Body = rc
		}

		r := req.Clone(ctx)

		resp, err = c.delegate.Do(ctx, r)

		if !c.ShouldRetry(resp, err) || attempt == c.maxRetries-1 {
			return resp, err
		}

		// Получатель сам назначил паузу - уважаем её в разумных пределах
		pause, fromHeader := retryAfter(resp)
		if !fromHeader {
			pause = common.NextBackoffWithJitter(attempt + 1)
			if pause <= 0 {
				pause = 100 * time.Millisecond
			}
		}

		// Освобождаем соединение в пул перед повтором
		if resp != nil && resp.Body != nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}

		c.logger.Warnf("retry attempt=%d backoff=%s method=%s url=%s err=%v",
			attempt+1, pause, req.Method, req.URL.String(), err)

		if err = common.SleepCtx(ctx, pause); err != nil {
			return resp, fmt.Errorf("retry sleep canceled: %w", err)
		}
	}

	return resp, err
}

// retryAfter читает Retry-After ответа: целые секунды либо HTTP-дата.
// Значение обрезается сверху, ноль и прошлое игнорируются.
func retryAfter(resp *http.Response) (time.Duration, bool) {
	if resp == nil {
		return 0, false
	}
	raw := resp.Header.Get("Retry-After")
	if raw == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		if secs <= 0 {
			return 0, false
		}
		return min(time.Duration(secs)*time.Second, maxRetryPause), true
	}
	if at, err := http.ParseTime(raw); err == nil {
		d := time.Until(at)
		if d <= 0 {
			return 0, false
		}
		return min(d, maxRetryPause), true
	}
	return 0, false
}
