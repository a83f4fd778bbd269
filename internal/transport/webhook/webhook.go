package webhook

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"coordinator/internal/application/entity"
	"coordinator/internal/transport"
	"coordinator/pkg/httpclient"

	"go.uber.org/zap"
)

// DestinationPrefix - destination вида "https://host/path" (или "http://").
const (
	DestinationPrefix      = "https://"
	DestinationPrefixPlain = "http://"
)

// WebhookTransport доставляет claimed outbound сообщения POST-ом на
// destination URL. Классификация по коду ответа: 2xx - успех, 5xx/429 и
// сетевые сбои - retryable (их уже пытался погасить RetryClient),
// остальные 4xx - перманентный отказ.
type WebhookTransport struct {
	client httpclient.HTTPClient
	logger *zap.SugaredLogger
}

func NewWebhookTransport(client httpclient.HTTPClient, logger *zap.SugaredLogger) *WebhookTransport {
	return &WebhookTransport{client: client, logger: logger}
}

func (w *WebhookTransport) IsReady(ctx context.Context) bool {
	return w.client != nil
}

func (w *WebhookTransport) Publish(ctx context.Context, m *entity.Message) transport.Result {
	req, err := http.NewRequest(http.MethodPost, m.Destination, bytes.NewReader(m.Payload))
	if err != nil {
		// кривой URL не починится повтором
		return transport.Result{Outcome: transport.PermanentFailure, Err: fmt.Errorf("build webhook request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Message-Id", m.MessageID.String())
	req.Header.Set("X-Message-Type", m.MessageType)
	if m.StreamID != nil {
		req.Header.Set("X-Stream-Id", *m.StreamID)
	}

	resp, err := w.client.Do(ctx, req)
	if err != nil {
		w.logger.Warnf("[message %s] webhook failed: url=%s err=%v", m.MessageID, m.Destination, err)
		return transport.Result{Outcome: transport.RetryableFailure, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		w.logger.Infof("[message %s] webhook delivered: url=%s status=%d", m.MessageID, m.Destination, resp.StatusCode)
		return transport.Result{Outcome: transport.Success}
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return transport.Result{
			Outcome: transport.RetryableFailure,
			Err:     fmt.Errorf("webhook %s: status %d", m.Destination, resp.StatusCode),
		}
	default:
		w.logger.Errorf("[message %s] webhook rejected: url=%s status=%d", m.MessageID, m.Destination, resp.StatusCode)
		return transport.Result{
			Outcome: transport.PermanentFailure,
			Err:     fmt.Errorf("webhook %s: status %d", m.Destination, resp.StatusCode),
		}
	}
}
