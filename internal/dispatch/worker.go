package dispatch

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"emergency-response/internal/repository"

	"github.com/sirupsen/logrus"
)

// WebhookWorker forwards queued coordination events (new alerts, new
// assignments) to an external push transport. Delivery to devices is that
// transport's problem.
type WebhookWorker struct {
	storage    *repository.Storage
	logger     *logrus.Logger
	webhookURL string
	client     *http.Client
}

func NewWebhookWorker(storage *repository.Storage, logger *logrus.Logger, webhookURL string) *WebhookWorker {
	return &WebhookWorker{
		storage:    storage,
		logger:     logger,
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *WebhookWorker) Run(ctx context.Context) {
	if w.webhookURL == "" {
		w.logger.Info("WEBHOOK_URL not set, webhook worker disabled")
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
			payload, err := w.storage.BLPopWebhookTask(ctx, 5*time.Second)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				continue
			}

			req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.webhookURL, bytes.NewReader([]byte(payload)))
			if err != nil {
				w.logger.WithError(err).Error("invalid request to webhookURL")
				continue
			}
			req.Header.Set("Content-Type", "application/json")

			resp, err := w.client.Do(req)
			if err != nil {
				w.logger.WithError(err).Error("problem while sending request to webhookURL")
				continue
			}
			resp.Body.Close()
		}
	}
}
