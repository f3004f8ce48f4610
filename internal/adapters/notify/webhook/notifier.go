package webhook

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"clinical-occurrences/internal/domain/finalization"
	"clinical-occurrences/internal/platform/httpclient"
)

// Notifier publica el payload de finalización vía POST JSON.
type Notifier struct {
	http   *httpclient.Client
	logger *zap.Logger
}

func New(timeout time.Duration, retries int, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := httpclient.New(timeout)
	if retries > 0 {
		c.WithRetry(retries, 500*time.Millisecond)
	}
	return &Notifier{http: c, logger: logger}
}

// NewWithClient permite inyectar el cliente (tests).
func NewWithClient(c *httpclient.Client, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{http: c, logger: logger}
}

func (n *Notifier) Post(ctx context.Context, url string, payload finalization.Payload) error {
	if url == "" {
		return fmt.Errorf("webhook: empty url")
	}
	err := n.http.DoJSON(ctx, http.MethodPost, url, map[string]string{
		"X-Event": payload.Event,
	}, payload, nil)
	if err != nil {
		return fmt.Errorf("webhook %s: %w", payload.Event, err)
	}
	n.logger.Debug("webhook delivered",
		zap.String("event", payload.Event),
		zap.String("occurrence", payload.OccurrenceID),
	)
	return nil
}
