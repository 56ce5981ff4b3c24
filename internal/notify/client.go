// Package notify доставляет уведомления пользователям во внешнюю систему уведомлений.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/familypoints/internal/model"
)

const maxAttempts = 2

// Client инкапсулирует HTTP-взаимодействие с системой уведомлений.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт HTTP-клиент для обращения к системе уведомлений по указанному адресу.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// Send отправляет уведомление методом POST /api/notifications.
// На ответ 429 повторяет запрос один раз после паузы из Retry-After.
func (c *Client) Send(ctx context.Context, n model.Notification) error {
	if c == nil || c.baseURL == "" {
		return fmt.Errorf("notification client not configured")
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	for attempt := 0; ; attempt++ {
		retryAfter, err := c.post(ctx, base+"/api/notifications", body)
		if err == nil {
			return nil
		}
		if retryAfter == 0 || attempt >= maxAttempts-1 {
			return err
		}

		timer := time.NewTimer(retryAfter)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %w", err, ctx.Err())
		case <-timer.C:
		}
	}
}

// post выполняет один запрос. При ответе 429 возвращает паузу из Retry-After.
func (c *Client) post(ctx context.Context, url string, body []byte) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := time.Second
		if v := resp.Header.Get("Retry-After"); v != "" {
			if seconds, parseErr := strconv.Atoi(v); parseErr == nil && seconds > 0 {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		return retryAfter, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	return 0, nil
}

// LogSender записывает уведомления в журнал, когда система уведомлений не настроена.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender создаёт отправитель, пишущий уведомления в logger.
func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// Send записывает уведомление в журнал.
func (s *LogSender) Send(_ context.Context, n model.Notification) error {
	s.logger.Info("notification",
		zap.String("userID", n.UserID.String()),
		zap.String("kind", string(n.Kind)),
		zap.String("title", n.Title),
		zap.String("relatedID", n.RelatedID.String()),
		zap.String("relatedKind", n.RelatedKind),
	)
	return nil
}
