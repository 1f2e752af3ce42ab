package reporter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"algohub/internal/pkg/logger"
	"algohub/pkg/model"
)

// ErrRejected 监控端返回 3xx/4xx，不重试
var ErrRejected = errors.New("status report rejected")

// HTTPReporter 以 JSON 数组 POST 到监控端
type HTTPReporter struct {
	url     string
	client  *http.Client
	retries int
	backoff time.Duration
}

func NewHTTP(url string, timeout time.Duration, retries int) *HTTPReporter {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if retries <= 0 {
		retries = 3
	}
	return &HTTPReporter{
		url:     url,
		client:  &http.Client{Timeout: timeout},
		retries: retries,
		backoff: 200 * time.Millisecond,
	}
}

// Send 最多尝试 retries 次，传输错误和 5xx 会重试
func (r *HTTPReporter) Send(ctx context.Context, msg *model.StatusMessage) error {
	body, err := json.Marshal([]*model.StatusMessage{msg})
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= r.retries; attempt++ {
		lastErr = r.post(ctx, body)
		if lastErr == nil || errors.Is(lastErr, ErrRejected) {
			break
		}
		logger.Debugf("[Reporter] attempt %d/%d failed: %v", attempt, r.retries, lastErr)
		if attempt == r.retries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.backoff * time.Duration(attempt)):
		}
	}
	if lastErr != nil {
		logger.Warnf("[Reporter] 发送状态失败 %s: %v", msg.Name, lastErr)
	}
	return lastErr
}

func (r *HTTPReporter) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("monitor returned %d", resp.StatusCode)
	case resp.StatusCode >= 300:
		return fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	}
	return nil
}

func (r *HTTPReporter) Close() error {
	r.client.CloseIdleConnections()
	return nil
}
