package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/rl1809/order-pipeline/internal/core/domain"
)

const notifyPath = "/notify"

// HTTPNotifier posts order updates to the notification service.
type HTTPNotifier struct {
	client  *http.Client
	baseURL string
	token   string
}

func NewHTTPNotifier(baseURL, token string, timeout time.Duration) *HTTPNotifier {
	return &HTTPNotifier{
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
	}
}

func (n *HTTPNotifier) Name() string { return "http" }

func (n *HTTPNotifier) Notify(ctx context.Context, order domain.Order) error {
	data, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("encode order: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+notifyPath, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Basic "+n.token)

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notify order %s: status %d", order.ID, resp.StatusCode)
	}
	return nil
}
