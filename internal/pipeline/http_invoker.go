package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// HTTPInvoker posts the envelope to a processor service. Any 2xx
// response is success; the response body is not interpreted.
type HTTPInvoker struct {
	URL    string
	Client *http.Client
}

func NewHTTPInvoker(url string, client *http.Client) *HTTPInvoker {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPInvoker{URL: url, Client: client}
}

func (h *HTTPInvoker) Invoke(ctx context.Context, msg TransformedMessage) error {
	body, err := msg.Marshal()
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.New().String())

	resp, err := h.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("processor returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}
