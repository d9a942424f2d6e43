package syncclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/dermolink/chat-pipeline/internal/model"
)

// HTTPFetcher polls the pipeline API over HTTP.
type HTTPFetcher struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPFetcher creates a fetcher against the given API base URL
// (e.g. "http://localhost:8080/api/v1").
func NewHTTPFetcher(baseURL, token string) *HTTPFetcher {
	return &HTTPFetcher{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Poll fetches messages with id > afterID.
func (f *HTTPFetcher) Poll(ctx context.Context, conversationID string, afterID int64) ([]model.Message, error) {
	url := fmt.Sprintf("%s/conversations/%s/messages?after_id=%s",
		f.baseURL, conversationID, strconv.FormatInt(afterID, 10))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("poll request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("poll returned %d", resp.StatusCode)
	}

	var body model.ListMessagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode poll response: %w", err)
	}
	return body.Messages, nil
}
