package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPGateway delivers messages through a generic WhatsApp-style HTTP API:
// bearer token auth, JSON body, one recipient per request.
type HTTPGateway struct {
	apiURL   string
	apiToken string
	client   *http.Client
}

// NewHTTPGateway creates a gateway client for the given API endpoint.
func NewHTTPGateway(apiURL, apiToken string) *HTTPGateway {
	return &HTTPGateway{
		apiURL:   apiURL,
		apiToken: apiToken,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

type outboundPayload struct {
	MessagingProduct string       `json:"messaging_product"`
	RecipientType    string       `json:"recipient_type"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Text             outboundText `json:"text"`
}

type outboundText struct {
	PreviewURL bool   `json:"preview_url"`
	Body       string `json:"body"`
}

// Deliver sends content to the external recipient.
func (g *HTTPGateway) Deliver(ctx context.Context, channelRef, content string) error {
	payload := outboundPayload{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               channelRef,
		Type:             "text",
		Text:             outboundText{Body: content},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.apiURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.apiToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, snippet)
	}
	return nil
}
