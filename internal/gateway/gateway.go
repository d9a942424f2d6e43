// Package gateway adapts the external messaging channel. The pipeline only
// needs two things from it: deliver outbound content to a channel reference,
// and map inbound webhook events to conversations. Wire-level concerns
// (signature verification, media, provider rate limits) live outside the
// core.
package gateway

import (
	"context"
)

// Gateway delivers outbound messages to an external recipient.
type Gateway interface {
	// Deliver sends content to the recipient identified by channelRef.
	// Returns an error on a non-acknowledged delivery; the caller treats
	// delivery as at-least-once.
	Deliver(ctx context.Context, channelRef, content string) error
}

// Noop discards outbound deliveries. Used for internal-only deployments.
type Noop struct{}

// Deliver discards the message.
func (Noop) Deliver(ctx context.Context, channelRef, content string) error { return nil }
