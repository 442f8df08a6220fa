package messaging

import "context"

// OutboundMessage is a single SMS to a customer.
type OutboundMessage struct {
	To       string
	From     string
	Body     string
	JobID    string
	Metadata map[string]string
}

// Sender delivers outbound SMS. Implementations retry transient provider
// failures internally; a returned error means the message did not go out.
type Sender interface {
	Send(ctx context.Context, msg OutboundMessage) error
}
