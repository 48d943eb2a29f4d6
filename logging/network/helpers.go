// Package network publishes events for the UDP transport and packet codec layer.
package network

import (
	"context"

	"fateinfer/logging"
)

const (
	// EventPacketRejected is emitted when a datagram fails header length/magic/version validation.
	EventPacketRejected logging.EventType = "network.packet_rejected"
	// EventPacketMalformed is emitted when a STATE or DONE packet is undersized or truncated.
	EventPacketMalformed logging.EventType = "network.packet_malformed"
	// EventSendFailed is emitted when a reply could not be written to the socket.
	EventSendFailed logging.EventType = "network.send_failed"
)

// RejectPayload captures why a datagram was rejected before or during parsing.
type RejectPayload struct {
	Source string `json:"source"`
	Reason string `json:"reason"`
	Bytes  int    `json:"bytes"`
}

// PacketRejected publishes a warning event for a datagram that failed header validation.
func PacketRejected(ctx context.Context, pub logging.Publisher, payload RejectPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventPacketRejected,
		Severity: logging.SeverityWarn,
		Category: logging.CategoryNetwork,
		Actor:    logging.EntityRef{ID: payload.Source, Kind: logging.EntityKindInstance},
		Payload:  payload,
	})
}

// PacketMalformed publishes a warning event for a STATE or DONE packet that failed to parse.
func PacketMalformed(ctx context.Context, pub logging.Publisher, payload RejectPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventPacketMalformed,
		Severity: logging.SeverityWarn,
		Category: logging.CategoryNetwork,
		Actor:    logging.EntityRef{ID: payload.Source, Kind: logging.EntityKindInstance},
		Payload:  payload,
	})
}

// SendFailedPayload captures an outbound socket failure.
type SendFailedPayload struct {
	Destination string `json:"destination"`
	Err         string `json:"err"`
}

// SendFailed publishes an error event for a failed sendto call.
func SendFailed(ctx context.Context, pub logging.Publisher, payload SendFailedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventSendFailed,
		Severity: logging.SeverityError,
		Category: logging.CategoryNetwork,
		Actor:    logging.EntityRef{ID: payload.Destination, Kind: logging.EntityKindInstance},
		Payload:  payload,
	})
}
