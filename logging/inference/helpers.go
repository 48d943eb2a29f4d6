// Package inference publishes events for the policy load/reload/forward cycle.
package inference

import (
	"context"

	"fateinfer/logging"
)

const (
	// EventModelLoaded marks a policy artifact load or reload. It is published
	// only by ModelLoaded, which nothing in the server calls.
	EventModelLoaded logging.EventType = "inference.model_loaded"
	// EventModelMissing marks a missing artifact at the configured path. It is
	// published only by ModelMissing, which nothing in the server calls.
	EventModelMissing logging.EventType = "inference.model_missing"
	// EventForwardFailed is emitted when a single hero's forward pass raises.
	EventForwardFailed logging.EventType = "inference.forward_failed"
)

// ModelLoadedPayload captures which artifact was loaded and when it was written.
type ModelLoadedPayload struct {
	Path      string `json:"path"`
	ModTimeNS int64  `json:"modTimeNs"`
}

// ModelLoaded publishes an info event when a policy artifact is (re)loaded.
func ModelLoaded(ctx context.Context, pub logging.Publisher, payload ModelLoadedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventModelLoaded,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryInference,
		Payload:  payload,
	})
}

// ModelMissing publishes a warning event when no artifact is found at the model path.
func ModelMissing(ctx context.Context, pub logging.Publisher, path string) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventModelMissing,
		Severity: logging.SeverityWarn,
		Category: logging.CategoryInference,
		Payload:  map[string]string{"path": path},
	})
}

// ForwardFailedPayload identifies the hero and cause of a failed forward pass.
type ForwardFailedPayload struct {
	HeroID string `json:"heroId"`
	Index  int    `json:"index"`
	Err    string `json:"err"`
}

// ForwardFailed publishes an error event when a hero's forward pass could not be completed.
func ForwardFailed(ctx context.Context, pub logging.Publisher, payload ForwardFailedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventForwardFailed,
		Severity: logging.SeverityError,
		Category: logging.CategoryInference,
		Actor:    logging.EntityRef{ID: payload.HeroID, Kind: logging.EntityKindHero},
		Payload:  payload,
	})
}
