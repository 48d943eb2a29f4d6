// Package orchestrator publishes events for the per-cycle control loop.
package orchestrator

import (
	"context"

	"fateinfer/logging"
)

const (
	// EventInstanceCreated is emitted the first time a STATE packet is seen from an instance.
	EventInstanceCreated logging.EventType = "orchestrator.instance_created"
	// EventTickReset is emitted when a tick regression resets an instance's episode.
	EventTickReset logging.EventType = "orchestrator.tick_reset"
	// EventStatsTick is emitted on the periodic stats log.
	EventStatsTick logging.EventType = "orchestrator.stats"
)

// InstanceCreatedPayload identifies a newly observed instance.
type InstanceCreatedPayload struct {
	Instance string `json:"instance"`
	Tick     uint32 `json:"tick"`
}

// InstanceCreated publishes an info event for a new instance's first STATE packet.
func InstanceCreated(ctx context.Context, pub logging.Publisher, payload InstanceCreatedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventInstanceCreated,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryOrchestrator,
		Actor:    logging.EntityRef{ID: payload.Instance, Kind: logging.EntityKindInstance},
		Payload:  payload,
	})
}

// TickResetPayload describes an observed tick regression.
type TickResetPayload struct {
	Instance string `json:"instance"`
	OldTick  uint32 `json:"oldTick"`
	NewTick  uint32 `json:"newTick"`
}

// TickReset publishes a warning event when a tick regression forces an episode reset.
func TickReset(ctx context.Context, pub logging.Publisher, payload TickResetPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventTickReset,
		Severity: logging.SeverityWarn,
		Category: logging.CategoryOrchestrator,
		Actor:    logging.EntityRef{ID: payload.Instance, Kind: logging.EntityKindInstance},
		Payload:  payload,
	})
}

// StatsPayload is the periodic counter snapshot.
type StatsPayload struct {
	Packets         uint64 `json:"packets"`
	Inferences      uint64 `json:"inferences"`
	ActiveInstances int    `json:"activeInstances"`
	Skipped         uint64 `json:"skipped"`
}

// StatsTick publishes an info event with the rolling counters.
func StatsTick(ctx context.Context, pub logging.Publisher, payload StatsPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventStatsTick,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryOrchestrator,
		Payload:  payload,
	})
}
