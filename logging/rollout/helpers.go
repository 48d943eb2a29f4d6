// Package rollout publishes events for the trajectory buffer and FATE container writer.
package rollout

import (
	"context"

	"fateinfer/logging"
)

const (
	// EventEpisodeFlushed is emitted when a completed episode moves from the live buffer
	// into the pending-dump list.
	EventEpisodeFlushed logging.EventType = "rollout.episode_flushed"
	// EventDumped is emitted after one or more episodes are serialized to disk.
	EventDumped logging.EventType = "rollout.dumped"
	// EventSerializeFailed is emitted when writing a FATE container fails.
	EventSerializeFailed logging.EventType = "rollout.serialize_failed"
)

// FlushedPayload describes a newly completed episode.
type FlushedPayload struct {
	Instance     string `json:"instance"`
	Transitions  int    `json:"transitions"`
	TerminalOnly bool   `json:"terminalOnly"`
}

// EpisodeFlushed publishes a debug event when an instance's episode is moved to pending dump.
func EpisodeFlushed(ctx context.Context, pub logging.Publisher, payload FlushedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventEpisodeFlushed,
		Severity: logging.SeverityDebug,
		Category: logging.CategoryRollout,
		Actor:    logging.EntityRef{ID: payload.Instance, Kind: logging.EntityKindInstance},
		Payload:  payload,
	})
}

// DumpedPayload reports how many episodes and transitions were written in a dump pass.
type DumpedPayload struct {
	Episodes    int `json:"episodes"`
	Transitions int `json:"transitions"`
}

// Dumped publishes an info event once a batch of episodes has been serialized.
func Dumped(ctx context.Context, pub logging.Publisher, payload DumpedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventDumped,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryRollout,
		Payload:  payload,
	})
}

// SerializeFailedPayload captures why a FATE container could not be written.
type SerializeFailedPayload struct {
	Path string `json:"path"`
	Err  string `json:"err"`
}

// SerializeFailed publishes an error event when an episode is dropped due to a write failure.
func SerializeFailed(ctx context.Context, pub logging.Publisher, payload SerializeFailedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventSerializeFailed,
		Severity: logging.SeverityError,
		Category: logging.CategoryRollout,
		Payload:  payload,
	})
}
