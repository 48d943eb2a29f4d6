// Package reward publishes events for terminal reward computation and episode outcomes.
package reward

import (
	"context"

	"fateinfer/logging"
)

// EventEpisodeEnded is emitted when an instance's episode concludes via DONE.
// An episode ended by a tick reset does not emit it, so TickReset is never set.
const EventEpisodeEnded logging.EventType = "reward.episode_ended"

// EpisodeEndedPayload summarizes how an episode concluded.
type EpisodeEndedPayload struct {
	Instance   string `json:"instance"`
	Winner     int    `json:"winner"`
	Reason     string `json:"reason"`
	ScoreTeam0 int    `json:"scoreTeam0"`
	ScoreTeam1 int    `json:"scoreTeam1"`
	TickReset  bool   `json:"tickReset"`
}

// EpisodeEnded publishes an info event describing the terminal outcome applied to an instance.
func EpisodeEnded(ctx context.Context, pub logging.Publisher, payload EpisodeEndedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventEpisodeEnded,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryReward,
		Actor:    logging.EntityRef{ID: payload.Instance, Kind: logging.EntityKindInstance},
		Payload:  payload,
	})
}
