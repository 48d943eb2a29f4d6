// Package reward computes per-tick and terminal rewards for the twelve
// agents: event-based individual rewards, score-delta team rewards,
// per-tick idle/skill-point shaping, team-spirit blending, zero-sum
// normalization, and exponential time decay, applied in that fixed order.
package reward

import (
	"math"

	"fateinfer/internal/protocol"
)

// Defaults mirrors the reference implementation's constant reward table.
const (
	KillPersonal   = 3.0
	Death          = -1.0
	Creep          = 0.16
	LevelUp        = 0.5
	FriendlyKill   = -3.0
	ScorePoint     = 2.0
	SkillPtsHeld   = -0.02
	IdlePenalty    = -0.003
	WinReward      = 10.0
	LoseReward     = -5.0
	TimeoutReward  = -2.0
	TeamSpirit     = 0.5
	TimeDecayBase  = 0.7
	TimeDecayInterval = 600.0

	idleDistanceThreshold = 10.0
)

// Shaper carries the per-instance state the pipeline needs across ticks:
// each agent's previous position, used to detect idling.
type Shaper struct {
	prevX, prevY [protocol.MaxUnits]float32
	hasPrevPos   bool
}

// NewShaper returns a shaper with no prior position recorded.
func NewShaper() *Shaper {
	return &Shaper{}
}

// Reset clears prior-position tracking.
func (s *Shaper) Reset() {
	*s = Shaper{}
}

// Compute runs the full six-step pipeline for one tick and returns the
// per-agent reward array.
func (s *Shaper) Compute(units *[protocol.MaxUnits]protocol.UnitState, global protocol.GlobalState, events []protocol.Event, prevUnits *[protocol.MaxUnits]protocol.UnitState, prevGlobal protocol.GlobalState, hasPrev bool) [protocol.MaxUnits]float32 {
	var rewards [protocol.MaxUnits]float32

	// 1. Event rewards.
	for _, ev := range events {
		switch protocol.EventType(ev.Type) {
		case protocol.EventKill:
			killer, victim := int(ev.KillerIdx), int(ev.VictimIdx)
			if killer < 0 || killer >= protocol.MaxUnits || victim < 0 || victim >= protocol.MaxUnits {
				continue
			}
			if teamOf(killer) != teamOf(victim) {
				rewards[killer] += KillPersonal
			} else {
				rewards[killer] += FriendlyKill
			}
			rewards[victim] += Death
		case protocol.EventCreepKill:
			killer := int(ev.KillerIdx)
			if killer >= 0 && killer < protocol.MaxUnits {
				rewards[killer] += Creep
			}
		case protocol.EventLevelUp:
			unit := int(ev.KillerIdx)
			if unit >= 0 && unit < protocol.MaxUnits {
				rewards[unit] += LevelUp
			}
		}
	}

	// 2. Score deltas.
	if hasPrev {
		deltaT0 := int(global.ScoreTeam0) - int(prevGlobal.ScoreTeam0)
		deltaT1 := int(global.ScoreTeam1) - int(prevGlobal.ScoreTeam1)
		if deltaT0 > 0 {
			for i := 0; i < 6; i++ {
				rewards[i] += ScorePoint * float32(deltaT0)
			}
		}
		if deltaT1 > 0 {
			for i := 6; i < 12; i++ {
				rewards[i] += ScorePoint * float32(deltaT1)
			}
		}
	}

	// 3. Per-tick shaping.
	for i := 0; i < protocol.MaxUnits; i++ {
		u := &units[i]
		if u.Alive == 0 {
			continue
		}
		if s.hasPrevPos {
			dx := float64(u.X - s.prevX[i])
			dy := float64(u.Y - s.prevY[i])
			dist := math.Hypot(dx, dy)
			if dist < idleDistanceThreshold {
				rewards[i] += IdlePenalty
			}
		}
		s.prevX[i] = u.X
		s.prevY[i] = u.Y

		if u.SkillPoints > 0 {
			rewards[i] += SkillPtsHeld * float32(u.SkillPoints)
		}
	}
	s.hasPrevPos = true

	// 4. Team spirit.
	applyTeamSpirit(&rewards, TeamSpirit)

	// 5. Zero-sum.
	applyZeroSum(&rewards)

	// 6. Time decay.
	applyTimeDecay(&rewards, global.GameTime)

	return rewards
}

// ComputeTerminal returns the terminal reward array for an episode outcome.
func ComputeTerminal(winner uint8) [protocol.MaxUnits]float32 {
	var rewards [protocol.MaxUnits]float32
	switch winner {
	case protocol.WinnerTeam0:
		for i := 0; i < 6; i++ {
			rewards[i] = WinReward
		}
		for i := 6; i < 12; i++ {
			rewards[i] = LoseReward
		}
	case protocol.WinnerTeam1:
		for i := 0; i < 6; i++ {
			rewards[i] = LoseReward
		}
		for i := 6; i < 12; i++ {
			rewards[i] = WinReward
		}
	default:
		for i := range rewards {
			rewards[i] = TimeoutReward
		}
	}
	return rewards
}

func teamOf(i int) int {
	if i < 6 {
		return 0
	}
	return 1
}

func applyTeamSpirit(rewards *[protocol.MaxUnits]float32, tau float32) {
	for team := 0; team < 2; team++ {
		base := team * 6
		var sum float32
		for i := 0; i < 6; i++ {
			sum += rewards[base+i]
		}
		avg := sum / 6.0
		for i := 0; i < 6; i++ {
			rewards[base+i] = tau*avg + (1-tau)*rewards[base+i]
		}
	}
}

func applyZeroSum(rewards *[protocol.MaxUnits]float32) {
	var avg [2]float32
	for i := 0; i < 6; i++ {
		avg[0] += rewards[i]
	}
	for i := 6; i < 12; i++ {
		avg[1] += rewards[i]
	}
	avg[0] /= 6.0
	avg[1] /= 6.0

	for i := 0; i < 6; i++ {
		rewards[i] -= avg[1]
	}
	for i := 6; i < 12; i++ {
		rewards[i] -= avg[0]
	}
}

func applyTimeDecay(rewards *[protocol.MaxUnits]float32, gameTime float32) {
	decay := math.Pow(TimeDecayBase, float64(gameTime)/TimeDecayInterval)
	for i := range rewards {
		rewards[i] = float32(float64(rewards[i]) * decay)
	}
}
