package reward

import (
	"math"
	"testing"

	"fateinfer/internal/protocol"
)

func aliveUnits(moved bool) *[protocol.MaxUnits]protocol.UnitState {
	var units [protocol.MaxUnits]protocol.UnitState
	for i := range units {
		units[i].Alive = 1
		if moved {
			units[i].X = float32(i) * 100
			units[i].Y = float32(i) * 50
		}
	}
	return &units
}

func TestZeroEventsEqualScoresNoIdleYieldsZeroReward(t *testing.T) {
	s := NewShaper()
	prev := aliveUnits(false)
	cur := aliveUnits(false)
	// Move everyone by >=10 units between prev and cur so idle penalty does
	// not fire; game_time=0 so decay is a no-op (decay_base^0 == 1).
	for i := range cur {
		cur[i].X = prev[i].X + 50
		cur[i].Y = prev[i].Y
	}

	global := protocol.GlobalState{GameTime: 0, ScoreTeam0: 5, ScoreTeam1: 5}
	// Prime prevPos by running one tick first so the idle check is active
	// on the second, then assert the second tick is exactly zero.
	s.Compute(prev, global, nil, prev, global, false)
	rewards := s.Compute(cur, global, nil, prev, global, true)

	for i, r := range rewards {
		if math.Abs(float64(r)) > 1e-6 {
			t.Errorf("agent %d: expected zero reward, got %v", i, r)
		}
	}
}

func TestKillEventRawReward(t *testing.T) {
	s := NewShaper()
	units := aliveUnits(true)
	global := protocol.GlobalState{GameTime: 0}
	events := []protocol.Event{{Type: uint8(protocol.EventKill), KillerIdx: 0, VictimIdx: 6}}

	// Call compute with hasPrev=false so score-delta/idle terms don't mix in.
	// With GameTime=0 decay is a no-op, but spirit and zero-sum still apply,
	// and Compute exposes only the post-pipeline rewards, so the raw
	// kill_personal / death terms are checked indirectly through the
	// orderings they leave behind.
	rewards := s.Compute(units, global, events, units, global, false)

	// After team spirit + zero-sum, team 0's mean includes KillPersonal/6
	// blended in, and team 1's mean includes Death/6; zero-sum subtracts the
	// opposing team's mean from every member, so agent 0 and 6 remain the
	// extremes of their respective teams.
	if rewards[0] <= rewards[1] {
		t.Errorf("killer should outscore idle teammates: %v vs %v", rewards[0], rewards[1])
	}
	if rewards[6] >= rewards[7] {
		t.Errorf("victim should underscore idle teammates: %v vs %v", rewards[6], rewards[7])
	}
}

func TestZeroSumTeamMeansCancel(t *testing.T) {
	s := NewShaper()
	units := aliveUnits(true)
	global := protocol.GlobalState{GameTime: 300}
	events := []protocol.Event{
		{Type: uint8(protocol.EventKill), KillerIdx: 2, VictimIdx: 9},
		{Type: uint8(protocol.EventCreepKill), KillerIdx: 4},
	}
	rewards := s.Compute(units, global, events, units, global, false)

	var mean0, mean1 float64
	for i := 0; i < 6; i++ {
		mean0 += float64(rewards[i])
	}
	for i := 6; i < 12; i++ {
		mean1 += float64(rewards[i])
	}
	mean0 /= 6
	mean1 /= 6

	if math.Abs(mean0+mean1) > 1e-4 {
		t.Errorf("expected team means to cancel post zero-sum, got mean0=%v mean1=%v sum=%v", mean0, mean1, mean0+mean1)
	}
}

func TestComputeTerminalOutcomes(t *testing.T) {
	win0 := ComputeTerminal(protocol.WinnerTeam0)
	for i := 0; i < 6; i++ {
		if win0[i] != WinReward {
			t.Errorf("team0 win: agent %d expected %v got %v", i, WinReward, win0[i])
		}
	}
	for i := 6; i < 12; i++ {
		if win0[i] != LoseReward {
			t.Errorf("team0 win: agent %d expected %v got %v", i, LoseReward, win0[i])
		}
	}

	draw := ComputeTerminal(protocol.WinnerDraw)
	for i, r := range draw {
		if r != TimeoutReward {
			t.Errorf("draw: agent %d expected %v got %v", i, TimeoutReward, r)
		}
	}
}

func TestIdlePenaltyFiresBelowThreshold(t *testing.T) {
	s := NewShaper()
	prev := aliveUnits(false)
	global := protocol.GlobalState{GameTime: 0}
	s.Compute(prev, global, nil, prev, global, false)

	// Team 0 stays put (idle), team 1 moves well past the threshold, so
	// after zero-sum team 0's rewards are negative and team 1's positive.
	cur := aliveUnits(false)
	for i := 6; i < 12; i++ {
		cur[i].X = prev[i].X + 50
	}
	rewards := s.Compute(cur, global, nil, prev, global, true)

	for i := 0; i < 6; i++ {
		if rewards[i] >= 0 {
			t.Errorf("idle team0 agent %d: expected negative reward, got %v", i, rewards[i])
		}
	}
	for i := 6; i < 12; i++ {
		if rewards[i] <= 0 {
			t.Errorf("moving team1 agent %d: expected positive reward, got %v", i, rewards[i])
		}
	}
}
