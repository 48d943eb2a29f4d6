// Package encode turns a parsed STATE packet into the twelve egocentric
// tensor bundles the policy consumes: self/ally/enemy vectors, a global
// vector, an image-grid stack, and the per-observer enemy sort map that
// keeps masks and sampled actions in the same coordinate space.
package encode

import (
	"math"
	"sort"

	"fateinfer/internal/protocol"
)

// Normalization constants, mirrored from the reference encoder so every
// feature lands in roughly [-1, 1] regardless of raw game units.
const (
	normHP       = 10000.0
	normMP       = 5000.0
	normXY       = 10000.0
	normStat     = 200.0
	normAtk      = 500.0
	normDef      = 50.0
	normMoveSpd  = 522.0
	normLevel    = 25.0
	normCD       = 120.0
	normFaire    = 16000.0
	normScore    = 70.0
	normGameTime = 1800.0
)

const (
	mapMinX  = -8416.0
	mapMaxX  = 8320.0
	mapMinY  = -2592.0
	mapMaxY  = 6176.0
	cellSize = 350.0
)

// Feature-vector widths for the three per-unit encodings.
const (
	SelfDim   = 77
	AllyDim   = 37
	EnemyDim  = 43
	GlobalDim = 6
)

const NumAllies = 5
const NumEnemies = 6

// Observation holds the full twelve-perspective encoding for one tick.
type Observation struct {
	Self    [protocol.MaxUnits][SelfDim]float32
	Ally    [protocol.MaxUnits][NumAllies][AllyDim]float32
	Enemy   [protocol.MaxUnits][NumEnemies][EnemyDim]float32
	Global  [protocol.MaxUnits][GlobalDim]float32
	Grid    [protocol.MaxUnits][3][protocol.GridH][protocol.GridW]float32
	SortMap [protocol.MaxUnits][NumEnemies]int
}

// Encode produces the per-agent observation bundle for every unit in units,
// given the accompanying global state and the three grid planes (pathability
// may be empty if the packet omitted it).
func Encode(units *[protocol.MaxUnits]protocol.UnitState, global protocol.GlobalState, pathability, visT0, visT1 []byte) *Observation {
	obs := &Observation{}

	for i := 0; i < protocol.MaxUnits; i++ {
		team := teamOf(i)

		encodeSelf(&units[i], &obs.Self[i])

		allyIdx := 0
		for j := team * 6; j < team*6+6; j++ {
			if j == i {
				continue
			}
			encodeAlly(&units[j], &units[i], &obs.Ally[i][allyIdx])
			allyIdx++
		}

		enemyStart := 6
		if team == 1 {
			enemyStart = 0
		}
		sorted := sortEnemies(i, units, enemyStart)
		obs.SortMap[i] = sorted
		for s, realOffset := range sorted {
			enc := &units[enemyStart+realOffset]
			encodeEnemy(enc, i, &units[i], &obs.Enemy[i][s])
		}

		encodeGlobal(global, team, &obs.Global[i])
		encodeGrid(team, units, pathability, visT0, visT1, &obs.Grid[i])
	}

	return obs
}

func teamOf(i int) int {
	if i < 6 {
		return 0
	}
	return 1
}

// sortEnemies returns, for observer i, the permutation mapping sorted slot
// to real enemy offset (0..5 within that team's block), ordered by
// (rank, dist^2, real_offset) where rank 0 = alive & visible to i,
// 1 = alive & not visible, 2 = dead.
func sortEnemies(observer int, units *[protocol.MaxUnits]protocol.UnitState, enemyStart int) [NumEnemies]int {
	self := &units[observer]
	type entry struct {
		offset int
		rank   int
		dist2  float64
	}
	entries := make([]entry, NumEnemies)
	for j := 0; j < NumEnemies; j++ {
		u := &units[enemyStart+j]
		visible := protocol.MaskBit16(u.VisibleMask, observer)
		rank := 2
		if u.Alive != 0 {
			if visible {
				rank = 0
			} else {
				rank = 1
			}
		}
		dx := float64(u.X - self.X)
		dy := float64(u.Y - self.Y)
		entries[j] = entry{offset: j, rank: rank, dist2: dx*dx + dy*dy}
	}
	sort.SliceStable(entries, func(a, b int) bool {
		if entries[a].rank != entries[b].rank {
			return entries[a].rank < entries[b].rank
		}
		if entries[a].dist2 != entries[b].dist2 {
			return entries[a].dist2 < entries[b].dist2
		}
		return entries[a].offset < entries[b].offset
	})
	var out [NumEnemies]int
	for s, e := range entries {
		out[s] = e.offset
	}
	return out
}

func heroOneHot(heroID [4]byte, out []float32, base int) {
	idx := protocol.HeroIndex(string(heroID[:]))
	if idx < 0 {
		idx = 0
	}
	out[base+idx] = 1.0
}

func encodeSelf(u *protocol.UnitState, out *[SelfDim]float32) {
	if u.Alive == 0 {
		return
	}
	v := out[:]
	idx := 0

	v[idx] = u.HP / normHP
	idx++
	v[idx] = u.MaxHP / normHP
	idx++
	v[idx] = u.MP / normMP
	idx++
	v[idx] = u.MaxMP / normMP
	idx++
	v[idx] = u.X / normXY
	idx++
	v[idx] = u.Y / normXY
	idx++

	v[idx] = float32(u.Str) / normStat
	idx++
	v[idx] = float32(u.Agi) / normStat
	idx++
	v[idx] = float32(u.Int) / normStat
	idx++
	v[idx] = u.Atk / normAtk
	idx++
	v[idx] = u.Def / normDef
	idx++

	for k := 0; k < 9; k++ {
		v[idx] = float32(u.Upgrades[k]) / 50.0
		idx++
	}

	v[idx] = u.MoveSpd / normMoveSpd
	idx++
	v[idx] = u.AtkRange / 1000.0
	idx++
	v[idx] = u.AtkSpd / 3.0
	idx++

	v[idx] = float32(u.Level) / normLevel
	idx++
	v[idx] = float32(u.XP) / 50000.0
	idx++
	v[idx] = float32(u.SkillPoints) / 10.0
	idx++
	v[idx] = float32(u.StatPoints) / 200.0
	idx++

	for s := 0; s < 6; s++ {
		v[idx] = u.Skills[s].CDRemain / normCD
		idx++
		v[idx] = float32(u.Skills[s].Level) / 10.0
		idx++
	}

	for b := 0; b < 4; b++ {
		v[idx] = bitFloat(u.Attributes, b)
		idx++
	}
	for b := 0; b < 6; b++ {
		v[idx] = bitFloat(u.Buffs, b)
		idx++
	}

	v[idx] = float32(u.SealCharges) / 12.0
	idx++
	v[idx] = float32(u.SealCD) / 30.0
	idx++
	v[idx] = float32(u.SealFirstActive)
	idx++
	v[idx] = u.SealFirstRemain / 30.0
	idx++

	for i := 0; i < 6; i++ {
		v[idx] = float32(u.Items[i].TypeID) / 20.0
		idx++
	}

	v[idx] = float32(u.Faire) / normFaire
	idx++
	v[idx] = 0.0 // faire_regen placeholder
	idx++
	v[idx] = float32(u.FaireCap) / 20000.0
	idx++

	v[idx] = u.VelX / 500.0
	idx++
	v[idx] = u.VelY / 500.0
	idx++

	v[idx] = 1.0 // alive
	idx++

	heroOneHot(u.HeroID, v, idx)
}

func bitFloat(mask uint8, bit int) float32 {
	if protocol.MaskBit(mask, bit) {
		return 1.0
	}
	return 0.0
}

// polarRelative returns (atan2(dy,dx)/pi, dist/10000) of target relative to observer.
func polarRelative(observer, target *protocol.UnitState) (float32, float32) {
	dx := float64(target.X - observer.X)
	dy := float64(target.Y - observer.Y)
	angle := math.Atan2(dy, dx) / math.Pi
	dist := math.Hypot(dx, dy) / 10000.0
	return float32(angle), float32(dist)
}

func encodeAlly(u, observer *protocol.UnitState, out *[AllyDim]float32) {
	if u.Alive == 0 {
		return
	}
	v := out[:]
	idx := 0

	v[idx] = u.HP / normHP
	idx++
	v[idx] = u.MaxHP / normHP
	idx++
	v[idx] = u.MP / normMP
	idx++
	v[idx] = u.MaxMP / normMP
	idx++
	v[idx] = u.X / normXY
	idx++
	v[idx] = u.Y / normXY
	idx++

	v[idx] = float32(u.Str) / normStat
	idx++
	v[idx] = float32(u.Agi) / normStat
	idx++
	v[idx] = float32(u.Int) / normStat
	idx++
	v[idx] = u.Atk / normAtk
	idx++
	v[idx] = u.Def / normDef
	idx++

	v[idx] = u.MoveSpd / normMoveSpd
	idx++
	v[idx] = u.AtkRange / 1000.0
	idx++
	v[idx] = u.AtkSpd / 3.0
	idx++

	v[idx] = float32(u.Level) / normLevel
	idx++

	for s := 0; s < 6; s++ {
		v[idx] = u.Skills[s].CDRemain / normCD
		idx++
	}
	for b := 0; b < 6; b++ {
		v[idx] = bitFloat(u.Buffs, b)
		idx++
	}

	v[idx] = 1.0 // alive
	idx++
	v[idx] = float32(u.SealCharges) / 12.0
	idx++
	v[idx] = float32(u.Faire) / normFaire
	idx++

	v[idx] = u.VelX / 500.0
	idx++
	v[idx] = u.VelY / 500.0
	idx++
	// idx == 32 here.

	angle, dist := polarRelative(observer, u)
	v[idx] = angle
	idx++
	v[idx] = dist
	idx++
	// remaining 3 slots (34..36) stay zero: true padding reserved for
	// future belief-style features, per the placeholder-sentinel rule.
}

// encodeEnemy fills one enemy slot as seen by observer i. Dead units encode
// only the hero one-hot; alive-but-not-visible units encode only alive +
// hero one-hot (fog-of-war redaction); alive-and-visible units get the full
// vector plus polar-relative features in the two trailing slots.
func encodeEnemy(u *protocol.UnitState, observerIdx int, observer *protocol.UnitState, out *[EnemyDim]float32) {
	v := out[:]
	heroBase := 23

	if u.Alive == 0 {
		heroOneHot(u.HeroID, v, heroBase)
		return
	}

	visible := protocol.MaskBit16(u.VisibleMask, observerIdx)
	if !visible {
		v[22] = 1.0 // alive
		heroOneHot(u.HeroID, v, heroBase)
		return
	}

	idx := 0
	v[idx] = 1.0 // visible
	idx++

	v[idx] = u.HP / normHP
	idx++
	v[idx] = u.MaxHP / normHP
	idx++
	v[idx] = u.MP / normMP
	idx++
	v[idx] = u.MaxMP / normMP
	idx++
	v[idx] = u.X / normXY
	idx++
	v[idx] = u.Y / normXY
	idx++

	v[idx] = float32(u.Str) / normStat
	idx++
	v[idx] = float32(u.Agi) / normStat
	idx++
	v[idx] = float32(u.Int) / normStat
	idx++
	v[idx] = u.Atk / normAtk
	idx++
	v[idx] = u.Def / normDef
	idx++
	v[idx] = u.MaxHP / normHP
	idx++
	v[idx] = u.MaxMP / normMP
	idx++

	v[idx] = float32(u.Level) / normLevel
	idx++
	v[idx] = 0.0 // death_count placeholder
	idx++

	for b := 0; b < 6; b++ {
		v[idx] = bitFloat(u.Buffs, b)
		idx++
	}

	v[idx] = 1.0 // alive
	idx++
	// idx == 23 == heroBase
	heroOneHot(u.HeroID, v, idx)
	idx += protocol.NumHeroes

	v[idx] = u.VelX / 500.0
	idx++
	v[idx] = u.VelY / 500.0
	idx++

	for k := 0; k < 4; k++ {
		v[idx] = -1.0 // belief placeholder
		idx++
	}
	// idx == 41 here.

	angle, dist := polarRelative(observer, u)
	v[idx] = angle
	idx++
	v[idx] = dist
}

func encodeGlobal(g protocol.GlobalState, myTeam int, out *[GlobalDim]float32) {
	v := out[:]
	v[0] = g.GameTime / normGameTime
	v[1] = float32(g.IsNight)
	if myTeam == 0 {
		v[2] = float32(g.ScoreTeam0) / normScore
		v[3] = float32(g.ScoreTeam1) / normScore
	} else {
		v[2] = float32(g.ScoreTeam1) / normScore
		v[3] = float32(g.ScoreTeam0) / normScore
	}
	v[4] = float32(g.CRankStock) / 8.0
	v[5] = 0.0
}

func worldToGrid(x, y float32) (int, int) {
	gx := int((x - mapMinX) / cellSize)
	gy := int((y - mapMinY) / cellSize)
	if gx < 0 {
		gx = 0
	}
	if gx > protocol.GridW-1 {
		gx = protocol.GridW - 1
	}
	if gy < 0 {
		gy = 0
	}
	if gy > protocol.GridH-1 {
		gy = protocol.GridH - 1
	}
	return gx, gy
}

func encodeGrid(myTeam int, units *[protocol.MaxUnits]protocol.UnitState, pathability, visT0, visT1 []byte, out *[3][protocol.GridH][protocol.GridW]float32) {
	if len(pathability) == protocol.GridCells {
		for i, p := range pathability {
			gy, gx := i/protocol.GridW, i%protocol.GridW
			out[0][gy][gx] = float32(p) / 2.0
		}
	}

	for i := 0; i < protocol.MaxUnits; i++ {
		u := &units[i]
		if u.Alive == 0 {
			continue
		}
		gx, gy := worldToGrid(u.X, u.Y)
		unitTeam := teamOf(i)
		if unitTeam == myTeam {
			out[1][gy][gx] = 1.0
			continue
		}
		// Enemy markers use the unit's own per-observer visibility bits
		// rather than the coarse grid planes: an enemy is marked if any
		// observer on my team can see it, so every member of a team gets
		// the same channel 2 (unlike encodeEnemy, which checks only the
		// observer's own bit).
		visMask := u.VisibleMask
		anyVisibleToTeam := false
		start, end := 0, 6
		if myTeam == 1 {
			start, end = 6, 12
		}
		for obs := start; obs < end; obs++ {
			if protocol.MaskBit16(visMask, obs) {
				anyVisibleToTeam = true
				break
			}
		}
		if anyVisibleToTeam {
			out[2][gy][gx] = 1.0
		}
	}
}
