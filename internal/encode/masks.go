package encode

import "fateinfer/internal/protocol"

// Masks holds the eleven discrete-head availability matrices, one row per
// agent, already reindexed for unit_target through the enemy sort map so
// sampled enemy indices land in sorted coordinates.
type Masks struct {
	Skill        [protocol.MaxUnits][8]bool
	UnitTarget   [protocol.MaxUnits][14]bool
	SkillLevelup [protocol.MaxUnits][6]bool
	StatUpgrade  [protocol.MaxUnits][10]bool
	Attribute    [protocol.MaxUnits][5]bool
	ItemBuy      [protocol.MaxUnits][17]bool
	ItemUse      [protocol.MaxUnits][7]bool
	SealUse      [protocol.MaxUnits][7]bool
	FaireSend    [protocol.MaxUnits][6]bool
	FaireRequest [protocol.MaxUnits][6]bool
	FaireRespond [protocol.MaxUnits][3]bool
}

// BuildMasks unpacks the bit-packed per-unit mask fields into boolean rows.
// unit_target bits 0-5 (allies) and 6-7 (no-target/attack-point) pass
// through unchanged; bits 8-13 (enemies) are reindexed so that sorted slot s
// carries the raw availability bit of sortMap[i][s] — the real enemy offset.
func BuildMasks(units *[protocol.MaxUnits]protocol.UnitState, sortMap [protocol.MaxUnits][NumEnemies]int) *Masks {
	m := &Masks{}
	for i := 0; i < protocol.MaxUnits; i++ {
		u := &units[i]

		for b := 0; b < 8; b++ {
			m.Skill[i][b] = protocol.MaskBit(u.MaskSkill, b)
		}

		for b := 0; b < 8; b++ {
			m.UnitTarget[i][b] = protocol.MaskBit16(u.MaskUnitTarget, b)
		}
		for s := 0; s < NumEnemies; s++ {
			realOffset := sortMap[i][s]
			m.UnitTarget[i][8+s] = protocol.MaskBit16(u.MaskUnitTarget, 8+realOffset)
		}

		for b := 0; b < 6; b++ {
			m.SkillLevelup[i][b] = protocol.MaskBit(u.MaskSkillLevelup, b)
		}
		for b := 0; b < 10; b++ {
			m.StatUpgrade[i][b] = protocol.MaskBit16(u.MaskStatUpgrade, b)
		}
		for b := 0; b < 5; b++ {
			m.Attribute[i][b] = protocol.MaskBit(u.MaskAttribute, b)
		}
		for b := 0; b < 17; b++ {
			m.ItemBuy[i][b] = protocol.MaskBit32(u.MaskItemBuy, b)
		}
		for b := 0; b < 7; b++ {
			m.ItemUse[i][b] = protocol.MaskBit(u.MaskItemUse, b)
		}
		for b := 0; b < 7; b++ {
			m.SealUse[i][b] = protocol.MaskBit(u.MaskSealUse, b)
		}
		for b := 0; b < 6; b++ {
			m.FaireSend[i][b] = protocol.MaskBit(u.MaskFaireSend, b)
		}
		for b := 0; b < 6; b++ {
			m.FaireRequest[i][b] = protocol.MaskBit(u.MaskFaireRequest, b)
		}
		for b := 0; b < 3; b++ {
			m.FaireRespond[i][b] = protocol.MaskBit(u.MaskFaireRespond, b)
		}
	}
	return m
}

// ResolveUnitTarget reverses the sort-map reindex: given a sampled
// unit_target index in sorted coordinates for observer i, returns the index
// to place on the wire (allies and the two specials pass through unchanged;
// enemy slots 8-13 map back through sortMap[i]).
func ResolveUnitTarget(i int, sampled int, sortMap [protocol.MaxUnits][NumEnemies]int) int {
	if sampled < 8 || sampled > 13 {
		return sampled
	}
	return 8 + sortMap[i][sampled-8]
}
