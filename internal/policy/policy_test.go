package policy

import (
	"math/rand"
	"testing"

	"fateinfer/internal/encode"
)

func allowAllMasks() *encode.Masks {
	m := &encode.Masks{}
	for i := 0; i < 12; i++ {
		for b := range m.Skill[i] {
			m.Skill[i][b] = true
		}
		for b := range m.UnitTarget[i] {
			m.UnitTarget[i][b] = true
		}
		for b := range m.SkillLevelup[i] {
			m.SkillLevelup[i][b] = true
		}
		for b := range m.StatUpgrade[i] {
			m.StatUpgrade[i][b] = true
		}
		for b := range m.Attribute[i] {
			m.Attribute[i][b] = true
		}
		for b := range m.ItemBuy[i] {
			m.ItemBuy[i][b] = true
		}
		for b := range m.ItemUse[i] {
			m.ItemUse[i][b] = true
		}
		for b := range m.SealUse[i] {
			m.SealUse[i][b] = true
		}
		for b := range m.FaireSend[i] {
			m.FaireSend[i][b] = true
		}
		for b := range m.FaireRequest[i] {
			m.FaireRequest[i][b] = true
		}
		for b := range m.FaireRespond[i] {
			m.FaireRespond[i][b] = true
		}
	}
	return m
}

func zeroHidden() []float32 {
	return make([]float32, HiddenDim)
}

func TestMissingArtifactReturnsDefaults(t *testing.T) {
	e := NewEngine(t.TempDir())
	if e.HasModel() {
		t.Fatalf("expected no model in an empty directory")
	}

	hH, hC := zeroHidden(), zeroHidden()
	hH[3] = 0.5 // mark the input pair so we can assert it passes through

	obs := &encode.Observation{}
	masks := allowAllMasks()
	result := e.InferHero(obs, 0, masks, hH, hC)

	for name, action := range result.Discrete {
		if action != 0 {
			t.Errorf("head %s: expected default action 0, got %d", name, action)
		}
	}
	for _, v := range result.Move {
		if v != 0 {
			t.Errorf("expected zero move, got %v", result.Move)
		}
	}
	for _, v := range result.Point {
		if v != 0 {
			t.Errorf("expected zero point, got %v", result.Point)
		}
	}
	if result.Value != 0 || result.LogProb != 0 {
		t.Errorf("expected zero value/log-prob, got value=%v logProb=%v", result.Value, result.LogProb)
	}
	if result.NewH[3] != 0.5 {
		t.Errorf("expected hidden state carried through unchanged, got %v", result.NewH[3])
	}
}

func TestMaskDisallowsSampling(t *testing.T) {
	// With a single allowed entry, sampleCategorical must always pick it
	// regardless of the underlying logits or RNG draw.
	e := NewEngine(t.TempDir())
	_ = e
	logits := []float32{5, 5, 5, 5}
	mask := []bool{false, false, true, false}
	for trial := 0; trial < 20; trial++ {
		rng := rand.New(rand.NewSource(int64(trial)))
		action, _ := sampleCategorical(rng, logits, mask)
		if action != 2 {
			t.Fatalf("trial %d: expected only-allowed action 2, got %d", trial, action)
		}
	}
}
