// Package policy runs the serialized policy module: it loads (and
// hot-reloads) the FATE-container weight artifact, projects an agent's
// encoded observation through a trunk + LSTM + per-head output stack, and
// samples the eleven discrete and two continuous action heads.
package policy

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"fateinfer/internal/encode"
)

// Result is one hero's sampled action plus the bookkeeping the orchestrator
// needs to store a transition and carry LSTM state forward.
type Result struct {
	Discrete map[string]int
	Move     []float32
	Point    []float32
	Value    float32
	LogProb  float32
	NewH     []float32
	NewC     []float32
}

// Engine owns the current policy weights and the reload bookkeeping. It
// holds no per-agent state: LSTM hidden pairs live in the caller's instance
// state and are passed in and out of each InferHero call explicitly.
type Engine struct {
	mu        sync.RWMutex
	modelDir  string
	weights   *Weights
	modTime   time.Time
	loaded    bool
	rng       *rand.Rand
	rngMu     sync.Mutex
}

// NewEngine constructs an engine pointed at modelDir and attempts an
// initial load of model_latest.pt; a missing artifact is not an error, the
// engine simply serves defaults until one appears.
func NewEngine(modelDir string) *Engine {
	e := &Engine{
		modelDir: modelDir,
		rng:      rand.New(rand.NewSource(1)),
	}
	_ = e.reload()
	return e
}

func (e *Engine) modelPath() string {
	return filepath.Join(e.modelDir, "model_latest.pt")
}

// HasModel reports whether a weight artifact is currently loaded.
func (e *Engine) HasModel() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.loaded
}

func (e *Engine) reload() error {
	path := e.modelPath()
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	w, err := LoadWeights(path)
	if err != nil {
		return fmt.Errorf("policy: load %s: %w", path, err)
	}
	e.mu.Lock()
	e.weights = w
	e.modTime = info.ModTime()
	e.loaded = true
	e.mu.Unlock()
	return nil
}

// MaybeReload stats the artifact and reloads iff its mtime advanced (or no
// model was loaded yet). Returns true if a reload happened.
func (e *Engine) MaybeReload() bool {
	path := e.modelPath()
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	e.mu.RLock()
	stale := !e.loaded || !info.ModTime().Equal(e.modTime)
	e.mu.RUnlock()
	if !stale {
		return false
	}
	return e.reload() == nil
}

// DefaultResult implements the "missing artifact" / "forward failure"
// contract: zero discrete selections, zero continuous output, zero value
// and log-prob, hidden state carried through unchanged. Exported so the
// orchestrator can substitute it when a forward pass panics.
func DefaultResult(hH, hC []float32) *Result {
	discrete := make(map[string]int, len(discreteHeadSpecs))
	for _, h := range discreteHeadSpecs {
		discrete[h.name] = 0
	}
	return &Result{
		Discrete: discrete,
		Move:     []float32{0, 0},
		Point:    []float32{0, 0},
		Value:    0,
		LogProb:  0,
		NewH:     hH,
		NewC:     hC,
	}
}

// InferHero runs the forward pass for one agent and samples every head. If
// no model is loaded it returns DefaultResult without touching hH/hC.
func (e *Engine) InferHero(obs *encode.Observation, agent int, masks *encode.Masks, hH, hC []float32) *Result {
	e.mu.RLock()
	w := e.weights
	loaded := e.loaded
	e.mu.RUnlock()

	if !loaded {
		return DefaultResult(hH, hC)
	}

	x := flattenInput(obs, agent)
	trunk := w.Input.forward(x)
	trunk = applyTanh(trunk)

	newH, newC := lstmStep(w, trunk, hH, hC)

	e.rngMu.Lock()
	rng := e.rng
	result := &Result{Discrete: make(map[string]int, len(discreteHeadSpecs))}
	var totalLogProb float32

	for _, spec := range discreteHeadSpecs {
		lin := w.DiscreteHeads[spec.name]
		logits := lin.forward(newH)
		mask := headMask(masks, spec.name, agent)
		action, lp := sampleCategorical(rng, logits, mask)
		result.Discrete[spec.name] = action
		totalLogProb += lp
	}

	moveMean := w.MoveMean.forward(newH)
	moveSample, moveLP := sampleNormal(rng, moveMean, w.MoveLogStd)
	result.Move = moveSample
	totalLogProb += moveLP

	pointMean := w.PointMean.forward(newH)
	pointSample, pointLP := sampleNormal(rng, pointMean, w.PointLogStd)
	result.Point = pointSample
	totalLogProb += pointLP
	e.rngMu.Unlock()

	value := w.Value.forward(newH)

	result.Value = value[0]
	result.LogProb = totalLogProb
	result.NewH = newH
	result.NewC = newC
	return result
}

func applyTanh(v []float32) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = tanh32(x)
	}
	return out
}

// headMask returns agent's boolean row for a named discrete head.
func headMask(m *encode.Masks, name string, agent int) []bool {
	switch name {
	case "skill":
		return m.Skill[agent][:]
	case "unit_target":
		return m.UnitTarget[agent][:]
	case "skill_levelup":
		return m.SkillLevelup[agent][:]
	case "stat_upgrade":
		return m.StatUpgrade[agent][:]
	case "attribute":
		return m.Attribute[agent][:]
	case "item_buy":
		return m.ItemBuy[agent][:]
	case "item_use":
		return m.ItemUse[agent][:]
	case "seal_use":
		return m.SealUse[agent][:]
	case "faire_send":
		return m.FaireSend[agent][:]
	case "faire_request":
		return m.FaireRequest[agent][:]
	case "faire_respond":
		return m.FaireRespond[agent][:]
	}
	return nil
}
