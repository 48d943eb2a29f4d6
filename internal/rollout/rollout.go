// Package rollout buffers per-agent transitions for in-flight episodes and
// serializes completed ones to the FATE container format once enough
// transitions have accumulated, for an external trainer to consume.
package rollout

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"fateinfer/internal/encode"
	"fateinfer/internal/fatefile"
	"fateinfer/internal/protocol"
	"fateinfer/logging"
	rolloutlog "fateinfer/logging/rollout"
)

// Transition is one agent's recorded step: observation tensors, the masks
// and actions sampled against them, and the scalar bookkeeping the trainer
// needs to reconstruct the forward pass.
type Transition struct {
	Self   [encode.SelfDim]float32
	Ally   [encode.NumAllies][encode.AllyDim]float32
	Enemy  [encode.NumEnemies][encode.EnemyDim]float32
	Global [encode.GlobalDim]float32
	Grid   [3][protocol.GridH][protocol.GridW]float32

	Masks   map[string][]bool
	Actions map[string]int
	Move    [2]float32
	Point   [2]float32

	LogProb float32
	Value   float32
	Reward  float32
	Done    bool

	HxH []float32
	HxC []float32
}

type completedEpisode struct {
	agents [protocol.MaxUnits][]Transition
}

// Writer owns the per-instance pending buffers and the list of completed
// episodes awaiting serialization. A mutex guards both; the
// orchestrator's loop is single-threaded but MaybeDump may fan its write
// work out to background goroutines.
type Writer struct {
	mu         sync.Mutex
	rolloutDir string
	publisher  logging.Publisher
	buffers    map[string]*[protocol.MaxUnits][]Transition
	completed  []completedEpisode
	dumpCount  int
}

// NewWriter creates the rollout output directory (if absent) and returns a
// Writer ready to accept transitions. publisher may be nil; every helper
// call below is nil-safe.
func NewWriter(rolloutDir string, publisher logging.Publisher) (*Writer, error) {
	if err := fatefile.EnsureDir(rolloutDir); err != nil {
		return nil, err
	}
	return &Writer{
		rolloutDir: rolloutDir,
		publisher:  publisher,
		buffers:    make(map[string]*[protocol.MaxUnits][]Transition),
	}, nil
}

// Store appends a transition for instance/agent. Out-of-range agent indices
// are rejected silently, matching the reference writer's defensive guard.
func (w *Writer) Store(instance string, agent int, t Transition) {
	if agent < 0 || agent >= protocol.MaxUnits {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	buf, ok := w.buffers[instance]
	if !ok {
		buf = &[protocol.MaxUnits][]Transition{}
		w.buffers[instance] = buf
	}
	buf[agent] = append(buf[agent], t)
}

// MarkLastDone sets done=true on each agent's last transition for instance
// and adds the per-agent terminal reward in place. Must run before
// FlushEpisode.
func (w *Writer) MarkLastDone(instance string, terminal [protocol.MaxUnits]float32) {
	w.mu.Lock()
	defer w.mu.Unlock()
	buf, ok := w.buffers[instance]
	if !ok {
		return
	}
	for a := 0; a < protocol.MaxUnits; a++ {
		traj := buf[a]
		if len(traj) == 0 {
			continue
		}
		last := &traj[len(traj)-1]
		last.Done = true
		last.Reward += terminal[a]
	}
}

// FlushEpisode moves instance's twelve trajectories into a completed-episode
// record and erases the per-instance entry. A no-op if the instance has no
// buffer at all, but an episode with every agent empty is still recorded
// only if at least one agent has data.
func (w *Writer) FlushEpisode(instance string) {
	w.mu.Lock()
	buf, ok := w.buffers[instance]
	if !ok {
		w.mu.Unlock()
		return
	}
	ep := completedEpisode{}
	hasData := false
	transitions := 0
	terminalOnly := true
	for a := 0; a < protocol.MaxUnits; a++ {
		ep.agents[a] = buf[a]
		n := len(ep.agents[a])
		if n > 0 {
			hasData = true
			transitions += n
			if n > 1 {
				terminalOnly = false
			}
		}
	}
	if hasData {
		w.completed = append(w.completed, ep)
	}
	delete(w.buffers, instance)
	w.mu.Unlock()

	if hasData {
		rolloutlog.EpisodeFlushed(context.Background(), w.publisher, rolloutlog.FlushedPayload{
			Instance:     instance,
			Transitions:  transitions,
			TerminalOnly: terminalOnly,
		})
	}
}

// MaybeDump serializes every completed episode to its own file once the
// total pending transition count reaches min, then clears the list.
// Episodes are written concurrently; a serialization failure for one
// episode does not block the others.
func (w *Writer) MaybeDump(min int) error {
	w.mu.Lock()
	total := 0
	for _, ep := range w.completed {
		for a := 0; a < protocol.MaxUnits; a++ {
			total += len(ep.agents[a])
		}
	}
	if total < min {
		w.mu.Unlock()
		return nil
	}
	pending := w.completed
	w.completed = nil
	startCount := w.dumpCount
	w.dumpCount += len(pending)
	w.mu.Unlock()

	transitions := 0
	for _, ep := range pending {
		for a := 0; a < protocol.MaxUnits; a++ {
			transitions += len(ep.agents[a])
		}
	}

	var succeeded int32
	g := new(errgroup.Group)
	for i, ep := range pending {
		ep := ep
		seq := startCount + i
		g.Go(func() error {
			if err := w.dumpToFile(seq, ep); err != nil {
				return err
			}
			atomic.AddInt32(&succeeded, 1)
			return nil
		})
	}
	err := g.Wait()

	if succeeded > 0 {
		rolloutlog.Dumped(context.Background(), w.publisher, rolloutlog.DumpedPayload{
			Episodes:    int(succeeded),
			Transitions: transitions,
		})
	}
	return err
}

func (w *Writer) dumpToFile(seq int, ep completedEpisode) error {
	T := 0
	for a := 0; a < protocol.MaxUnits; a++ {
		if len(ep.agents[a]) > T {
			T = len(ep.agents[a])
		}
	}
	if T == 0 {
		return nil
	}

	entries := buildEntries(T, ep)

	name := fmt.Sprintf("rollout_%06d_%s.pt", seq, uuid.New().String())
	path := filepath.Join(w.rolloutDir, name)
	if err := fatefile.WriteFileAtomic(path, entries); err != nil {
		rolloutlog.SerializeFailed(context.Background(), w.publisher, rolloutlog.SerializeFailedPayload{
			Path: path,
			Err:  err.Error(),
		})
		return fmt.Errorf("rollout: dump %s: %w", path, err)
	}
	return nil
}

func stepOrPad(traj []Transition, t int) (Transition, bool) {
	if t < len(traj) {
		return traj[t], true
	}
	var zero Transition
	zero.Done = true
	return zero, false
}

func buildEntries(T int, ep completedEpisode) []fatefile.Entry {
	selfVecs := make([]float32, 0, T*protocol.MaxUnits*encode.SelfDim)
	allyVecs := make([]float32, 0, T*protocol.MaxUnits*encode.NumAllies*encode.AllyDim)
	enemyVecs := make([]float32, 0, T*protocol.MaxUnits*encode.NumEnemies*encode.EnemyDim)
	globalVecs := make([]float32, 0, T*protocol.MaxUnits*encode.GlobalDim)
	gridVecs := make([]float32, 0, T*protocol.MaxUnits*3*protocol.GridH*protocol.GridW)
	hxH := make([]float32, 0, T*protocol.MaxUnits*256)
	hxC := make([]float32, 0, T*protocol.MaxUnits*256)
	logProbs := make([]float32, 0, T*protocol.MaxUnits)
	values := make([]float32, 0, T*protocol.MaxUnits)
	rewards := make([]float32, 0, T*protocol.MaxUnits)
	dones := make([]int64, 0, T*protocol.MaxUnits)

	headNames, headSizes := firstHeadShapes(ep)
	maskBuf := make(map[string][]float32, len(headNames))
	actBuf := make(map[string][]int64, len(headNames))
	for _, name := range headNames {
		maskBuf[name] = make([]float32, 0, T*protocol.MaxUnits*headSizes[name])
		actBuf[name] = make([]int64, 0, T*protocol.MaxUnits)
	}

	for t := 0; t < T; t++ {
		for a := 0; a < protocol.MaxUnits; a++ {
			step, _ := stepOrPad(ep.agents[a], t)

			selfVecs = append(selfVecs, step.Self[:]...)
			for i := 0; i < encode.NumAllies; i++ {
				allyVecs = append(allyVecs, step.Ally[i][:]...)
			}
			for i := 0; i < encode.NumEnemies; i++ {
				enemyVecs = append(enemyVecs, step.Enemy[i][:]...)
			}
			globalVecs = append(globalVecs, step.Global[:]...)
			for ch := 0; ch < 3; ch++ {
				for row := 0; row < protocol.GridH; row++ {
					gridVecs = append(gridVecs, step.Grid[ch][row][:]...)
				}
			}
			hxH = append(hxH, padTo256(step.HxH)...)
			hxC = append(hxC, padTo256(step.HxC)...)

			logProbs = append(logProbs, step.LogProb)
			values = append(values, step.Value)
			rewards = append(rewards, step.Reward)
			if step.Done {
				dones = append(dones, 1)
			} else {
				dones = append(dones, 0)
			}

			for _, name := range headNames {
				size := headSizes[name]
				row := step.Masks[name]
				for b := 0; b < size; b++ {
					if b < len(row) && row[b] {
						maskBuf[name] = append(maskBuf[name], 1)
					} else {
						maskBuf[name] = append(maskBuf[name], 0)
					}
				}
				actBuf[name] = append(actBuf[name], int64(step.Actions[name]))
			}
		}
	}

	entries := []fatefile.Entry{
		tensorEntry("self_vecs", fatefile.Float32Bytes(selfVecs), []int64{int64(T), protocol.MaxUnits, encode.SelfDim}),
		tensorEntry("ally_vecs", fatefile.Float32Bytes(allyVecs), []int64{int64(T), protocol.MaxUnits, encode.NumAllies, encode.AllyDim}),
		tensorEntry("enemy_vecs", fatefile.Float32Bytes(enemyVecs), []int64{int64(T), protocol.MaxUnits, encode.NumEnemies, encode.EnemyDim}),
		tensorEntry("global_vecs", fatefile.Float32Bytes(globalVecs), []int64{int64(T), protocol.MaxUnits, encode.GlobalDim}),
		tensorEntry("grids", fatefile.Float32Bytes(gridVecs), []int64{int64(T), protocol.MaxUnits, 3, protocol.GridH, protocol.GridW}),
		tensorEntry("log_probs", fatefile.Float32Bytes(logProbs), []int64{int64(T), protocol.MaxUnits}),
		tensorEntry("values", fatefile.Float32Bytes(values), []int64{int64(T), protocol.MaxUnits}),
		tensorEntry("rewards", fatefile.Float32Bytes(rewards), []int64{int64(T), protocol.MaxUnits}),
		int64Entry("dones", dones, []int64{int64(T), protocol.MaxUnits}),
		tensorEntry("hx_h", fatefile.Float32Bytes(hxH), []int64{int64(T), protocol.MaxUnits, 256}),
		tensorEntry("hx_c", fatefile.Float32Bytes(hxC), []int64{int64(T), protocol.MaxUnits, 256}),
	}
	for _, name := range headNames {
		size := headSizes[name]
		entries = append(entries, tensorEntry("mask_"+name, fatefile.Float32Bytes(maskBuf[name]), []int64{int64(T), protocol.MaxUnits, int64(size)}))
		entries = append(entries, int64Entry("act_"+name, actBuf[name], []int64{int64(T), protocol.MaxUnits}))
	}
	return entries
}

func padTo256(h []float32) []float32 {
	if len(h) == 256 {
		return h
	}
	out := make([]float32, 256)
	copy(out, h)
	return out
}

func firstHeadShapes(ep completedEpisode) ([]string, map[string]int) {
	for a := 0; a < protocol.MaxUnits; a++ {
		if len(ep.agents[a]) == 0 {
			continue
		}
		first := ep.agents[a][0]
		names := make([]string, 0, len(first.Masks))
		sizes := make(map[string]int, len(first.Masks))
		for name, row := range first.Masks {
			names = append(names, name)
			sizes[name] = len(row)
		}
		return names, sizes
	}
	return nil, map[string]int{}
}

func tensorEntry(name string, data []byte, shape []int64) fatefile.Entry {
	return fatefile.Entry{Name: name, DType: fatefile.DTypeFloat32, Shape: shape, Data: data}
}

func int64Entry(name string, v []int64, shape []int64) fatefile.Entry {
	data := make([]byte, len(v)*8)
	for i, x := range v {
		putInt64LE(data[i*8:], x)
	}
	return fatefile.Entry{Name: name, DType: fatefile.DTypeInt64, Shape: shape, Data: data}
}

func putInt64LE(b []byte, v int64) {
	u := uint64(v)
	for i := 0; i < 8; i++ {
		b[i] = byte(u >> (8 * i))
	}
}
