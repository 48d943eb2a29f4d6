// Package orchestrator drives the single-threaded control loop: drain UDP,
// classify datagrams into DONE and per-instance latest-STATE, process DONEs
// first, run the encode/infer/reward/rollout pipeline for each instance's
// newest tick, and perform periodic housekeeping (model reload, rollout
// dump, stats logging).
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"fateinfer/internal/encode"
	"fateinfer/internal/policy"
	"fateinfer/internal/protocol"
	"fateinfer/internal/reward"
	"fateinfer/internal/rollout"
	"fateinfer/internal/transport"
	"fateinfer/logging"
	inferlog "fateinfer/logging/inference"
	networklog "fateinfer/logging/network"
	orchlog "fateinfer/logging/orchestrator"
	rewardlog "fateinfer/logging/reward"
)

// Endpoint is the datagram I/O surface the loop depends on; transport.Endpoint
// satisfies it, and tests substitute an in-memory fake.
type Endpoint interface {
	Drain() []transport.Packet
	Send(addr string, data []byte)
}

// Logger is the minimal logging surface the loop needs for lines that don't
// warrant a structured event.
type Logger interface {
	Printf(format string, args ...any)
}

// instanceState is the per-session bookkeeping the orchestrator keeps
// between ticks: LSTM hidden pairs per hero id, the previous raw tick for
// reward computation, a reward shaper, and liveness timestamps.
type instanceState struct {
	hxH map[string][]float32
	hxC map[string][]float32

	prevUnits  [protocol.MaxUnits]protocol.UnitState
	prevGlobal protocol.GlobalState
	hasPrev    bool

	shaper *reward.Shaper

	lastTick uint32
	lastRecv time.Time
}

func newInstanceState() *instanceState {
	return &instanceState{
		hxH:    make(map[string][]float32),
		hxC:    make(map[string][]float32),
		shaper: reward.NewShaper(),
	}
}

func (s *instanceState) hiddenFor(heroID string) ([]float32, []float32) {
	h, ok := s.hxH[heroID]
	if !ok {
		h = make([]float32, policy.HiddenDim)
		c := make([]float32, policy.HiddenDim)
		s.hxH[heroID] = h
		s.hxC[heroID] = c
		return h, c
	}
	return h, s.hxC[heroID]
}

// Config bundles everything the loop needs to construct itself.
type Config struct {
	Endpoint       Endpoint
	Engine         *policy.Engine
	Writer         *rollout.Writer
	RolloutSize    int
	ReloadInterval time.Duration
	Logger         Logger
	Publisher      logging.Publisher
}

// Loop is the orchestrator's mutable state across cycles.
type Loop struct {
	endpoint       Endpoint
	engine         *policy.Engine
	writer         *rollout.Writer
	rolloutSize    int
	reloadInterval time.Duration
	logger         Logger
	publisher      logging.Publisher

	instances map[string]*instanceState

	lastReload time.Time
	lastStats  time.Time

	totalPackets    uint64
	totalInferences uint64
	totalSkipped    uint64
}

// New constructs a Loop ready to Run.
func New(cfg Config) *Loop {
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = logging.NopPublisher()
	}
	reloadInterval := cfg.ReloadInterval
	if reloadInterval <= 0 {
		reloadInterval = 5 * time.Second
	}
	now := time.Now()
	return &Loop{
		endpoint:       cfg.Endpoint,
		engine:         cfg.Engine,
		writer:         cfg.Writer,
		rolloutSize:    cfg.RolloutSize,
		reloadInterval: reloadInterval,
		logger:         logger,
		publisher:      publisher,
		instances:      make(map[string]*instanceState),
		lastReload:     now,
		lastStats:      now,
	}
}

// Run drains and processes cycles until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		packets := l.endpoint.Drain()
		if len(packets) == 0 {
			time.Sleep(100 * time.Microsecond)
		} else {
			l.Step(packets)
		}
		l.periodic(time.Now())
	}
}

type classified struct {
	addr string
	data []byte
	hdr  protocol.Header
}

// Step runs one full cycle's classify/DONE/STATE processing over an already
// drained batch of datagrams. Exposed separately from Run so tests can drive
// deterministic cycles.
func (l *Loop) Step(packets []transport.Packet) {
	var dones []classified
	latest := make(map[string]classified)

	for _, pkt := range packets {
		hdr, ok := protocol.PeekHeader(pkt.Data)
		if !ok {
			l.logger.Printf("orchestrator: rejected datagram from %s: bad header", pkt.Addr)
			networklog.PacketRejected(context.Background(), l.publisher, networklog.RejectPayload{
				Source: pkt.Addr,
				Reason: "bad header",
				Bytes:  len(pkt.Data),
			})
			continue
		}
		inst := transport.IPOf(pkt.Addr)
		c := classified{addr: pkt.Addr, data: pkt.Data, hdr: hdr}

		switch protocol.MsgType(hdr.MsgType) {
		case protocol.MsgDone:
			dones = append(dones, c)
		case protocol.MsgState:
			if prev, ok := latest[inst]; ok {
				if hdr.Tick >= prev.hdr.Tick {
					latest[inst] = c
				}
				l.totalSkipped++
			} else {
				latest[inst] = c
			}
		}
	}

	for _, d := range dones {
		l.processDone(d)
		delete(latest, transport.IPOf(d.addr))
	}

	for inst, c := range latest {
		l.processState(inst, c)
	}
}

func (l *Loop) processDone(d classified) {
	env, err := protocol.ParseDone(d.data)
	if err != nil {
		l.logger.Printf("orchestrator: malformed DONE from %s: %v", d.addr, err)
		networklog.PacketMalformed(context.Background(), l.publisher, networklog.RejectPayload{
			Source: d.addr,
			Reason: err.Error(),
			Bytes:  len(d.data),
		})
		return
	}
	inst := transport.IPOf(d.addr)

	l.logger.Printf("DONE from %s winner=%d reason=%d score=%d-%d tick=%d",
		inst, env.Body.Winner, env.Body.Reason, env.Body.ScoreTeam0, env.Body.ScoreTeam1, env.Header.Tick)

	if _, ok := l.instances[inst]; ok {
		terminal := reward.ComputeTerminal(env.Body.Winner)
		l.writer.MarkLastDone(inst, terminal)
		l.writer.FlushEpisode(inst)
		delete(l.instances, inst)

		rewardlog.EpisodeEnded(context.Background(), l.publisher, rewardlog.EpisodeEndedPayload{
			Instance:   inst,
			Winner:     int(env.Body.Winner),
			Reason:     fmt.Sprintf("%d", env.Body.Reason),
			ScoreTeam0: int(env.Body.ScoreTeam0),
			ScoreTeam1: int(env.Body.ScoreTeam1),
		})
	}
}

func (l *Loop) processState(inst string, c classified) {
	pkt, err := protocol.ParseState(c.data)
	if err != nil {
		l.logger.Printf("orchestrator: failed to parse STATE from %s: %v", c.addr, err)
		networklog.PacketMalformed(context.Background(), l.publisher, networklog.RejectPayload{
			Source: c.addr,
			Reason: err.Error(),
			Bytes:  len(c.data),
		})
		return
	}
	l.totalPackets++

	state, isNew := l.instances[inst]
	if !isNew {
		state = newInstanceState()
		l.instances[inst] = state
		orchlog.InstanceCreated(context.Background(), l.publisher, orchlog.InstanceCreatedPayload{
			Instance: inst,
			Tick:     pkt.Header.Tick,
		})
	} else if pkt.Header.Tick < state.lastTick {
		l.logger.Printf("orchestrator: tick reset for %s old=%d new=%d", inst, state.lastTick, pkt.Header.Tick)
		orchlog.TickReset(context.Background(), l.publisher, orchlog.TickResetPayload{
			Instance: inst,
			OldTick:  state.lastTick,
			NewTick:  pkt.Header.Tick,
		})
		var zero [protocol.MaxUnits]float32
		l.writer.MarkLastDone(inst, zero)
		l.writer.FlushEpisode(inst)
		state = newInstanceState()
		l.instances[inst] = state
	}
	state.lastTick = pkt.Header.Tick
	state.lastRecv = time.Now()

	obs := encode.Encode(&pkt.Units, pkt.Global, pkt.Pathability, pkt.VisibilityT0, pkt.VisibilityT1)
	masks := encode.BuildMasks(&pkt.Units, obs.SortMap)

	rewards := state.shaper.Compute(&pkt.Units, pkt.Global, pkt.Events, &state.prevUnits, state.prevGlobal, state.hasPrev)

	var results [protocol.MaxUnits]*policy.Result
	var inputH, inputC [protocol.MaxUnits][]float32

	for i := 0; i < protocol.MaxUnits; i++ {
		heroID := pkt.Units[i].HeroIDString()
		h, c := state.hiddenFor(heroID)
		inputH[i] = h
		inputC[i] = c

		res := l.safeInfer(obs, i, heroID, masks, h, c)
		state.hxH[heroID] = res.NewH
		state.hxC[heroID] = res.NewC
		results[i] = res
		l.totalInferences++
	}

	if state.hasPrev {
		for i := 0; i < protocol.MaxUnits; i++ {
			t := buildTransition(obs, masks, results[i], rewards[i], i, inputH[i], inputC[i])
			l.writer.Store(inst, i, t)
		}
	}

	state.prevUnits = pkt.Units
	state.prevGlobal = pkt.Global
	state.hasPrev = true

	action := buildActionPacket(pkt.Header.Tick, results, obs.SortMap)
	wire, err := protocol.EncodeAction(action)
	if err != nil {
		l.logger.Printf("orchestrator: failed to encode ACTION for %s: %v", inst, err)
		return
	}
	l.endpoint.Send(c.addr, wire)
}

// safeInfer isolates one hero's forward pass: a malformed model artifact
// or any other forward-pass panic must not poison the other eleven heroes
// or crash the single-threaded loop, matching the reference engine's own
// try/catch around infer_hero. The hero's LSTM pair is carried through
// unchanged, same as the missing-artifact default.
func (l *Loop) safeInfer(obs *encode.Observation, agent int, heroID string, masks *encode.Masks, hH, hC []float32) (result *policy.Result) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Printf("orchestrator: forward pass panicked for hero %s (agent %d): %v", heroID, agent, r)
			inferlog.ForwardFailed(context.Background(), l.publisher, inferlog.ForwardFailedPayload{
				HeroID: heroID,
				Index:  agent,
				Err:    fmt.Sprintf("%v", r),
			})
			result = policy.DefaultResult(hH, hC)
		}
	}()
	return l.engine.InferHero(obs, agent, masks, hH, hC)
}

func buildTransition(obs *encode.Observation, masks *encode.Masks, r *policy.Result, rew float32, agent int, hH, hC []float32) rollout.Transition {
	t := rollout.Transition{
		Self:    obs.Self[agent],
		Ally:    obs.Ally[agent],
		Enemy:   obs.Enemy[agent],
		Global:  obs.Global[agent],
		Grid:    obs.Grid[agent],
		LogProb: r.LogProb,
		Value:   r.Value,
		Reward:  rew,
		HxH:     append([]float32(nil), hH...),
		HxC:     append([]float32(nil), hC...),
	}
	if len(r.Move) == 2 {
		t.Move = [2]float32{r.Move[0], r.Move[1]}
	}
	if len(r.Point) == 2 {
		t.Point = [2]float32{r.Point[0], r.Point[1]}
	}
	t.Actions = make(map[string]int, len(r.Discrete))
	for k, v := range r.Discrete {
		t.Actions[k] = v
	}
	t.Masks = make(map[string][]bool, len(protocol.DiscreteHeads))
	for _, head := range protocol.DiscreteHeads {
		t.Masks[head.Name] = append([]bool(nil), headMaskRow(masks, head.Name, agent)...)
	}
	return t
}

func headMaskRow(m *encode.Masks, name string, agent int) []bool {
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

func buildActionPacket(tick uint32, results [protocol.MaxUnits]*policy.Result, sortMap [protocol.MaxUnits][encode.NumEnemies]int) *protocol.ActionPacket {
	pkt := &protocol.ActionPacket{
		Header: protocol.Header{
			Magic:   protocol.Magic,
			Version: protocol.Version,
			MsgType: uint8(protocol.MsgAction),
			Tick:    tick,
		},
	}
	for i := 0; i < protocol.MaxUnits; i++ {
		r := results[i]
		ua := &pkt.Actions[i]
		ua.Idx = uint8(i)
		if len(r.Move) == 2 {
			ua.MoveX, ua.MoveY = r.Move[0], r.Move[1]
		}
		if len(r.Point) == 2 {
			ua.PointX, ua.PointY = r.Point[0], r.Point[1]
		}
		ua.Skill = uint8(r.Discrete["skill"])
		ua.UnitTarget = uint8(encode.ResolveUnitTarget(i, r.Discrete["unit_target"], sortMap))
		ua.SkillLevelup = uint8(r.Discrete["skill_levelup"])
		ua.StatUpgrade = uint8(r.Discrete["stat_upgrade"])
		ua.Attribute = uint8(r.Discrete["attribute"])
		ua.ItemBuy = uint8(r.Discrete["item_buy"])
		ua.ItemUse = uint8(r.Discrete["item_use"])
		ua.SealUse = uint8(r.Discrete["seal_use"])
		ua.FaireSend = uint8(r.Discrete["faire_send"])
		ua.FaireRequest = uint8(r.Discrete["faire_request"])
		ua.FaireRespond = uint8(r.Discrete["faire_respond"])
	}
	return pkt
}

// periodic runs the reload/dump/stats housekeeping the loop performs once
// per cycle. Reload and stats logging are each gated by their own interval;
// the rollout dump check runs every cycle.
func (l *Loop) periodic(now time.Time) {
	if now.Sub(l.lastReload) >= l.reloadInterval {
		l.engine.MaybeReload()
		l.lastReload = now
	}

	if err := l.writer.MaybeDump(l.rolloutSize); err != nil {
		l.logger.Printf("orchestrator: rollout dump failed: %v", err)
	}

	if now.Sub(l.lastStats) >= 30*time.Second {
		orchlog.StatsTick(context.Background(), l.publisher, orchlog.StatsPayload{
			Packets:         l.totalPackets,
			Inferences:      l.totalInferences,
			ActiveInstances: len(l.instances),
			Skipped:         l.totalSkipped,
		})
		l.logger.Printf("stats: %d packets, %d inferences, %d active instances, %d skipped",
			l.totalPackets, l.totalInferences, len(l.instances), l.totalSkipped)
		l.lastStats = now
	}
}

// Stats returns a snapshot of the rolling counters, for the admin dashboard.
func (l *Loop) Stats() orchlog.StatsPayload {
	return orchlog.StatsPayload{
		Packets:         l.totalPackets,
		Inferences:      l.totalInferences,
		ActiveInstances: len(l.instances),
		Skipped:         l.totalSkipped,
	}
}

type noopLogger struct{}

func (noopLogger) Printf(string, ...any) {}
