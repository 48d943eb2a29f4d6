package orchestrator

import (
	"sync"
	"testing"

	"fateinfer/internal/policy"
	"fateinfer/internal/protocol"
	"fateinfer/internal/rollout"
	"fateinfer/internal/transport"
)

type fakeEndpoint struct {
	mu   sync.Mutex
	sent []sentPacket
}

type sentPacket struct {
	addr string
	data []byte
}

func (f *fakeEndpoint) Drain() []transport.Packet { return nil }

func (f *fakeEndpoint) Send(addr string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentPacket{addr: addr, data: data})
}

func fixtureUnits() [protocol.MaxUnits]protocol.UnitState {
	var units [protocol.MaxUnits]protocol.UnitState
	for i := 0; i < protocol.MaxUnits; i++ {
		u := &units[i]
		u.Idx = uint8(i)
		copy(u.HeroID[:], protocol.HeroIDs[i])
		if i < 6 {
			u.Team = 0
		} else {
			u.Team = 1
		}
		u.HP, u.MaxHP = 8000, 10000
		u.MP, u.MaxMP = 2000, 5000
		u.X = float32(i) * 100
		u.Y = float32(i) * -50
		u.Alive = 1
		u.VisibleMask = 0xFFF
	}
	return units
}

func encodeStateBytes(t *testing.T, tick uint32) []byte {
	t.Helper()
	pkt := &protocol.StatePacket{
		Header: protocol.Header{Magic: protocol.Magic, Version: protocol.Version, MsgType: uint8(protocol.MsgState), Tick: tick},
		Global: protocol.GlobalState{GameTime: 60, ScoreTeam0: 1, ScoreTeam1: 0, TargetScore: 70},
		Units:  fixtureUnits(),
	}
	pkt.VisibilityT0 = make([]byte, protocol.GridCells)
	pkt.VisibilityT1 = make([]byte, protocol.GridCells)
	raw, err := protocol.EncodeState(pkt)
	if err != nil {
		t.Fatalf("EncodeState: %v", err)
	}
	return raw
}

func newTestLoop(t *testing.T) *Loop {
	t.Helper()
	engine := policy.NewEngine(t.TempDir()) // no model present: deterministic defaults
	writer, err := rollout.NewWriter(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	return New(Config{
		Endpoint:    &fakeEndpoint{},
		Engine:      engine,
		Writer:      writer,
		RolloutSize: 1 << 30, // never auto-dump inside a test cycle
	})
}

func TestAdmissionControlKeepsOnlyLargestTick(t *testing.T) {
	l := newTestLoop(t)

	packets := []transport.Packet{
		{Addr: "10.0.0.5:1000", Data: encodeStateBytes(t, 10)},
		{Addr: "10.0.0.5:1000", Data: encodeStateBytes(t, 12)},
		{Addr: "10.0.0.5:1000", Data: encodeStateBytes(t, 11)},
	}
	l.Step(packets)

	inst, ok := l.instances["10.0.0.5"]
	if !ok {
		t.Fatalf("expected instance to exist")
	}
	if inst.lastTick != 12 {
		t.Errorf("expected only tick 12 processed, got lastTick=%d", inst.lastTick)
	}
	if l.totalSkipped != 2 {
		t.Errorf("expected skipped += 2, got %d", l.totalSkipped)
	}
}

func TestAdmissionControlAcrossInstances(t *testing.T) {
	l := newTestLoop(t)

	packets := []transport.Packet{
		{Addr: "10.0.0.1:1", Data: encodeStateBytes(t, 10)},
		{Addr: "10.0.0.1:1", Data: encodeStateBytes(t, 11)},
		{Addr: "10.0.0.1:1", Data: encodeStateBytes(t, 12)},
		{Addr: "10.0.0.2:1", Data: encodeStateBytes(t, 7)},
	}
	l.Step(packets)

	if got := l.instances["10.0.0.1"].lastTick; got != 12 {
		t.Errorf("instance A: expected tick 12, got %d", got)
	}
	if got := l.instances["10.0.0.2"].lastTick; got != 7 {
		t.Errorf("instance B: expected tick 7, got %d", got)
	}
	if l.totalSkipped != 2 {
		t.Errorf("expected skipped += 2, got %d", l.totalSkipped)
	}
	if l.totalInferences != 2*protocol.MaxUnits {
		t.Errorf("expected one inference pass per instance (2*12), got %d", l.totalInferences)
	}
}

func TestSecondStateProducesReply(t *testing.T) {
	l := newTestLoop(t)
	ep := l.endpoint.(*fakeEndpoint)

	l.Step([]transport.Packet{{Addr: "10.0.0.9:1", Data: encodeStateBytes(t, 1)}})
	if len(ep.sent) != 1 {
		t.Fatalf("expected an ACTION reply after the first STATE, got %d", len(ep.sent))
	}

	l.Step([]transport.Packet{{Addr: "10.0.0.9:1", Data: encodeStateBytes(t, 2)}})
	if len(ep.sent) != 2 {
		t.Fatalf("expected a second ACTION reply, got %d", len(ep.sent))
	}

	hdr, ok := protocol.PeekHeader(ep.sent[1].data)
	if !ok || protocol.MsgType(hdr.MsgType) != protocol.MsgAction || hdr.Tick != 2 {
		t.Errorf("unexpected second reply header: %+v ok=%v", hdr, ok)
	}
}

func TestTickRegressionFlushesAndResetsInstance(t *testing.T) {
	l := newTestLoop(t)

	l.Step([]transport.Packet{{Addr: "10.0.0.3:1", Data: encodeStateBytes(t, 5)}})
	old := l.instances["10.0.0.3"]
	l.Step([]transport.Packet{{Addr: "10.0.0.3:1", Data: encodeStateBytes(t, 3)}})

	inst, ok := l.instances["10.0.0.3"]
	if !ok {
		t.Fatalf("expected a fresh instance after tick regression")
	}
	if inst == old {
		t.Errorf("expected tick regression to replace the instance state")
	}
	if inst.lastTick != 3 {
		t.Errorf("expected fresh instance at tick 3, got %d", inst.lastTick)
	}
	// Like a first STATE, the regression packet becomes the fresh
	// instance's previous tick once it has been processed.
	if !inst.hasPrev {
		t.Errorf("expected the regression packet to be recorded as the previous tick")
	}
}

func TestDoneBeforeStateInSameCycleIsIgnored(t *testing.T) {
	l := newTestLoop(t)
	l.Step([]transport.Packet{{Addr: "10.0.0.4:1", Data: encodeStateBytes(t, 1)}})

	donePkt := &protocol.DoneEnvelope{
		Header: protocol.Header{Magic: protocol.Magic, Version: protocol.Version, MsgType: uint8(protocol.MsgDone), Tick: 2},
		Body:   protocol.DonePacket{Winner: protocol.WinnerTeam0, Reason: protocol.ReasonScore, ScoreTeam0: 70, ScoreTeam1: 42},
	}
	doneRaw, err := protocol.EncodeDone(donePkt)
	if err != nil {
		t.Fatalf("EncodeDone: %v", err)
	}

	l.Step([]transport.Packet{
		{Addr: "10.0.0.4:1", Data: doneRaw},
		{Addr: "10.0.0.4:1", Data: encodeStateBytes(t, 2)},
	})

	if _, ok := l.instances["10.0.0.4"]; ok {
		t.Errorf("expected instance removed by DONE, STATE in the same cycle must not resurrect it")
	}
}
