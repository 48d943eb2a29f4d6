package protocol

import (
	"reflect"
	"testing"
)

func fixtureUnit(idx int, team uint8, hero string) UnitState {
	var u UnitState
	u.Idx = uint8(idx)
	copy(u.HeroID[:], hero)
	u.Team = team
	u.HP = 8000
	u.MaxHP = 10000
	u.MP = 2000
	u.MaxMP = 5000
	u.X = float32(idx) * 10
	u.Y = float32(idx) * -5
	u.Alive = 1
	u.VisibleMask = 0xFFF
	u.MaskSkill = 0b00001111
	u.MaskUnitTarget = 0x3FFF
	u.MaskItemBuy = 0x1FFFF
	return u
}

func fixtureState(tick uint32) *StatePacket {
	pkt := &StatePacket{
		Header: Header{Magic: Magic, Version: Version, MsgType: uint8(MsgState), Tick: tick},
		Global: GlobalState{GameTime: 120, ScoreTeam0: 3, ScoreTeam1: 1, TargetScore: 70},
	}
	for i := 0; i < MaxUnits; i++ {
		team := uint8(0)
		if i >= 6 {
			team = 1
		}
		pkt.Units[i] = fixtureUnit(i, team, HeroIDs[i])
	}
	pkt.Events = []Event{
		{Type: uint8(EventKill), KillerIdx: 0, VictimIdx: 6, Tick: tick},
	}
	pkt.HasPathability = true
	pkt.Pathability = make([]byte, GridCells)
	pkt.VisibilityT0 = make([]byte, GridCells)
	pkt.VisibilityT1 = make([]byte, GridCells)
	for i := range pkt.Pathability {
		pkt.Pathability[i] = byte(i % 3)
		pkt.VisibilityT0[i] = byte(i % 2)
		pkt.VisibilityT1[i] = byte((i + 1) % 2)
	}
	return pkt
}

func TestStateRoundTrip(t *testing.T) {
	want := fixtureState(42)
	raw, err := EncodeState(want)
	if err != nil {
		t.Fatalf("EncodeState: %v", err)
	}
	got, err := ParseState(raw)
	if err != nil {
		t.Fatalf("ParseState: %v", err)
	}
	if !reflect.DeepEqual(want.Header, got.Header) {
		t.Errorf("header mismatch: want %+v got %+v", want.Header, got.Header)
	}
	if !reflect.DeepEqual(want.Global, got.Global) {
		t.Errorf("global mismatch: want %+v got %+v", want.Global, got.Global)
	}
	if !reflect.DeepEqual(want.Units, got.Units) {
		t.Errorf("units mismatch")
	}
	if !reflect.DeepEqual(want.Events, got.Events) {
		t.Errorf("events mismatch: want %+v got %+v", want.Events, got.Events)
	}
	if !reflect.DeepEqual(want.Pathability, got.Pathability) {
		t.Errorf("pathability mismatch")
	}
	if !reflect.DeepEqual(want.VisibilityT0, got.VisibilityT0) {
		t.Errorf("visibility_t0 mismatch")
	}
	if !reflect.DeepEqual(want.VisibilityT1, got.VisibilityT1) {
		t.Errorf("visibility_t1 mismatch")
	}
}

func TestStateRoundTripNoPathability(t *testing.T) {
	want := fixtureState(1)
	want.HasPathability = false
	want.Pathability = nil
	raw, err := EncodeState(want)
	if err != nil {
		t.Fatalf("EncodeState: %v", err)
	}
	got, err := ParseState(raw)
	if err != nil {
		t.Fatalf("ParseState: %v", err)
	}
	if got.HasPathability {
		t.Errorf("expected HasPathability=false")
	}
	if len(got.Pathability) != 0 {
		t.Errorf("expected no pathability bytes, got %d", len(got.Pathability))
	}
}

func TestParseStateRejectsBadMagic(t *testing.T) {
	pkt := fixtureState(1)
	pkt.Header.Magic = 0xDEAD
	raw, _ := EncodeState(pkt)
	_, err := ParseState(raw)
	if _, ok := err.(*ErrRejected); !ok {
		t.Fatalf("expected ErrRejected, got %v (%T)", err, err)
	}
}

func TestParseStateMalformedShortfall(t *testing.T) {
	pkt := fixtureState(1)
	raw, _ := EncodeState(pkt)
	_, err := ParseState(raw[:len(raw)-10])
	if _, ok := err.(*ErrMalformed); !ok {
		t.Fatalf("expected ErrMalformed, got %v (%T)", err, err)
	}
}

func TestParseStateTruncatesExcessEvents(t *testing.T) {
	pkt := fixtureState(1)
	for i := 0; i < MaxEvents+10; i++ {
		pkt.Events = append(pkt.Events, Event{Type: uint8(EventCreepKill), KillerIdx: 0, Tick: 1})
	}
	// EncodeState writes len(Events) as the num_events byte; truncate
	// here the way the reference implementation would have on the wire.
	raw, err := EncodeState(pkt)
	if err == nil {
		// encoding more than 255 events would wrap; guard the fixture.
		if len(pkt.Events) > 255 {
			t.Fatalf("fixture too large for num_events byte")
		}
	}
	got, err := ParseState(raw)
	if err != nil {
		t.Fatalf("ParseState: %v", err)
	}
	if len(got.Events) != MaxEvents {
		t.Fatalf("expected truncation to %d events, got %d", MaxEvents, len(got.Events))
	}
}

func fixtureAction(tick uint32) *ActionPacket {
	pkt := &ActionPacket{Header: Header{Magic: Magic, Version: Version, MsgType: uint8(MsgAction), Tick: tick}}
	for i := range pkt.Actions {
		a := &pkt.Actions[i]
		a.Idx = uint8(i)
		a.MoveX = 0.5
		a.MoveY = -0.25
		a.PointX = 1.5 // intentionally out of range to exercise clamping
		a.PointY = -2
		a.Skill = uint8(i % 8)
		a.UnitTarget = uint8(i % 14)
	}
	return pkt
}

func TestActionRoundTripClamps(t *testing.T) {
	want := fixtureAction(7)
	raw, err := EncodeAction(want)
	if err != nil {
		t.Fatalf("EncodeAction: %v", err)
	}
	got, err := DecodeAction(raw)
	if err != nil {
		t.Fatalf("DecodeAction: %v", err)
	}
	if got.Header.Tick != 7 {
		t.Errorf("tick mismatch: %d", got.Header.Tick)
	}
	for i := range got.Actions {
		if got.Actions[i].PointX != 1 {
			t.Errorf("action[%d].PointX not clamped: %v", i, got.Actions[i].PointX)
		}
		if got.Actions[i].PointY != -1 {
			t.Errorf("action[%d].PointY not clamped: %v", i, got.Actions[i].PointY)
		}
		if got.Actions[i].Idx != uint8(i) {
			t.Errorf("action[%d].Idx mismatch: %v", i, got.Actions[i].Idx)
		}
	}
}

func TestDoneRoundTrip(t *testing.T) {
	want := &DoneEnvelope{
		Header: Header{Magic: Magic, Version: Version, MsgType: uint8(MsgDone), Tick: 99},
		Body:   DonePacket{Winner: WinnerTeam0, Reason: ReasonScore, ScoreTeam0: 70, ScoreTeam1: 42},
	}
	raw, err := EncodeDone(want)
	if err != nil {
		t.Fatalf("EncodeDone: %v", err)
	}
	got, err := ParseDone(raw)
	if err != nil {
		t.Fatalf("ParseDone: %v", err)
	}
	if !reflect.DeepEqual(want, got) {
		t.Errorf("done mismatch: want %+v got %+v", want, got)
	}
}

func TestPeekHeader(t *testing.T) {
	raw, _ := EncodeDone(&DoneEnvelope{Header: Header{Magic: Magic, Version: Version, MsgType: uint8(MsgDone), Tick: 5}})
	hdr, ok := PeekHeader(raw)
	if !ok {
		t.Fatalf("expected valid header")
	}
	if MsgType(hdr.MsgType) != MsgDone || hdr.Tick != 5 {
		t.Errorf("unexpected header: %+v", hdr)
	}

	_, ok = PeekHeader([]byte{1, 2, 3})
	if ok {
		t.Errorf("expected PeekHeader to reject short buffer")
	}
}
