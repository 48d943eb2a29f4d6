package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// StatePacket is the fully parsed STATE packet: fixed header/global/units
// plus the variable-length event and grid tails described in §6.1.
type StatePacket struct {
	Header  Header
	Global  GlobalState
	Units   [MaxUnits]UnitState
	Events  []Event

	HasPathability bool
	Pathability    []byte // GridCells bytes, present iff HasPathability
	VisibilityT0   []byte // GridCells bytes
	VisibilityT1   []byte // GridCells bytes
}

// ErrMalformed indicates a length shortfall while parsing a STATE packet.
type ErrMalformed struct {
	Stage string
	Need  int
	Have  int
}

func (e *ErrMalformed) Error() string {
	return fmt.Sprintf("malformed state packet at %s: need %d bytes, have %d", e.Stage, e.Need, e.Have)
}

// ErrRejected indicates a bad magic, version, or message type.
type ErrRejected struct {
	Reason string
}

func (e *ErrRejected) Error() string {
	return "rejected state packet: " + e.Reason
}

// fixedStateSize is the byte length of Header + GlobalState + 12*UnitState + num_events.
func fixedStateSize() int {
	return binary.Size(Header{}) + binary.Size(GlobalState{}) + MaxUnits*binary.Size(UnitState{}) + 1
}

// ParseState decodes a raw STATE datagram. It validates the header first
// (producing ErrRejected on bad magic/version/type) and then walks the
// fixed and variable-length sections in order, producing ErrMalformed on
// any length shortfall.
func ParseState(data []byte) (*StatePacket, error) {
	fixedSize := fixedStateSize()
	if len(data) < binary.Size(Header{}) {
		return nil, &ErrMalformed{Stage: "header", Need: binary.Size(Header{}), Have: len(data)}
	}

	r := bytes.NewReader(data)

	var hdr Header
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, &ErrMalformed{Stage: "header", Need: binary.Size(Header{}), Have: len(data)}
	}
	if hdr.Magic != Magic {
		return nil, &ErrRejected{Reason: fmt.Sprintf("bad magic 0x%04X", hdr.Magic)}
	}
	if hdr.Version != Version {
		return nil, &ErrRejected{Reason: fmt.Sprintf("bad version %d", hdr.Version)}
	}
	if hdr.MsgType != uint8(MsgState) {
		return nil, &ErrRejected{Reason: fmt.Sprintf("not a STATE packet: type=%d", hdr.MsgType)}
	}

	if len(data) < fixedSize {
		return nil, &ErrMalformed{Stage: "fixed", Need: fixedSize, Have: len(data)}
	}

	pkt := &StatePacket{Header: hdr}

	if err := binary.Read(r, binary.LittleEndian, &pkt.Global); err != nil {
		return nil, &ErrMalformed{Stage: "global", Need: binary.Size(GlobalState{}), Have: len(data)}
	}
	if err := binary.Read(r, binary.LittleEndian, &pkt.Units); err != nil {
		return nil, &ErrMalformed{Stage: "units", Need: MaxUnits * binary.Size(UnitState{}), Have: len(data)}
	}

	var numEvents uint8
	if err := binary.Read(r, binary.LittleEndian, &numEvents); err != nil {
		return nil, &ErrMalformed{Stage: "num_events", Need: 1, Have: len(data)}
	}
	keep := int(numEvents)
	if keep > MaxEvents {
		keep = MaxEvents
	}

	offset := fixedSize
	eventSize := binary.Size(Event{})
	eventsBytes := int(numEvents) * eventSize
	if offset+eventsBytes > len(data) {
		return nil, &ErrMalformed{Stage: "events", Need: offset + eventsBytes, Have: len(data)}
	}
	pkt.Events = make([]Event, keep)
	for i := 0; i < keep; i++ {
		if err := binary.Read(r, binary.LittleEndian, &pkt.Events[i]); err != nil {
			return nil, &ErrMalformed{Stage: "events", Need: offset + eventsBytes, Have: len(data)}
		}
	}
	offset += eventsBytes
	// Skip the bytes of any events beyond MaxEvents.
	if _, err := r.Seek(int64(offset), io.SeekStart); err != nil {
		return nil, &ErrMalformed{Stage: "events", Need: offset, Have: len(data)}
	}

	if offset+1 > len(data) {
		return nil, &ErrMalformed{Stage: "has_pathability", Need: offset + 1, Have: len(data)}
	}
	var hasPath uint8
	if err := binary.Read(r, binary.LittleEndian, &hasPath); err != nil {
		return nil, &ErrMalformed{Stage: "has_pathability", Need: offset + 1, Have: len(data)}
	}
	pkt.HasPathability = hasPath != 0
	offset++

	if pkt.HasPathability {
		if offset+GridCells > len(data) {
			return nil, &ErrMalformed{Stage: "pathability", Need: offset + GridCells, Have: len(data)}
		}
		pkt.Pathability = make([]byte, GridCells)
		if _, err := r.Read(pkt.Pathability); err != nil {
			return nil, &ErrMalformed{Stage: "pathability", Need: offset + GridCells, Have: len(data)}
		}
		offset += GridCells
	}

	if offset+GridCells > len(data) {
		return nil, &ErrMalformed{Stage: "visibility_t0", Need: offset + GridCells, Have: len(data)}
	}
	pkt.VisibilityT0 = make([]byte, GridCells)
	if _, err := r.Read(pkt.VisibilityT0); err != nil {
		return nil, &ErrMalformed{Stage: "visibility_t0", Need: offset + GridCells, Have: len(data)}
	}
	offset += GridCells

	if offset+GridCells > len(data) {
		return nil, &ErrMalformed{Stage: "visibility_t1", Need: offset + GridCells, Have: len(data)}
	}
	pkt.VisibilityT1 = make([]byte, GridCells)
	if _, err := r.Read(pkt.VisibilityT1); err != nil {
		return nil, &ErrMalformed{Stage: "visibility_t1", Need: offset + GridCells, Have: len(data)}
	}

	return pkt, nil
}

// EncodeState serializes a StatePacket back into wire bytes. Used by tests
// to build round-trip fixtures; the live server only ever decodes STATE.
func EncodeState(pkt *StatePacket) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.LittleEndian, pkt.Header); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, pkt.Global); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, pkt.Units); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, uint8(len(pkt.Events))); err != nil {
		return nil, err
	}
	for _, ev := range pkt.Events {
		if err := binary.Write(buf, binary.LittleEndian, ev); err != nil {
			return nil, err
		}
	}
	hasPath := uint8(0)
	if pkt.HasPathability {
		hasPath = 1
	}
	if err := binary.Write(buf, binary.LittleEndian, hasPath); err != nil {
		return nil, err
	}
	if pkt.HasPathability {
		buf.Write(pkt.Pathability)
	}
	buf.Write(pkt.VisibilityT0)
	buf.Write(pkt.VisibilityT1)
	return buf.Bytes(), nil
}
