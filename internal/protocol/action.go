package protocol

import (
	"bytes"
	"encoding/binary"
)

// clamp restricts v to [-1, 1], matching the wire contract for move/point axes.
func clamp(v float32) float32 {
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	return v
}

// ActionPacket is the fixed-length twelve-record reply to a STATE packet.
type ActionPacket struct {
	Header  Header
	Actions [MaxUnits]UnitAction
}

// EncodeAction serializes an ActionPacket to wire bytes. Continuous fields
// are clamped to [-1, 1] here so callers never need to clamp twice.
func EncodeAction(pkt *ActionPacket) ([]byte, error) {
	for i := range pkt.Actions {
		a := &pkt.Actions[i]
		a.MoveX = clamp(a.MoveX)
		a.MoveY = clamp(a.MoveY)
		a.PointX = clamp(a.PointX)
		a.PointY = clamp(a.PointY)
	}
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.LittleEndian, pkt.Header); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, pkt.Actions); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeAction parses wire bytes back into an ActionPacket. Used by tests
// to verify the codec round-trip; the live server only ever encodes ACTION.
func DecodeAction(data []byte) (*ActionPacket, error) {
	need := binary.Size(Header{}) + MaxUnits*binary.Size(UnitAction{})
	if len(data) < need {
		return nil, &ErrMalformed{Stage: "action", Need: need, Have: len(data)}
	}
	r := bytes.NewReader(data)
	pkt := &ActionPacket{}
	if err := binary.Read(r, binary.LittleEndian, &pkt.Header); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &pkt.Actions); err != nil {
		return nil, err
	}
	return pkt, nil
}
