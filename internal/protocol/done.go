package protocol

import (
	"bytes"
	"encoding/binary"
)

// DoneEnvelope is a parsed DONE packet: header plus the fixed body.
type DoneEnvelope struct {
	Header Header
	Body   DonePacket
}

// ParseDone decodes a raw DONE datagram. The header is assumed already
// validated by the caller's classification pass; this only checks length.
func ParseDone(data []byte) (*DoneEnvelope, error) {
	need := binary.Size(Header{}) + binary.Size(DonePacket{})
	if len(data) < need {
		return nil, &ErrMalformed{Stage: "done", Need: need, Have: len(data)}
	}
	r := bytes.NewReader(data)
	env := &DoneEnvelope{}
	if err := binary.Read(r, binary.LittleEndian, &env.Header); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &env.Body); err != nil {
		return nil, err
	}
	return env, nil
}

// EncodeDone serializes a DoneEnvelope to wire bytes, used only by tests
// to build fixtures exercising the orchestrator's DONE handling.
func EncodeDone(env *DoneEnvelope) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.LittleEndian, env.Header); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, env.Body); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
