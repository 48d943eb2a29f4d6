package protocol

import (
	"bytes"
	"encoding/binary"
)

// PeekHeader decodes only the 8-byte header, for the orchestrator's
// classification pass which must cheaply distinguish STATE from DONE
// before committing to a full parse.
func PeekHeader(data []byte) (Header, bool) {
	var hdr Header
	if len(data) < binary.Size(hdr) {
		return hdr, false
	}
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &hdr); err != nil {
		return hdr, false
	}
	if hdr.Magic != Magic || hdr.Version != Version {
		return hdr, false
	}
	return hdr, true
}
