// Package fatefile implements the "FATE container" binary tensor format:
// a flat, self-describing bundle of named n-dimensional arrays, used both
// for policy weight artifacts and for completed rollout episodes.
package fatefile

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
)

var magic = [4]byte{'F', 'A', 'T', 'E'}

// DType identifies the element type of an entry's raw bytes.
type DType uint8

const (
	DTypeFloat32 DType = 1
	DTypeInt64   DType = 2
	DTypeUint8   DType = 3
	DTypeBool    DType = 4
)

// Entry is one named tensor: a shape and its raw little-endian bytes.
type Entry struct {
	Name  string
	DType DType
	Shape []int64
	Data  []byte
}

// Container is a fully decoded FATE file.
type Container struct {
	Entries []Entry
}

// Get returns the entry named name, or ok=false if absent.
func (c *Container) Get(name string) (Entry, bool) {
	for _, e := range c.Entries {
		if e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}

// Float32Slice decodes entry Data as a flat []float32 in element order.
func (e Entry) Float32Slice() []float32 {
	n := len(e.Data) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		bits := binary.LittleEndian.Uint32(e.Data[i*4:])
		out[i] = math.Float32frombits(bits)
	}
	return out
}

// Read decodes a FATE container from r.
func Read(r io.Reader) (*Container, error) {
	br := bufio.NewReader(r)

	var m [4]byte
	if _, err := io.ReadFull(br, m[:]); err != nil {
		return nil, fmt.Errorf("fatefile: read magic: %w", err)
	}
	if m != magic {
		return nil, fmt.Errorf("fatefile: bad magic %q", m)
	}

	var numEntries uint32
	if err := binary.Read(br, binary.LittleEndian, &numEntries); err != nil {
		return nil, fmt.Errorf("fatefile: read num_entries: %w", err)
	}

	c := &Container{Entries: make([]Entry, 0, numEntries)}
	for i := uint32(0); i < numEntries; i++ {
		var e Entry

		var nameLen uint32
		if err := binary.Read(br, binary.LittleEndian, &nameLen); err != nil {
			return nil, fmt.Errorf("fatefile: entry %d: read name_len: %w", i, err)
		}
		nameBytes := make([]byte, nameLen)
		if _, err := io.ReadFull(br, nameBytes); err != nil {
			return nil, fmt.Errorf("fatefile: entry %d: read name: %w", i, err)
		}
		e.Name = string(nameBytes)

		var dtype uint8
		if err := binary.Read(br, binary.LittleEndian, &dtype); err != nil {
			return nil, fmt.Errorf("fatefile: entry %s: read dtype: %w", e.Name, err)
		}
		e.DType = DType(dtype)

		var ndim uint32
		if err := binary.Read(br, binary.LittleEndian, &ndim); err != nil {
			return nil, fmt.Errorf("fatefile: entry %s: read ndim: %w", e.Name, err)
		}
		e.Shape = make([]int64, ndim)
		for d := range e.Shape {
			if err := binary.Read(br, binary.LittleEndian, &e.Shape[d]); err != nil {
				return nil, fmt.Errorf("fatefile: entry %s: read shape[%d]: %w", e.Name, d, err)
			}
		}

		var nbytes int64
		if err := binary.Read(br, binary.LittleEndian, &nbytes); err != nil {
			return nil, fmt.Errorf("fatefile: entry %s: read nbytes: %w", e.Name, err)
		}
		e.Data = make([]byte, nbytes)
		if _, err := io.ReadFull(br, e.Data); err != nil {
			return nil, fmt.Errorf("fatefile: entry %s: read data: %w", e.Name, err)
		}

		c.Entries = append(c.Entries, e)
	}
	return c, nil
}

// ReadFile opens path and decodes it as a FATE container.
func ReadFile(path string) (*Container, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}

// Write encodes entries to w.
func Write(w io.Writer, entries []Entry) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.Write(magic[:]); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint32(len(entries))); err != nil {
		return err
	}
	for _, e := range entries {
		if err := binary.Write(bw, binary.LittleEndian, uint32(len(e.Name))); err != nil {
			return err
		}
		if _, err := bw.WriteString(e.Name); err != nil {
			return err
		}
		if err := binary.Write(bw, binary.LittleEndian, uint8(e.DType)); err != nil {
			return err
		}
		if err := binary.Write(bw, binary.LittleEndian, uint32(len(e.Shape))); err != nil {
			return err
		}
		for _, s := range e.Shape {
			if err := binary.Write(bw, binary.LittleEndian, s); err != nil {
				return err
			}
		}
		if err := binary.Write(bw, binary.LittleEndian, int64(len(e.Data))); err != nil {
			return err
		}
		if _, err := bw.Write(e.Data); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteFileAtomic writes entries to a ".tmp" sibling of path and renames it
// into place, so a reader never observes a partially written file. On any
// failure the ".tmp" file is removed.
func WriteFileAtomic(path string, entries []Entry) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := Write(f, entries); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// EnsureDir creates dir (and parents) if it does not already exist.
func EnsureDir(dir string) error {
	return os.MkdirAll(filepath.Clean(dir), 0o755)
}

// Float32Bytes packs a flat []float32 into little-endian bytes for an Entry.
func Float32Bytes(v []float32) []byte {
	out := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}
