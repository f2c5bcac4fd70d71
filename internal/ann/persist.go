package ann

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

// IndexFileName is the serialized graph inside a collection directory.
const IndexFileName = "ann_index.bin"

const (
	indexMagic   uint32 = 0x53484E57 // "SHNW"
	indexVersion uint32 = 1
)

// ErrCorrupted reports that the on-disk graph could not be decoded. Callers
// respond by rebuilding from the record store.
var ErrCorrupted = errors.New("ann index corrupted")

// SaveGraph serializes g and its generation stamp to path atomically.
func SaveGraph(path string, g *Graph, generation uint64) error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	w := bufio.NewWriter(f)

	dims := 0
	if len(g.nodes) > 0 {
		dims = len(g.nodes[0].vector)
	}
	header := []uint32{
		indexMagic,
		indexVersion,
	}
	for _, v := range header {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			f.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("write index header: %w", err)
		}
	}
	fixed := []interface{}{
		generation,
		uint32(dims),
		uint32(g.m),
		uint32(g.efConstruction),
		uint32(g.efSearch),
		uint32(len(g.nodes)),
		g.entry,
		uint32(g.maxLayer),
	}
	for _, v := range fixed {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			f.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("write index header: %w", err)
		}
	}

	for _, n := range g.nodes {
		if err := writeNode(w, n, dims); err != nil {
			f.Close()
			os.Remove(tmpPath)
			return err
		}
	}

	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("flush index file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close index file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename index file: %w", err)
	}
	return nil
}

func writeNode(w io.Writer, n *gnode, dims int) error {
	deleted := uint8(0)
	if n.deleted {
		deleted = 1
	}
	if err := binary.Write(w, binary.LittleEndian, deleted); err != nil {
		return fmt.Errorf("write node: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(n.connections))); err != nil {
		return fmt.Errorf("write node: %w", err)
	}
	for _, conns := range n.connections {
		if err := binary.Write(w, binary.LittleEndian, uint32(len(conns))); err != nil {
			return fmt.Errorf("write node: %w", err)
		}
		for _, nb := range conns {
			if err := binary.Write(w, binary.LittleEndian, nb); err != nil {
				return fmt.Errorf("write node: %w", err)
			}
		}
	}
	if len(n.vector) != dims {
		return fmt.Errorf("write node: vector has %d dimensions, index has %d", len(n.vector), dims)
	}
	if _, err := w.Write(float32SliceToBytes(n.vector)); err != nil {
		return fmt.Errorf("write node vector: %w", err)
	}
	return nil
}

// LoadGraph reads a serialized graph from path. The returned generation is
// the stamp recorded at save time. Decode failures wrap ErrCorrupted; a
// missing file surfaces the underlying fs error.
func LoadGraph(path string, dims int) (*Graph, uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()
	r := bufio.NewReader(f)

	var magic, version uint32
	if err := binary.Read(r, binary.LittleEndian, &magic); err != nil {
		return nil, 0, fmt.Errorf("read index magic: %w", ErrCorrupted)
	}
	if magic != indexMagic {
		return nil, 0, fmt.Errorf("bad index magic %#x: %w", magic, ErrCorrupted)
	}
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, 0, fmt.Errorf("read index version: %w", ErrCorrupted)
	}
	if version != indexVersion {
		return nil, 0, fmt.Errorf("unsupported index version %d: %w", version, ErrCorrupted)
	}

	var generation uint64
	var fileDims, m, efConstruction, efSearch, count, entry, maxLayer uint32
	fields := []interface{}{&generation, &fileDims, &m, &efConstruction, &efSearch, &count, &entry, &maxLayer}
	for _, v := range fields {
		if err := binary.Read(r, binary.LittleEndian, v); err != nil {
			return nil, 0, fmt.Errorf("read index header: %w", ErrCorrupted)
		}
	}
	if count > 0 && int(fileDims) != dims {
		return nil, 0, fmt.Errorf("index has %d dimensions, expected %d: %w", fileDims, dims, ErrCorrupted)
	}

	g := NewGraph(int(m), int(efConstruction), int(efSearch))
	g.entry = entry
	g.maxLayer = int(maxLayer)
	g.nodes = make([]*gnode, 0, count)
	for i := uint32(0); i < count; i++ {
		n, err := readNode(r, int(fileDims))
		if err != nil {
			return nil, 0, err
		}
		if n.deleted {
			g.deleted++
		}
		g.nodes = append(g.nodes, n)
	}
	if count > 0 && int(entry) >= len(g.nodes) {
		return nil, 0, fmt.Errorf("entry point %d out of range: %w", entry, ErrCorrupted)
	}
	return g, generation, nil
}

func readNode(r io.Reader, dims int) (*gnode, error) {
	var deleted uint8
	if err := binary.Read(r, binary.LittleEndian, &deleted); err != nil {
		return nil, fmt.Errorf("read node: %w", ErrCorrupted)
	}
	var layers uint32
	if err := binary.Read(r, binary.LittleEndian, &layers); err != nil {
		return nil, fmt.Errorf("read node: %w", ErrCorrupted)
	}
	n := &gnode{
		deleted:     deleted != 0,
		connections: make([][]uint32, layers),
	}
	for l := uint32(0); l < layers; l++ {
		var size uint32
		if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
			return nil, fmt.Errorf("read node connections: %w", ErrCorrupted)
		}
		conns := make([]uint32, size)
		for i := range conns {
			if err := binary.Read(r, binary.LittleEndian, &conns[i]); err != nil {
				return nil, fmt.Errorf("read node connections: %w", ErrCorrupted)
			}
		}
		n.connections[l] = conns
	}
	buf := make([]byte, dims*4)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("read node vector: %w", ErrCorrupted)
	}
	n.vector = bytesToFloat32Slice(buf)
	return n, nil
}

func float32SliceToBytes(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func bytesToFloat32Slice(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}
