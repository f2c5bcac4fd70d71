package ann

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
)

const pendingFileName = "pending.bin"

const (
	opAdd    byte = 1
	opRemove byte = 2
)

type pendingOp struct {
	op     byte
	id     string
	vector []float32
}

// journal is the append-only log of graph updates that have reached the
// record store but not yet the graph. Indexing appends here so the write
// path never touches graph structure; EnsureReady drains and applies.
//
// Entry layout, little-endian: [op uint8][id_len uint16][id utf8] and, for
// adds, [vector float32 x dims]. A torn trailing entry is dropped on open.
type journal struct {
	mu   sync.Mutex
	path string
	f    *os.File
	dims int
	ops  []pendingOp
}

func openJournal(path string, dims int) (*journal, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open pending journal: %w", err)
	}
	j := &journal{path: path, f: f, dims: dims}
	if err := j.load(); err != nil {
		f.Close()
		return nil, err
	}
	return j, nil
}

func (j *journal) load() error {
	if _, err := j.f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("seek pending journal: %w", err)
	}
	r := bufio.NewReader(j.f)
	valid := int64(0)
	for {
		op, size, err := readPendingOp(r, j.dims)
		if err == io.EOF {
			break
		}
		if err != nil {
			// Torn tail from an interrupted append. Drop it.
			if err := j.f.Truncate(valid); err != nil {
				return fmt.Errorf("truncate pending journal: %w", err)
			}
			break
		}
		j.ops = append(j.ops, op)
		valid += size
	}
	if _, err := j.f.Seek(valid, io.SeekStart); err != nil {
		return fmt.Errorf("seek pending journal: %w", err)
	}
	return nil
}

func readPendingOp(r io.Reader, dims int) (pendingOp, int64, error) {
	var kind [1]byte
	if _, err := io.ReadFull(r, kind[:]); err != nil {
		return pendingOp{}, 0, err
	}
	if kind[0] != opAdd && kind[0] != opRemove {
		return pendingOp{}, 0, fmt.Errorf("unknown pending op %d", kind[0])
	}
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return pendingOp{}, 0, fmt.Errorf("read pending id length: %w", err)
	}
	idLen := binary.LittleEndian.Uint16(lenBuf[:])
	idBuf := make([]byte, idLen)
	if _, err := io.ReadFull(r, idBuf); err != nil {
		return pendingOp{}, 0, fmt.Errorf("read pending id: %w", err)
	}
	op := pendingOp{op: kind[0], id: string(idBuf)}
	size := int64(3 + int(idLen))
	if kind[0] == opAdd {
		vecBuf := make([]byte, dims*4)
		if _, err := io.ReadFull(r, vecBuf); err != nil {
			return pendingOp{}, 0, fmt.Errorf("read pending vector: %w", err)
		}
		op.vector = bytesToFloat32Slice(vecBuf)
		size += int64(dims * 4)
	}
	return op, size, nil
}

// append persists op and keeps it in the replay buffer.
func (j *journal) append(op pendingOp) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	buf := make([]byte, 0, 3+len(op.id)+len(op.vector)*4)
	buf = append(buf, op.op)
	var lenBuf [2]byte
	binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(op.id)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, op.id...)
	if op.op == opAdd {
		buf = append(buf, float32SliceToBytes(op.vector)...)
	}
	if _, err := j.f.Write(buf); err != nil {
		return fmt.Errorf("append pending journal: %w", err)
	}
	j.ops = append(j.ops, op)
	return nil
}

// drain returns the buffered ops and clears the buffer. The file keeps its
// entries until truncate, so a crash before the graph is persisted replays
// them on the next open.
func (j *journal) drain() []pendingOp {
	j.mu.Lock()
	defer j.mu.Unlock()
	ops := j.ops
	j.ops = nil
	return ops
}

// pending returns how many ops are buffered for the next drain.
func (j *journal) pending() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.ops)
}

// truncate clears the journal after its effects have been persisted.
func (j *journal) truncate() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.f.Truncate(0); err != nil {
		return fmt.Errorf("truncate pending journal: %w", err)
	}
	if _, err := j.f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("seek pending journal: %w", err)
	}
	j.ops = nil
	return nil
}

func (j *journal) close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.f.Close()
}
