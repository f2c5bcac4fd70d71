package ann

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
)

// LabelFileName is the on-disk identity map inside a collection directory.
const LabelFileName = "id_index.bin"

// LabelMap persists the point identity to graph label assignment for one
// graph generation.
//
// File layout, little-endian:
//
//	[count uint32]
//	repeated: [identity_len uint16][identity utf8][label uint32][deleted uint8]
//
// New identities append to the end, soft deletes flip the trailing byte in
// place. Labels are dense and never reused within a generation; compaction
// happens by resetting the map during a rebuild.
type LabelMap struct {
	mu   sync.Mutex
	path string
	f    *os.File

	entries []mapEntry        // indexed by label
	byID    map[string]uint32 // identity to label
	deleted int
	size    int64 // append offset
}

type mapEntry struct {
	identity   string
	deleted    bool
	flagOffset int64
}

// OpenLabelMap opens or creates the identity map at path. Entries beyond
// the recorded count are ignored, which makes a torn append harmless.
func OpenLabelMap(path string) (*LabelMap, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open label map: %w", err)
	}
	lm := &LabelMap{
		path: path,
		f:    f,
		byID: make(map[string]uint32),
	}
	if err := lm.load(); err != nil {
		f.Close()
		return nil, err
	}
	return lm, nil
}

func (lm *LabelMap) load() error {
	info, err := lm.f.Stat()
	if err != nil {
		return fmt.Errorf("stat label map: %w", err)
	}
	if info.Size() == 0 {
		var header [4]byte
		if _, err := lm.f.WriteAt(header[:], 0); err != nil {
			return fmt.Errorf("init label map: %w", err)
		}
		lm.size = 4
		return nil
	}

	var header [4]byte
	if _, err := lm.f.ReadAt(header[:], 0); err != nil {
		return fmt.Errorf("read label map header: %w", err)
	}
	count := binary.LittleEndian.Uint32(header[:])

	offset := int64(4)
	lm.entries = make([]mapEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		var lenBuf [2]byte
		if _, err := lm.f.ReadAt(lenBuf[:], offset); err != nil {
			return fmt.Errorf("read label map entry %d: %w", i, err)
		}
		idLen := binary.LittleEndian.Uint16(lenBuf[:])
		buf := make([]byte, int(idLen)+5)
		if _, err := lm.f.ReadAt(buf, offset+2); err != nil {
			return fmt.Errorf("read label map entry %d: %w", i, err)
		}
		identity := string(buf[:idLen])
		label := binary.LittleEndian.Uint32(buf[idLen : idLen+4])
		if label != uint32(len(lm.entries)) {
			return fmt.Errorf("label map entry %d: label %d out of order", i, label)
		}
		deleted := buf[idLen+4] != 0
		entry := mapEntry{
			identity:   identity,
			deleted:    deleted,
			flagOffset: offset + 2 + int64(idLen) + 4,
		}
		lm.entries = append(lm.entries, entry)
		lm.byID[identity] = label
		if deleted {
			lm.deleted++
		}
		offset += 2 + int64(idLen) + 5
	}
	lm.size = offset
	return nil
}

// Assign returns the label for identity, creating a dense new one when the
// identity is unseen. A soft-deleted identity is revived in place.
func (lm *LabelMap) Assign(identity string) (uint32, bool, error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if label, ok := lm.byID[identity]; ok {
		e := &lm.entries[label]
		if e.deleted {
			if err := lm.writeFlag(e.flagOffset, 0); err != nil {
				return 0, false, err
			}
			e.deleted = false
			lm.deleted--
		}
		return label, false, nil
	}

	label := uint32(len(lm.entries))
	buf := make([]byte, 2+len(identity)+5)
	binary.LittleEndian.PutUint16(buf[:2], uint16(len(identity)))
	copy(buf[2:], identity)
	binary.LittleEndian.PutUint32(buf[2+len(identity):], label)
	buf[2+len(identity)+4] = 0

	if _, err := lm.f.WriteAt(buf, lm.size); err != nil {
		return 0, false, fmt.Errorf("append label map entry: %w", err)
	}
	var header [4]byte
	binary.LittleEndian.PutUint32(header[:], label+1)
	if _, err := lm.f.WriteAt(header[:], 0); err != nil {
		return 0, false, fmt.Errorf("update label map count: %w", err)
	}

	lm.entries = append(lm.entries, mapEntry{
		identity:   identity,
		flagOffset: lm.size + 2 + int64(len(identity)) + 4,
	})
	lm.byID[identity] = label
	lm.size += int64(len(buf))
	return label, true, nil
}

// SoftDelete flips the deleted flag for identity. It reports the label and
// whether the identity was present and live.
func (lm *LabelMap) SoftDelete(identity string) (uint32, bool, error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	label, ok := lm.byID[identity]
	if !ok {
		return 0, false, nil
	}
	e := &lm.entries[label]
	if e.deleted {
		return label, false, nil
	}
	if err := lm.writeFlag(e.flagOffset, 1); err != nil {
		return 0, false, err
	}
	e.deleted = true
	lm.deleted++
	return label, true, nil
}

func (lm *LabelMap) writeFlag(offset int64, flag byte) error {
	if _, err := lm.f.WriteAt([]byte{flag}, offset); err != nil {
		return fmt.Errorf("flip label map flag: %w", err)
	}
	return nil
}

// Lookup returns the label and deleted state for identity.
func (lm *LabelMap) Lookup(identity string) (label uint32, deleted bool, ok bool) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	label, ok = lm.byID[identity]
	if !ok {
		return 0, false, false
	}
	return label, lm.entries[label].deleted, true
}

// Identity returns the identity assigned to label.
func (lm *LabelMap) Identity(label uint32) (string, bool) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if int(label) >= len(lm.entries) {
		return "", false
	}
	return lm.entries[label].identity, true
}

// DeletedLabels returns the labels currently flagged as deleted.
func (lm *LabelMap) DeletedLabels() []uint32 {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	out := make([]uint32, 0, lm.deleted)
	for label, e := range lm.entries {
		if e.deleted {
			out = append(out, uint32(label))
		}
	}
	return out
}

// Len returns the total number of assigned labels, deleted included.
func (lm *LabelMap) Len() int {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return len(lm.entries)
}

// Live returns the number of non-deleted identities.
func (lm *LabelMap) Live() int {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return len(lm.entries) - lm.deleted
}

// Deleted returns the number of soft-deleted identities.
func (lm *LabelMap) Deleted() int {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.deleted
}

// Reset truncates the map back to an empty file. Rebuilds call this before
// reassigning labels for the next generation.
func (lm *LabelMap) Reset() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if err := lm.f.Truncate(0); err != nil {
		return fmt.Errorf("truncate label map: %w", err)
	}
	var header [4]byte
	if _, err := lm.f.WriteAt(header[:], 0); err != nil {
		return fmt.Errorf("init label map: %w", err)
	}
	lm.entries = lm.entries[:0]
	lm.byID = make(map[string]uint32)
	lm.deleted = 0
	lm.size = 4
	return nil
}

// Close syncs and closes the underlying file.
func (lm *LabelMap) Close() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if err := lm.f.Sync(); err != nil {
		lm.f.Close()
		return fmt.Errorf("sync label map: %w", err)
	}
	return lm.f.Close()
}
