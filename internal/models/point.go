// Package models defines core data structures for content points, branch
// changes, queries, and index statistics.
package models

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Content identity prefixes distinguish how a file version was fingerprinted.
const (
	// BlobPrefix tags identities backed by a committed git blob.
	BlobPrefix = "blob:"
	// RawPrefix tags identities hashed from live file bytes (dirty files, or
	// any file outside a git repository).
	RawPrefix = "raw:"
)

// BlobIdentity returns the content identity for a committed git blob.
func BlobIdentity(blobSHA string) string {
	return BlobPrefix + blobSHA
}

// RawIdentity returns the content identity for raw file bytes.
// Same bytes always yield the same identity.
func RawIdentity(content []byte) string {
	sum := sha256.Sum256(content)
	return RawPrefix + hex.EncodeToString(sum[:])
}

// IsBlobIdentity reports whether the identity refers to a committed git blob.
func IsBlobIdentity(contentID string) bool {
	return strings.HasPrefix(contentID, BlobPrefix)
}

// MatchesIdentity reports whether content hashes to contentID under the
// scheme its prefix names.
func MatchesIdentity(content []byte, contentID string) bool {
	if IsBlobIdentity(contentID) {
		return GitBlobSHA(content) == BlobSHA(contentID)
	}
	return RawIdentity(content) == contentID
}

// GitBlobSHA hashes content the way git hashes a blob object, so a blob
// identity can be verified against live bytes without a subprocess.
func GitBlobSHA(content []byte) string {
	h := sha1.New()
	fmt.Fprintf(h, "blob %d\x00", len(content))
	h.Write(content)
	return hex.EncodeToString(h.Sum(nil))
}

// BlobSHA extracts the git blob hash from a blob identity.
func BlobSHA(contentID string) string {
	return strings.TrimPrefix(contentID, BlobPrefix)
}

// PointID derives the stable identifier for one chunk of one exact file
// version. Same (path, content identity, byte range) always yields the same
// ID, so re-indexing unchanged content is a no-op at the store level.
func PointID(path, contentID string, startByte, endByte int) string {
	normalized := filepath.ToSlash(filepath.Clean(path))
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%d..%d", normalized, contentID, startByte, endByte)
	return hex.EncodeToString(h.Sum(nil)[:16])
}

// ContentPoint is one embedded chunk of one exact file version. Points are
// immutable: a new file version produces new points, and branch bookkeeping
// happens in the catalog, never by mutating a point.
type ContentPoint struct {
	ID        string `json:"id"`
	Path      string `json:"path"`
	ContentID string `json:"content_id"`
	StartByte int    `json:"start_byte"`
	EndByte   int    `json:"end_byte"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
	Language  string `json:"language,omitempty"`
	// Text is stored inline only for raw identities. Blob-backed points leave
	// it empty; their text is recoverable from git by (blob, byte range).
	Text      string    `json:"text,omitempty"`
	Vector    []float32 `json:"vector"`
	CreatedAt time.Time `json:"created_at"`
}

// NewContentPoint builds a point from a chunk and the file version identity.
// The vector is attached by the caller once embedding succeeds.
func NewContentPoint(c Chunk, contentID string) *ContentPoint {
	p := &ContentPoint{
		ID:        PointID(c.Path, contentID, c.StartByte, c.EndByte),
		Path:      filepath.ToSlash(filepath.Clean(c.Path)),
		ContentID: contentID,
		StartByte: c.StartByte,
		EndByte:   c.EndByte,
		StartLine: c.StartLine,
		EndLine:   c.EndLine,
		Language:  c.Language,
		CreatedAt: time.Now().UTC(),
	}
	if !IsBlobIdentity(contentID) {
		p.Text = c.Text
	}
	return p
}
