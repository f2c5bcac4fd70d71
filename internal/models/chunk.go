package models

// Chunk is the upstream indexing unit: a contiguous slice of one file with
// its byte and line extent. Chunks carry no identity of their own; identity
// comes from the file version they were cut from.
type Chunk struct {
	Path      string
	StartByte int
	EndByte   int
	StartLine int
	EndLine   int
	Text      string
	Language  string
}
