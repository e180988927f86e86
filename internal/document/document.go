// Package document defines the text types that flow through the indexing
// pipeline: loaders produce TextUnits, the chunker turns them into Chunks,
// and the index stores and returns Chunks.
package document

// TextUnit is a span of extracted text from one source file.
// A text or docx file yields one unit; a PDF yields one unit per page.
type TextUnit struct {
	Text string
	// Source is the path relative to the documents root, slash separated.
	Source string
	// Page is 1-based for paged formats and 0 otherwise.
	Page int
}

// Chunk is a bounded slice of a single TextUnit. It is the unit of embedding
// and retrieval.
type Chunk struct {
	Text   string `json:"text"`
	Source string `json:"source"`
	Page   int    `json:"page,omitempty"`
}

// Sources returns the Source of each chunk, index aligned.
func Sources(chunks []Chunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Source
	}
	return out
}

// UniqueSources returns the distinct sources in first-seen order.
func UniqueSources(chunks []Chunk) []string {
	seen := make(map[string]bool, len(chunks))
	var out []string
	for _, c := range chunks {
		if !seen[c.Source] {
			seen[c.Source] = true
			out = append(out, c.Source)
		}
	}
	return out
}
