package mcp

// SearchDocumentsInput is the input of search_documents.
type SearchDocumentsInput struct {
	Query string `json:"query" jsonschema:"what to look for in the indexed documents"`
	K     int    `json:"k,omitempty" jsonschema:"number of excerpts to return, default 3"`
}

// SearchDocumentsOutput is the output of search_documents.
type SearchDocumentsOutput struct {
	Excerpts []Excerpt `json:"excerpts"`
	Sources  []string  `json:"sources"`
}

// Excerpt is one retrieved chunk.
type Excerpt struct {
	Source string  `json:"source"`
	Page   int     `json:"page,omitempty"`
	Text   string  `json:"text"`
	Score  float64 `json:"score"`
}

// GenerateStoryInput is the input of generate_story.
type GenerateStoryInput struct {
	Prompt       string   `json:"prompt" jsonschema:"the scene or story to write"`
	Mode         string   `json:"mode,omitempty" jsonschema:"direct or rag, default direct"`
	Documents    []string `json:"documents,omitempty" jsonschema:"documents to ground a rag story on, relative to the documents root"`
	Style        string   `json:"style,omitempty" jsonschema:"style preset name"`
	SystemPrompt string   `json:"system_prompt,omitempty" jsonschema:"custom system prompt, overrides the style"`
	Remember     bool     `json:"remember,omitempty" jsonschema:"save the story as a memory and index it"`
}

// GenerateStoryOutput is the output of generate_story.
type GenerateStoryOutput struct {
	ID         int64    `json:"id"`
	Story      string   `json:"story"`
	Sources    []string `json:"sources,omitempty"`
	Timestamp  string   `json:"timestamp"`
	MemoryPath string   `json:"memory_path,omitempty"`
}

// ListStoriesInput is the input of list_stories.
type ListStoriesInput struct {
	Limit  int    `json:"limit,omitempty" jsonschema:"page size, default 20"`
	Offset int    `json:"offset,omitempty" jsonschema:"number of stories to skip"`
	Style  string `json:"style,omitempty" jsonschema:"only stories in this style"`
	Query  string `json:"query,omitempty" jsonschema:"substring to match in prompt or story"`
}

// ListStoriesOutput is the output of list_stories.
type ListStoriesOutput struct {
	Stories []StorySummary `json:"stories"`
}

// StorySummary is one recorded story.
type StorySummary struct {
	ID          int64  `json:"id"`
	Prompt      string `json:"prompt"`
	Story       string `json:"story"`
	Style       string `json:"style"`
	Mode        string `json:"mode"`
	MemoryAdded bool   `json:"memory_added"`
	CreatedAt   string `json:"created_at"`
}

// IndexStatusInput takes no parameters.
type IndexStatusInput struct{}

// IndexStatusOutput is the output of index_status.
type IndexStatusOutput struct {
	Index     IndexInfo    `json:"index"`
	Documents int          `json:"documents"`
	Embedder  EmbedderInfo `json:"embedder"`
}

// IndexInfo describes the index on disk.
type IndexInfo struct {
	Exists     bool   `json:"exists"`
	Chunks     int    `json:"chunks"`
	Sources    int    `json:"sources"`
	Dimensions int    `json:"dimensions"`
	Model      string `json:"model,omitempty"`
	SizeBytes  int64  `json:"size_bytes"`
	ModifiedAt string `json:"modified_at,omitempty"`
}

// EmbedderInfo describes the active embedder.
type EmbedderInfo struct {
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions"`
	Status     string `json:"status"`
}
