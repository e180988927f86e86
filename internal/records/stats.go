package records

import (
	"context"
	"database/sql"
	"strings"
)

// Statistics is the summary shown by 'stories stats'.
type Statistics struct {
	TotalStories   int            `json:"total_stories"`
	StoriesByStyle map[string]int `json:"stories_by_style"`
	TotalDocuments int            `json:"total_documents"`
}

// EnhancedStatistics extends Statistics with usage breakdowns.
type EnhancedStatistics struct {
	Statistics
	StoriesByMode     map[string]int `json:"stories_by_mode"`
	StoriesInMemory   int            `json:"stories_in_memory"`
	StoriesPerDay     []DayCount     `json:"stories_per_day"`
	AvgResponseLength int            `json:"avg_response_length"`
	TopDocuments      []DocumentUse  `json:"top_documents"`
}

// DayCount is the number of stories created on one UTC date.
type DayCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// DocumentUse is how many stories drew on a document.
type DocumentUse struct {
	Filename string `json:"filename"`
	Count    int    `json:"count"`
}

// Analytics describes a single story.
type Analytics struct {
	Story          *Story      `json:"story"`
	Length         int         `json:"length"`
	WordCount      int         `json:"word_count"`
	ParagraphCount int         `json:"paragraph_count"`
	Documents      []*Document `json:"used_documents"`
}

// Statistics returns story and document counts.
func (s *Store) Statistics(ctx context.Context) (*Statistics, error) {
	st := &Statistics{}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM stories`).Scan(&st.TotalStories); err != nil {
		return nil, storeErr("count stories", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&st.TotalDocuments); err != nil {
		return nil, storeErr("count documents", err)
	}
	var err error
	if st.StoriesByStyle, err = s.countBy(ctx, "style"); err != nil {
		return nil, err
	}
	return st, nil
}

// EnhancedStatistics adds breakdowns by mode, memory use, recent days,
// average response length, and the five most used documents.
func (s *Store) EnhancedStatistics(ctx context.Context) (*EnhancedStatistics, error) {
	base, err := s.Statistics(ctx)
	if err != nil {
		return nil, err
	}
	st := &EnhancedStatistics{Statistics: *base}

	if st.StoriesByMode, err = s.countBy(ctx, "mode"); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM stories WHERE memory_added = 1`).Scan(&st.StoriesInMemory); err != nil {
		return nil, storeErr("count memory stories", err)
	}

	var avg sql.NullFloat64
	if err := s.db.QueryRowContext(ctx, `SELECT AVG(length(response)) FROM stories`).Scan(&avg); err != nil {
		return nil, storeErr("average response length", err)
	}
	st.AvgResponseLength = int(avg.Float64)

	// The seven most recent dates that have stories.
	rows, err := s.db.QueryContext(ctx, `
		SELECT substr(created_at, 1, 10) AS day, COUNT(*)
		FROM stories GROUP BY day ORDER BY day DESC LIMIT 7`)
	if err != nil {
		return nil, storeErr("count stories per day", err)
	}
	for rows.Next() {
		var d DayCount
		if err := rows.Scan(&d.Date, &d.Count); err != nil {
			rows.Close()
			return nil, storeErr("scan day count", err)
		}
		st.StoriesPerDay = append(st.StoriesPerDay, d)
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, `
		SELECT d.filename, COUNT(*) AS uses
		FROM documents d
		JOIN story_documents sd ON d.id = sd.document_id
		GROUP BY d.id
		ORDER BY uses DESC, d.filename
		LIMIT 5`)
	if err != nil {
		return nil, storeErr("count document use", err)
	}
	defer rows.Close()
	for rows.Next() {
		var u DocumentUse
		if err := rows.Scan(&u.Filename, &u.Count); err != nil {
			return nil, storeErr("scan document use", err)
		}
		st.TopDocuments = append(st.TopDocuments, u)
	}
	return st, rows.Err()
}

// StoryAnalytics computes length, word and paragraph counts for one story.
// Paragraphs are separated by blank lines.
func (s *Store) StoryAnalytics(ctx context.Context, id int64) (*Analytics, error) {
	st, err := s.GetStory(ctx, id)
	if err != nil {
		return nil, err
	}
	docs, err := s.StoryDocuments(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Analytics{
		Story:          st,
		Length:         len([]rune(st.Response)),
		WordCount:      len(strings.Fields(st.Response)),
		ParagraphCount: len(strings.Split(st.Response, "\n\n")),
		Documents:      docs,
	}, nil
}

func (s *Store) countBy(ctx context.Context, column string) (map[string]int, error) {
	// column is one of a fixed set, never user input
	rows, err := s.db.QueryContext(ctx, `SELECT `+column+`, COUNT(*) FROM stories GROUP BY `+column)
	if err != nil {
		return nil, storeErr("count stories by "+column, err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return nil, storeErr("scan "+column+" count", err)
		}
		out[key] = n
	}
	return out, rows.Err()
}
