package watcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, d *Debouncer) []FileEvent {
	t.Helper()
	select {
	case batch := <-d.Output():
		return batch
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for debounced batch")
		return nil
	}
}

func TestDebouncer_SingleEventPassesThrough(t *testing.T) {
	// Given: a debouncer with a short window
	d := NewDebouncer(20*time.Millisecond, 4)
	defer d.Stop()

	// When: one event arrives
	d.Add(FileEvent{Path: "a.txt", Operation: OpCreate})

	// Then: it is emitted alone
	batch := receive(t, d)
	require.Len(t, batch, 1)
	assert.Equal(t, "a.txt", batch[0].Path)
	assert.Equal(t, OpCreate, batch[0].Operation)
}

func TestDebouncer_Merging(t *testing.T) {
	tests := []struct {
		name string
		ops  []Operation
		want []Operation
	}{
		{"create then modify stays create", []Operation{OpCreate, OpModify, OpModify}, []Operation{OpCreate}},
		{"create then delete vanishes", []Operation{OpCreate, OpDelete}, nil},
		{"delete then create is a modify", []Operation{OpDelete, OpCreate}, []Operation{OpModify}},
		{"modify then delete is a delete", []Operation{OpModify, OpDelete}, []Operation{OpDelete}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDebouncer(20*time.Millisecond, 4)
			defer d.Stop()

			for _, op := range tt.ops {
				d.Add(FileEvent{Path: "story.pdf", Operation: op})
			}
			// A second path guarantees a batch even when the first vanishes.
			d.Add(FileEvent{Path: "z.txt", Operation: OpModify})

			batch := receive(t, d)
			var got []Operation
			for _, ev := range batch {
				if ev.Path == "story.pdf" {
					got = append(got, ev.Operation)
				}
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDebouncer_BatchSortedByPath(t *testing.T) {
	d := NewDebouncer(20*time.Millisecond, 4)
	defer d.Stop()

	d.Add(FileEvent{Path: "c.txt", Operation: OpModify})
	d.Add(FileEvent{Path: "a.txt", Operation: OpModify})
	d.Add(FileEvent{Path: "b.docx", Operation: OpCreate})

	batch := receive(t, d)
	require.Len(t, batch, 3)
	assert.Equal(t, "a.txt", batch[0].Path)
	assert.Equal(t, "b.docx", batch[1].Path)
	assert.Equal(t, "c.txt", batch[2].Path)
}

func TestDebouncer_StopClosesOutputAndIgnoresAdds(t *testing.T) {
	d := NewDebouncer(20*time.Millisecond, 4)
	d.Stop()
	d.Stop()

	d.Add(FileEvent{Path: "a.txt", Operation: OpCreate})

	_, ok := <-d.Output()
	assert.False(t, ok)
}
