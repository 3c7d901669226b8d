// Package memory implements the labelled memory store carried across
// conversations. Memories survive compaction and per-subtask conversation
// resets, preserving salient facts the model has discovered.
package memory

import (
	"fmt"
	"strings"
)

// DefaultMinRemoveLength is the shortest search text Remove accepts. Shorter
// prefixes match too loosely to be safe.
const DefaultMinRemoveLength = 8

// Memories is a label -> ordered set of free-text snippets. Entries are
// deduplicated by exact equality. Writes happen only inside tool handlers and
// compaction, both on the engine's turn loop, so no lock is held.
type Memories struct {
	entries   map[string][]string
	order     []string
	minRemove int
}

// New creates an empty memory store with the default removal threshold.
func New() *Memories {
	return NewWithMinRemoveLength(DefaultMinRemoveLength)
}

// NewWithMinRemoveLength creates an empty store with a custom minimum search
// length for Remove.
func NewWithMinRemoveLength(minRemove int) *Memories {
	if minRemove <= 0 {
		minRemove = DefaultMinRemoveLength
	}
	return &Memories{
		entries:   make(map[string][]string),
		minRemove: minRemove,
	}
}

// Add records text under label. Blank labels or text are ignored. Returns
// false when the entry already exists (exact match) or the input is blank.
func (m *Memories) Add(label, text string) bool {
	label = strings.TrimSpace(label)
	text = strings.TrimSpace(text)
	if label == "" || text == "" {
		return false
	}
	for _, existing := range m.entries[label] {
		if existing == text {
			return false
		}
	}
	if _, seen := m.entries[label]; !seen {
		m.order = append(m.order, label)
	}
	m.entries[label] = append(m.entries[label], text)
	return true
}

// Remove deletes the entry under label sharing the longest common prefix with
// search. Searches shorter than the configured minimum are rejected and
// nothing is mutated. Returns true when an entry was removed.
func (m *Memories) Remove(label, search string) bool {
	label = strings.TrimSpace(label)
	search = strings.TrimSpace(search)
	if len(search) < m.minRemove {
		return false
	}
	items, ok := m.entries[label]
	if !ok {
		return false
	}

	best := -1
	bestLen := 0
	for i, item := range items {
		n := commonPrefixLen(item, search)
		if n > bestLen {
			bestLen = n
			best = i
		}
	}
	// Require the search to actually anchor on the entry, not share a few
	// incidental characters.
	if best < 0 || bestLen < m.minRemove {
		return false
	}

	m.entries[label] = append(items[:best], items[best+1:]...)
	if len(m.entries[label]) == 0 {
		delete(m.entries, label)
		for i, l := range m.order {
			if l == label {
				m.order = append(m.order[:i], m.order[i+1:]...)
				break
			}
		}
	}
	return true
}

// Get returns the entries under label in insertion order.
func (m *Memories) Get(label string) []string {
	items := m.entries[label]
	out := make([]string, len(items))
	copy(out, items)
	return out
}

// Labels returns all labels in first-use order.
func (m *Memories) Labels() []string {
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// Len returns the total number of stored entries.
func (m *Memories) Len() int {
	n := 0
	for _, items := range m.entries {
		n += len(items)
	}
	return n
}

// Format renders the store for inclusion in a system prompt. An empty store
// renders the "None yet" sentinel so the model knows the section exists.
func (m *Memories) Format() string {
	var b strings.Builder
	b.WriteString("## Memories\n")
	if m.Len() == 0 {
		b.WriteString("None yet.\n")
		return b.String()
	}
	for _, label := range m.order {
		for _, item := range m.entries[label] {
			fmt.Fprintf(&b, "- %s: %s\n", label, item)
		}
	}
	return b.String()
}

func commonPrefixLen(a, b string) int {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return n
}
