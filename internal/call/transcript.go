package call

import (
	"strings"
	"sync"
)

// DefaultWindowSize is the number of recent caller words retained when no
// explicit capacity is configured.
const DefaultWindowSize = 100

// DefaultSnippetSize is the number of trailing words handed to the decision
// and response prompts when no explicit size is configured.
const DefaultSnippetSize = 30

// Window is a bounded rolling buffer of the most recent words the caller
// spoke. Final recognition results are appended whitespace-tokenized in
// arrival order; once the capacity is reached the oldest words are evicted.
// Partial recognition results must never be appended.
//
// The window is cleared in full exactly when a spoken response completes.
// There is deliberately no partial-clear operation: mixing words from before
// and after a response would poison the next decision prompt.
//
// All methods are safe for concurrent use.
type Window struct {
	mu       sync.Mutex
	words    []string
	capacity int
}

// NewWindow creates a Window retaining at most capacity words. A capacity
// of zero or less falls back to DefaultWindowSize.
func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = DefaultWindowSize
	}
	return &Window{capacity: capacity}
}

// Append tokenizes text on whitespace and appends the words, evicting the
// oldest entries beyond the window capacity. Empty or all-whitespace text is
// a no-op.
func (w *Window) Append(text string) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.words = append(w.words, fields...)
	if excess := len(w.words) - w.capacity; excess > 0 {
		w.words = append(w.words[:0], w.words[excess:]...)
	}
}

// Snippet returns the most recent k words joined by single spaces. A k of
// zero or less falls back to DefaultSnippetSize. Returns "" when the window
// is empty.
func (w *Window) Snippet(k int) string {
	if k <= 0 {
		k = DefaultSnippetSize
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	start := len(w.words) - k
	if start < 0 {
		start = 0
	}
	return strings.Join(w.words[start:], " ")
}

// Len returns the number of words currently buffered.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.words)
}

// Clear discards the entire window.
func (w *Window) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.words = w.words[:0]
}
