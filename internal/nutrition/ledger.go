package nutrition

import (
	"fmt"
	"strings"

	"github.com/vbonduro/nutrilog/internal/domain"
)

// Ledger is the session's record of meals eaten today, keyed by meal name in
// insertion order. The first summary stored for a name is never replaced.
// A Ledger is not safe for concurrent use; the owning Session serialises access.
type Ledger struct {
	order     []string
	summaries map[string]string
}

func NewLedger() *Ledger {
	return &Ledger{summaries: make(map[string]string)}
}

// UpsertIfAbsent stores summary under name unless name is already present.
// It reports whether the entry was inserted.
func (l *Ledger) UpsertIfAbsent(name, summary string) bool {
	if l.summaries == nil {
		l.summaries = make(map[string]string)
	}
	if _, exists := l.summaries[name]; exists {
		return false
	}
	l.summaries[name] = summary
	l.order = append(l.order, name)
	return true
}

func (l *Ledger) Get(name string) (string, bool) {
	s, ok := l.summaries[name]
	return s, ok
}

func (l *Ledger) Len() int { return len(l.order) }

func (l *Ledger) IsEmpty() bool { return len(l.order) == 0 }

// Names returns the meal names in insertion order.
func (l *Ledger) Names() []string {
	out := make([]string, len(l.order))
	copy(out, l.order)
	return out
}

func (l *Ledger) Entries() []domain.MealEntry {
	out := make([]domain.MealEntry, 0, len(l.order))
	for _, name := range l.order {
		out = append(out, domain.MealEntry{Name: name, Summary: l.summaries[name]})
	}
	return out
}

// ComposeDump renders every entry as "name: summary", one per line, in
// insertion order. An empty ledger yields "".
func (l *Ledger) ComposeDump() string {
	lines := make([]string, 0, len(l.order))
	for _, name := range l.order {
		lines = append(lines, fmt.Sprintf("%s: %s", name, l.summaries[name]))
	}
	return strings.Join(lines, "\n")
}

func (l *Ledger) Clear() {
	l.order = nil
	l.summaries = make(map[string]string)
}
