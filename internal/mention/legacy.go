package mention

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// LegacyLedger is the flat source -> target -> value mapping used by the
// old "sent" and "queued" cache files. Queued entries may also carry a
// timestamp key holding the scanned document's modification time.
type LegacyLedger struct {
	order   []string
	entries map[string]*LegacyEntry
}

// LegacyEntry is one source's targets in a legacy cache file.
type LegacyEntry struct {
	Timestamp time.Time
	order     []string
	values    map[string]any
}

// NewLegacyLedger returns an empty legacy ledger.
func NewLegacyLedger() *LegacyLedger {
	return &LegacyLedger{entries: make(map[string]*LegacyEntry)}
}

// Sources lists source URLs in file order.
func (l *LegacyLedger) Sources() []string {
	out := make([]string, len(l.order))
	copy(out, l.order)
	return out
}

// Targets lists target URLs in file order.
func (l *LegacyEntry) Targets() []string {
	out := make([]string, len(l.order))
	copy(out, l.order)
	return out
}

// Value returns the raw value stored for target.
func (l *LegacyEntry) Value(target string) (any, bool) {
	v, ok := l.values[target]
	return v, ok
}

// Entry returns the entry for source.
func (l *LegacyLedger) Entry(source string) (*LegacyEntry, bool) {
	e, ok := l.entries[source]
	return e, ok
}

// Lookup returns the value stored for source and target.
func (l *LegacyLedger) Lookup(source, target string) (any, bool) {
	e, ok := l.entries[source]
	if !ok {
		return nil, false
	}
	return e.Value(target)
}

// Set stores value for source and target, keeping first-seen order.
func (l *LegacyLedger) Set(source, target string, value any) {
	e := l.ensure(source)
	if _, exists := e.values[target]; !exists {
		e.order = append(e.order, target)
	}
	e.values[target] = value
}

// SetTimestamp records the queued timestamp for source.
func (l *LegacyLedger) SetTimestamp(source string, ts time.Time) {
	l.ensure(source).Timestamp = ts
}

func (l *LegacyLedger) ensure(source string) *LegacyEntry {
	if l.entries == nil {
		l.entries = make(map[string]*LegacyEntry)
	}
	e, ok := l.entries[source]
	if !ok {
		e = &LegacyEntry{values: make(map[string]any)}
		l.entries[source] = e
		l.order = append(l.order, source)
	}
	return e
}

// UnmarshalYAML reads a legacy cache file.
func (l *LegacyLedger) UnmarshalYAML(node *yaml.Node) error {
	fresh := NewLegacyLedger()
	if isNull(node) {
		*l = *fresh
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("legacy ledger: expected mapping, got %s", node.ShortTag())
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		source := node.Content[i].Value
		value := node.Content[i+1]
		e := fresh.ensure(source)
		if isNull(value) {
			continue
		}
		if value.Kind != yaml.MappingNode {
			return fmt.Errorf("legacy ledger %s: expected mapping, got %s", source, value.ShortTag())
		}
		for j := 0; j+1 < len(value.Content); j += 2 {
			key := value.Content[j].Value
			child := value.Content[j+1]
			if key == timestampKey {
				ts, err := decodeTime(child)
				if err != nil {
					return fmt.Errorf("legacy ledger %s timestamp: %w", source, err)
				}
				e.Timestamp = ts
				continue
			}
			var raw any
			if err := child.Decode(&raw); err != nil {
				return fmt.Errorf("legacy ledger %s -> %s: %w", source, key, err)
			}
			fresh.Set(source, key, raw)
		}
	}
	*l = *fresh
	return nil
}
