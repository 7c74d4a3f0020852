package mention

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

const timestampKey = "timestamp"

// DeliveryStatus describes where an outgoing target stands.
type DeliveryStatus int

// Delivery states stored in the outgoing ledger.
const (
	// StatusPending targets have not been sent yet (stored as false).
	StatusPending DeliveryStatus = iota
	// StatusSent targets carry the time of the attempt and the endpoint response.
	StatusSent
	// StatusLegacy targets carry a raw value written by older tooling.
	StatusLegacy
)

// Delivery is the per-target value of an outgoing ledger entry.
type Delivery struct {
	Status   DeliveryStatus
	At       time.Time
	Response any
}

// Pending returns a not-yet-sent delivery.
func Pending() Delivery {
	return Delivery{Status: StatusPending}
}

// Sent returns a delivery attempted at at with the given endpoint response.
func Sent(at time.Time, response any) Delivery {
	return Delivery{Status: StatusSent, At: at, Response: response}
}

// Legacy wraps a raw value carried over from an older cache.
func Legacy(value any) Delivery {
	return Delivery{Status: StatusLegacy, Response: value}
}

// IsPending reports whether the target still needs sending.
func (d Delivery) IsPending() bool {
	return d.Status == StatusPending
}

// OutgoingEntry holds the targets mentioned by one source document.
type OutgoingEntry struct {
	Timestamp time.Time
	order     []string
	targets   map[string]Delivery
}

// Targets lists target URLs in extraction order.
func (e *OutgoingEntry) Targets() []string {
	out := make([]string, len(e.order))
	copy(out, e.order)
	return out
}

// Get returns the delivery state for target.
func (e *OutgoingEntry) Get(target string) (Delivery, bool) {
	d, ok := e.targets[target]
	return d, ok
}

// OutgoingLedger maps source document URLs to their outgoing entries.
// It is not safe for concurrent use.
type OutgoingLedger struct {
	order   []string
	entries map[string]*OutgoingEntry
	dirty   bool
}

// NewOutgoingLedger returns an empty ledger.
func NewOutgoingLedger() *OutgoingLedger {
	return &OutgoingLedger{entries: make(map[string]*OutgoingEntry)}
}

// Sources lists source URLs in first-seen order.
func (l *OutgoingLedger) Sources() []string {
	out := make([]string, len(l.order))
	copy(out, l.order)
	return out
}

// Entry returns the entry for source.
func (l *OutgoingLedger) Entry(source string) (*OutgoingEntry, bool) {
	e, ok := l.entries[source]
	return e, ok
}

// Ensure returns the entry for source, creating an empty one if needed.
func (l *OutgoingLedger) Ensure(source string) *OutgoingEntry {
	if l.entries == nil {
		l.entries = make(map[string]*OutgoingEntry)
	}
	if e, ok := l.entries[source]; ok {
		return e
	}
	e := &OutgoingEntry{targets: make(map[string]Delivery)}
	l.entries[source] = e
	l.order = append(l.order, source)
	l.dirty = true
	return e
}

// Drop removes the entry for source entirely.
func (l *OutgoingLedger) Drop(source string) {
	if _, ok := l.entries[source]; !ok {
		return
	}
	delete(l.entries, source)
	for i, s := range l.order {
		if s == source {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
	l.dirty = true
}

// SetTimestamp stamps the source entry with the document modification time.
func (l *OutgoingLedger) SetTimestamp(source string, ts time.Time) {
	e := l.Ensure(source)
	if !e.Timestamp.Equal(ts) {
		e.Timestamp = ts
		l.dirty = true
	}
}

// AddTarget adds target as pending unless it is already present. It reports
// whether the target was added.
func (l *OutgoingLedger) AddTarget(source, target string) bool {
	e := l.Ensure(source)
	if _, exists := e.targets[target]; exists {
		return false
	}
	e.targets[target] = Pending()
	e.order = append(e.order, target)
	l.dirty = true
	return true
}

// Record stores the delivery state for an existing or new target.
func (l *OutgoingLedger) Record(source, target string, d Delivery) {
	e := l.Ensure(source)
	if _, exists := e.targets[target]; !exists {
		e.order = append(e.order, target)
	}
	e.targets[target] = d
	l.dirty = true
}

// Dirty reports whether the ledger changed since it was loaded.
func (l *OutgoingLedger) Dirty() bool {
	return l.dirty
}

// PendingCount returns the number of targets still waiting to be sent.
func (l *OutgoingLedger) PendingCount() int {
	n := 0
	for _, e := range l.entries {
		for _, d := range e.targets {
			if d.IsPending() {
				n++
			}
		}
	}
	return n
}

const responseKey = "response"

type sentYAML struct {
	Timestamp any `yaml:"timestamp"`
	Response  any `yaml:"response"`
}

// MarshalYAML writes each entry as a mapping of timestamp plus targets.
func (l *OutgoingLedger) MarshalYAML() (any, error) {
	root := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, source := range l.order {
		e := l.entries[source]
		entryNode := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		if !e.Timestamp.IsZero() {
			tsNode := &yaml.Node{}
			if err := tsNode.Encode(e.Timestamp); err != nil {
				return nil, fmt.Errorf("encode timestamp for %s: %w", source, err)
			}
			entryNode.Content = append(entryNode.Content, stringNode(timestampKey), tsNode)
		}
		for _, target := range e.order {
			valueNode, err := encodeDelivery(e.targets[target])
			if err != nil {
				return nil, fmt.Errorf("encode %s -> %s: %w", source, target, err)
			}
			entryNode.Content = append(entryNode.Content, stringNode(target), valueNode)
		}
		root.Content = append(root.Content, stringNode(source), entryNode)
	}
	return root, nil
}

// UnmarshalYAML reads a ledger written by MarshalYAML or by older tooling.
func (l *OutgoingLedger) UnmarshalYAML(node *yaml.Node) error {
	fresh := NewOutgoingLedger()
	if isNull(node) {
		*l = *fresh
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("outgoing ledger: expected mapping, got %s", node.ShortTag())
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		source := node.Content[i].Value
		value := node.Content[i+1]
		e := fresh.Ensure(source)
		if isNull(value) {
			continue
		}
		if value.Kind != yaml.MappingNode {
			return fmt.Errorf("outgoing ledger %s: expected mapping, got %s", source, value.ShortTag())
		}
		for j := 0; j+1 < len(value.Content); j += 2 {
			key := value.Content[j].Value
			child := value.Content[j+1]
			if key == timestampKey {
				ts, err := decodeTime(child)
				if err != nil {
					return fmt.Errorf("outgoing ledger %s timestamp: %w", source, err)
				}
				e.Timestamp = ts
				continue
			}
			d, err := decodeDelivery(child)
			if err != nil {
				return fmt.Errorf("outgoing ledger %s -> %s: %w", source, key, err)
			}
			if _, exists := e.targets[key]; !exists {
				e.order = append(e.order, key)
			}
			e.targets[key] = d
		}
	}
	fresh.dirty = false
	*l = *fresh
	return nil
}

func encodeDelivery(d Delivery) (*yaml.Node, error) {
	switch d.Status {
	case StatusPending:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: "false"}, nil
	case StatusSent:
		payload := sentYAML{Response: d.Response}
		if !d.At.IsZero() {
			payload.Timestamp = d.At
		}
		node := &yaml.Node{}
		if err := node.Encode(payload); err != nil {
			return nil, err
		}
		return node, nil
	default:
		node := &yaml.Node{}
		if err := node.Encode(d.Response); err != nil {
			return nil, err
		}
		return node, nil
	}
}

func decodeDelivery(node *yaml.Node) (Delivery, error) {
	if node.Kind == yaml.ScalarNode && node.ShortTag() == "!!bool" && node.Value == "false" {
		return Pending(), nil
	}
	if isSentShape(node) {
		var d Delivery
		d.Status = StatusSent
		for i := 0; i+1 < len(node.Content); i += 2 {
			switch node.Content[i].Value {
			case timestampKey:
				ts, err := decodeTime(node.Content[i+1])
				if err != nil {
					return Delivery{}, err
				}
				d.At = ts
			case responseKey:
				var resp any
				if err := node.Content[i+1].Decode(&resp); err != nil {
					return Delivery{}, fmt.Errorf("decode response: %w", err)
				}
				d.Response = resp
			}
		}
		return d, nil
	}
	var raw any
	if err := node.Decode(&raw); err != nil {
		return Delivery{}, fmt.Errorf("decode legacy value: %w", err)
	}
	return Legacy(raw), nil
}

func decodeTime(node *yaml.Node) (time.Time, error) {
	if isNull(node) {
		return time.Time{}, nil
	}
	var ts time.Time
	if err := node.Decode(&ts); err == nil {
		return ts, nil
	}
	return ParseTime(node.Value)
}

// isSentShape reports whether node is exactly {timestamp, response}. Any
// other mapping is a raw value from older tooling.
func isSentShape(node *yaml.Node) bool {
	if node.Kind != yaml.MappingNode || len(node.Content) != 4 {
		return false
	}
	var ts, resp bool
	for i := 0; i < len(node.Content); i += 2 {
		switch node.Content[i].Value {
		case timestampKey:
			ts = true
		case responseKey:
			resp = true
		}
	}
	return ts && resp
}
