package mention

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// IncomingLedger maps a document URL to the mentions discovered for it, kept in
// discovery order. It is not safe for concurrent use.
type IncomingLedger struct {
	order []string
	docs  map[string]*docMentions
	dirty bool
}

type docMentions struct {
	ids     []string
	records map[string]Record
}

// NewIncomingLedger returns an empty ledger.
func NewIncomingLedger() *IncomingLedger {
	return &IncomingLedger{docs: make(map[string]*docMentions)}
}

// Documents lists document URLs in first-seen order.
func (l *IncomingLedger) Documents() []string {
	out := make([]string, len(l.order))
	copy(out, l.order)
	return out
}

// Last returns the most recently inserted record for doc.
func (l *IncomingLedger) Last(doc string) (Record, bool) {
	dm, ok := l.docs[doc]
	if !ok || len(dm.ids) == 0 {
		return Record{}, false
	}
	return dm.records[dm.ids[len(dm.ids)-1]], true
}

// Has reports whether id is already recorded for doc.
func (l *IncomingLedger) Has(doc, id string) bool {
	dm, ok := l.docs[doc]
	if !ok {
		return false
	}
	_, exists := dm.records[id]
	return exists
}

// Add inserts rec under doc. An existing id is never overwritten; Add reports
// whether the record was new.
func (l *IncomingLedger) Add(doc string, rec Record) bool {
	if l.docs == nil {
		l.docs = make(map[string]*docMentions)
	}
	dm, ok := l.docs[doc]
	if !ok {
		dm = &docMentions{records: make(map[string]Record)}
		l.docs[doc] = dm
		l.order = append(l.order, doc)
	}
	if _, exists := dm.records[rec.ID]; exists {
		return false
	}
	dm.ids = append(dm.ids, rec.ID)
	dm.records[rec.ID] = rec
	l.dirty = true
	return true
}

// Records returns the records for doc in insertion order.
func (l *IncomingLedger) Records(doc string) []Record {
	dm, ok := l.docs[doc]
	if !ok {
		return nil
	}
	out := make([]Record, 0, len(dm.ids))
	for _, id := range dm.ids {
		out = append(out, dm.records[id])
	}
	return out
}

// Len returns the number of records stored for doc.
func (l *IncomingLedger) Len(doc string) int {
	if dm, ok := l.docs[doc]; ok {
		return len(dm.ids)
	}
	return 0
}

// Dirty reports whether the ledger changed since it was loaded.
func (l *IncomingLedger) Dirty() bool {
	return l.dirty
}

// CountByType tallies the records for doc by mention type.
func (l *IncomingLedger) CountByType(doc string) map[Type]int {
	counts := make(map[Type]int)
	for _, rec := range l.Records(doc) {
		counts[rec.Type]++
	}
	return counts
}

// MarshalYAML writes the ledger as nested mappings, preserving order.
func (l *IncomingLedger) MarshalYAML() (any, error) {
	root := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, doc := range l.order {
		dm := l.docs[doc]
		docNode := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		for _, id := range dm.ids {
			recNode := &yaml.Node{}
			if err := recNode.Encode(dm.records[id]); err != nil {
				return nil, fmt.Errorf("encode mention %s: %w", id, err)
			}
			docNode.Content = append(docNode.Content, stringNode(id), recNode)
		}
		root.Content = append(root.Content, stringNode(doc), docNode)
	}
	return root, nil
}

// UnmarshalYAML reads a ledger written by MarshalYAML.
func (l *IncomingLedger) UnmarshalYAML(node *yaml.Node) error {
	fresh := NewIncomingLedger()
	if isNull(node) {
		*l = *fresh
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("incoming ledger: expected mapping, got %s", node.ShortTag())
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		doc := node.Content[i].Value
		value := node.Content[i+1]
		if _, ok := fresh.docs[doc]; !ok {
			fresh.docs[doc] = &docMentions{records: make(map[string]Record)}
			fresh.order = append(fresh.order, doc)
		}
		if isNull(value) {
			continue
		}
		if value.Kind != yaml.MappingNode {
			return fmt.Errorf("incoming ledger %s: expected mapping, got %s", doc, value.ShortTag())
		}
		dm := fresh.docs[doc]
		for j := 0; j+1 < len(value.Content); j += 2 {
			key := value.Content[j].Value
			var rec Record
			if err := value.Content[j+1].Decode(&rec); err != nil {
				return fmt.Errorf("decode mention %s/%s: %w", doc, key, err)
			}
			if rec.ID == "" {
				rec.ID = key
			}
			if _, exists := dm.records[key]; exists {
				continue
			}
			dm.ids = append(dm.ids, key)
			dm.records[key] = rec
		}
	}
	*l = *fresh
	return nil
}

func stringNode(value string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value}
}

func isNull(node *yaml.Node) bool {
	return node == nil || (node.Kind == yaml.ScalarNode && node.ShortTag() == "!!null")
}
