package mention

import (
	"fmt"
	"strings"
)

var pluralTypes = map[string]Type{
	"bookmarks": TypeBookmark,
	"likes":     TypeLike,
	"links":     TypeLink,
	"posts":     TypeMention,
	"replies":   TypeReply,
	"reposts":   TypeRepost,
	"rsvps":     TypeRSVP,
}

// ParseFilter turns count filter names such as "likes" or "reply" into types.
// An empty input selects every type.
func ParseFilter(names []string) ([]Type, error) {
	var out []Type
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		if t, ok := pluralTypes[name]; ok {
			out = append(out, t)
			continue
		}
		t := Type(name)
		if !t.known() {
			return nil, fmt.Errorf("unknown mention type %q", name)
		}
		out = append(out, t)
	}
	return out, nil
}

func (t Type) known() bool {
	for _, k := range Types {
		if k == t {
			return true
		}
	}
	return false
}

// Count returns how many records of doc match types; no types counts all.
func (l *IncomingLedger) Count(doc string, types []Type) int {
	if len(types) == 0 {
		return l.Len(doc)
	}
	counts := l.CountByType(doc)
	n := 0
	for _, t := range types {
		n += counts[t]
	}
	return n
}
