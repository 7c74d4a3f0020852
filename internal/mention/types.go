// Package mention defines the records and ledgers shared by the incoming
// aggregator, the outgoing extractor, and the delivery sender.
package mention

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrMissingID is returned when a discovery payload carries no id.
var ErrMissingID = errors.New("mention payload has no id")

// Type classifies an incoming mention.
type Type string

// Known mention types. Anything unrecognized resolves to TypeMention.
const (
	TypeLike     Type = "like"
	TypeReply    Type = "reply"
	TypeRepost   Type = "repost"
	TypeBookmark Type = "bookmark"
	TypeRSVP     Type = "rsvp"
	TypeMention  Type = "mention"
	TypeLink     Type = "link"
)

// Types lists every known type in display order.
var Types = []Type{TypeLike, TypeReply, TypeRepost, TypeBookmark, TypeRSVP, TypeMention, TypeLink}

var propertyTypes = map[string]Type{
	"like-of":     TypeLike,
	"in-reply-to": TypeReply,
	"repost-of":   TypeRepost,
	"bookmark-of": TypeBookmark,
	"rsvp":        TypeRSVP,
	"mention-of":  TypeMention,
}

// ParseType maps a raw type indicator onto the closed set.
func ParseType(raw string) Type {
	value := Type(strings.ToLower(strings.TrimSpace(raw)))
	for _, t := range Types {
		if t == value {
			return t
		}
	}
	if t, ok := propertyTypes[string(value)]; ok {
		return t
	}
	return TypeMention
}

// InferType resolves the mention type from the known discriminator fields of a
// discovery payload: wm-property, then activity.type, then data.rsvp.
func InferType(raw map[string]any) Type {
	if prop, ok := raw["wm-property"].(string); ok && prop != "" {
		if t, known := propertyTypes[prop]; known {
			return t
		}
	}
	if activity, ok := raw["activity"].(map[string]any); ok {
		if kind, ok := activity["type"].(string); ok && kind != "" {
			return ParseType(kind)
		}
	}
	if data, ok := raw["data"].(map[string]any); ok {
		if rsvp, ok := data["rsvp"].(string); ok && rsvp != "" {
			return TypeRSVP
		}
	}
	return TypeMention
}

// Record is one discovered incoming mention.
type Record struct {
	ID           string         `yaml:"id" json:"id"`
	Source       string         `yaml:"source" json:"source"`
	Target       string         `yaml:"target" json:"target"`
	Type         Type           `yaml:"type" json:"type"`
	VerifiedDate time.Time      `yaml:"verified_date,omitempty" json:"verified_date,omitempty"`
	Raw          map[string]any `yaml:"raw,omitempty" json:"raw,omitempty"`
}

// NewRecord builds a Record from a raw discovery payload.
func NewRecord(raw map[string]any) (Record, error) {
	id := stringify(raw["id"])
	if id == "" {
		return Record{}, ErrMissingID
	}
	rec := Record{
		ID:     id,
		Source: stringify(raw["source"]),
		Target: stringify(raw["target"]),
		Type:   InferType(raw),
		Raw:    raw,
	}
	if verified := stringify(raw["verified_date"]); verified != "" {
		ts, err := ParseTime(verified)
		if err != nil {
			return Record{}, fmt.Errorf("mention %s verified_date: %w", id, err)
		}
		rec.VerifiedDate = ts
	}
	return rec, nil
}

// SinceID returns the cursor value for the record, preferring the raw payload id.
func (r Record) SinceID() string {
	if id := stringify(r.Raw["id"]); id != "" {
		return id
	}
	return r.ID
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999 -07:00",
	"2006-01-02 15:04:05 -07:00",
	"2006-01-02 15:04:05 -0700",
	"2006-01-02 15:04 -0700",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999999999 Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseTime accepts the timestamp shapes found in discovery payloads and in
// caches written by older tooling.
func ParseTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", value)
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		if val == math.Trunc(val) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprint(val)
	}
}
