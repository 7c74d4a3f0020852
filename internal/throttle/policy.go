// Package throttle decides whether a lookup or send should be skipped based on
// the age of the content and how recently it was last checked.
package throttle

import (
	"fmt"
	"time"
)

// Bucket names accepted in configuration.
const (
	BucketLastMonth    = "last_month"
	BucketLastHalfYear = "last_half_year"
	BucketLastYear     = "last_year"
	BucketOlder        = "older"
)

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// Tier applies Cooldown to content newer than Age.
type Tier struct {
	Name     string
	Age      Cooldown
	Cooldown Cooldown
}

// Decision is the outcome of a throttle check.
type Decision struct {
	Throttle bool
	Bucket   string
	Cooldown Cooldown
}

// Policy is an age-bucketed throttle. It holds no mutable state.
type Policy struct {
	tiers []Tier
	older Cooldown
	clock Clock
}

// DefaultTiers returns the built-in buckets: daily for content under a month
// old, weekly under six months, monthly under a year.
func DefaultTiers() []Tier {
	return []Tier{
		{Name: BucketLastMonth, Age: Cooldown{Months: 1}, Cooldown: MustParseCooldown("daily")},
		{Name: BucketLastHalfYear, Age: Cooldown{Months: 6}, Cooldown: MustParseCooldown("weekly")},
		{Name: BucketLastYear, Age: Cooldown{Years: 1}, Cooldown: MustParseCooldown("monthly")},
	}
}

// New builds a Policy. Tiers must be ordered from youngest to oldest.
func New(tiers []Tier, older Cooldown, clock Clock) *Policy {
	return &Policy{tiers: tiers, older: older, clock: clock}
}

// Default returns the built-in policy; content older than a year is never rechecked.
func Default(clock Clock) *Policy {
	return New(DefaultTiers(), Cooldown{Never: true}, clock)
}

// FromConfig overrides the default cooldowns with a bucket -> cooldown map.
func FromConfig(overrides map[string]string, clock Clock) (*Policy, error) {
	tiers := DefaultTiers()
	older := Cooldown{Never: true}
	for bucket, raw := range overrides {
		c, err := ParseCooldown(raw)
		if err != nil {
			return nil, fmt.Errorf("throttle bucket %s: %w", bucket, err)
		}
		if bucket == BucketOlder {
			older = c
			continue
		}
		found := false
		for i := range tiers {
			if tiers[i].Name == bucket {
				tiers[i].Cooldown = c
				found = true
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown throttle bucket %q", bucket)
		}
	}
	return New(tiers, older, clock), nil
}

// Decide evaluates contentDate against lastSeen. Missing dates never throttle.
func (p *Policy) Decide(contentDate, lastSeen time.Time) Decision {
	if p == nil || contentDate.IsZero() || lastSeen.IsZero() {
		return Decision{}
	}
	now := p.clock.Now()
	bucket, cooldown := BucketOlder, p.older
	for _, tier := range p.tiers {
		if contentDate.After(tier.Age.Before(now)) {
			bucket, cooldown = tier.Name, tier.Cooldown
			break
		}
	}
	if cooldown.Never {
		return Decision{Throttle: true, Bucket: bucket, Cooldown: cooldown}
	}
	return Decision{
		Throttle: !lastSeen.Before(cooldown.Before(now)),
		Bucket:   bucket,
		Cooldown: cooldown,
	}
}

// ShouldThrottle reports whether a check of content published at contentDate,
// last seen at lastSeen, should be skipped.
func (p *Policy) ShouldThrottle(contentDate, lastSeen time.Time) bool {
	return p.Decide(contentDate, lastSeen).Throttle
}
