package throttle

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Cooldown is a calendar window such as "weekly" or "every 2 weeks".
type Cooldown struct {
	Years  int
	Months int
	Days   int
	Never  bool
}

var cooldownPattern = regexp.MustCompile(`^(?:every\s+)?(?:(\d+)\s+)?(day|week|month|year)s?$`)

var namedCooldowns = map[string]Cooldown{
	"daily":   {Days: 1},
	"weekly":  {Days: 7},
	"monthly": {Months: 1},
	"yearly":  {Years: 1},
	"never":   {Never: true},
}

// ParseCooldown understands daily, weekly, monthly, yearly, never,
// "every N days|weeks|months|years", "N days", and Go durations.
func ParseCooldown(raw string) (Cooldown, error) {
	text := strings.ToLower(strings.TrimSpace(raw))
	if text == "" {
		return Cooldown{}, fmt.Errorf("empty cooldown")
	}
	if c, ok := namedCooldowns[text]; ok {
		return c, nil
	}
	if m := cooldownPattern.FindStringSubmatch(text); m != nil {
		n := 1
		if m[1] != "" {
			parsed, err := strconv.Atoi(m[1])
			if err != nil {
				return Cooldown{}, fmt.Errorf("parse cooldown %q: %w", raw, err)
			}
			n = parsed
		}
		switch m[2] {
		case "day":
			return Cooldown{Days: n}, nil
		case "week":
			return Cooldown{Days: 7 * n}, nil
		case "month":
			return Cooldown{Months: n}, nil
		default:
			return Cooldown{Years: n}, nil
		}
	}
	if d, err := time.ParseDuration(text); err == nil {
		days := int(d / (24 * time.Hour))
		if days < 1 {
			days = 1
		}
		return Cooldown{Days: days}, nil
	}
	return Cooldown{}, fmt.Errorf("unrecognized cooldown %q", raw)
}

// MustParseCooldown panics on invalid input. It is meant for package defaults.
func MustParseCooldown(raw string) Cooldown {
	c, err := ParseCooldown(raw)
	if err != nil {
		panic(err)
	}
	return c
}

// Before returns the instant one cooldown window before now.
func (c Cooldown) Before(now time.Time) time.Time {
	return now.AddDate(-c.Years, -c.Months, -c.Days)
}

func (c Cooldown) String() string {
	switch {
	case c.Never:
		return "never"
	case c.Years > 0:
		return fmt.Sprintf("%d year(s)", c.Years)
	case c.Months > 0:
		return fmt.Sprintf("%d month(s)", c.Months)
	default:
		return fmt.Sprintf("%d day(s)", c.Days)
	}
}
