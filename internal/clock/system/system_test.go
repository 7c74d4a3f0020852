package system_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/webmentions/internal/clock/system"
	"github.com/JakeFAU/webmentions/internal/mention"
	"github.com/JakeFAU/webmentions/internal/throttle"
)

var _ throttle.Clock = system.New()

func TestNowIsCurrentUTC(t *testing.T) {
	t.Parallel()

	before := time.Now().Add(-time.Second)
	got := system.New().Now()
	after := time.Now().Add(time.Second)

	assert.Equal(t, time.UTC, got.Location())
	assert.True(t, got.After(before) && got.Before(after), "got %v", got)
}

// Delivery stamps taken from the clock must survive the cache's time format.
func TestNowRoundTripsThroughCacheTimestamps(t *testing.T) {
	t.Parallel()

	now := system.New().Now()
	parsed, err := mention.ParseTime(now.Format(time.RFC3339Nano))
	require.NoError(t, err)
	assert.True(t, parsed.Equal(now))
}

func TestDefaultPolicyOnWallClock(t *testing.T) {
	t.Parallel()

	policy := throttle.Default(system.New())
	now := time.Now()
	assert.True(t, policy.ShouldThrottle(now.AddDate(0, 0, -3), now.Add(-time.Hour)),
		"a post from this week checked an hour ago waits for the daily cooldown")
	assert.False(t, policy.ShouldThrottle(now.AddDate(0, 0, -3), now.AddDate(0, 0, -2)))
}
