package icron

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetTriggerInfo(t *testing.T) {
	ref := time.Date(2026, 1, 1, 12, 0, 30, 0, time.UTC)

	info, err := GetTriggerInfo("*/5 * * * *", ref)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 1, 12, 5, 0, 0, time.UTC), info.Next)
	assert.Equal(t, 4*time.Minute+30*time.Second, info.TimeUntilNext)
}

func TestGetTriggerInfoDescriptor(t *testing.T) {
	ref := time.Now()

	info, err := GetTriggerInfo("@every 5m", ref)
	require.NoError(t, err)
	assert.True(t, info.Next.After(ref))
}

func TestGetTriggerInfoInvalidExpression(t *testing.T) {
	_, err := GetTriggerInfo("not a cron expr", time.Now())
	assert.Error(t, err)
}
