package interval

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-filecache/types"
)

func TestFixedPolicy(t *testing.T) {
	policy, err := NewFixed(30 * time.Minute)
	require.NoError(t, err)

	createdAt := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, createdAt.Add(30*time.Minute), policy.Deadline(createdAt))
}

func TestFixedPolicyRejectsNonPositive(t *testing.T) {
	tests := []struct {
		name     string
		interval time.Duration
	}{
		{"zero", 0},
		{"negative", -time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFixed(tt.interval)
			assert.ErrorIs(t, err, types.ErrIntervalInvalid)
		})
	}
}

func TestNeverPolicy(t *testing.T) {
	policy := Never()

	assert.True(t, policy.Deadline(time.Now()).IsZero())
}

func TestPolicyIsDeterministic(t *testing.T) {
	createdAt := time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)

	policies := []types.IntervalPolicy{
		Every5Minutes(),
		Every24Hours(),
		NextDayAt8AM(),
		FirstDayOfMonth(),
	}

	for _, policy := range policies {
		assert.Equal(t, policy.Deadline(createdAt), policy.Deadline(createdAt))
	}
}

func TestCronPolicyDeadlines(t *testing.T) {
	// Saturday June 1st 2024, 09:30 UTC.
	createdAt := time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)

	tests := []struct {
		name     string
		policy   types.IntervalPolicy
		deadline time.Time
	}{
		{
			"next day at 8am",
			NextDayAt8AM(),
			time.Date(2024, 6, 2, 8, 0, 0, 0, time.UTC),
		},
		{
			"next monday",
			NextMonday(),
			time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC),
		},
		{
			"first day of month",
			FirstDayOfMonth(),
			time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			"first day of year",
			FirstDayOfYear(),
			time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.deadline, tt.policy.Deadline(createdAt).UTC())
		})
	}
}

func TestCronPolicyTimezone(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	policy, err := NewCron("0 8 * * *", berlin)
	require.NoError(t, err)

	// 07:00 UTC is 09:00 in Berlin during DST, so the 8am slot has already
	// passed and the deadline rolls to the next day.
	createdAt := time.Date(2024, 6, 1, 7, 0, 0, 0, time.UTC)
	deadline := policy.Deadline(createdAt)

	assert.Equal(t, time.Date(2024, 6, 2, 8, 0, 0, 0, berlin), deadline)
}

func TestCronPolicyRejectsInvalidSpec(t *testing.T) {
	_, err := NewCron("not a cron spec", time.UTC)

	assert.ErrorIs(t, err, types.ErrIntervalSpecInvalid)
}

func TestFixedPresets(t *testing.T) {
	createdAt := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		policy   types.IntervalPolicy
		interval time.Duration
	}{
		{"5m", Every5Minutes(), 5 * time.Minute},
		{"10m", Every10Minutes(), 10 * time.Minute},
		{"30m", Every30Minutes(), 30 * time.Minute},
		{"1h", Every1Hour(), time.Hour},
		{"6h", Every6Hours(), 6 * time.Hour},
		{"12h", Every12Hours(), 12 * time.Hour},
		{"24h", Every24Hours(), 24 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, createdAt.Add(tt.interval), tt.policy.Deadline(createdAt))
		})
	}
}

func TestParse(t *testing.T) {
	createdAt := time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)

	tests := []struct {
		name     string
		expr     string
		deadline time.Time
		wantErr  error
	}{
		{"duration", "45m", createdAt.Add(45 * time.Minute), nil},
		{"cron", "0 8 * * *", time.Date(2024, 6, 2, 8, 0, 0, 0, time.UTC), nil},
		{"descriptor", "@daily", time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC), nil},
		{"empty", "", time.Time{}, types.ErrIntervalSpecInvalid},
		{"garbage", "soon", time.Time{}, types.ErrIntervalSpecInvalid},
		{"negative duration", "-5m", time.Time{}, types.ErrIntervalInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy, err := Parse(tt.expr, time.UTC)

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.deadline, policy.Deadline(createdAt).UTC())
		})
	}
}
