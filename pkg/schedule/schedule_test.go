package schedule

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var monday = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestEvery(t *testing.T) {
	s := Every(time.Hour)
	start := monday.Add(12 * time.Hour)

	next1 := s.Next(start)
	next2 := s.Next(next1)

	assert.Equal(t, start.Add(time.Hour), next1)
	assert.Equal(t, start.Add(2*time.Hour), next2)
}

func TestEvery_NonPositiveInterval(t *testing.T) {
	assert.Equal(t, monday.Add(time.Second), Every(0).Next(monday))
	assert.Equal(t, monday.Add(time.Second), Every(-time.Minute).Next(monday))
}

func TestDaily(t *testing.T) {
	tests := []struct {
		name string
		from time.Time
		want time.Time
	}{
		{"later today", monday.Add(8 * time.Hour), time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC)},
		{"tomorrow", monday.Add(10 * time.Hour), time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)},
		{"exactly at run time", time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC), time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Daily(9, 30).Next(tt.from))
		})
	}
}

func TestDailyIn(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	next := DailyIn(9, 0, loc).Next(monday)

	assert.Equal(t, 9, next.Hour())
	assert.True(t, next.Equal(time.Date(2024, 1, 1, 7, 0, 0, 0, time.UTC)))
}

func TestWeekly(t *testing.T) {
	assert.Equal(t, time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), Weekly(time.Monday, 10, 0).Next(monday))
	assert.Equal(t, time.Date(2024, 1, 8, 10, 0, 0, 0, time.UTC), Weekly(time.Monday, 10, 0).Next(monday.Add(11*time.Hour)))
	assert.Equal(t, time.Date(2024, 1, 5, 17, 0, 0, 0, time.UTC), Weekly(time.Friday, 17, 0).Next(monday))
}

func TestParseCron(t *testing.T) {
	s, err := ParseCron("30 14 * * 1-5")
	require.NoError(t, err)

	next := s.Next(monday)
	assert.Equal(t, time.Date(2024, 1, 1, 14, 30, 0, 0, time.UTC), next)

	hourly, err := ParseCron("@hourly")
	require.NoError(t, err)
	assert.Equal(t, monday.Add(time.Hour), hourly.Next(monday))
}

func TestParseCron_Invalid(t *testing.T) {
	_, err := ParseCron("invalid cron")
	assert.Error(t, err)

	assert.Panics(t, func() { Cron("61 * * * *") })
}

func TestString(t *testing.T) {
	assert.Equal(t, "every 5m0s", fmt.Sprint(Every(5*time.Minute)))
	assert.Equal(t, "daily at 09:05 UTC", fmt.Sprint(Daily(9, 5)))
	assert.Equal(t, "weekly on Friday at 17:00 UTC", fmt.Sprint(Weekly(time.Friday, 17, 0)))
	assert.Equal(t, "cron @daily", fmt.Sprint(Cron("@daily")))
}
