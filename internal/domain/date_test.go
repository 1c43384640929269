package domain_test

import (
	"testing"
	"time"

	"github.com/atmogrid/raster-ingest/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDateRange_Validates(t *testing.T) {
	_, err := domain.NewDateRange(domain.Day(2024, 1, 5), domain.Day(2024, 1, 1))
	require.Error(t, err)

	r, err := domain.NewDateRange(domain.Day(2024, 1, 1), domain.Day(2024, 1, 1))
	require.NoError(t, err)
	assert.Len(t, r.Days(), 1)
}

func TestDateRange_Days(t *testing.T) {
	r, err := domain.NewDateRange(domain.Day(2023, 12, 30), domain.Day(2024, 1, 2))
	require.NoError(t, err)

	days := r.Days()
	require.Len(t, days, 4)
	assert.Equal(t, "2023-12-30", domain.DayKey(days[0]))
	assert.Equal(t, "2024-01-02", domain.DayKey(days[3]))
	assert.True(t, r.Contains(domain.Day(2024, 1, 1)))
	assert.False(t, r.Contains(domain.Day(2024, 1, 3)))
}

func TestMidnight_NormalizesZoneAndTime(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*3600)
	d := domain.Midnight(time.Date(2024, 4, 26, 23, 30, 0, 0, loc))
	assert.Equal(t, "2024-04-27", domain.DayKey(d))
}

func TestDateSet_Union(t *testing.T) {
	a := domain.NewDateSet(domain.Day(2024, 1, 1), domain.Day(2024, 1, 2))
	b := domain.NewDateSet(domain.Day(2024, 1, 2), domain.Day(2024, 1, 3))

	u := a.Union(b)
	require.Len(t, u, 3)
	assert.True(t, u.Has(domain.Day(2024, 1, 1)))
	assert.True(t, u.Has(domain.Day(2024, 1, 3)))

	days := u.Days()
	assert.True(t, days[0].Before(days[1]) && days[1].Before(days[2]))
}
