package valueobject

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewYearMonth(t *testing.T) {
	tests := []struct {
		name    string
		year    int
		month   int
		wantErr bool
	}{
		{name: "january", year: 2024, month: 1},
		{name: "december", year: 2024, month: 12},
		{name: "month zero", year: 2024, month: 0, wantErr: true},
		{name: "month thirteen", year: 2024, month: 13, wantErr: true},
		{name: "year zero", year: 0, month: 5, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ym, err := NewYearMonth(tt.year, tt.month)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPeriod)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.month, ym.Month)
		})
	}
}

func TestYearMonth_AddMonths(t *testing.T) {
	ym := YearMonth{Year: 2024, Month: 11}
	assert.Equal(t, YearMonth{Year: 2025, Month: 1}, ym.AddMonths(2))
	assert.Equal(t, YearMonth{Year: 2023, Month: 12}, ym.AddMonths(-11))
	assert.Equal(t, "2024-11", ym.String())
}

func TestYearMonth_Within(t *testing.T) {
	from := YearMonth{Year: 2024, Month: 9}
	to := YearMonth{Year: 2025, Month: 5}

	assert.True(t, YearMonth{Year: 2024, Month: 9}.Within(from, to))
	assert.True(t, YearMonth{Year: 2025, Month: 5}.Within(from, to))
	assert.False(t, YearMonth{Year: 2024, Month: 8}.Within(from, to))
	assert.False(t, YearMonth{Year: 2025, Month: 6}.Within(from, to))
}

func TestPeriodNormalization(t *testing.T) {
	t.Run("month list and date range reduce to the same periods", func(t *testing.T) {
		fromList, err := PeriodsFromMonths(2024, []int{3, 1, 2, 2})
		require.NoError(t, err)

		fromRange, err := PeriodsFromRange(
			time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
			time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC),
		)
		require.NoError(t, err)

		assert.Equal(t, fromList, fromRange)
		assert.Len(t, fromList, 3)
	})

	t.Run("range across year boundary", func(t *testing.T) {
		periods, err := PeriodsFromRange(
			time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC),
		)
		require.NoError(t, err)
		assert.Equal(t, []YearMonth{{2024, 11}, {2024, 12}, {2025, 1}, {2025, 2}}, periods)
	})

	t.Run("inverted range is rejected", func(t *testing.T) {
		_, err := PeriodsFromRange(
			time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		)
		assert.ErrorIs(t, err, ErrInvalidPeriod)
	})

	t.Run("invalid month in list", func(t *testing.T) {
		_, err := PeriodsFromMonths(2024, []int{1, 13})
		assert.ErrorIs(t, err, ErrInvalidPeriod)
	})
}

func TestParseMonthList(t *testing.T) {
	months, err := ParseMonthList("1, 2,3")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, months)

	all, err := ParseMonthList("")
	require.NoError(t, err)
	assert.Len(t, all, 12)

	_, err = ParseMonthList("1,x")
	assert.Error(t, err)
}
