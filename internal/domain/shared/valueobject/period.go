package valueobject

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidPeriod is returned for months outside 1..12 or inverted ranges
var ErrInvalidPeriod = errors.New("period: invalid year/month")

// YearMonth identifies a calendar month. It is the unit of billing.
type YearMonth struct {
	Year  int `json:"year"`
	Month int `json:"month"`
}

// NewYearMonth validates and builds a YearMonth
func NewYearMonth(year, month int) (YearMonth, error) {
	if month < 1 || month > 12 {
		return YearMonth{}, fmt.Errorf("%w: month %d", ErrInvalidPeriod, month)
	}
	if year < 1 {
		return YearMonth{}, fmt.Errorf("%w: year %d", ErrInvalidPeriod, year)
	}
	return YearMonth{Year: year, Month: month}, nil
}

// YearMonthOf truncates a timestamp to its calendar month in the timestamp's location
func YearMonthOf(t time.Time) YearMonth {
	return YearMonth{Year: t.Year(), Month: int(t.Month())}
}

// String renders the month as YYYY-MM
func (ym YearMonth) String() string {
	return fmt.Sprintf("%04d-%02d", ym.Year, ym.Month)
}

// index is the number of months since year zero, used for ordering and arithmetic
func (ym YearMonth) index() int {
	return ym.Year*12 + ym.Month - 1
}

// Compare returns -1, 0 or 1
func (ym YearMonth) Compare(other YearMonth) int {
	switch a, b := ym.index(), other.index(); {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Before reports whether ym is strictly earlier than other
func (ym YearMonth) Before(other YearMonth) bool {
	return ym.Compare(other) < 0
}

// After reports whether ym is strictly later than other
func (ym YearMonth) After(other YearMonth) bool {
	return ym.Compare(other) > 0
}

// Within reports whether from <= ym <= to
func (ym YearMonth) Within(from, to YearMonth) bool {
	return !ym.Before(from) && !ym.After(to)
}

// AddMonths shifts the month by n (n may be negative)
func (ym YearMonth) AddMonths(n int) YearMonth {
	i := ym.index() + n
	return YearMonth{Year: i / 12, Month: i%12 + 1}
}

// FirstDay returns midnight of the first day of the month in loc
func (ym YearMonth) FirstDay(loc *time.Location) time.Time {
	return time.Date(ym.Year, time.Month(ym.Month), 1, 0, 0, 0, 0, loc)
}

// PeriodsFromMonths expands a year and a list of months into a normalized period list
func PeriodsFromMonths(year int, months []int) ([]YearMonth, error) {
	periods := make([]YearMonth, 0, len(months))
	for _, m := range months {
		ym, err := NewYearMonth(year, m)
		if err != nil {
			return nil, err
		}
		periods = append(periods, ym)
	}
	return NormalizePeriods(periods), nil
}

// PeriodsFromRange expands an inclusive date range into the months it touches
func PeriodsFromRange(from, to time.Time) ([]YearMonth, error) {
	start, end := YearMonthOf(from), YearMonthOf(to)
	if end.Before(start) {
		return nil, fmt.Errorf("%w: range %s..%s is inverted", ErrInvalidPeriod, start, end)
	}
	periods := make([]YearMonth, 0, end.index()-start.index()+1)
	for ym := start; !ym.After(end); ym = ym.AddMonths(1) {
		periods = append(periods, ym)
	}
	return periods, nil
}

// NormalizePeriods sorts ascending and drops duplicates
func NormalizePeriods(periods []YearMonth) []YearMonth {
	if len(periods) == 0 {
		return []YearMonth{}
	}
	sorted := make([]YearMonth, len(periods))
	copy(sorted, periods)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	out := sorted[:1]
	for _, ym := range sorted[1:] {
		if ym != out[len(out)-1] {
			out = append(out, ym)
		}
	}
	return out
}

// ParseMonthList parses "1,2,3" style month lists. An empty string means the whole year.
func ParseMonthList(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}, nil
	}
	parts := strings.Split(s, ",")
	months := make([]int, 0, len(parts))
	for _, p := range parts {
		m, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || m < 1 || m > 12 {
			return nil, fmt.Errorf("%w: month %q", ErrInvalidPeriod, p)
		}
		months = append(months, m)
	}
	return months, nil
}
