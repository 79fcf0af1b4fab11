package ledger

import (
	"time"

	"github.com/academy/backend/internal/domain/enrollment"
	"github.com/academy/backend/internal/domain/shared/valueobject"
	"github.com/shopspring/decimal"
)

// The two debt algorithms below answer different questions and intentionally
// disagree. LedgerReportDebt is the accounting view over explicit months;
// SnapshotDebt is the cheap running balance the turnstile uses.

// PeriodDebt is one month of a ledger report
type PeriodDebt struct {
	Period   valueobject.YearMonth `json:"period"`
	Expected decimal.Decimal       `json:"expected"`
	Paid     decimal.Decimal       `json:"paid"`
}

// DebtReport is the result of LedgerReportDebt
type DebtReport struct {
	Periods       []PeriodDebt    `json:"periods"`
	TotalExpected decimal.Decimal `json:"total_expected"`
	TotalPaid     decimal.Decimal `json:"total_paid"`
	Debt          decimal.Decimal `json:"debt"`
}

// HasDebt reports whether the report shows money owed
func (r DebtReport) HasDebt() bool {
	return r.Debt.IsPositive()
}

// LedgerReportDebt computes expected vs paid over the given months.
//
// Expected: for each month, the monthly fee of every contract whose
// [start month, effective end month] contains it, where the effective end is the
// earlier of the end date and the termination date. Status is not consulted, so a
// deleted contract still bills the months it ran.
// Paid: the share of every SUCCESS transaction whose payment year/months cover it.
// A payment naming several months is split evenly across them, so a report over
// those months counts it once.
// Debt is expected minus paid over all months, floored at zero with sub-epsilon
// remainders absorbed.
func LedgerReportDebt(contracts []enrollment.Contract, payments []Transaction, periods []valueobject.YearMonth) DebtReport {
	periods = valueobject.NormalizePeriods(periods)
	report := DebtReport{
		Periods:       make([]PeriodDebt, 0, len(periods)),
		TotalExpected: decimal.Zero,
		TotalPaid:     decimal.Zero,
	}

	for _, ym := range periods {
		row := PeriodDebt{Period: ym, Expected: decimal.Zero, Paid: decimal.Zero}

		for i := range contracts {
			c := &contracts[i]
			if ym.Within(c.StartMonth(), c.EffectiveEndMonth()) {
				row.Expected = row.Expected.Add(c.MonthlyFee)
			}
		}

		for i := range payments {
			p := &payments[i]
			if p.IsSuccess() {
				row.Paid = row.Paid.Add(p.ShareFor(ym))
			}
		}

		report.TotalExpected = report.TotalExpected.Add(row.Expected)
		report.TotalPaid = report.TotalPaid.Add(row.Paid)
		report.Periods = append(report.Periods, row)
	}

	report.Debt = valueobject.ClampDebt(report.TotalExpected.Sub(report.TotalPaid))
	return report
}

// SnapshotDebt computes the running balance of one ACTIVE contract as of a date.
//
// Months are counted by stepping one month at a time from the start date while
// the step is on or before asOf and on or before the end date. Callers pick the
// contract in force on asOf; see enrollment.Contract.InForceOn. Expected is that
// count times the monthly fee; paid is every SUCCESS transaction ever booked on
// the contract regardless of which months it names. A nil contract owes nothing.
func SnapshotDebt(contract *enrollment.Contract, payments []Transaction, asOf time.Time) decimal.Decimal {
	if contract == nil {
		return decimal.Zero
	}

	months := ElapsedBillingMonths(contract.StartDate, contract.EndDate, asOf)
	expected := contract.MonthlyFee.Mul(decimal.NewFromInt(int64(months)))

	paid := decimal.Zero
	for i := range payments {
		p := &payments[i]
		if p.IsSuccess() && p.ContractID != nil && *p.ContractID == contract.ID {
			paid = paid.Add(p.Amount)
		}
	}

	return valueobject.ClampDebt(expected.Sub(paid))
}

// ElapsedBillingMonths counts billing steps from start that fall on or before
// both asOf and end, start itself included. Each step adds one month to the
// previous one, clamping to the month's last day, so a day lost to a short month
// stays lost: Jan 31, Feb 28, Mar 28.
func ElapsedBillingMonths(start, end, asOf time.Time) int {
	asOfDay := dateOnly(asOf)
	endDay := dateOnly(end)

	n := 0
	for step := dateOnly(start); !step.After(asOfDay) && !step.After(endDay); step = addMonthClamped(step) {
		n++
	}
	return n
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func addMonthClamped(t time.Time) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+1, 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, 0, 0, 0, 0, time.UTC)
}
