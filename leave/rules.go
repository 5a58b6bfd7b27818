/*
rules.go - Leave deduction rules

PURPOSE:
  Maps (monthly bank salary, leave type, date range) to the number of days,
  the daily salary and the amount withheld from the month's bank salary.

RULES:
  Daily salary is the monthly bank salary divided by a fixed 30, regardless
  of the calendar length of the month.

  | Type          | Withheld per day        |
  |---------------|-------------------------|
  | unpaid        | 100% of daily salary    |
  | annual        | nothing                 |
  | sick          | 20% (employer pays 80%) |
  | work_accident | nothing                 |

  Sick leave withholds a flat 20% on every sick day. There is no cumulative
  sick-day counter across records or months.

PRECISION:
  The deduction is computed from the monthly salary (S x days x rate / 30)
  and rounded once to cents, so 1000/30 x 3 gives exactly 100.00 instead of
  99.99. The stored daily salary is the cent-rounded snapshot for display.

CLOSED SET:
  withholding() switches over every Type with no default branch. A value
  outside the set falls through to a ConfigurationError; it is never treated
  as a zero deduction.

EXAMPLE:
  period, _ := generic.NewPeriod(start, end)
  d, err := leave.Compute(decimal.NewFromInt(3000), leave.Unpaid, period)
  // d.Days == 3, d.DailySalary == 100, d.Amount == 300
*/
package leave

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/generic"
)

// DailyDivisor is the fixed number of days a monthly salary is spread over.
const DailyDivisor = 30

var (
	divisor         = decimal.NewFromInt(DailyDivisor)
	fullWithholding = decimal.NewFromInt(1)
	sickWithholding = decimal.RequireFromString("0.2")
)

// Deduction is the rule engine's result for one leave entry.
type Deduction struct {
	Type        Type
	Days        int
	DailySalary decimal.Decimal
	Rate        decimal.Decimal // share of the daily salary withheld per day
	Amount      decimal.Decimal
	Explanation string
}

// Compute applies the leave rules. The period is checked before the leave
// type so a bad range is always reported as a validation error.
func Compute(monthlySalary decimal.Decimal, t Type, p generic.Period) (Deduction, error) {
	if monthlySalary.IsNegative() {
		return Deduction{}, generic.Validationf("bank_salary", "monthly salary must not be negative, got %s", monthlySalary)
	}

	days := p.Days()
	if days <= 0 || p.Start.IsZero() || p.End.IsZero() {
		return Deduction{}, &generic.ValidationError{
			Field:   "end_date",
			Message: fmt.Sprintf("leave range %s has no days", p),
			Err:     generic.ErrInvalidPeriod,
		}
	}

	rate, why, err := withholding(t)
	if err != nil {
		return Deduction{}, err
	}

	daily := monthlySalary.Div(divisor)
	amount := monthlySalary.Mul(decimal.NewFromInt(int64(days))).Mul(rate).Div(divisor)

	return Deduction{
		Type:        t,
		Days:        days,
		DailySalary: generic.RoundMoney(daily),
		Rate:        rate,
		Amount:      generic.RoundMoney(amount),
		Explanation: fmt.Sprintf("%s: %d day(s) x %s daily, %s", t.Label(), days, generic.RoundMoney(daily).StringFixed(2), why),
	}, nil
}

func withholding(t Type) (decimal.Decimal, string, error) {
	switch t {
	case Unpaid:
		return fullWithholding, "full daily salary withheld", nil
	case Annual:
		return decimal.Zero, "fully compensated", nil
	case Sick:
		return sickWithholding, "employer covers 80%, 20% withheld", nil
	case WorkAccident:
		return decimal.Zero, "fully compensated by policy", nil
	}
	return decimal.Zero, "", &generic.ConfigurationError{What: "leave type", Value: string(t)}
}
