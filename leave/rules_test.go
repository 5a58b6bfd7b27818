package leave_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/leave"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func date(year int, month time.Month, day int) generic.Date {
	return generic.NewDate(year, month, day)
}

func period(t *testing.T, start, end generic.Date) generic.Period {
	t.Helper()
	p, err := generic.NewPeriod(start, end)
	require.NoError(t, err)
	return p
}

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// =============================================================================
// RULE TABLE
// =============================================================================

func TestCompute_RuleTable(t *testing.T) {
	tests := []struct {
		name      string
		salary    string
		leaveType leave.Type
		start     generic.Date
		end       generic.Date
		wantDays  int
		wantDaily string
		wantAmt   string
	}{
		{
			name:   "unpaid withholds full daily salary",
			salary: "3000", leaveType: leave.Unpaid,
			start: date(2025, time.March, 10), end: date(2025, time.March, 12),
			wantDays: 3, wantDaily: "100", wantAmt: "300",
		},
		{
			name:   "sick withholds twenty percent",
			salary: "2000", leaveType: leave.Sick,
			start: date(2025, time.March, 1), end: date(2025, time.March, 10),
			wantDays: 10, wantDaily: "66.67", wantAmt: "133.33",
		},
		{
			name:   "annual is fully compensated",
			salary: "4500", leaveType: leave.Annual,
			start: date(2025, time.June, 2), end: date(2025, time.June, 6),
			wantDays: 5, wantDaily: "150", wantAmt: "0",
		},
		{
			name:   "work accident is fully compensated",
			salary: "4500", leaveType: leave.WorkAccident,
			start: date(2025, time.June, 2), end: date(2025, time.June, 3),
			wantDays: 2, wantDaily: "150", wantAmt: "0",
		},
		{
			name:   "single day range counts one day",
			salary: "3000", leaveType: leave.Unpaid,
			start: date(2025, time.March, 10), end: date(2025, time.March, 10),
			wantDays: 1, wantDaily: "100", wantAmt: "100",
		},
		{
			name:   "amount is computed before rounding",
			salary: "1000", leaveType: leave.Unpaid,
			start: date(2025, time.April, 1), end: date(2025, time.April, 3),
			wantDays: 3, wantDaily: "33.33", wantAmt: "100",
		},
		{
			name:   "zero salary gives zero deduction",
			salary: "0", leaveType: leave.Unpaid,
			start: date(2025, time.April, 1), end: date(2025, time.April, 3),
			wantDays: 3, wantDaily: "0", wantAmt: "0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := leave.Compute(money(tt.salary), tt.leaveType, period(t, tt.start, tt.end))

			require.NoError(t, err)
			assert.Equal(t, tt.wantDays, d.Days)
			assert.True(t, money(tt.wantDaily).Equal(d.DailySalary), "daily: got %s", d.DailySalary)
			assert.True(t, money(tt.wantAmt).Equal(d.Amount), "amount: got %s", d.Amount)
			assert.Equal(t, tt.leaveType, d.Type)
			assert.NotEmpty(t, d.Explanation)
		})
	}
}

// =============================================================================
// PROPERTIES
// =============================================================================

func TestCompute_DeductionBoundedByDailyTimesDays(t *testing.T) {
	// GIVEN: a spread of salaries and range lengths
	// WHEN: every leave type is computed
	// THEN: 0 <= deduction <= daily x days, with daily taken unrounded

	salaries := []string{"0", "999.99", "1234.56", "3000", "7777.77"}

	for _, s := range salaries {
		for n := 0; n < 31; n += 5 {
			p := period(t, date(2025, time.January, 1), date(2025, time.January, 1).AddDays(n))
			for _, lt := range leave.Types() {
				d, err := leave.Compute(money(s), lt, p)
				require.NoError(t, err)

				upper := generic.RoundMoney(money(s).Mul(decimal.NewFromInt(int64(d.Days))).Div(decimal.NewFromInt(leave.DailyDivisor)))
				assert.False(t, d.Amount.IsNegative(), "%s %s", s, lt)
				assert.True(t, d.Amount.LessThanOrEqual(upper), "%s %s: %s > %s", s, lt, d.Amount, upper)
				assert.Equal(t, n+1, d.Days)
			}
		}
	}
}

func TestCompute_CompensatedTypesNeverDeduct(t *testing.T) {
	p := period(t, date(2025, time.May, 1), date(2025, time.May, 31))

	for _, lt := range []leave.Type{leave.Annual, leave.WorkAccident} {
		d, err := leave.Compute(money("9000"), lt, p)
		require.NoError(t, err)
		assert.True(t, d.Amount.IsZero(), lt)
	}
}

// =============================================================================
// ERROR CASES
// =============================================================================

func TestCompute_UnknownTypeIsConfigurationError(t *testing.T) {
	p := period(t, date(2025, time.March, 1), date(2025, time.March, 2))

	_, err := leave.Compute(money("3000"), leave.Type("maternity"), p)

	require.Error(t, err)
	assert.ErrorIs(t, err, generic.ErrConfiguration)
	assert.False(t, generic.IsClientError(err))

	var cfg *generic.ConfigurationError
	require.ErrorAs(t, err, &cfg)
	assert.Equal(t, "maternity", cfg.Value)
}

func TestCompute_InvertedRangeIsValidationError(t *testing.T) {
	// GIVEN: a period built without NewPeriod, end before start
	p := generic.Period{Start: date(2025, time.March, 10), End: date(2025, time.March, 9)}

	// WHEN: even an unknown type is passed
	_, err := leave.Compute(money("3000"), leave.Type("bogus"), p)

	// THEN: the range is reported first
	assert.ErrorIs(t, err, generic.ErrValidation)
	assert.ErrorIs(t, err, generic.ErrInvalidPeriod)
}

func TestCompute_NegativeSalaryRejected(t *testing.T) {
	p := period(t, date(2025, time.March, 1), date(2025, time.March, 1))

	_, err := leave.Compute(money("-1"), leave.Unpaid, p)

	assert.ErrorIs(t, err, generic.ErrValidation)
}

func TestParseType(t *testing.T) {
	tests := []struct {
		in      string
		want    leave.Type
		wantErr bool
	}{
		{in: "unpaid", want: leave.Unpaid},
		{in: " Sick ", want: leave.Sick},
		{in: "work-accident", want: leave.WorkAccident},
		{in: "paid", want: leave.Annual},
		{in: "maternity", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := leave.ParseType(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, generic.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
