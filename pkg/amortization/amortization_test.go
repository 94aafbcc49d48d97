package amortization

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestCompute_SixMonthAnnuity(t *testing.T) {
	start := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	schedule, err := Compute(Terms{
		Principal:    dec("600000"),
		MonthlyRate:  dec("0.05"),
		Installments: 6,
		StartDate:    start,
	})
	require.NoError(t, err)
	require.Len(t, schedule, 6)

	want := []struct {
		total, interest, capital, remaining string
	}{
		{"118210.48", "30000", "88210.48", "511789.52"},
		{"118210.48", "25589.48", "92621", "419168.52"},
		{"118210.48", "20958.43", "97252.05", "321916.47"},
		{"118210.48", "16095.82", "102114.66", "219801.81"},
		{"118210.48", "10990.09", "107220.39", "112581.42"},
		{"118210.49", "5629.07", "112581.42", "0"},
	}
	for i, w := range want {
		row := schedule[i]
		assert.Equal(t, i+1, row.Sequence)
		assert.True(t, row.Total.Equal(dec(w.total)), "row %d total: got %s", i+1, row.Total)
		assert.True(t, row.Interest.Equal(dec(w.interest)), "row %d interest: got %s", i+1, row.Interest)
		assert.True(t, row.Capital.Equal(dec(w.capital)), "row %d capital: got %s", i+1, row.Capital)
		assert.True(t, row.RemainingBalance.Equal(dec(w.remaining)), "row %d remaining: got %s", i+1, row.RemainingBalance)
		assert.Equal(t, time.Date(2025, time.Month(1+i+1), 15, 0, 0, 0, 0, time.UTC), row.DueDate)
	}

	assert.True(t, MonthlyPayment(dec("600000"), dec("0.05"), 6).Equal(dec("118210.48")))
}

func TestCompute_RowsBalance(t *testing.T) {
	cases := []struct {
		principal string
		rate      string
		n         int
	}{
		{"1000", "0.02", 12},
		{"10000", "0.05", 24},
		{"5000000", "0.035", 18},
		{"123456.78", "0.0125", 7},
		{"99.99", "0.1", 5},
		{"1000", "0", 3},
		{"750", "0.05", 1},
	}

	for _, c := range cases {
		schedule, err := Compute(Terms{
			Principal:    dec(c.principal),
			MonthlyRate:  dec(c.rate),
			Installments: c.n,
			StartDate:    time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		})
		require.NoError(t, err)
		require.Len(t, schedule, c.n)

		for i, row := range schedule {
			assert.Equal(t, i+1, row.Sequence)
			assert.True(t, row.Interest.Add(row.Capital).Equal(row.Total),
				"%s/%s/%d row %d: interest+capital != total", c.principal, c.rate, c.n, row.Sequence)
			assert.False(t, row.RemainingBalance.IsNegative())
			if i > 0 {
				assert.True(t, row.RemainingBalance.LessThanOrEqual(schedule[i-1].RemainingBalance))
			}
		}

		assert.True(t, schedule[len(schedule)-1].RemainingBalance.IsZero())
		assert.True(t, schedule.TotalCapital().Equal(dec(c.principal)),
			"%s/%s/%d: capital sums to %s", c.principal, c.rate, c.n, schedule.TotalCapital())
		assert.True(t, schedule.TotalPaid().Equal(schedule.TotalCapital().Add(schedule.TotalInterest())))
	}
}

func TestCompute_ZeroRate(t *testing.T) {
	schedule, err := Compute(Terms{
		Principal:    dec("1000"),
		MonthlyRate:  decimal.Zero,
		Installments: 3,
		StartDate:    time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	for _, row := range schedule {
		assert.True(t, row.Interest.IsZero())
		assert.True(t, row.Capital.Equal(row.Total))
	}
	assert.True(t, schedule[0].Total.Equal(dec("333.33")))
	assert.True(t, schedule[1].Total.Equal(dec("333.33")))
	assert.True(t, schedule[2].Total.Equal(dec("333.34")), "remainder goes to the last installment")
	assert.True(t, schedule.TotalInterest().IsZero())
}

func TestCompute_SingleInstallment(t *testing.T) {
	withInterest, err := Compute(Terms{Principal: dec("1000"), MonthlyRate: dec("0.02"), Installments: 1})
	require.NoError(t, err)
	require.Len(t, withInterest, 1)
	assert.True(t, withInterest[0].Total.Equal(dec("1020")))
	assert.True(t, withInterest[0].Capital.Equal(dec("1000")))
	assert.True(t, withInterest[0].RemainingBalance.IsZero())

	noInterest, err := Compute(Terms{Principal: dec("1000"), MonthlyRate: decimal.Zero, Installments: 1})
	require.NoError(t, err)
	assert.True(t, noInterest[0].Total.Equal(dec("1000")))
}

func TestCompute_DefaultsStartToToday(t *testing.T) {
	schedule, err := Compute(Terms{Principal: dec("100"), MonthlyRate: decimal.Zero, Installments: 1})
	require.NoError(t, err)
	assert.Equal(t, AddMonths(Today(time.Now()), 1), schedule[0].DueDate)
}

func TestCompute_InvalidTerms(t *testing.T) {
	cases := map[string]Terms{
		"principal":    {Principal: decimal.Zero, MonthlyRate: dec("0.05"), Installments: 6},
		"installments": {Principal: dec("100"), MonthlyRate: dec("0.05"), Installments: 0},
		"monthly_rate": {Principal: dec("100"), MonthlyRate: dec("-0.01"), Installments: 6},
	}
	for field, terms := range cases {
		t.Run(field, func(t *testing.T) {
			schedule, err := Compute(terms)
			assert.Nil(t, schedule)

			var invalid *InvalidTermsError
			require.True(t, errors.As(err, &invalid))
			assert.Equal(t, field, invalid.Field)
		})
	}
}

func TestAddMonths_ClampsToMonthEnd(t *testing.T) {
	start := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), AddMonths(start, 1))
	assert.Equal(t, time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC), AddMonths(start, 2))
	assert.Equal(t, time.Date(2024, 4, 30, 0, 0, 0, 0, time.UTC), AddMonths(start, 3))
	assert.Equal(t, time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC), AddMonths(start, 13))
	assert.Equal(t, time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC), AddMonths(time.Date(2024, 10, 31, 0, 0, 0, 0, time.UTC), 2))
}
