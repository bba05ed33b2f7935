package paymentplan

import (
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/StudioDesk/app/models"
	"github.com/ManuelReschke/StudioDesk/internal/pkg/testutil"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestBuildScheduleMonthlyScenario(t *testing.T) {
	s, err := BuildSchedule(dec("1000.00"), testutil.Date(2024, 1, 1), testutil.Date(2024, 3, 1), models.FrequencyMonthly)
	require.NoError(t, err)
	require.Len(t, s.Installments, 3)

	assert.Equal(t, testutil.Date(2024, 1, 1), s.Installments[0].DueDate)
	assert.Equal(t, testutil.Date(2024, 2, 1), s.Installments[1].DueDate)
	assert.Equal(t, testutil.Date(2024, 3, 1), s.Installments[2].DueDate)

	assert.Equal(t, "333.33", s.Installments[0].Amount.StringFixed(2))
	assert.Equal(t, "333.33", s.Installments[1].Amount.StringFixed(2))
	assert.Equal(t, "333.34", s.Installments[2].Amount.StringFixed(2))
	assert.Equal(t, "333.33", s.InstallmentAmount.StringFixed(2))
	assert.True(t, s.Total().Equal(dec("1000")))
}

func TestBuildScheduleSingleDay(t *testing.T) {
	d := testutil.Date(2024, 5, 17)
	for _, f := range []models.Frequency{models.FrequencyWeekly, models.FrequencyBiweekly, models.FrequencyMonthly} {
		s, err := BuildSchedule(dec("749.99"), d, d, f)
		require.NoError(t, err)
		require.Len(t, s.Installments, 1, string(f))
		assert.True(t, s.Installments[0].Amount.Equal(dec("749.99")))
		assert.Equal(t, d, s.Installments[0].DueDate)
	}
}

func TestBuildScheduleWeeklyAndBiweekly(t *testing.T) {
	start, end := testutil.Date(2024, 1, 1), testutil.Date(2024, 1, 29)

	weekly, err := BuildSchedule(dec("500"), start, end, models.FrequencyWeekly)
	require.NoError(t, err)
	require.Len(t, weekly.Installments, 5)
	assert.Equal(t, testutil.Date(2024, 1, 29), weekly.Installments[4].DueDate)
	assert.True(t, weekly.Installments[0].Amount.Equal(dec("100")))

	biweekly, err := BuildSchedule(dec("500"), start, end, models.FrequencyBiweekly)
	require.NoError(t, err)
	require.Len(t, biweekly.Installments, 3)
	assert.Equal(t, testutil.Date(2024, 1, 15), biweekly.Installments[1].DueDate)
	assert.Equal(t, "166.67", biweekly.Installments[0].Amount.StringFixed(2))
	assert.Equal(t, "166.66", biweekly.Installments[2].Amount.StringFixed(2))
}

func TestBuildScheduleMonthEndClamp(t *testing.T) {
	s, err := BuildSchedule(dec("400"), testutil.Date(2024, 1, 31), testutil.Date(2024, 4, 30), models.FrequencyMonthly)
	require.NoError(t, err)

	var got []time.Time
	for _, in := range s.Installments {
		got = append(got, in.DueDate)
	}
	assert.Equal(t, []time.Time{
		testutil.Date(2024, 1, 31),
		testutil.Date(2024, 2, 29),
		testutil.Date(2024, 3, 31),
		testutil.Date(2024, 4, 30),
	}, got)
}

func TestBuildScheduleMonthlyIsCalendarBased(t *testing.T) {
	// Thirty-day steps would add a fourth date on May 30.
	s, err := BuildSchedule(dec("300"), testutil.Date(2023, 3, 1), testutil.Date(2023, 5, 30), models.FrequencyMonthly)
	require.NoError(t, err)
	assert.Len(t, s.Installments, 3)
}

func TestBuildScheduleNormalisesTimeOfDay(t *testing.T) {
	start := time.Date(2024, 1, 1, 18, 30, 0, 0, time.UTC)
	s, err := BuildSchedule(dec("100"), start, start.Add(2*time.Hour), models.FrequencyWeekly)
	require.NoError(t, err)
	require.Len(t, s.Installments, 1)
	assert.Equal(t, testutil.Date(2024, 1, 1), s.Installments[0].DueDate)
}

func TestBuildScheduleRejectsInvalidInput(t *testing.T) {
	start, end := testutil.Date(2024, 1, 1), testutil.Date(2024, 3, 1)
	tests := []struct {
		name  string
		total string
		start time.Time
		end   time.Time
		freq  models.Frequency
	}{
		{"end before start", "100", end, start, models.FrequencyMonthly},
		{"zero total", "0", start, end, models.FrequencyMonthly},
		{"negative total", "-5", start, end, models.FrequencyMonthly},
		{"sub-cent total", "100.005", start, end, models.FrequencyMonthly},
		{"unknown frequency", "100", start, end, models.Frequency("daily")},
		{"missing start", "100", time.Time{}, end, models.FrequencyMonthly},
		{"too many installments", "100000", testutil.Date(2000, 1, 1), testutil.Date(2024, 1, 1), models.FrequencyWeekly},
		{"total below one cent per installment", "0.02", start, testutil.Date(2024, 1, 29), models.FrequencyWeekly},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildSchedule(dec(tt.total), tt.start, tt.end, tt.freq)
			require.Error(t, err)
			assert.True(t, IsInvalidSchedule(err), "got %T", err)
		})
	}
}

func TestBuildSchedulePropertySumAndContiguity(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	freqs := []models.Frequency{models.FrequencyWeekly, models.FrequencyBiweekly, models.FrequencyMonthly}

	for i := 0; i < 500; i++ {
		cents := rng.Int63n(10_000_000) + 10_000
		total := decimal.New(cents, -2)
		start := testutil.Date(2020, 1, 1).AddDate(0, 0, rng.Intn(1500))
		end := start.AddDate(0, 0, rng.Intn(800))
		freq := freqs[rng.Intn(len(freqs))]

		s, err := BuildSchedule(total, start, end, freq)
		require.NoError(t, err, "total=%s start=%s end=%s freq=%s", total, start, end, freq)
		require.True(t, s.Total().Equal(total), "sum %s != total %s", s.Total(), total)

		for j, in := range s.Installments {
			require.Equal(t, j+1, in.Number)
			require.False(t, in.DueDate.After(end))
			if j > 0 {
				require.True(t, in.DueDate.After(s.Installments[j-1].DueDate))
			}
		}
		assert.Equal(t, start, s.FirstDueDate())
	}
}
