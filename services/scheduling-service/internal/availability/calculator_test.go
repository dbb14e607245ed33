package availability

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/apperr"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/cache"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/hours"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubDays struct {
	calls int
	err   error
}

func (s *stubDays) Resolve(_ context.Context, companyID string, date time.Time, _ string) (hours.Day, error) {
	s.calls++
	if s.err != nil {
		return hours.Day{}, s.err
	}
	start := hours.LocalMidnight(date, time.UTC)
	if start.Weekday() == time.Sunday {
		return hours.Day{CompanyID: companyID, Start: start, End: start.AddDate(0, 0, 1), Location: time.UTC, SlotDuration: 30 * time.Minute}, nil
	}
	return hours.Day{
		CompanyID:    companyID,
		Start:        start,
		End:          start.AddDate(0, 0, 1),
		Location:     time.UTC,
		IsOpen:       true,
		Windows:      []model.Interval{{Start: start.Add(8 * time.Hour), End: start.Add(12 * time.Hour)}, {Start: start.Add(13 * time.Hour), End: start.Add(18 * time.Hour)}},
		SlotDuration: 30 * time.Minute,
		MinAdvance:   time.Hour,
	}, nil
}

type stubBusy struct{ intervals []model.Interval }

func (s stubBusy) ListBusy(context.Context, string, string, time.Time, time.Time) ([]model.Interval, error) {
	return s.intervals, nil
}

// mapCache stores JSON like the Redis cache does.
type mapCache struct{ entries map[string][]byte }

func (m *mapCache) Remember(ctx context.Context, k cache.Key, dst any, fill func(context.Context) error) error {
	id := k.String()
	if raw, ok := m.entries[id]; ok {
		return json.Unmarshal(raw, dst)
	}
	if err := fill(ctx); err != nil {
		return err
	}
	raw, _ := json.Marshal(dst)
	m.entries[id] = raw
	return nil
}

func TestCalculator_ScenarioAndCaching(t *testing.T) {
	days := &stubDays{}
	busy := stubBusy{intervals: []model.Interval{{Start: monday.Add(10 * time.Hour), End: monday.Add(11 * time.Hour)}}}
	mc := &mapCache{entries: map[string][]byte{}}
	calc := NewCalculator(days, busy, mc, nil)
	calc.now = func() time.Time { return monday.AddDate(0, 0, -1) }

	q := Query{CompanyID: "c1", ProfessionalID: "p1", ServiceDuration: time.Hour, Date: monday}
	first, err := calc.ComputeSlots(context.Background(), q)
	require.NoError(t, err)
	second, err := calc.ComputeSlots(context.Background(), q)
	require.NoError(t, err)

	assert.Equal(t, 1, days.calls, "second read should be served from cache")
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.True(t, first[i].Start.Equal(second[i].Start))
	}
	got := starts(first)
	assert.True(t, got["09:00"])
	assert.NotContains(t, got, "09:30")
	assert.True(t, got["13:00"])
}

func TestCalculator_TagsAgainstCurrentTimeOnCachedPlan(t *testing.T) {
	mc := &mapCache{entries: map[string][]byte{}}
	calc := NewCalculator(&stubDays{}, stubBusy{}, mc, nil)
	q := Query{CompanyID: "c1", ProfessionalID: "p1", ServiceDuration: 30 * time.Minute, Date: monday}

	calc.now = func() time.Time { return monday.AddDate(0, 0, -1) }
	early, err := calc.ComputeSlots(context.Background(), q)
	require.NoError(t, err)
	require.True(t, early[0].Available)

	calc.now = func() time.Time { return monday.Add(9 * time.Hour) }
	later, err := calc.ComputeSlots(context.Background(), q)
	require.NoError(t, err)
	assert.False(t, later[0].Available)
	assert.Equal(t, ReasonTooSoon, later[0].Reason)
}

func TestCalculator_RangeAndClosedDays(t *testing.T) {
	calc := NewCalculator(&stubDays{}, stubBusy{}, nil, nil)
	calc.now = func() time.Time { return monday.AddDate(0, 0, -1) }

	saturday := monday.AddDate(0, 0, 5)
	out, err := calc.ComputeRange(context.Background(), Query{CompanyID: "c1", ProfessionalID: "p1", ServiceDuration: time.Hour, Date: saturday}, 3)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "2026-03-08", out[1].Date)
	assert.Empty(t, out[1].Slots)
	assert.NotEmpty(t, out[2].Slots)

	_, err = calc.ComputeRange(context.Background(), Query{ServiceDuration: time.Hour, Date: monday}, MaxRangeDays+1)
	assert.True(t, errors.Is(err, apperr.Validation))
}

func TestCalculator_PropagatesConfigurationMissing(t *testing.T) {
	calc := NewCalculator(&stubDays{err: apperr.New(apperr.ConfigurationMissing, "seed first")}, stubBusy{}, nil, nil)
	_, err := calc.ComputeSlots(context.Background(), Query{CompanyID: "c1", ServiceDuration: time.Hour, Date: monday})
	assert.True(t, errors.Is(err, apperr.ConfigurationMissing))
}
