package fallback

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedRand returns the same values on every draw.
type fixedRand struct {
	intn    int
	float64 float64
}

func (f fixedRand) Intn(n int) int {
	if f.intn >= n {
		return n - 1
	}
	return f.intn
}

func (f fixedRand) Float64() float64 { return f.float64 }

func TestSimulate_DelhiInvariants(t *testing.T) {
	g := NewGenerator(rand.New(rand.NewSource(42)), nil)
	for i := 0; i < 500; i++ {
		rec := g.Simulate("Delhi")
		require.GreaterOrEqual(t, rec.AQI, 30)
		require.LessOrEqual(t, rec.AQI, 500)
		require.Equal(t, rec.PM25*1.5, rec.PM10)
		require.Equal(t, float64(rec.AQI)/2.5, rec.PM25)
		require.GreaterOrEqual(t, rec.AQI, 160)
		require.LessOrEqual(t, rec.AQI, 200)
	}
}

func TestSimulate_OffsetBounds(t *testing.T) {
	low := NewGenerator(fixedRand{intn: 0}, nil).Simulate("Mumbai")
	high := NewGenerator(fixedRand{intn: 40}, nil).Simulate("Mumbai")
	assert.Equal(t, 100, low.AQI)
	assert.Equal(t, 140, high.AQI)
}

func TestSimulate_UnknownCityUsesDefault(t *testing.T) {
	rec := NewGenerator(fixedRand{intn: 20}, nil).Simulate("Atlantis")
	assert.Equal(t, 100, rec.AQI)
	assert.Equal(t, "Atlantis", rec.City)
}

func TestSimulate_Clamps(t *testing.T) {
	baseAQI["Testville"] = 20
	defer delete(baseAQI, "Testville")
	rec := NewGenerator(fixedRand{intn: 0}, nil).Simulate("Testville")
	assert.Equal(t, 30, rec.AQI)
}

func TestSimulate_SecondaryPollutantRanges(t *testing.T) {
	g := NewGenerator(rand.New(rand.NewSource(7)), nil)
	for i := 0; i < 200; i++ {
		rec := g.Simulate("Pune")
		require.NotNil(t, rec.NO2)
		require.NotNil(t, rec.SO2)
		require.NotNil(t, rec.CO)
		require.NotNil(t, rec.O3)
		assert.True(t, *rec.NO2 >= 20 && *rec.NO2 < 80, "no2 %v", *rec.NO2)
		assert.True(t, *rec.SO2 >= 5 && *rec.SO2 < 35, "so2 %v", *rec.SO2)
		assert.True(t, *rec.CO >= 0.5 && *rec.CO <= 2.5, "co %v", *rec.CO)
		assert.True(t, *rec.O3 >= 30 && *rec.O3 < 130, "o3 %v", *rec.O3)
	}
}

func TestSimulate_TimestampFromClock(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 11, 3, 8, 30, 0, 0, time.UTC))
	rec := NewGenerator(fixedRand{}, clock).Simulate("Delhi")
	assert.Equal(t, "2025-11-03T08:30:00Z", rec.Timestamp)
}

func TestSimulate_ConcurrentUse(t *testing.T) {
	g := NewGenerator(rand.New(rand.NewSource(1)), nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = g.Simulate("Kolkata")
			}
		}()
	}
	wg.Wait()
}

func TestTrend(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 11, 3, 8, 30, 0, 0, time.UTC))
	g := NewGenerator(rand.New(rand.NewSource(3)), clock)

	points := g.Trend("Jaipur", 7)
	require.Len(t, points, 7)
	assert.Equal(t, "2025-10-28", points[0].Date)
	assert.Equal(t, "2025-11-03", points[6].Date)
	for _, p := range points {
		assert.GreaterOrEqual(t, p.AQI, 30)
		assert.LessOrEqual(t, p.AQI, 500)
	}

	assert.Nil(t, g.Trend("Jaipur", 0))
}
