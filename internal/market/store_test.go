package market

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleBars() []Bar {
	return []Bar{
		{Date: d("2020-01-02"), Open: 99, High: 101, Low: 98, Close: 100, Volume: 1000},
		{Date: d("2020-01-03"), Open: 100, High: 103, Low: 99, Close: 102, Volume: 1100},
		{Date: d("2020-01-06"), Open: 102, High: 104, Low: 101, Close: 103, Volume: 900},
	}
}

func TestStore_InsertAndRange(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n, err := s.InsertBars(ctx, "aapl", sampleBars())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	t.Run("Full Range", func(t *testing.T) {
		bars, err := s.RangeBars(ctx, "AAPL", d("2020-01-01"), d("2020-01-31"))
		require.NoError(t, err)
		require.Len(t, bars, 3)
		assert.Equal(t, 100.0, bars[0].Close)
		assert.Equal(t, d("2020-01-06"), bars[2].Date)
	})

	t.Run("Partial Range", func(t *testing.T) {
		bars, err := s.RangeBars(ctx, "AAPL", d("2020-01-03"), d("2020-01-03"))
		require.NoError(t, err)
		require.Len(t, bars, 1)
		assert.Equal(t, 102.0, bars[0].Close)
	})

	t.Run("Swapped Bounds", func(t *testing.T) {
		bars, err := s.RangeBars(ctx, "AAPL", d("2020-01-31"), d("2020-01-01"))
		require.NoError(t, err)
		assert.Len(t, bars, 3)
	})

	t.Run("Empty For Unknown Window", func(t *testing.T) {
		bars, err := s.RangeBars(ctx, "AAPL", d("2021-01-01"), d("2021-01-31"))
		require.NoError(t, err)
		assert.Empty(t, bars)
	})
}

func TestStore_UpsertOverwrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.InsertBars(ctx, "AAPL", sampleBars())
	require.NoError(t, err)
	_, err = s.InsertBars(ctx, "AAPL", []Bar{
		{Date: d("2020-01-03"), Open: 1, High: 1, Low: 1, Close: 999, Volume: 1},
	})
	require.NoError(t, err)

	bars, err := s.RangeBars(ctx, "AAPL", d("2020-01-03"), d("2020-01-03"))
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, 999.0, bars[0].Close)

	m, err := s.Manifest(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, int64(3), m.Rows)
	assert.Equal(t, "2020-01-02", m.MinDate)
	assert.Equal(t, "2020-01-06", m.MaxDate)
}

func TestStore_ListTickers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.InsertBars(ctx, "msft", sampleBars())
	require.NoError(t, err)
	_, err = s.InsertBars(ctx, "AAPL", sampleBars())
	require.NoError(t, err)

	tickers, err := s.ListTickers()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"AAPL", "MSFT"}, tickers)
}

func TestStore_Validation(t *testing.T) {
	_, err := NewStore("")
	assert.Error(t, err)

	s := newTestStore(t)
	_, err = s.InsertBars(context.Background(), "", sampleBars())
	assert.Error(t, err)

	n, err := s.InsertBars(context.Background(), "AAPL", nil)
	assert.NoError(t, err)
	assert.Zero(t, n)
}
