package analytics_test

import (
	"context"
	"testing"
	"time"

	"github.com/illmade-knight/go-storefront/pkg/analytics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvent_Validate(t *testing.T) {
	assert.NoError(t, analytics.Event{Type: analytics.EventVisit}.Validate())
	assert.NoError(t, analytics.Event{Type: analytics.EventClick, ProductID: "p1"}.Validate())
	assert.ErrorIs(t, analytics.Event{Type: analytics.EventClick}.Validate(), analytics.ErrInvalidEvent)
	assert.ErrorIs(t, analytics.Event{Type: "purchase"}.Validate(), analytics.ErrInvalidEvent)
}

func TestMemoryTracker(t *testing.T) {
	ctx := context.Background()
	start := time.Now().Add(-time.Minute)

	// Arrange
	m := analytics.NewMemoryTracker()
	require.NoError(t, m.Track(ctx, analytics.Event{Type: analytics.EventVisit, VisitorID: "v1"}))
	require.NoError(t, m.Track(ctx, analytics.Event{Type: analytics.EventVisit, VisitorID: "v2"}))
	require.NoError(t, m.Track(ctx, analytics.Event{Type: analytics.EventClick, ProductID: "p1", VisitorID: "v1"}))
	require.NoError(t, m.Track(ctx, analytics.Event{Type: analytics.EventClick, ProductID: "p2", VisitorID: "v2"}))
	require.NoError(t, m.Track(ctx, analytics.Event{Type: analytics.EventClick, ProductID: "p2", VisitorID: "v1"}))
	require.NoError(t, m.Track(ctx, analytics.Event{Type: analytics.EventVisit, OccurredAt: start.Add(-time.Hour)}))
	assert.Error(t, m.Track(ctx, analytics.Event{Type: analytics.EventClick}))

	t.Run("Events are stamped", func(t *testing.T) {
		events := m.Events()
		require.Len(t, events, 6)
		for _, e := range events {
			assert.NotEmpty(t, e.ID)
			assert.False(t, e.OccurredAt.IsZero())
		}
	})

	t.Run("Summary ignores older events and ranks products", func(t *testing.T) {
		// Act
		s, err := m.Summarize(ctx, start, 1)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, int64(2), s.Visits)
		assert.Equal(t, int64(3), s.Clicks)
		assert.Equal(t, int64(2), s.UniqueVisitors)
		assert.Equal(t, []analytics.ProductStat{{ProductID: "p2", Clicks: 2}}, s.TopProducts)
	})
}
