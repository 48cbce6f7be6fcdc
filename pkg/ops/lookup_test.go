package ops

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tlsnet/tlsnet-go/pkg/log"
)

type countingObserver struct {
	started, done, cached int
}

func (c *countingObserver) LookupStarted(string)                    { c.started++ }
func (c *countingObserver) LookupDone(string, error, time.Duration) { c.done++ }
func (c *countingObserver) CacheHit(string)                         { c.cached++ }

func TestLookupObserverLogsAndForwards(t *testing.T) {
	var events []log.Event
	next := &countingObserver{}
	obs := &lookupObserver{
		logger: log.LoggerFunc(func(e log.Event) { events = append(events, e) }),
		next:   next,
	}

	obs.LookupStarted("a.test")
	obs.LookupDone("a.test", nil, 20*time.Millisecond)
	obs.LookupDone("b.test", errors.New("no tenant"), time.Millisecond)
	obs.CacheHit("a.test")

	require.Len(t, events, 4)
	for _, e := range events {
		assert.Equal(t, log.LayerResolver, e.Layer)
		assert.Equal(t, log.CategoryLookup, e.Category)
		require.NotNil(t, e.Lookup)
		assert.Equal(t, e.ServerName, e.Lookup.Hostname)
	}
	assert.Equal(t, log.LookupQueued, events[0].Lookup.Outcome)
	assert.Equal(t, log.LookupResolved, events[1].Lookup.Outcome)
	assert.Equal(t, 20*time.Millisecond, events[1].Lookup.Duration)
	assert.Equal(t, log.LookupFailed, events[2].Lookup.Outcome)
	assert.Equal(t, "no tenant", events[2].Lookup.Message)
	assert.Equal(t, log.LookupCached, events[3].Lookup.Outcome)

	assert.Equal(t, &countingObserver{started: 1, done: 2, cached: 1}, next)
}

func TestLookupObserverWithoutMetrics(t *testing.T) {
	obs := &lookupObserver{logger: log.NoopLogger{}}
	assert.NotPanics(t, func() {
		obs.LookupStarted("a.test")
		obs.LookupDone("a.test", nil, 0)
		obs.CacheHit("a.test")
	})
}
