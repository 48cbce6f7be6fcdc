package ops

import (
	"time"

	"github.com/tlsnet/tlsnet-go/pkg/log"
	"github.com/tlsnet/tlsnet-go/pkg/sni"
)

// lookupObserver records resolver activity as protocol events and forwards
// it to metrics.
type lookupObserver struct {
	logger log.Logger
	next   sni.Observer
}

func (o *lookupObserver) LookupStarted(hostname string) {
	o.log(hostname, &log.LookupEvent{Hostname: hostname, Outcome: log.LookupQueued})
	if o.next != nil {
		o.next.LookupStarted(hostname)
	}
}

func (o *lookupObserver) LookupDone(hostname string, err error, elapsed time.Duration) {
	ev := &log.LookupEvent{Hostname: hostname, Outcome: log.LookupResolved, Duration: elapsed}
	if err != nil {
		ev.Outcome = log.LookupFailed
		ev.Message = err.Error()
	}
	o.log(hostname, ev)
	if o.next != nil {
		o.next.LookupDone(hostname, err, elapsed)
	}
}

func (o *lookupObserver) CacheHit(hostname string) {
	o.log(hostname, &log.LookupEvent{Hostname: hostname, Outcome: log.LookupCached})
	if o.next != nil {
		o.next.CacheHit(hostname)
	}
}

func (o *lookupObserver) log(hostname string, ev *log.LookupEvent) {
	o.logger.Log(log.Event{
		Timestamp:  time.Now(),
		Layer:      log.LayerResolver,
		Category:   log.CategoryLookup,
		ServerName: hostname,
		Lookup:     ev,
	})
}
