package notify

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/token-shop/internal/metrics"
)

// DefaultTimeout bounds a single delivery.
const DefaultTimeout = 10 * time.Second

// Dispatcher fans events out to every sink on background goroutines.
type Dispatcher struct {
	sinks   []Sink
	timeout time.Duration
	metrics *metrics.Metrics
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher. m may be nil.
func NewDispatcher(m *metrics.Metrics, sinks ...Sink) *Dispatcher {
	return &Dispatcher{sinks: sinks, timeout: DefaultTimeout, metrics: m}
}

// Dispatch starts delivery and returns immediately.
func (d *Dispatcher) Dispatch(e Event) {
	for _, s := range d.sinks {
		d.wg.Add(1)
		go d.deliver(s, e)
	}
}

func (d *Dispatcher) deliver(s Sink, e Event) {
	defer d.wg.Done()

	entry := log.WithFields(log.Fields{
		"sink":       s.Name(),
		"event":      e.Kind,
		"payment_id": e.Purchase.PaymentID,
	})
	defer func() {
		if r := recover(); r != nil {
			entry.WithField("stack", string(debug.Stack())).Errorf("notification sink panicked: %v", r)
			d.metrics.Notification(s.Name(), "panic")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if err := s.Notify(ctx, e); err != nil {
		entry.WithError(err).Warn("notification failed")
		d.metrics.Notification(s.Name(), "failed")
		return
	}
	d.metrics.Notification(s.Name(), "sent")
}

// Wait blocks until in-flight deliveries finish or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("notifications still in flight: %w", ctx.Err())
	}
}
