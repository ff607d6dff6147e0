// Package sink publishes committed events to downstream systems.
package sink

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"civsphere/event-ingester/internal/metrics"
	"civsphere/event-ingester/internal/model"
)

// Sink is the minimal interface all sinks must implement.
type Sink interface {
	Name() string
	Push(ctx context.Context, events []model.Event) error
}

// Config lists the optional sinks. A sink with an empty address is off.
type Config struct {
	Loki LokiConfig `yaml:"loki"`
	S3   S3Config   `yaml:"s3"`
	NATS NATSConfig `yaml:"nats"`
}

// FanOut pushes events to every sink concurrently and joins the failures.
func FanOut(ctx context.Context, sinks []Sink, events []model.Event) error {
	if len(events) == 0 || len(sinks) == 0 {
		return nil
	}
	var wg sync.WaitGroup
	errs := make([]error, len(sinks))
	for i, sk := range sinks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sk.Push(ctx, events); err != nil {
				errs[i] = fmt.Errorf("push %s: %w", sk.Name(), err)
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

type instrumented struct {
	Sink
	m *metrics.Metrics
}

// Instrument counts the pushes of s by status.
func Instrument(s Sink, m *metrics.Metrics) Sink {
	if m == nil {
		return s
	}
	return instrumented{Sink: s, m: m}
}

func (i instrumented) Push(ctx context.Context, events []model.Event) error {
	err := i.Sink.Push(ctx, events)
	i.m.SinkPushed(i.Name(), err)
	return err
}

// Closer is implemented by sinks that hold connections.
type Closer interface {
	Close() error
}

// CloseAll closes the sinks that hold connections.
func CloseAll(sinks []Sink) error {
	var errs []error
	for _, s := range sinks {
		if in, ok := s.(instrumented); ok {
			s = in.Sink
		}
		if c, ok := s.(Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}
