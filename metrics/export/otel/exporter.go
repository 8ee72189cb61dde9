// Package otel bridges engine metrics into an OpenTelemetry meter as
// observable counters. Each collection cycle reads a fresh snapshot, so
// the bridge adds no overhead to the hot path.
package otel

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"

	authcore "github.com/authsmith/authcore"
	"github.com/authsmith/authcore/metrics/export/internaldefs"
)

// Source supplies metric snapshots, typically an [authcore.Engine].
type Source interface {
	MetricsSnapshot() authcore.MetricsSnapshot
}

// Bridge owns the instruments registered on a meter. Close it to stop
// observing.
type Bridge struct {
	registration metric.Registration
}

// Register creates an observable counter per engine metric on the given
// meter and registers a single callback that reads one snapshot for all
// of them.
func Register(meter metric.Meter, src Source) (*Bridge, error) {
	defs := internaldefs.Counters()

	instruments := make([]metric.Int64ObservableCounter, len(defs))
	observables := make([]metric.Observable, len(defs))
	for i, def := range defs {
		inst, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("otel bridge: %s: %w", def.Name, err)
		}
		instruments[i] = inst
		observables[i] = inst
	}

	reg, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		snap := src.MetricsSnapshot()
		for i, def := range defs {
			o.ObserveInt64(instruments[i], int64(snap.Counters[def.ID]))
		}
		return nil
	}, observables...)
	if err != nil {
		return nil, fmt.Errorf("otel bridge: register callback: %w", err)
	}

	return &Bridge{registration: reg}, nil
}

// Close unregisters the callback.
func (b *Bridge) Close() error {
	if b == nil || b.registration == nil {
		return nil
	}
	return b.registration.Unregister()
}
