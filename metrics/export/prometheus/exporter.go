// Package prometheus renders engine metrics in the Prometheus text
// exposition format without pulling in the client library. Mount the
// exporter behind an HTTP handler of your choosing.
package prometheus

import (
	"fmt"
	"io"
	"strings"

	authcore "github.com/authsmith/authcore"
	"github.com/authsmith/authcore/metrics/export/internaldefs"
)

// Source supplies metric snapshots, typically an [authcore.Engine].
type Source interface {
	MetricsSnapshot() authcore.MetricsSnapshot
}

// Exporter renders snapshots from a Source.
type Exporter struct {
	src Source
}

// New returns an Exporter reading from src.
func New(src Source) *Exporter {
	return &Exporter{src: src}
}

// Render writes the current snapshot in text exposition format.
func (e *Exporter) Render(w io.Writer) error {
	snap := e.src.MetricsSnapshot()

	for _, def := range internaldefs.Counters() {
		if err := writeCounter(w, def, snap.Counters[def.ID]); err != nil {
			return err
		}
	}

	for _, def := range internaldefs.Histograms() {
		buckets, ok := snap.Histograms[def.ID]
		if !ok {
			continue
		}
		if err := writeHistogram(w, def, buckets, snap.HistogramSums[def.ID]); err != nil {
			return err
		}
	}

	return nil
}

func writeCounter(w io.Writer, def internaldefs.CounterDef, value uint64) error {
	_, err := fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s counter\n%s %d\n",
		def.Name, escapeHelp(def.Help), def.Name, def.Name, value)
	return err
}

func writeHistogram(w io.Writer, def internaldefs.HistogramDef, buckets []uint64, sumUs uint64) error {
	if _, err := fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s histogram\n",
		def.Name, escapeHelp(def.Help), def.Name); err != nil {
		return err
	}

	cumulative := internaldefs.CumulativeBuckets(buckets)
	bounds := internaldefs.HistogramBounds
	var count uint64
	for i, bound := range bounds {
		if i < len(cumulative) {
			count = cumulative[i]
		}
		if _, err := fmt.Fprintf(w, "%s_bucket{le=%q} %d\n", def.Name, bound, count); err != nil {
			return err
		}
	}

	_, err := fmt.Fprintf(w, "%s_sum %g\n%s_count %d\n",
		def.Name, float64(sumUs)/1e6, def.Name, count)
	return err
}

func escapeHelp(help string) string {
	help = strings.ReplaceAll(help, `\`, `\\`)
	return strings.ReplaceAll(help, "\n", `\n`)
}
