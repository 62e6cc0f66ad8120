// Package metrics exposes session counters to prometheus. Values are read
// from the sessions at scrape time, nothing is pushed from the hot paths.
package metrics

import (
	"mirrorcore/framebuffer"
	"mirrorcore/input"
	"mirrorcore/session"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mirror"

// Source is the read side of a session.
type Source interface {
	ID() string
	State() session.State
	FrameStats() framebuffer.Stats
	InputStats() input.Stats
	DecodeErrors() uint64
}

type Collector struct {
	sources func() []Source

	sessions        *prometheus.Desc
	framesCommitted *prometheus.Desc
	framesDropped   *prometheus.Desc
	framesConsumed  *prometheus.Desc
	inputSent       *prometheus.Desc
	inputDropped    *prometheus.Desc
	inputFailed     *prometheus.Desc
	decodeErrors    *prometheus.Desc
}

// NewCollector reports on whatever sources returns at each scrape.
func NewCollector(sources func() []Source) *Collector {
	perSession := []string{"session"}
	return &Collector{
		sources: sources,

		sessions: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "sessions"),
			"Sessions by state.", []string{"state"}, nil),
		framesCommitted: prometheus.NewDesc(prometheus.BuildFQName(namespace, "frames", "committed_total"),
			"Frames committed to the frame buffer.", perSession, nil),
		framesDropped: prometheus.NewDesc(prometheus.BuildFQName(namespace, "frames", "dropped_total"),
			"Frames replaced before the presenter consumed them.", perSession, nil),
		framesConsumed: prometheus.NewDesc(prometheus.BuildFQName(namespace, "frames", "consumed_total"),
			"Frames taken by the presenter.", perSession, nil),
		inputSent: prometheus.NewDesc(prometheus.BuildFQName(namespace, "input", "sent_total"),
			"Control messages sent to the device.", perSession, nil),
		inputDropped: prometheus.NewDesc(prometheus.BuildFQName(namespace, "input", "dropped_total"),
			"Input events that produced no control message.", perSession, nil),
		inputFailed: prometheus.NewDesc(prometheus.BuildFQName(namespace, "input", "failed_total"),
			"Control messages that could not be written.", perSession, nil),
		decodeErrors: prometheus.NewDesc(prometheus.BuildFQName(namespace, "decode", "errors_total"),
			"Chunks the decoder rejected.", perSession, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.sessions
	ch <- c.framesCommitted
	ch <- c.framesDropped
	ch <- c.framesConsumed
	ch <- c.inputSent
	ch <- c.inputDropped
	ch <- c.inputFailed
	ch <- c.decodeErrors
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	byState := make(map[session.State]int)
	for _, src := range c.sources() {
		byState[src.State()]++
		id := src.ID()
		fs, is := src.FrameStats(), src.InputStats()
		counter := func(d *prometheus.Desc, v uint64) {
			ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), id)
		}
		counter(c.framesCommitted, fs.Committed)
		counter(c.framesDropped, fs.Dropped)
		counter(c.framesConsumed, fs.Consumed)
		counter(c.inputSent, is.Sent)
		counter(c.inputDropped, is.Dropped)
		counter(c.inputFailed, is.Failed)
		counter(c.decodeErrors, src.DecodeErrors())
	}
	for st := session.Idle; st <= session.Failed; st++ {
		ch <- prometheus.MustNewConstMetric(c.sessions, prometheus.GaugeValue, float64(byState[st]), st.String())
	}
}
