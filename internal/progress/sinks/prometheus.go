package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/pagecapture/internal/progress"
)

// PrometheusSink exports job and capture metrics derived from progress events.
type PrometheusSink struct {
	jobsStarted   prometheus.Counter
	jobsCompleted *prometheus.CounterVec
	jobsRunning   prometheus.Gauge
	jobRuntime    *prometheus.HistogramVec

	captures        *prometheus.CounterVec
	captureDuration *prometheus.HistogramVec

	mu      sync.Mutex
	running map[string]struct{}
}

// NewPrometheusSink registers the collectors against reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		jobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pagecapture_jobs_started_total",
			Help: "Total capture jobs that have started.",
		}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pagecapture_jobs_finished_total",
			Help: "Total capture jobs finished partitioned by result.",
		}, []string{"result"}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pagecapture_jobs_running",
			Help: "Current number of running capture jobs.",
		}),
		jobRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pagecapture_job_runtime_seconds",
			Help:    "Wall time of capture jobs.",
			Buckets: []float64{10, 30, 60, 300, 900, 1800, 3600, 7200},
		}, []string{"result"}),
		captures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pagecapture_captures_total",
			Help: "Capture tasks partitioned by device and status.",
		}, []string{"device", "status"}),
		captureDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pagecapture_capture_duration_seconds",
			Help:    "Capture task duration partitioned by device.",
			Buckets: []float64{1, 2, 5, 10, 20, 40, 60, 90},
		}, []string{"device"}),
		running: make(map[string]struct{}),
	}
	for _, c := range []prometheus.Collector{
		s.jobsStarted, s.jobsCompleted, s.jobsRunning, s.jobRuntime, s.captures, s.captureDuration,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Kind {
		case progress.KindJobStarted:
			s.jobsStarted.Inc()
			if s.track(evt.JobID, true) {
				s.jobsRunning.Inc()
			}
		case progress.KindTaskSucceeded:
			s.observeCapture(evt, "success")
		case progress.KindTaskFailed:
			s.observeCapture(evt, "failure")
		case progress.KindJobElapsed:
			// runtime is observed on the terminal event
		case progress.KindJobCompleted:
			s.finish(evt, "completed")
		case progress.KindJobAborted:
			s.finish(evt, "aborted")
		}
	}
	return nil
}

func (s *PrometheusSink) observeCapture(evt progress.Event, status string) {
	device := evt.Device
	if device == "" {
		device = "unknown"
	}
	s.captures.WithLabelValues(device, status).Inc()
	if evt.Dur > 0 {
		s.captureDuration.WithLabelValues(device).Observe(evt.Dur.Seconds())
	}
}

func (s *PrometheusSink) finish(evt progress.Event, result string) {
	s.jobsCompleted.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.jobRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if s.track(evt.JobID, false) {
		s.jobsRunning.Dec()
	}
}

// track adds or removes id from the running set and reports whether the set changed.
func (s *PrometheusSink) track(id string, start bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[id]
	if start {
		if ok {
			return false
		}
		s.running[id] = struct{}{}
		return true
	}
	if !ok {
		return false
	}
	delete(s.running, id)
	return true
}

// Close implements progress.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
