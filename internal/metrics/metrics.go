// Package metrics keeps in-process operational counters.
package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Metrics captures shared operational stats for the engine, queue and workers.
type Metrics struct {
	queueLength   int64
	queueCapacity int64
	workerCount   int64

	processedJobs int64
	failedJobs    int64

	analyses         int64
	degradedAnalyses int64
	failedAnalyses   int64

	cacheHits   int64
	cacheMisses int64

	mu            sync.Mutex
	collaborators map[string]int64
	labels        map[string]int64
}

// Snapshot provides a consistent view of the current metrics.
type Snapshot struct {
	QueueLength           int              `json:"queue_length"`
	QueueCapacity         int              `json:"queue_capacity"`
	WorkerCount           int              `json:"worker_count"`
	ProcessedJobs         int64            `json:"processed_jobs"`
	FailedJobs            int64            `json:"failed_jobs"`
	Analyses              int64            `json:"analyses"`
	DegradedAnalyses      int64            `json:"degraded_analyses"`
	FailedAnalyses        int64            `json:"failed_analyses"`
	CacheHits             int64            `json:"cache_hits"`
	CacheMisses           int64            `json:"cache_misses"`
	CollaboratorFailures  map[string]int64 `json:"collaborator_failures"`
	Labels                map[string]int64 `json:"labels"`
	CollaboratorFailTotal int64            `json:"collaborator_failures_total"`
}

// New creates a zeroed Metrics instance.
func New() *Metrics {
	return &Metrics{collaborators: map[string]int64{}, labels: map[string]int64{}}
}

// UpdateQueue records the current queue stats.
func (m *Metrics) UpdateQueue(length, capacity, workers int) {
	atomic.StoreInt64(&m.queueLength, int64(length))
	atomic.StoreInt64(&m.queueCapacity, int64(capacity))
	atomic.StoreInt64(&m.workerCount, int64(workers))
}

// RecordJobCompletion increments processed/failed counters based on outcome.
func (m *Metrics) RecordJobCompletion(err error) {
	atomic.AddInt64(&m.processedJobs, 1)
	if err != nil {
		atomic.AddInt64(&m.failedJobs, 1)
	}
}

// RecordAnalysis counts one finished analysis.
func (m *Metrics) RecordAnalysis(label string, degraded bool, err error) {
	atomic.AddInt64(&m.analyses, 1)
	if degraded {
		atomic.AddInt64(&m.degradedAnalyses, 1)
	}
	if err != nil {
		atomic.AddInt64(&m.failedAnalyses, 1)
	}
	if label != "" {
		m.mu.Lock()
		m.labels[label]++
		m.mu.Unlock()
	}
}

// RecordCollaboratorFailure counts a degraded model call by operation.
func (m *Metrics) RecordCollaboratorFailure(op string) {
	m.mu.Lock()
	m.collaborators[op]++
	m.mu.Unlock()
}

func (m *Metrics) RecordCacheHit()  { atomic.AddInt64(&m.cacheHits, 1) }
func (m *Metrics) RecordCacheMiss() { atomic.AddInt64(&m.cacheMisses, 1) }

// Snapshot returns a read-only view of metrics.
func (m *Metrics) Snapshot() Snapshot {
	s := Snapshot{
		QueueLength:      int(atomic.LoadInt64(&m.queueLength)),
		QueueCapacity:    int(atomic.LoadInt64(&m.queueCapacity)),
		WorkerCount:      int(atomic.LoadInt64(&m.workerCount)),
		ProcessedJobs:    atomic.LoadInt64(&m.processedJobs),
		FailedJobs:       atomic.LoadInt64(&m.failedJobs),
		Analyses:         atomic.LoadInt64(&m.analyses),
		DegradedAnalyses: atomic.LoadInt64(&m.degradedAnalyses),
		FailedAnalyses:   atomic.LoadInt64(&m.failedAnalyses),
		CacheHits:        atomic.LoadInt64(&m.cacheHits),
		CacheMisses:      atomic.LoadInt64(&m.cacheMisses),
	}
	m.mu.Lock()
	s.CollaboratorFailures = copyCounts(m.collaborators)
	s.Labels = copyCounts(m.labels)
	m.mu.Unlock()
	for _, n := range s.CollaboratorFailures {
		s.CollaboratorFailTotal += n
	}
	return s
}

// TopLabels returns labels ordered by count, highest first.
func (s Snapshot) TopLabels() []string {
	out := make([]string, 0, len(s.Labels))
	for l := range s.Labels {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if s.Labels[out[i]] == s.Labels[out[j]] {
			return out[i] < out[j]
		}
		return s.Labels[out[i]] > s.Labels[out[j]]
	})
	return out
}

func copyCounts(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
