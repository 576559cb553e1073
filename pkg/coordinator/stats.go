package coordinator

import (
	"sync"
	"time"

	"taskqueue/pkg/job"
)

// Stats is the coordinator's QueueStats projection, extended with
// per-priority average wait and a rolling throughput figure.
type Stats struct {
	CountsByStatus      map[job.Status]int
	QueueDepthByLevel   map[job.Priority]int
	DLQDepth            int
	AvgProcessingMs     float64
	ThroughputPerMin    float64
	AvgWaitMsByPriority map[job.Priority]float64
}

// statsAggregator accumulates the running sums GetStats projects from.
// Kept separate from the component structures themselves (none of
// queue/timewheel/depgraph/retry/worker expose timing samples) since
// spec.md's QueueStats is a coordinator-level view, not a per-component one.
type statsAggregator struct {
	mu sync.Mutex

	processingTotalMs float64
	processingCount   int64

	waitTotalMs map[job.Priority]float64
	waitCount   map[job.Priority]int64

	completions []time.Time
}

func newStatsAggregator() *statsAggregator {
	return &statsAggregator{
		waitTotalMs: make(map[job.Priority]float64),
		waitCount:   make(map[job.Priority]int64),
	}
}

func (s *statsAggregator) recordProcessing(durationMs float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processingTotalMs += durationMs
	s.processingCount++
}

func (s *statsAggregator) recordWait(p job.Priority, waitMs float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waitTotalMs[p] += waitMs
	s.waitCount[p]++
}

func (s *statsAggregator) recordCompletion(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completions = append(s.completions, at)
	cutoff := at.Add(-time.Hour)
	i := 0
	for i < len(s.completions) && s.completions[i].Before(cutoff) {
		i++
	}
	s.completions = s.completions[i:]
}

func (s *statsAggregator) throughputPerMin(now time.Time) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-time.Minute)
	count := 0
	for _, t := range s.completions {
		if !t.Before(cutoff) {
			count++
		}
	}
	return float64(count)
}

func (s *statsAggregator) snapshot() (avgProcessingMs float64, avgWaitByPriority map[job.Priority]float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.processingCount > 0 {
		avgProcessingMs = s.processingTotalMs / float64(s.processingCount)
	}
	avgWaitByPriority = make(map[job.Priority]float64, len(job.Levels))
	for _, p := range job.Levels {
		if n := s.waitCount[p]; n > 0 {
			avgWaitByPriority[p] = s.waitTotalMs[p] / float64(n)
		}
	}
	return
}

// GetStats returns the current QueueStats projection.
func (c *Coordinator) GetStats() Stats {
	counts := make(map[job.Status]int)
	<-c.jobsMu
	for _, j := range c.jobsByID {
		counts[j.Status]++
	}
	c.jobsMu <- struct{}{}

	avgProcessing, avgWait := c.stats.snapshot()
	return Stats{
		CountsByStatus:      counts,
		QueueDepthByLevel:   c.queue.SizeByPriority(),
		DLQDepth:            c.retryEng.DLQSize(),
		AvgProcessingMs:     avgProcessing,
		ThroughputPerMin:    c.stats.throughputPerMin(time.Now()),
		AvgWaitMsByPriority: avgWait,
	}
}
