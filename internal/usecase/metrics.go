package usecase

import (
	"sync"
	"time"

	"github.com/example/maskdetect/internal/vision"
)

// StatsSummary represents aggregated detection counters since process start.
type StatsSummary struct {
	TotalRequests    int64   `json:"total_requests"`
	FailedRequests   int64   `json:"failed_requests"`
	CacheHits        int64   `json:"cache_hits"`
	MaskCount        int64   `json:"mask_count"`
	NoMaskCount      int64   `json:"no_mask_count"`
	FacesDetected    int64   `json:"faces_detected"`
	SuccessRate      float64 `json:"success_rate"`
	AverageLatencyMs float64 `json:"average_latency_ms"`
}

type stats struct {
	mu           sync.Mutex
	summary      StatsSummary
	totalLatency time.Duration
}

func (s *stats) record(result *Result, err error, cached bool, latency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.summary.TotalRequests++
	s.totalLatency += latency
	if cached {
		s.summary.CacheHits++
	}
	if err != nil {
		s.summary.FailedRequests++
		return
	}
	s.summary.FacesDetected += int64(len(result.Faces))
	switch result.MaskStatus {
	case vision.LabelMask:
		s.summary.MaskCount++
	case vision.LabelNoMask:
		s.summary.NoMaskCount++
	}
}

// Stats returns a snapshot of the detection counters.
func (uc *DetectionUseCase) Stats() StatsSummary {
	uc.stats.mu.Lock()
	defer uc.stats.mu.Unlock()

	summary := uc.stats.summary
	if summary.TotalRequests > 0 {
		succeeded := summary.TotalRequests - summary.FailedRequests
		summary.SuccessRate = float64(succeeded) / float64(summary.TotalRequests)
		summary.AverageLatencyMs = float64(uc.stats.totalLatency.Microseconds()) / 1000 / float64(summary.TotalRequests)
	}
	return summary
}
