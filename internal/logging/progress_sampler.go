package logging

import (
	"strings"
	"sync"
)

// ProgressSampler suppresses repetitive batch progress logs while preserving
// signal when the batch label or percentage bucket changes. Safe for use from
// concurrent progress callbacks.
type ProgressSampler struct {
	mu         sync.Mutex
	bucketSize float64
	lastLabel  string
	lastBucket int
}

// NewProgressSampler constructs a sampler that emits when the percent crosses
// bucket boundaries (default 10%) or when the label changes.
func NewProgressSampler(bucketSize float64) *ProgressSampler {
	if bucketSize <= 0 {
		bucketSize = 10
	}
	return &ProgressSampler{bucketSize: bucketSize, lastBucket: -1}
}

// ShouldLog reports whether a progress event should be logged. 100% always
// logs once per label.
func (s *ProgressSampler) ShouldLog(percent float64, label string) bool {
	if s == nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	label = strings.TrimSpace(label)
	emit := false
	if label != s.lastLabel {
		s.lastLabel = label
		s.lastBucket = -1
		emit = true
	}
	if percent < 0 {
		return emit
	}
	bucket := int(percent / s.bucketSize)
	if percent >= 100 {
		bucket = int(100/s.bucketSize) + 1
	}
	if bucket > s.lastBucket {
		s.lastBucket = bucket
		emit = true
	}
	return emit
}

// Reset clears the sampler state before a new batch starts.
func (s *ProgressSampler) Reset() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.lastLabel = ""
	s.lastBucket = -1
	s.mu.Unlock()
}
