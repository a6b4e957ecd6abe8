package crawler

import "fmt"

// DefaultSuccessThreshold is the minimum persisted fraction that lets a page
// advance under ThresholdPolicy.
const DefaultSuccessThreshold = 0.4

// AdvancePolicy decides whether a processed page is done or must be retried.
type AdvancePolicy interface {
	Advance(succeeded, total int) bool
	Name() string
}

// ThresholdPolicy advances when at least Threshold of the page's candidates
// were persisted. Pages without candidates always advance.
type ThresholdPolicy struct {
	Threshold float64
}

// Advance implements AdvancePolicy.
func (p ThresholdPolicy) Advance(succeeded, total int) bool {
	if total == 0 {
		return true
	}
	return float64(succeeded)/float64(total) >= p.Threshold
}

// Name implements AdvancePolicy.
func (p ThresholdPolicy) Name() string {
	return "threshold"
}

// AllOrNothingPolicy advances only when every candidate was persisted.
type AllOrNothingPolicy struct{}

// Advance implements AdvancePolicy.
func (AllOrNothingPolicy) Advance(succeeded, total int) bool {
	return succeeded >= total
}

// Name implements AdvancePolicy.
func (AllOrNothingPolicy) Name() string {
	return "all_or_nothing"
}

// NewAdvancePolicy resolves a policy by its configured name.
func NewAdvancePolicy(name string, threshold float64) (AdvancePolicy, error) {
	switch name {
	case "", "threshold":
		if threshold <= 0 || threshold > 1 {
			return nil, fmt.Errorf("crawl.success_threshold must be in (0, 1], got %v", threshold)
		}
		return ThresholdPolicy{Threshold: threshold}, nil
	case "all_or_nothing":
		return AllOrNothingPolicy{}, nil
	default:
		return nil, fmt.Errorf("unknown crawl.advance_policy %q", name)
	}
}
