package spcwatch

import (
	"errors"
	"fmt"
	"time"
)

// ResourceLimits bounds what a Monitor will accept and how long a single
// policy may run.
type ResourceLimits struct {
	MaxCharts           int
	MaxPolicies         int
	MaxPolicyComplexity int // AST nodes per policy
	MaxWindow           int // samples evaluated per chart
	MaxEvaluationTime   time.Duration
}

func DefaultResourceLimits() *ResourceLimits {
	return &ResourceLimits{
		MaxCharts:           256,
		MaxPolicies:         100,
		MaxPolicyComplexity: 1000,
		MaxWindow:           10000,
		MaxEvaluationTime:   100 * time.Millisecond,
	}
}

// ResourceLimitError reports which limit was hit.
type ResourceLimitError struct {
	Resource string
	Current  int
	Limit    int
	Message  string
}

func (e *ResourceLimitError) Error() string {
	return fmt.Sprintf("resource limit exceeded for %s: %s (current: %d, limit: %d)",
		e.Resource, e.Message, e.Current, e.Limit)
}

func IsResourceLimitError(err error) bool {
	var rle *ResourceLimitError
	return errors.As(err, &rle)
}
