// Package gate decides whether a transcription can be published without review.
package gate

import (
	"fmt"
	"math"

	dErrors "github.com/vishalp-65/patient-case-notes-system/pkg/domain-errors"
)

// DefaultThreshold is the lowest score that publishes automatically.
const DefaultThreshold = 0.85

type Decision string

const (
	AutoPublish  Decision = "auto_publish"
	SendToReview Decision = "send_to_review"
)

// Gate compares scores against a fixed threshold.
type Gate struct {
	threshold float64
}

// New returns a gate. The threshold must lie in [0,1].
func New(threshold float64) (*Gate, error) {
	if math.IsNaN(threshold) || threshold < 0 || threshold > 1 {
		return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("gate threshold %v outside [0,1]", threshold))
	}
	return &Gate{threshold: threshold}, nil
}

func (g *Gate) Threshold() float64 { return g.threshold }

// Decide returns AutoPublish when score >= threshold. A score outside [0,1]
// returns SendToReview together with a CodeInvalidScore error.
func (g *Gate) Decide(score float64) (Decision, error) {
	if !ValidScore(score) {
		return SendToReview, dErrors.New(dErrors.CodeInvalidScore, fmt.Sprintf("confidence score %v outside [0,1]", score))
	}
	if score >= g.threshold {
		return AutoPublish, nil
	}
	return SendToReview, nil
}

func ValidScore(score float64) bool {
	return !math.IsNaN(score) && score >= 0 && score <= 1
}
