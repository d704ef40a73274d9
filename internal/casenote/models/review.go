package models

import (
	"strings"

	dErrors "github.com/vishalp-65/patient-case-notes-system/pkg/domain-errors"
)

// ReviewDecision is a reviewer's verdict on a provisional note.
type ReviewDecision string

const (
	DecisionAccept ReviewDecision = "accept"
	DecisionAmend  ReviewDecision = "amend"
	DecisionReject ReviewDecision = "reject"
)

func (d ReviewDecision) IsValid() bool {
	return d == DecisionAccept || d == DecisionAmend || d == DecisionReject
}

func ParseReviewDecision(s string) (ReviewDecision, error) {
	d := ReviewDecision(strings.ToLower(strings.TrimSpace(s)))
	if !d.IsValid() {
		return "", dErrors.New(dErrors.CodeValidation, "decision must be accept, amend or reject")
	}
	return d, nil
}
