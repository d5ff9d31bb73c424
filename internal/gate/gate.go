// Package gate turns verification results into admission decisions.
package gate

import (
	"fmt"
	"strings"

	"github.com/ShayCichocki/missionctl/pkg/models"
)

// Status is the outcome of a gate.
type Status string

const (
	Pass Status = "pass"
	Fail Status = "fail"
)

// Decision is the gate's verdict on a phase's output. Blocking only ever
// holds high or critical issues.
type Decision struct {
	Status   Status         `json:"status"`
	Blocking []models.Issue `json:"blocking"`
	Message  string         `json:"message,omitempty"`
}

// Passed reports whether the decision admits the phase output.
func (d Decision) Passed() bool {
	return d.Status == Pass
}

// FromVerification fails iff any check reports a high or critical issue.
// Low and medium issues never block.
func FromVerification(result models.VerificationResult) Decision {
	blocking := []models.Issue{}
	for _, issue := range result.Issues() {
		if issue.Severity.Blocking() {
			blocking = append(blocking, issue)
		}
	}

	if len(blocking) == 0 {
		return Decision{Status: Pass, Blocking: blocking, Message: result.Summary}
	}

	parts := make([]string, len(blocking))
	for i, issue := range blocking {
		parts[i] = issue.String()
	}
	return Decision{
		Status:   Fail,
		Blocking: blocking,
		Message:  fmt.Sprintf("%d blocking issue(s): %s", len(blocking), strings.Join(parts, "; ")),
	}
}

// AlwaysPass is a manual override that admits unconditionally.
func AlwaysPass() Decision {
	return Decision{Status: Pass, Blocking: []models.Issue{}, Message: "manual pass"}
}

// AlwaysFail is a manual override that rejects with message. It carries a
// single critical issue so the rejection surfaces in mission errors.
func AlwaysFail(message string) Decision {
	return Decision{
		Status:   Fail,
		Blocking: []models.Issue{{Severity: models.SeverityCritical, Message: message}},
		Message:  message,
	}
}

// RejectionError reports a phase whose output the gate refused.
type RejectionError struct {
	Phase    models.Phase
	Decision Decision
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("gate rejected %s: %s", e.Phase, e.Decision.Message)
}
