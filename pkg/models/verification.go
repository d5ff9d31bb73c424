package models

import "fmt"

// Severity ranks how serious a verification issue is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid returns true if the severity is a known value.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	default:
		return false
	}
}

// Blocking returns true for severities that reject a phase at the gate.
func (s Severity) Blocking() bool {
	return s == SeverityHigh || s == SeverityCritical
}

// CheckStatus is the outcome of a verification check or a whole result.
type CheckStatus string

const (
	CheckPassed  CheckStatus = "passed"
	CheckFailed  CheckStatus = "failed"
	CheckWarning CheckStatus = "warning"
)

// Issue is a single finding reported by a verification check.
type Issue struct {
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	// File optionally points at the offending file.
	File string `json:"file,omitempty"`
}

// String renders the issue for logs and error lists.
func (i Issue) String() string {
	if i.File != "" {
		return fmt.Sprintf("[%s] %s (%s)", i.Severity, i.Message, i.File)
	}
	return fmt.Sprintf("[%s] %s", i.Severity, i.Message)
}

// Check is one named verification step.
type Check struct {
	Name   string      `json:"name"`
	Status CheckStatus `json:"status"`
	Issues []Issue     `json:"issues"`
}

// VerificationResult is the artifact every phase verifier produces.
type VerificationResult struct {
	Status  CheckStatus `json:"status"`
	Checks  []Check     `json:"checks"`
	Summary string      `json:"summary"`
}

// Issues returns every issue across all checks, in check order.
func (r VerificationResult) Issues() []Issue {
	var issues []Issue
	for _, check := range r.Checks {
		issues = append(issues, check.Issues...)
	}
	return issues
}

// FailureResult builds a single-check result carrying one critical issue.
// It stands in for a verifier or producer that could not run at all.
func FailureResult(check, message string) VerificationResult {
	return VerificationResult{
		Status: CheckFailed,
		Checks: []Check{{
			Name:   check,
			Status: CheckFailed,
			Issues: []Issue{{Severity: SeverityCritical, Message: message}},
		}},
		Summary: message,
	}
}

// Normalize recomputes check and overall statuses from the issues so a
// verifier cannot report "passed" alongside a blocking issue.
func (r *VerificationResult) Normalize() {
	overall := CheckPassed
	for i := range r.Checks {
		status := CheckPassed
		for _, issue := range r.Checks[i].Issues {
			if issue.Severity.Blocking() {
				status = CheckFailed
				break
			}
			status = CheckWarning
		}
		r.Checks[i].Status = status
		switch {
		case status == CheckFailed:
			overall = CheckFailed
		case status == CheckWarning && overall == CheckPassed:
			overall = CheckWarning
		}
	}
	r.Status = overall
}
