package models

import "fmt"

// ComponentDetail records the outcome of the checks for one component.
type ComponentDetail struct {
	Status  string
	Message string
}

// ValidationResult accumulates errors and warnings across checks.
// Any error makes the result invalid; warnings never do.
type ValidationResult struct {
	IsValid         bool
	Details         map[string]ComponentDetail
	Errors          []string
	Warnings        []string
	ChecksPerformed []string
}

// NewValidationResult returns a valid, empty result.
func NewValidationResult() *ValidationResult {
	return &ValidationResult{
		IsValid: true,
		Details: make(map[string]ComponentDetail),
	}
}

// AddCheck records that a named check ran.
func (v *ValidationResult) AddCheck(name string) {
	v.ChecksPerformed = append(v.ChecksPerformed, name)
}

// AddError records a failure and marks the result invalid.
func (v *ValidationResult) AddError(component, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	v.IsValid = false
	v.Errors = append(v.Errors, msg)
	v.Details[component] = ComponentDetail{Status: "error", Message: msg}
}

// AddWarning records a non-fatal finding.
func (v *ValidationResult) AddWarning(component, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	v.Warnings = append(v.Warnings, msg)
	if d, ok := v.Details[component]; !ok || d.Status != "error" {
		v.Details[component] = ComponentDetail{Status: "warning", Message: msg}
	}
}

// AddSuccess records a passing component unless it already has a finding.
func (v *ValidationResult) AddSuccess(component, format string, args ...any) {
	if _, ok := v.Details[component]; ok {
		return
	}
	v.Details[component] = ComponentDetail{Status: "ok", Message: fmt.Sprintf(format, args...)}
}

// Merge folds other into v.
func (v *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	if !other.IsValid {
		v.IsValid = false
	}
	v.Errors = append(v.Errors, other.Errors...)
	v.Warnings = append(v.Warnings, other.Warnings...)
	v.ChecksPerformed = append(v.ChecksPerformed, other.ChecksPerformed...)
	for k, d := range other.Details {
		v.Details[k] = d
	}
}
