// Package fhir holds the FHIR R4 primitives shared by the exchange layer:
// OperationOutcome for errors and the common datatype structs embedded in
// emitted resources.
package fhir

// Issue severity codes.
const (
	IssueSeverityError       = "error"
	IssueSeverityWarning     = "warning"
	IssueSeverityInformation = "information"
)

// Issue type codes.
const (
	IssueTypeProcessing = "processing"
	IssueTypeNotFound   = "not-found"
	IssueTypeInvalid    = "invalid"
	IssueTypeConflict   = "conflict"
	IssueTypeTransient  = "transient"
)

// OperationOutcome is the FHIR error/information resource.
type OperationOutcome struct {
	ResourceType string                  `json:"resourceType"`
	Issue        []OperationOutcomeIssue `json:"issue"`
}

// OperationOutcomeIssue is a single issue within an OperationOutcome.
type OperationOutcomeIssue struct {
	Severity    string   `json:"severity"`
	Code        string   `json:"code"`
	Diagnostics string   `json:"diagnostics,omitempty"`
	Expression  []string `json:"expression,omitempty"`
}

// NewOperationOutcome builds an OperationOutcome with a single issue.
func NewOperationOutcome(severity, code, diagnostics string) *OperationOutcome {
	return &OperationOutcome{
		ResourceType: "OperationOutcome",
		Issue: []OperationOutcomeIssue{
			{Severity: severity, Code: code, Diagnostics: diagnostics},
		},
	}
}

// ErrorOutcome creates a processing-error OperationOutcome.
func ErrorOutcome(message string) *OperationOutcome {
	return NewOperationOutcome(IssueSeverityError, IssueTypeProcessing, message)
}

// NotFoundOutcome creates a not-found OperationOutcome.
func NotFoundOutcome(message string) *OperationOutcome {
	return NewOperationOutcome(IssueSeverityError, IssueTypeNotFound, message)
}

// InvalidOutcome creates an invalid-input OperationOutcome.
func InvalidOutcome(message string) *OperationOutcome {
	return NewOperationOutcome(IssueSeverityError, IssueTypeInvalid, message)
}

// ConflictOutcome creates a conflict OperationOutcome, used when a second
// synchronization for the same system is requested while one is running.
func ConflictOutcome(message string) *OperationOutcome {
	return NewOperationOutcome(IssueSeverityError, IssueTypeConflict, message)
}
