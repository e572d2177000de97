package spec

import (
	"fmt"
	"strings"
)

// SpecError is a validation failure in the declarative stack document.
// It is fatal: nothing is provisioned or started when Load returns one.
type SpecError struct {
	Service string // empty for document-level problems
	Field   string
	Detail  string
}

func (e *SpecError) Error() string {
	var sb strings.Builder
	sb.WriteString("spec")
	if e.Service != "" {
		fmt.Fprintf(&sb, ": service %q", e.Service)
	}
	if e.Field != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Field)
	}
	sb.WriteString(": ")
	sb.WriteString(e.Detail)
	return sb.String()
}

func specErrorf(service, field, format string, args ...any) *SpecError {
	return &SpecError{Service: service, Field: field, Detail: fmt.Sprintf(format, args...)}
}
