// Package faults defines the abstract error-kind taxonomy shared by the
// engine, dispatcher, memory store, and API layer. Kinds are plain string
// tags rather than a Go error-type hierarchy per component, so every layer
// can translate the same kind into its own surface (exit code, HTTP status,
// log line) without importing another package's error types.
package faults

type Kind string

const (
	ManifestInvalid        Kind = "manifest_invalid"
	UnknownTemplate        Kind = "unknown_template"
	DependencyCycle        Kind = "dependency_cycle"
	NameCollision          Kind = "name_collision"
	FilesystemFault        Kind = "filesystem_fault"
	PostVerifyFault        Kind = "post_verify_fault"
	Timeout                Kind = "timeout"
	DispatcherUnauthorized Kind = "dispatcher_unauthorized"
	DispatcherUnreachable  Kind = "dispatcher_unreachable"
	MemoryFileInvalid      Kind = "memory_file_invalid"
	Authentication         Kind = "authentication"
)

// SuggestedAction maps a fault kind to the next action a caller should try,
// per spec.md §7's "suggested next action" requirement.
func (k Kind) SuggestedAction() string {
	switch k {
	case ManifestInvalid, NameCollision, DependencyCycle:
		return "revalidate_manifest"
	case UnknownTemplate:
		return "check_catalog"
	case FilesystemFault, PostVerifyFault, Timeout, DispatcherUnreachable:
		return "retry"
	case DispatcherUnauthorized, Authentication:
		return "check_credentials"
	case MemoryFileInvalid:
		return "revalidate_manifest"
	default:
		return "retry"
	}
}

// Fault is a structured cause carrying a kind, the offending field path or
// template slug where applicable, and a human-readable message. It is a
// plain struct, not a hierarchy of error types per kind, per the "kinds not
// types" propagation policy.
type Fault struct {
	Kind    Kind
	Field   string
	Message string
	Details map[string]any
}

func (f *Fault) Error() string {
	if f.Field != "" {
		return string(f.Kind) + ": " + f.Field + ": " + f.Message
	}
	return string(f.Kind) + ": " + f.Message
}

// New constructs a Fault with no field path.
func New(kind Kind, message string) *Fault {
	return &Fault{Kind: kind, Message: message}
}

// WithField returns a copy of the fault carrying the given field path.
func (f *Fault) WithField(field string) *Fault {
	c := *f
	c.Field = field
	return &c
}

// WithDetails returns a copy of the fault carrying structured details.
func (f *Fault) WithDetails(details map[string]any) *Fault {
	c := *f
	c.Details = details
	return &c
}
