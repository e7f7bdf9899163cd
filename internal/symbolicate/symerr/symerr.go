// Package symerr defines the error taxonomy shared across the
// symbolication core: the resolver, the per-format SymbolMap builders,
// and the JSON API facade all classify failures into one of these
// kinds so callers can apply the propagation policy (swallow
// not-found/transient errors during candidate enumeration, surface
// only the most informative failure).
package symerr

import "fmt"

// Kind classifies a symbolication failure.
type Kind int

const (
	// NotFound means no candidate produced an artifact at all.
	NotFound Kind = iota
	// UnmatchedDebugID means an artifact was found but its own
	// debug_id did not match the one requested.
	UnmatchedDebugID
	// ParseError means the artifact's bytes were structurally corrupt
	// or not recognized by any format detector.
	ParseError
	// UnsupportedLookup means the operation does not apply to this
	// SymbolMap's address spaces (e.g. SVMA lookup on a PDB).
	UnsupportedLookup
	// IOError is a transient local filesystem failure, retriable.
	IOError
	// NetworkError is a transient remote fetch failure, retriable.
	NetworkError
	// HelperError wraps a failure surfaced by the file-provider
	// collaborator (mmap, HTTP client, dyld cache extractor).
	HelperError
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not_found"
	case UnmatchedDebugID:
		return "unmatched_debug_id"
	case ParseError:
		return "parse_error"
	case UnsupportedLookup:
		return "unsupported_lookup"
	case IOError:
		return "io_error"
	case NetworkError:
		return "network_error"
	case HelperError:
		return "helper_error"
	default:
		return "unknown"
	}
}

// Error is a Kind paired with context, wrapping an optional underlying
// cause.
type Error struct {
	Kind    Kind
	Format  string // e.g. "elf", "pe", "macho", "breakpad"; empty if not format-specific
	Detail  string
	Wrapped error
}

func (e *Error) Error() string {
	if e.Format != "" {
		return fmt.Sprintf("symbolicate: %s[%s]: %s", e.Kind, e.Format, e.Detail)
	}
	return fmt.Sprintf("symbolicate: %s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Wrapped
}

// New builds an *Error of the given kind with a formatted detail.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error of the given kind, wrapping cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...), Wrapped: cause}
}

// WithFormat returns a copy of e with Format set, for errors raised
// generically and then attributed to a specific parser.
func (e *Error) WithFormat(format string) *Error {
	cp := *e
	cp.Format = format
	return &cp
}

// Is reports whether err is itself a *Error of the given kind (err's
// wrap chain is not searched); KindOf below returns the kind directly.
func Is(err error, kind Kind) bool {
	se, ok := err.(*Error)
	return ok && se.Kind == kind
}

// KindOf extracts the Kind from err if it is a *Error, plus ok=true;
// otherwise returns the zero Kind and ok=false.
func KindOf(err error) (Kind, bool) {
	se, ok := err.(*Error)
	if !ok {
		return 0, false
	}
	return se.Kind, true
}

// MostInformative picks, among a set of candidate-enumeration failures,
// the one most useful to surface to the caller when every candidate
// fails: UnmatchedDebugID is preferred over a bare NotFound, since it
// tells the caller an artifact did exist but didn't match.
func MostInformative(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	var best error
	bestRank := -1
	rank := map[Kind]int{
		NotFound:          0,
		IOError:           1,
		NetworkError:      1,
		HelperError:       1,
		ParseError:        2,
		UnmatchedDebugID:  3,
		UnsupportedLookup: 3,
	}
	for _, err := range errs {
		k, ok := KindOf(err)
		r := 0
		if ok {
			r = rank[k]
		}
		if r > bestRank {
			bestRank = r
			best = err
		}
	}
	return best
}
