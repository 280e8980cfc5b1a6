package netscen

// errors.go holds the error taxonomy of scenario construction.  Every error
// returned by a setup phase wraps exactly one of the sentinels below, so callers
// can classify with errors.Is

import (
	"errors"
	"strings"
)

var (
	// ErrConfiguration flags an invalid parameter, detected before any topology mutation
	ErrConfiguration = errors.New("configuration error")

	// ErrAddressSpaceExhausted flags a link asked to hold more interfaces than its block
	// supports, or an allocator that has run out of blocks
	ErrAddressSpaceExhausted = errors.New("address space exhausted")

	// ErrSchedulingViolation flags an application window that is empty or that starts
	// before the server (plus margin), or a client with no route to its target
	ErrSchedulingViolation = errors.New("scheduling violation")

	// ErrTraceAttach flags a trace sink that could not be bound to a link. Not fatal.
	ErrTraceAttach = errors.New("trace attach failure")

	// ErrPhaseRepeated flags a second attempt to advance a phase handle
	ErrPhaseRepeated = errors.New("setup phase already completed")
)

// ReportErrs transforms a list of errors and transforms the non-nil ones into a single error
// with comma-separated report of all the constituent errors, and returns it.
// The constituent errors remain reachable through errors.Is.
func ReportErrs(errs []error) error {
	errMsg := make([]string, 0)
	kept := make([]error, 0)
	for _, err := range errs {
		if err != nil {
			errMsg = append(errMsg, err.Error())
			kept = append(kept, err)
		}
	}
	if len(kept) == 0 {
		return nil
	}

	return &joinedErr{msg: strings.Join(errMsg, ","), errs: kept}
}

// joinedErr keeps the comma-separated message format while
// letting errors.Is and errors.As see every constituent
type joinedErr struct {
	msg  string
	errs []error
}

func (je *joinedErr) Error() string   { return je.msg }
func (je *joinedErr) Unwrap() []error { return je.errs }
