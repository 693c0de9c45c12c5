// Package faults classifies processing failures so callers can apply the
// right propagation rule: metadata and download failures terminate a whole
// job, page failures stay contained to one page, and a failed authoritative
// state write is fatal while the best-effort text write is not.
package faults

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation  Kind = "validation"  // bad input, rejected before a job exists
	KindMetadata    Kind = "metadata"    // document unreadable, page count unknown
	KindStorage     Kind = "storage"     // blob download/upload failed
	KindPage        Kind = "page"        // extraction failed for one page
	KindPersistence Kind = "persistence" // a required state write failed
	KindUnknown     Kind = "unknown"
)

// Fault wraps an underlying error with its classification and the
// operation that produced it.
type Fault struct {
	Kind Kind
	Op   string
	Err  error
}

func (f *Fault) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("%s: %s", f.Kind, f.Op)
	}
	return fmt.Sprintf("%s: %s: %v", f.Kind, f.Op, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }

func New(kind Kind, op string, err error) *Fault {
	return &Fault{Kind: kind, Op: op, Err: err}
}

func Validation(op string, err error) *Fault  { return New(KindValidation, op, err) }
func Metadata(op string, err error) *Fault    { return New(KindMetadata, op, err) }
func Storage(op string, err error) *Fault     { return New(KindStorage, op, err) }
func Page(op string, err error) *Fault        { return New(KindPage, op, err) }
func Persistence(op string, err error) *Fault { return New(KindPersistence, op, err) }

// KindOf reports the classification of err, or KindUnknown when err
// carries no Fault anywhere in its chain.
func KindOf(err error) Kind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return KindUnknown
}
