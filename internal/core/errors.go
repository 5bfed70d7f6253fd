package core

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

// Kind discriminates pipeline failures without string matching.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindAsset         Kind = "asset"
	KindDownload      Kind = "download"
	KindProcessing    Kind = "processing"
	KindConcatenation Kind = "concatenation"
	KindUpload        Kind = "upload"
	KindResource      Kind = "resource"
	KindTimeout       Kind = "timeout"
	KindCancelled     Kind = "cancelled"
)

// Error is the single user-visible failure object. Every stage wraps
// unexpected errors into one of these so upper layers can discriminate by
// Kind and Stage.
type Error struct {
	Kind      Kind
	Stage     string
	SegmentID string
	Message   string
	Cause     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s error", e.Kind)
	if e.Stage != "" {
		msg += fmt.Sprintf(" at stage %q", e.Stage)
	}
	if e.SegmentID != "" {
		msg += fmt.Sprintf(" (segment %s)", e.SegmentID)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// CauseSummary returns the root cause message, or empty if there is none.
func (e *Error) CauseSummary() string {
	if e.Cause == nil {
		return ""
	}
	return errors.Cause(e.Cause).Error()
}

func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func NewErrorAt(stage string, kind Kind, message string) *Error {
	return &Error{Kind: kind, Stage: stage, Message: message}
}

func WrapError(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithStage stamps the stage name onto err. An existing *Error keeps its
// kind; anything else becomes a KindProcessing error with err as cause.
// Context cancellation and deadline errors map to their dedicated kinds.
func WithStage(stage string, err error) error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		if ce.Stage == "" {
			ce.Stage = stage
		}
		return ce
	}
	kind := KindProcessing
	switch {
	case errors.Is(err, context.Canceled):
		kind = KindCancelled
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	}
	return &Error{Kind: kind, Stage: stage, Cause: err}
}

// KindOf reports the Kind of err, mapping context errors to Cancelled and
// Timeout. Unknown errors report KindProcessing.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindProcessing
}
