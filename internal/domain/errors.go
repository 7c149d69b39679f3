package domain

import (
	"errors"
	"fmt"
)

// Kind classifies failures so transports can map them without string matching.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindAuthorization  Kind = "authorization"
	KindStateConflict  Kind = "state_conflict"
	KindNotFound       Kind = "not_found"
	KindTransientStore Kind = "transient_store"
	KindInternal       Kind = "internal"
)

// Error carries a machine-checkable Kind and a human-readable message.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind. A target without a message
// matches every error of its kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Msg == "" || t.Msg == e.Msg)
}

var (
	ErrValidation     = &Error{Kind: KindValidation}
	ErrAuthorization  = &Error{Kind: KindAuthorization}
	ErrStateConflict  = &Error{Kind: KindStateConflict}
	ErrNotFound       = &Error{Kind: KindNotFound}
	ErrTransientStore = &Error{Kind: KindTransientStore}
	ErrInternal       = &Error{Kind: KindInternal}
)

var (
	// ErrRoomNotFound is returned when no room matches an id or join code.
	ErrRoomNotFound = &Error{Kind: KindNotFound, Msg: "room not found"}
	// ErrParticipantNotFound is returned when a user tries to act before joining.
	ErrParticipantNotFound = &Error{Kind: KindNotFound, Msg: "participant not found in room"}
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = &Error{Kind: KindNotFound, Msg: "quiz not found"}
	// ErrPoolNotFound indicates a question bank pool could not be loaded.
	ErrPoolNotFound = &Error{Kind: KindNotFound, Msg: "question pool not found"}
	// ErrQuestionNotFound indicates a submitted question ID is invalid.
	ErrQuestionNotFound = &Error{Kind: KindNotFound, Msg: "question not found"}
	// ErrSubmissionNotFound is returned when no prior answer exists.
	ErrSubmissionNotFound = &Error{Kind: KindNotFound, Msg: "submission not found"}
	// ErrOptionNotFound indicates a submitted option ID is invalid.
	ErrOptionNotFound = &Error{Kind: KindValidation, Msg: "option not found"}
	// ErrCodeTaken is returned by stores when a live room already uses a join code.
	ErrCodeTaken = &Error{Kind: KindStateConflict, Msg: "room code already in use"}
	// ErrNotHost is returned when the caller does not own the room.
	ErrNotHost = &Error{Kind: KindAuthorization, Msg: "only the host may perform this action"}
)

// Validationf builds a validation error.
func Validationf(format string, args ...any) error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

// Conflictf builds a state-conflict error.
func Conflictf(format string, args ...any) error {
	return &Error{Kind: KindStateConflict, Msg: fmt.Sprintf(format, args...)}
}

// Forbiddenf builds an authorization error.
func Forbiddenf(format string, args ...any) error {
	return &Error{Kind: KindAuthorization, Msg: fmt.Sprintf(format, args...)}
}

// Transient wraps an entity-store I/O failure that may succeed on retry.
func Transient(err error) error {
	return &Error{Kind: KindTransientStore, Msg: "entity store unavailable", Err: err}
}

// Internal wraps an unexpected failure.
func Internal(msg string, err error) error {
	return &Error{Kind: KindInternal, Msg: msg, Err: err}
}

// KindOf classifies err. Errors outside the taxonomy are internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Message returns the human-readable part of err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Msg != "" {
		return e.Msg
	}
	return err.Error()
}
