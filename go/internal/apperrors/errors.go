package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies a failure. Every error crossing a component boundary in
// this service carries one.
type Code int

const (
	CodeInvalidInput Code = iota + 1
	CodeNotFound
	CodeConflict
	CodeDuplicateAnswer
	CodeQuestionClosed
	CodeStore
)

var codeNames = map[Code]string{
	CodeInvalidInput:    "invalid_input",
	CodeNotFound:        "not_found",
	CodeConflict:        "conflict",
	CodeDuplicateAnswer: "duplicate_answer",
	CodeQuestionClosed:  "question_closed",
	CodeStore:           "store_error",
}

var code2http = map[Code]int{
	CodeInvalidInput:    http.StatusBadRequest,
	CodeNotFound:        http.StatusNotFound,
	CodeConflict:        http.StatusConflict,
	CodeDuplicateAnswer: http.StatusConflict,
	CodeQuestionClosed:  http.StatusConflict,
	CodeStore:           http.StatusInternalServerError,
}

func (c Code) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return "unknown"
}

type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	err     error
}

func New(code Code, opts ...Option) *Error {
	e := &Error{
		Code:    code,
		Message: code.String(),
	}

	for _, opt := range opts {
		opt.apply(e)
	}

	return e
}

func (e *Error) Error() string {
	s := fmt.Sprintf("code: %s, message: %s", e.Code, e.Message)
	if e.err != nil {
		s += fmt.Sprintf(", err: %s", e.err)
	}

	return s
}

func (e *Error) Unwrap() error {
	return e.err
}

func (e *Error) HTTPStatusCode() int {
	if c, ok := code2http[e.Code]; ok {
		return c
	}

	return http.StatusInternalServerError
}

// Convert coerces any error into an *Error. Unclassified errors become
// store errors, the catch-all for infrastructure failures.
func Convert(err error) *Error {
	var e *Error
	if !errors.As(err, &e) {
		return Store(err)
	}

	return e
}

// CodeOf extracts the code from an error, or CodeStore if it has none.
func CodeOf(err error) Code {
	return Convert(err).Code
}

func Store(err error) *Error {
	return New(CodeStore, WithCause(err))
}

type Option interface {
	apply(*Error)
}

type optionFunc func(*Error)

func (f optionFunc) apply(e *Error) {
	f(e)
}

func WithCause(err error) Option {
	return optionFunc(func(e *Error) {
		e.err = err
	})
}

func WithMessagef(format string, args ...any) Option {
	return optionFunc(func(e *Error) {
		e.Message = fmt.Sprintf(format, args...)
	})
}
