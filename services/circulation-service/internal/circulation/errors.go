package circulation

import "errors"

type Code string

const (
	CodeNotFound         Code = "not_found"
	CodeConflict         Code = "conflict"
	CodeOutOfStock       Code = "out_of_stock"
	CodeInvalidState     Code = "invalid_state"
	CodeAlreadyProcessed Code = "already_processed"
	CodeInvalidInput     Code = "invalid_input"
	CodeTooLate          Code = "too_late"
	CodeForbidden        Code = "forbidden"
	CodeAlreadyReserved  Code = "already_reserved"
	CodeBookAvailable    Code = "book_available"
	CodeAlreadyBorrowed  Code = "already_borrowed"
	CodeAlreadyReturned  Code = "already_returned"
	CodeInvalidTerms     Code = "invalid_terms"
	CodeInvalidTime      Code = "invalid_time"
)

// Error is a domain failure with a stable code and a message fit for end users.
// A sub-case error also matches its parent under errors.Is.
type Error struct {
	Code    Code
	Message string
	parent  *Error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	for p := e; p != nil; p = p.parent {
		if p == t {
			return true
		}
	}
	return false
}

var (
	ErrNotFound         = &Error{Code: CodeNotFound, Message: "record not found"}
	ErrConflict         = &Error{Code: CodeConflict, Message: "a conflicting request is already pending"}
	ErrOutOfStock       = &Error{Code: CodeOutOfStock, Message: "this book has no copies available, join the queue instead"}
	ErrInvalidState     = &Error{Code: CodeInvalidState, Message: "the record is not in a state that allows this action"}
	ErrAlreadyProcessed = &Error{Code: CodeAlreadyProcessed, Message: "the request has already been processed", parent: ErrInvalidState}
	ErrInvalidInput     = &Error{Code: CodeInvalidInput, Message: "invalid input"}
	ErrTooLate          = &Error{Code: CodeTooLate, Message: "the pickup window has passed and the hold was released", parent: ErrInvalidState}
	ErrForbidden        = &Error{Code: CodeForbidden, Message: "you are not allowed to perform this action"}

	ErrAlreadyReserved = &Error{Code: CodeAlreadyReserved, Message: "you already have a reservation for this book", parent: ErrConflict}
	ErrBookAvailable   = &Error{Code: CodeBookAvailable, Message: "copies are available, book an appointment instead", parent: ErrInvalidState}
	ErrAlreadyBorrowed = &Error{Code: CodeAlreadyBorrowed, Message: "the reader already holds a copy of this book", parent: ErrConflict}
	ErrAlreadyReturned = &Error{Code: CodeAlreadyReturned, Message: "the borrowal has already been returned", parent: ErrInvalidState}
	ErrInvalidTerms    = &Error{Code: CodeInvalidTerms, Message: "the borrowing terms must be accepted", parent: ErrInvalidInput}
	ErrInvalidTime     = &Error{Code: CodeInvalidTime, Message: "pickup time must be in the future", parent: ErrInvalidInput}
)

// CodeOf returns the code of the first domain error in err's chain, or "" when there is none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// MessageOf returns the user-facing message of the first domain error in err's chain.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return ""
}

// InvalidInput reports a malformed request field.
func InvalidInput(msg string) error {
	return &Error{Code: CodeInvalidInput, Message: msg, parent: ErrInvalidInput}
}
