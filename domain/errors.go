package domain

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies why an upload stopped.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindParse      ErrorKind = "parse"
	KindWrite      ErrorKind = "write"
	KindDisconnect ErrorKind = "disconnect"
	KindCanceled   ErrorKind = "canceled"
)

// ClientFault reports whether the caller can fix the failure by changing the request.
func (k ErrorKind) ClientFault() bool {
	switch k {
	case KindValidation, KindParse, KindDisconnect:
		return true
	}
	return false
}

// UploadError is a request-scoped failure. Part is the 1-based index of the
// multipart section being processed, or 0 when no part is involved.
type UploadError struct {
	Kind ErrorKind
	Part int
	Err  error
}

func (e *UploadError) Error() string {
	if e.Part > 0 {
		return fmt.Sprintf("%s error in part %d: %v", e.Kind, e.Part, e.Err)
	}
	return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

func NewError(kind ErrorKind, part int, err error) *UploadError {
	return &UploadError{Kind: kind, Part: part, Err: err}
}

// AsUploadError classifies err. Errors that already carry a kind keep it
// (filling in part if missing); context errors become KindCanceled and
// anything else coming off the request body is treated as a dropped client.
func AsUploadError(err error, part int) *UploadError {
	if err == nil {
		return nil
	}
	var ue *UploadError
	if errors.As(err, &ue) {
		if ue.Part == 0 && part > 0 {
			return &UploadError{Kind: ue.Kind, Part: part, Err: ue.Err}
		}
		return ue
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return NewError(KindCanceled, part, err)
	}
	return NewError(KindDisconnect, part, err)
}
