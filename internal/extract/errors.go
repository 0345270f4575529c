package extract

import (
	"errors"
	"fmt"
)

// Kind classifies a terminal extraction failure.
type Kind string

const (
	KindPasswordProtected  Kind = "PasswordProtected"
	KindInvalidDocument    Kind = "InvalidDocument"
	KindNoExtractableText  Kind = "NoExtractableText"
	KindLibraryUnavailable Kind = "LibraryUnavailable"
	KindExtractionFailed   Kind = "ExtractionFailed"
)

const manualRemedy = "Copy and paste the text into the content field, or transcribe the content manually."

var remedies = map[Kind]string{
	KindPasswordProtected:  "Remove the password from the PDF and upload it again, or transcribe the content manually.",
	KindInvalidDocument:    "The file does not look like a readable PDF. Re-export it as PDF, or transcribe the content manually.",
	KindNoExtractableText:  "The PDF appears to contain only scanned images. Run it through OCR first, or transcribe the content manually.",
	KindLibraryUnavailable: "PDF extraction is temporarily unavailable. Transcribe the content manually.",
	KindExtractionFailed:   manualRemedy,
}

// Remedy returns the user-facing suggestion for k.
func (k Kind) Remedy() string {
	if r, ok := remedies[k]; ok {
		return r
	}
	return manualRemedy
}

// Error is a classified extraction failure.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return "extraction failed: " + string(e.Kind)
	}
	return fmt.Sprintf("extraction failed: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Remedy returns the user-facing suggestion for the failure.
func (e *Error) Remedy() string { return e.Kind.Remedy() }

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// KindOf returns the kind of err, or KindExtractionFailed when err is not
// an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindExtractionFailed
}

// Sentinels a Decoder wraps to report what it detected.
var (
	ErrEncrypted = errors.New("document is encrypted")
	ErrMalformed = errors.New("document is malformed")
)
