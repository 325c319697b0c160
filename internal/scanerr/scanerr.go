// Package scanerr defines the error kinds the core surfaces as sentinel
// values. Callers wrap them with fmt.Errorf("%w", ...) and classify with
// errors.Is.
package scanerr

import "errors"

var (
	// ErrProviderRead is wrapped around Memory Provider read failures.
	ErrProviderRead = errors.New("scanerr: provider read failed")
	// ErrProviderWrite is wrapped around Memory Provider write failures.
	ErrProviderWrite = errors.New("scanerr: provider write failed")
	// ErrHeaderParse marks a malformed module image header; the module is skipped.
	ErrHeaderParse = errors.New("scanerr: malformed image header")
	// ErrDecoderInit marks a fatal decoder bit-width selection failure.
	ErrDecoderInit = errors.New("scanerr: decoder initialization failed")
	// ErrTypeParse marks user input that does not parse as the remembered type.
	ErrTypeParse = errors.New("scanerr: value does not match type")
	// ErrUsage marks a command whose arguments do not match its grammar.
	ErrUsage = errors.New("scanerr: usage error")
)
