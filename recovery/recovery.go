// Package recovery defines how parsing components react to structural
// damage in an input file. User-picked documents are the untrusted edge of
// the system, so every parse-side component consults a Strategy instead of
// deciding ad hoc whether to fail or continue.
package recovery

// Strategy decides how to proceed when a structural error is found.
type Strategy interface {
	OnError(err error, location Location) Action
}

// Location pinpoints where in the file an error was detected.
type Location struct {
	ByteOffset int64
	ObjectNum  int
	ObjectGen  int
	Component  string
}

type Action int

const (
	ActionFail Action = iota
	ActionSkip
	ActionFix
	ActionWarn
)

// Strict fails on the first structural error.
type Strict struct{}

func (Strict) OnError(err error, location Location) Action { return ActionFail }

// Lenient accumulates errors and keeps going where the caller can.
type Lenient struct {
	Errors []error
}

func (l *Lenient) OnError(err error, location Location) Action {
	l.Errors = append(l.Errors, &locatedError{err: err, loc: location})
	return ActionWarn
}

type locatedError struct {
	err error
	loc Location
}

func (e *locatedError) Error() string {
	return e.loc.Component + ": " + e.err.Error()
}

func (e *locatedError) Unwrap() error { return e.err }
