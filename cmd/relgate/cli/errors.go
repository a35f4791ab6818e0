package cli

// SilentError wraps an error whose message has already been delivered to the
// right stream. main still exits nonzero on it, but does not print it again.
// Hook handlers use this: a blocked hook writes its JSON response to stdout
// and the reason to stderr, and any extra line from main would end up in the
// agent's context.
type SilentError struct {
	err  error
	code int
}

// NewSilentError wraps err so main suppresses its message. Exit code 1.
func NewSilentError(err error) *SilentError {
	return &SilentError{err: err, code: 1}
}

// NewSilentErrorWithCode wraps err with an explicit process exit code.
// Hook blocks use code 2, which the agent treats as a blocking decision.
func NewSilentErrorWithCode(err error, code int) *SilentError {
	return &SilentError{err: err, code: code}
}

func (e *SilentError) Error() string {
	if e.err == nil {
		return "silent error"
	}
	return e.err.Error()
}

func (e *SilentError) Unwrap() error {
	return e.err
}

// ExitCode returns the process exit code main should use.
func (e *SilentError) ExitCode() int {
	if e.code == 0 {
		return 1
	}
	return e.code
}
