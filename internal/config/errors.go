package config

import (
	"errors"
	"fmt"
)

var (
	// ErrHelp is returned when -h was given.
	ErrHelp = errors.New("help requested")

	ErrPasswordConflict = errors.New("please specify either password or password file, not both")
	ErrNoPassphrase     = errors.New("encryption requested but no password given")
	ErrNoHost           = errors.New("please specify server host")
	ErrNoPort           = errors.New("please specify port num")
)

// UsageError reports an unknown flag or a flag missing its argument.
type UsageError struct {
	Err error
}

func (e *UsageError) Error() string { return e.Err.Error() }
func (e *UsageError) Unwrap() error { return e.Err }

// PassphraseFileError reports a password file that could not be read.
type PassphraseFileError struct {
	Path string
	Err  error
}

func (e *PassphraseFileError) Error() string {
	return fmt.Sprintf("password file: %v", e.Err)
}

func (e *PassphraseFileError) Unwrap() error { return e.Err }

// IsUsage reports whether err should be followed by the usage text.
func IsUsage(err error) bool {
	var ue *UsageError
	return errors.As(err, &ue) ||
		errors.Is(err, ErrHelp) ||
		errors.Is(err, ErrNoHost) ||
		errors.Is(err, ErrNoPort)
}
