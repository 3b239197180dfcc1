package config

import (
	"errors"
	"io"
	"os"
)

// MaxPassphraseFileSize caps how much of a password file is read, so a
// device or FIFO cannot grow the secret without bound.
const MaxPassphraseFileSize = 1 << 20

// ErrPassphraseTooLarge is wrapped in a PassphraseFileError when the file
// exceeds MaxPassphraseFileSize.
var ErrPassphraseTooLarge = errors.New("password file too large")

// Passphrase owns the secret bytes between resolution and cipher
// construction. Destroy scrubs them; it is safe to call on nil and more than
// once.
type Passphrase struct {
	b []byte
}

// NewPassphrase takes ownership of b.
func NewPassphrase(b []byte) *Passphrase {
	return &Passphrase{b: b}
}

// Bytes returns the secret. The slice is invalid after Destroy.
func (p *Passphrase) Bytes() []byte {
	if p == nil {
		return nil
	}
	return p.b
}

// Len returns the secret length in bytes.
func (p *Passphrase) Len() int {
	return len(p.Bytes())
}

// Destroy overwrites the secret with zeros and releases it.
func (p *Passphrase) Destroy() {
	if p == nil {
		return
	}
	clear(p.b)
	p.b = nil
}

// ReadPassphraseFile returns the exact contents of path. Nothing is trimmed:
// a trailing newline is part of the secret.
func ReadPassphraseFile(path string) (*Passphrase, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &PassphraseFileError{Path: path, Err: err}
	}
	defer f.Close()

	hint := 0
	if fi, err := f.Stat(); err == nil && fi.Mode().IsRegular() {
		hint = int(min(fi.Size(), MaxPassphraseFileSize))
	}

	b, err := readAllScrubbed(f, hint)
	if err != nil {
		clear(b)
		return nil, &PassphraseFileError{Path: path, Err: err}
	}

	return NewPassphrase(b), nil
}

// readAllScrubbed works like io.ReadAll but zeroes every buffer it outgrows,
// so no partial copy of the secret is left behind for the collector. It stops
// with ErrPassphraseTooLarge past MaxPassphraseFileSize bytes.
func readAllScrubbed(r io.Reader, hint int) ([]byte, error) {
	b := make([]byte, 0, hint+512)
	for {
		if len(b) == cap(b) {
			grown := make([]byte, len(b), 2*cap(b))
			copy(grown, b)
			clear(b)
			b = grown
		}

		n, err := r.Read(b[len(b):cap(b)])
		b = b[:len(b)+n]
		if len(b) > MaxPassphraseFileSize {
			return b, ErrPassphraseTooLarge
		}
		if err == io.EOF {
			return b, nil
		}
		if err != nil {
			return b, err
		}
	}
}
