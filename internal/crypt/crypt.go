// Package crypt builds the symmetric cipher contexts that protect the stream.
//
// A Context is created once per direction from the shared passphrase. The
// encrypting side prefixes its output with a random IV; the decrypting side
// consumes that IV before producing plaintext. Both sides derive the same AES
// key, so an encrypt/decrypt pair built from one passphrase round-trips any
// byte sequence.
package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// Mode selects the direction a Context works in.
type Mode int

const (
	Encrypt Mode = iota + 1
	Decrypt
)

func (m Mode) String() string {
	switch m {
	case Encrypt:
		return "encrypt"
	case Decrypt:
		return "decrypt"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

var (
	ErrKeyLength     = errors.New("crypt: key length must be positive")
	ErrEmptyKey      = errors.New("crypt: empty passphrase")
	ErrUnknownCipher = errors.New("crypt: unsupported cipher")
	ErrWrongMode     = errors.New("crypt: context used in the wrong direction")
)

// Key derivation parameters. Both peers must agree on them.
const (
	ivSize        = aes.BlockSize
	kdfIterations = 4096
)

var kdfSalt = []byte("udtcat/aes-ctr/v1")

// cipherKeySizes maps the supported algorithm names to AES key sizes.
var cipherKeySizes = map[string]int{
	"aes-128": 16,
	"aes-192": 24,
	"aes-256": 32,
}

// Context is an opaque, immutable cipher handle for one direction.
type Context struct {
	mode      Mode
	algorithm string
	block     cipher.Block
}

// New builds a cipher context. The key is normalised to exactly keyLength
// bytes (zero padded or truncated) and stretched with PBKDF2-HMAC-SHA256 to
// the key size of algorithm. New does not retain key; the caller stays
// responsible for scrubbing it.
func New(mode Mode, keyLength int, key []byte, algorithm string) (*Context, error) {
	if mode != Encrypt && mode != Decrypt {
		return nil, fmt.Errorf("crypt: invalid mode %v", mode)
	}
	if keyLength <= 0 {
		return nil, ErrKeyLength
	}
	if len(key) == 0 {
		return nil, ErrEmptyKey
	}

	name := strings.ToLower(algorithm)
	size, ok := cipherKeySizes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCipher, algorithm)
	}

	material := make([]byte, keyLength)
	copy(material, key)
	defer clear(material)

	derived := pbkdf2.Key(material, kdfSalt, kdfIterations, size, sha256.New)
	defer clear(derived)

	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("crypt: %w", err)
	}

	return &Context{mode: mode, algorithm: name, block: block}, nil
}

// Mode reports the direction of the context.
func (c *Context) Mode() Mode { return c.mode }

// Algorithm reports the normalised algorithm name.
func (c *Context) Algorithm() string { return c.algorithm }

// NewWriter returns a writer that encrypts everything written to it into w.
// The IV is emitted lazily with the first Write, so an empty stream produces
// no output at all.
func (c *Context) NewWriter(w io.Writer) (io.Writer, error) {
	if c.mode != Encrypt {
		return nil, ErrWrongMode
	}
	return &encWriter{block: c.block, w: w}, nil
}

// NewReader returns a reader that decrypts the stream produced by an
// encrypting context's writer.
func (c *Context) NewReader(r io.Reader) (io.Reader, error) {
	if c.mode != Decrypt {
		return nil, ErrWrongMode
	}
	return &decReader{block: c.block, r: r}, nil
}

// ---------------------------------------------------------------------------
// Stream adapters
// ---------------------------------------------------------------------------

type encWriter struct {
	block  cipher.Block
	w      io.Writer
	stream cipher.Stream
	buf    []byte
}

func (e *encWriter) Write(p []byte) (int, error) {
	if e.stream == nil {
		iv := make([]byte, ivSize)
		if _, err := rand.Read(iv); err != nil {
			return 0, fmt.Errorf("crypt: generating IV: %w", err)
		}
		if _, err := e.w.Write(iv); err != nil {
			return 0, err
		}
		e.stream = cipher.NewCTR(e.block, iv)
	}

	if cap(e.buf) < len(p) {
		e.buf = make([]byte, len(p))
	}
	out := e.buf[:len(p)]
	e.stream.XORKeyStream(out, p)

	n, err := e.w.Write(out)
	if err == nil && n < len(p) {
		err = io.ErrShortWrite
	}
	return n, err
}

type decReader struct {
	block  cipher.Block
	r      io.Reader
	stream cipher.Stream
}

func (d *decReader) Read(p []byte) (int, error) {
	if d.stream == nil {
		iv := make([]byte, ivSize)
		if _, err := io.ReadFull(d.r, iv); err != nil {
			if errors.Is(err, io.EOF) {
				return 0, io.EOF
			}
			return 0, fmt.Errorf("crypt: reading IV: %w", err)
		}
		d.stream = cipher.NewCTR(d.block, iv)
	}

	n, err := d.r.Read(p)
	if n > 0 {
		d.stream.XORKeyStream(p[:n], p[:n])
	}
	return n, err
}
