package config

import (
	"fmt"

	"github.com/1ureka/udtcat/internal/crypt"
	"github.com/1ureka/udtcat/internal/util"
)

// Resolver turns raw command-line arguments into a Config. It never exits the
// process; every failure comes back as an error for the caller to report.
type Resolver struct {
	// Warn receives advisory, non-fatal diagnostics. Nil means util.LogWarning.
	Warn func(format string, args ...interface{})
}

// Resolve is shorthand for a zero Resolver.
func Resolve(args []string) (Config, error) {
	var r Resolver
	return r.Resolve(args)
}

// Resolve runs the validation gates in their fixed order:
//  1. password / password file mutual exclusion (only with -n)
//  2. password file read
//  3. "password without encryption" warning
//  4. "encryption without password" check
//  5. positional host / port
//  6. cipher context construction
//
// Later gates rely on the earlier ones having passed.
func (r *Resolver) Resolve(args []string) (Config, error) {
	opts, err := ParseOptions(args)
	if err != nil {
		return Config{}, err
	}

	b := newBuilder()
	b.cfg.Verbose = opts.Verbose
	b.cfg.UseEncryption = opts.Encrypt
	if opts.Listen {
		b.cfg.Role = RoleListener
	}

	if opts.Encrypt && opts.PasswordSet && opts.PasswordFileSet {
		return Config{}, ErrPasswordConflict
	}

	pass, err := resolvePassphrase(opts)
	if err != nil {
		return Config{}, err
	}
	defer pass.Destroy()

	if !opts.Encrypt && pass != nil {
		r.warn("You've specified a password, but you don't have encryption turned on. Proceeding without encryption.")
	}

	if opts.Encrypt && pass == nil {
		return Config{}, ErrNoPassphrase
	}

	if err := b.resolvePositionals(opts.Args); err != nil {
		return Config{}, err
	}

	if opts.Encrypt {
		enc, dec, err := BuildCipherContexts(pass)
		if err != nil {
			return Config{}, err
		}
		b.cfg.Encrypter = enc
		b.cfg.Decrypter = dec
	}

	return b.freeze(), nil
}

func (r *Resolver) warn(format string, args ...interface{}) {
	if r.Warn != nil {
		r.Warn(format, args...)
		return
	}
	util.LogWarning(format, args...)
}

// resolvePassphrase returns the secret from -f or -p, or nil when neither was
// given. A password file takes precedence over an inline password.
func resolvePassphrase(opts *Options) (*Passphrase, error) {
	if opts.PasswordFileSet {
		return ReadPassphraseFile(opts.PasswordFile)
	}
	if opts.PasswordSet {
		return NewPassphrase([]byte(opts.Password)), nil
	}
	return nil, nil
}

// resolvePositionals consumes host (initiator only) and port.
func (b *builder) resolvePositionals(args []string) error {
	if b.cfg.Role == RoleInitiator {
		if len(args) == 0 || args[0] == "" {
			return ErrNoHost
		}
		b.cfg.Host = args[0]
		args = args[1:]
	}

	if len(args) == 0 || args[0] == "" {
		return ErrNoPort
	}
	b.cfg.Port = args[0]

	return nil
}

// BuildCipherContexts creates the encrypt and decrypt contexts from one
// passphrase, then scrubs it. The passphrase is scrubbed on failure too.
func BuildCipherContexts(pass *Passphrase) (enc, dec *crypt.Context, err error) {
	defer pass.Destroy()

	enc, err = crypt.New(crypt.Encrypt, PassphraseSize, pass.Bytes(), CipherName)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize encryption: %w", err)
	}

	dec, err = crypt.New(crypt.Decrypt, PassphraseSize, pass.Bytes(), CipherName)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize decryption: %w", err)
	}

	return enc, dec, nil
}
