// Package config turns the command line into the immutable configuration
// record handed to a transfer role.
package config

import "github.com/1ureka/udtcat/internal/crypt"

// Role represents the side of the transfer this process plays.
type Role string

const (
	RoleListener  Role = "listener"
	RoleInitiator Role = "initiator"
)

// Policy constants. None of them is user-configurable.
const (
	DefaultBufferSize     = 64 * 1024 * 1024 // transport send/receive buffer, bytes
	DefaultMaxSegmentSize = 8400             // max bytes per transport message
	DefaultBlastRate      = 1000             // Mbit/s when blast mode is on

	PassphraseSize = 32        // bytes of passphrase fed to the key derivation
	CipherName     = "aes-128" // cipher used for both directions
)

// Config is the finished configuration record. It is built once by
// Resolver.Resolve and passed to a role by value.
type Config struct {
	Host string // Initiator only
	Port string // Service name or number

	Role    Role
	Verbose bool

	SendBufferSize    int
	ReceiveBufferSize int
	MaxSegmentSize    int

	Blast     bool
	BlastRate int // Mbit/s

	UseEncryption bool
	Encrypter     *crypt.Context // non-nil iff UseEncryption
	Decrypter     *crypt.Context // non-nil iff UseEncryption
}

// builder collects settings while the resolver walks its validation gates.
type builder struct {
	cfg Config
}

// newBuilder returns a builder primed with the defaults.
func newBuilder() *builder {
	return &builder{cfg: Config{
		Role:              RoleInitiator,
		SendBufferSize:    DefaultBufferSize,
		ReceiveBufferSize: DefaultBufferSize,
		MaxSegmentSize:    DefaultMaxSegmentSize,
		BlastRate:         DefaultBlastRate,
	}}
}

// freeze returns the finished record.
func (b *builder) freeze() Config {
	return b.cfg
}
