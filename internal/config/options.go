package config

import (
	"fmt"
	"io"

	"github.com/spf13/pflag"
)

// Options holds the raw outcome of flag parsing, before any validation.
type Options struct {
	Listen  bool
	Verbose bool
	Encrypt bool

	Password        string
	PasswordSet     bool // -p occurred, possibly with an empty value
	PasswordFile    string
	PasswordFileSet bool // -f occurred, possibly with an empty value

	Args []string // positionals left after the flags
}

// ParseOptions parses args (without the program name) getopt-style: short
// flags may be combined (-nv), values may be attached (-psecret) and flags may
// appear between positionals. The last -p / -f wins.
func ParseOptions(args []string) (*Options, error) {
	var o Options
	var help bool

	fs := pflag.NewFlagSet("udtcat", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.Usage = func() {}
	fs.SortFlags = false

	fs.BoolVarP(&o.Listen, "listen", "l", false, "server")
	fs.BoolVarP(&o.Encrypt, "encrypt", "n", false, "use encryption")
	fs.StringVarP(&o.Password, "password", "p", "", "password string")
	fs.StringVarP(&o.PasswordFile, "password-file", "f", "", "path to password")
	fs.BoolVarP(&o.Verbose, "verbose", "v", false, "verbose")
	fs.BoolVarP(&help, "help", "h", false, "print this help")

	if err := fs.Parse(args); err != nil {
		return nil, &UsageError{Err: err}
	}
	if help {
		return nil, ErrHelp
	}

	o.PasswordSet = fs.Changed("password")
	o.PasswordFileSet = fs.Changed("password-file")
	o.Args = fs.Args()

	return &o, nil
}

// Usage writes the command summary to w.
func Usage(w io.Writer) {
	fmt.Fprintln(w, "usage: udtcat [udtcat options] host port")
	fmt.Fprintln(w, "       udtcat -l [udtcat options] port")
	fmt.Fprintln(w, "options:")
	fmt.Fprintf(w, "\t%-16s%s\n", "-l", "server")
	fmt.Fprintf(w, "\t%-16s%s\n", "-n", "use encryption")
	fmt.Fprintf(w, "\t%-16s%s\n", "-p password", "password string")
	fmt.Fprintf(w, "\t%-16s%s\n", "-f path", "path to password")
	fmt.Fprintf(w, "\t%-16s%s\n", "-v", "verbose")
	fmt.Fprintf(w, "\t%-16s%s\n", "-h", "print this help")
}

// PassphraseHelp writes the corrective choices for ErrNoPassphrase to w.
func PassphraseHelp(w io.Writer) {
	fmt.Fprintln(w, "Please either:")
	fmt.Fprintln(w, " (1) include password in cli [-p password]")
	fmt.Fprintln(w, " (2) read on in from file [-f /path/to/password/file]")
	fmt.Fprintln(w, " (3) choose not to use encryption, remove [-n]")
}
