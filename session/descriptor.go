// Copyright 2026 The Veins Session Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/spf13/pflag"
)

// Mode selects how the session runs.
type Mode string

const (
	// ModeHeadless runs the engine without a display; the default.
	ModeHeadless Mode = "headless"

	// ModeInteractive runs the engine under a virtual display exported
	// through a session-scoped proxy route.
	ModeInteractive Mode = "interactive"
)

// Descriptor is the resolved invocation: what to run and how. Built
// once by Resolve and read-only afterwards.
type Descriptor struct {
	Mode Mode

	// UIBackend is the engine UI backend name (Cmdenv, Qtenv, ...).
	UIBackend string

	// ConfigLabel is the simulation config name. Informational only:
	// logged and recorded in the results manifest, never interpreted.
	ConfigLabel string

	// Token is the session capability token. Set exactly when Mode is
	// ModeInteractive. It is a secret bearer credential: the proxy
	// route derived from it is the only thing gating access to the
	// live session view.
	Token string

	// Passthrough holds every argument the resolver did not
	// recognize, in the original relative order. These are opaque:
	// they flow to the engine invocation as-is, never re-joined into
	// a command string.
	Passthrough []string
}

// Interactive reports whether the session exports a live display.
func (d *Descriptor) Interactive() bool { return d.Mode == ModeInteractive }

// graphicalBackends are UI backend values that imply a display, and
// therefore force interactive mode even without --gui-mode.
var graphicalBackends = []string{"Qtenv", "Tkenv"}

// tokenPattern constrains the capability token to characters that are
// safe as a proxy path segment and inside generated proxy
// configuration. The token stays opaque; this only rejects delimiters.
var tokenPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// newFlagSet registers the recognized flags. The flag set is used as a
// registry and for usage rendering; scanning is done by Resolve itself
// so that unrecognized engine arguments keep their relative order.
func newFlagSet() (*pflag.FlagSet, *flagValues) {
	fs := pflag.NewFlagSet("veins-session", pflag.ContinueOnError)
	values := &flagValues{
		guiMode:     fs.Bool("gui-mode", false, "run interactively with a live display exported through the session proxy"),
		token:       fs.String("vnc-uuid", "", "session capability token embedded in the proxy route (required with --gui-mode)"),
		configLabel: fs.String("config-name", "", "simulation config label, recorded in logs and the results manifest"),
		uiBackend:   fs.StringP("ui", "u", "", "engine UI backend (Cmdenv, Qtenv; a graphical backend implies --gui-mode)"),
	}
	return fs, values
}

type flagValues struct {
	guiMode     *bool
	token       *string
	configLabel *string
	uiBackend   *string
}

// Resolve parses the argument sequence into a Descriptor. Recognized
// flags are consumed; every other token is appended, in original
// relative order, to the passthrough sequence untouched. A help flag
// anywhere short-circuits everything: Resolve returns ErrHelp and the
// caller prints usage and exits 0 regardless of any other flags.
func Resolve(args []string) (*Descriptor, error) {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return nil, ErrHelp
		}
	}

	fs, values := newFlagSet()
	var passthrough []string

	i := 0
	for i < len(args) {
		arg := args[i]

		if arg == "--" {
			passthrough = append(passthrough, args[i+1:]...)
			break
		}

		flag, inline, hasInline := recognize(fs, arg)
		if flag == nil {
			passthrough = append(passthrough, arg)
			i++
			continue
		}

		switch {
		case flag.Value.Type() == "bool" && !hasInline:
			if err := fs.Set(flag.Name, "true"); err != nil {
				return nil, &UsageError{Reason: fmt.Sprintf("flag --%s: %v", flag.Name, err)}
			}
			i++
		case hasInline:
			if err := fs.Set(flag.Name, inline); err != nil {
				return nil, &UsageError{Reason: fmt.Sprintf("flag --%s: %v", flag.Name, err)}
			}
			i++
		default:
			if i+1 >= len(args) {
				return nil, &UsageError{Reason: fmt.Sprintf("flag --%s requires a value", flag.Name)}
			}
			if err := fs.Set(flag.Name, args[i+1]); err != nil {
				return nil, &UsageError{Reason: fmt.Sprintf("flag --%s: %v", flag.Name, err)}
			}
			i += 2
		}
	}

	interactive := *values.guiMode || isGraphicalBackend(*values.uiBackend)

	backend := *values.uiBackend
	if backend == "" {
		if interactive {
			backend = "Qtenv"
		} else {
			backend = "Cmdenv"
		}
	}

	token := *values.token
	if interactive && token == "" {
		return nil, &UsageError{Reason: "interactive mode requires a session token (--vnc-uuid)"}
	}
	if !interactive && token != "" {
		return nil, &UsageError{Reason: "a session token was provided but interactive mode was not requested"}
	}
	if token != "" && !tokenPattern.MatchString(token) {
		return nil, &UsageError{Reason: "session token may only contain letters, digits, hyphen, and underscore"}
	}

	mode := ModeHeadless
	if interactive {
		mode = ModeInteractive
	}

	return &Descriptor{
		Mode:        mode,
		UIBackend:   backend,
		ConfigLabel: *values.configLabel,
		Token:       token,
		Passthrough: passthrough,
	}, nil
}

// recognize matches arg against the registered flags: --name,
// --name=value, or a two-character -x shorthand. Returns nil when the
// token is not a recognized flag and therefore belongs to the engine.
func recognize(fs *pflag.FlagSet, arg string) (flag *pflag.Flag, inline string, hasInline bool) {
	if strings.HasPrefix(arg, "--") {
		body := arg[2:]
		if body == "" {
			return nil, "", false
		}
		name, value, hasValue := strings.Cut(body, "=")
		if f := fs.Lookup(name); f != nil {
			return f, value, hasValue
		}
		return nil, "", false
	}

	if len(arg) == 2 && arg[0] == '-' && arg[1] != '-' {
		if f := fs.ShorthandLookup(string(arg[1])); f != nil {
			return f, "", false
		}
	}
	return nil, "", false
}

func isGraphicalBackend(backend string) bool {
	for _, graphical := range graphicalBackends {
		if strings.EqualFold(backend, graphical) {
			return true
		}
	}
	return false
}

// Usage writes the invocation help text.
func Usage(w io.Writer) {
	fs, _ := newFlagSet()
	fmt.Fprintf(w, `Usage: veins-session [flags] [engine arguments...]

Runs one simulation job: starts the transport bridge (and, for
interactive sessions, the display chain and a session-scoped proxy
route), builds the project if markers are present, then executes the
simulation engine and exits with the engine's status.

Arguments not listed below pass through to the simulation engine in
their original order.

Flags:
%s`, fs.FlagUsages())
}
