// Package linuxcnc defines the configuration and shared record types for the
// linuxcnc-cli console. The console talks to a LinuxCNC remote shell over a
// plain TCP line protocol: requests are CR LF terminated command lines,
// responses are whatever bytes arrive within a bounded read.
package linuxcnc

import "time"

// Source values recorded on an Exchange.
const (
	SourceInteractive = "interactive"
	SourceBuiltin     = "builtin"
	SourceMacro       = "macro"
)

// Exchange is one request/response round-trip with the remote shell.
type Exchange struct {
	// ID is a lexically sortable identifier unique within the transcript.
	ID string `toml:"id"`
	// SessionID identifies the console process that produced the exchange.
	SessionID string `toml:"session"`
	// Timestamp is when the command was sent.
	Timestamp time.Time `toml:"timestamp"`
	// Source is where the command came from (interactive, builtin or macro).
	Source string `toml:"source"`
	// Name is the builtin or macro name for non-interactive sources.
	Name string `toml:"name,omitempty"`
	// Command is the line sent, without the line terminator.
	Command string `toml:"command"`
	// Response is the raw reply. Empty when the read window elapsed with no data.
	Response string `toml:"response"`
	// Diagnostic is the reply to the error query when error checking is on.
	Diagnostic string `toml:"diagnostic,omitempty"`
}

// Answered reports whether the remote shell replied within the read window.
func (e *Exchange) Answered() bool {
	return e.Response != ""
}
