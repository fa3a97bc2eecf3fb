// Package console implements the interactive session engine: it reads one
// line at a time, decides whether the line is a remote command or a local
// directive, and drives the remote shell session accordingly.
package console

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	linuxcnc "github.com/sleepybishop/linuxcnc-cli"
	"github.com/sleepybishop/linuxcnc-cli/history"
	"github.com/sleepybishop/linuxcnc-cli/index"
	"github.com/sleepybishop/linuxcnc-cli/macro"
	"github.com/sleepybishop/linuxcnc-cli/session"
)

var (
	// ErrInterrupt is returned by a LineReader when the operator interrupts input.
	ErrInterrupt = errors.New("interrupted")
	// ErrTerminated is returned by Run when an unknown macro ends the session.
	ErrTerminated = errors.New("session terminated by unrecognized command")

	errQuit = errors.New("quit")
)

// LineReader supplies operator input one line at a time. It returns io.EOF
// at end of input and ErrInterrupt when the operator interrupts.
type LineReader interface {
	ReadLine(prompt string) (string, error)
}

// Transport is the remote shell session as the loop uses it.
type Transport interface {
	Exchange(cmd string) ([]byte, error)
}

// Options controls loop behaviour.
type Options struct {
	// Prompt is shown before every line.
	Prompt string
	// ErrorQuery is sent after every command; empty disables the check.
	ErrorQuery string
	// ErrorOK is the reply prefix meaning the remote shell has no error.
	ErrorOK string
	// ExitOnUnknownMacro ends the session when a macro cannot be found.
	ExitOnUnknownMacro bool
	// EchoBuiltins prints the replies to builtin sequences.
	EchoBuiltins bool
	// Builtins maps a sentinel name to the commands it expands to.
	Builtins map[string][]string
}

// Params are the collaborators a Loop drives. Reader, Session and History
// are required.
type Params struct {
	Reader     LineReader
	Session    Transport
	History    *history.Log
	Vocabulary *index.PrefixIndex
	Player     *macro.Player
	// Macros lists the macro names for help and suggestions; may be nil.
	Macros func() []string
	// Transcript records every exchange; may be nil.
	Transcript *Transcript
	Out        io.Writer
	ErrOut     io.Writer
	// Styles defaults to automatic color detection on ErrOut.
	Styles  *Styles
	Options Options
}

// Loop is the interaction loop. It owns its collaborators for the lifetime
// of the session and is driven from a single goroutine.
type Loop struct {
	reader     LineReader
	session    Transport
	history    *history.Log
	vocab      *index.PrefixIndex
	fuzzy      *index.FuzzyIndex
	player     *macro.Player
	names      NameSource
	transcript *Transcript
	out        io.Writer
	errOut     io.Writer
	styles     Styles
	opts       Options
}

// New creates a loop from p.
func New(p Params) *Loop {
	l := &Loop{
		reader:     p.Reader,
		session:    p.Session,
		history:    p.History,
		vocab:      p.Vocabulary,
		player:     p.Player,
		transcript: p.Transcript,
		out:        p.Out,
		errOut:     p.ErrOut,
		opts:       p.Options,
	}
	if l.vocab == nil {
		l.vocab = index.NewPrefixIndex(nil)
	}
	l.fuzzy = index.NewFuzzyIndex(l.vocab.Words())
	if l.out == nil {
		l.out = io.Discard
	}
	if l.errOut == nil {
		l.errOut = io.Discard
	}
	if p.Styles != nil {
		l.styles = *p.Styles
	} else {
		l.styles = NewStyles(l.errOut, linuxcnc.ColorAuto)
	}
	l.names = SentinelNames(l.opts.Builtins, p.Macros)
	if l.player != nil {
		l.player.SetObserver(func(name, cmd string, resp []byte) {
			l.record(linuxcnc.Exchange{Source: linuxcnc.SourceMacro, Name: name, Command: cmd, Response: string(resp)})
		})
	}
	return l
}

// Run reads and handles lines until end of input, an interrupt or a quit
// directive (nil), a transport failure (the error), or an unknown macro
// with ExitOnUnknownMacro set (ErrTerminated). A cancelled ctx ends the
// loop before the next line is read.
func (l *Loop) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := l.reader.ReadLine(l.opts.Prompt)
		if errors.Is(err, io.EOF) || errors.Is(err, ErrInterrupt) {
			return nil
		}
		if errors.Is(err, ErrInputTooLong) {
			l.reportLocal(err)
			continue
		}
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}

		if err := l.Handle(line); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			return err
		}
	}
}

// Handle processes a single input line.
func (l *Loop) Handle(line string) error {
	d := Classify(line, l.opts.Builtins)
	slog.Debug("input", "kind", d.Kind, "name", d.Name)

	switch d.Kind {
	case KindEmpty:
		return nil
	case KindHistoryLen:
		l.setHistoryLen(d)
		return nil
	case KindQuit:
		return errQuit
	case KindHelp:
		l.help()
		return nil
	case KindBuiltin:
		return l.runBuiltin(d.Name)
	case KindMacro:
		return l.runMacro(d)
	default:
		return l.runCommand(line)
	}
}

func (l *Loop) setHistoryLen(d Directive) {
	usage := "usage: " + Sentinel + DirectiveHistoryLen + " <n>"
	if len(d.Args) != 1 {
		fmt.Fprintln(l.errOut, usage)
		return
	}
	n, err := strconv.Atoi(d.Args[0])
	if err != nil {
		fmt.Fprintln(l.errOut, usage)
		return
	}
	if err := l.history.SetMaxLen(n); err != nil {
		if errors.Is(err, history.ErrInvalidMaxLen) {
			fmt.Fprintln(l.errOut, err)
			return
		}
		slog.Warn("failed to save history", "error", err)
	}
}

func (l *Loop) runCommand(line string) error {
	ex := linuxcnc.Exchange{Source: linuxcnc.SourceInteractive, Command: line, Timestamp: time.Now()}
	resp, err := l.session.Exchange(line)
	if errors.Is(err, session.ErrLineTooLong) {
		l.reportLocal(err)
		return nil
	}
	// Only a line rejected before sending stays out of history.
	if herr := l.history.Add(line); herr != nil {
		slog.Warn("failed to save history", "error", herr)
	}
	if err != nil {
		return err
	}
	ex.Response = string(resp)
	if err := l.write(resp); err != nil {
		return err
	}

	if l.opts.ErrorQuery != "" {
		diag, err := l.session.Exchange(l.opts.ErrorQuery)
		if err != nil {
			return err
		}
		ex.Diagnostic = string(diag)
		l.reportDiagnostic(line, diag)
	}
	if !ex.Answered() {
		slog.Debug("no reply", "command", line)
	}
	l.record(ex)
	return nil
}

// reportDiagnostic warns on the error stream when the error query reply is
// anything other than the no-error token. An empty reply is not reported.
func (l *Loop) reportDiagnostic(line string, diag []byte) {
	if len(diag) == 0 {
		slog.Debug("no reply to error query", "query", l.opts.ErrorQuery)
		return
	}
	if bytes.HasPrefix(diag, []byte(l.opts.ErrorOK)) {
		return
	}
	fmt.Fprintln(l.errOut, l.styles.Error.Render(strings.TrimRight(string(diag), "\r\n")))

	if l.vocab.Covers(line) {
		return
	}
	if near := l.fuzzy.Nearest(line, 1); len(near) > 0 {
		fmt.Fprintln(l.errOut, l.styles.Notice.Render(fmt.Sprintf("did you mean %q?", near[0])))
	}
}

func (l *Loop) runBuiltin(name string) error {
	for _, cmd := range l.opts.Builtins[name] {
		resp, err := l.session.Exchange(cmd)
		if errors.Is(err, session.ErrLineTooLong) {
			// The rest of the sequence is not sent.
			l.reportLocal(fmt.Errorf("%s%s: %w", Sentinel, name, err))
			return nil
		}
		if err != nil {
			return fmt.Errorf("%s%s: %w", Sentinel, name, err)
		}
		l.record(linuxcnc.Exchange{Source: linuxcnc.SourceBuiltin, Name: name, Command: cmd, Response: string(resp)})
		if l.opts.EchoBuiltins {
			if err := l.write(resp); err != nil {
				return err
			}
		}
	}
	return nil
}

func (l *Loop) runMacro(d Directive) error {
	var err error
	if l.player == nil {
		err = macro.ErrNotFound
	} else {
		err = l.player.Play(d.Name)
	}
	if err == nil {
		return nil
	}
	if errors.Is(err, session.ErrLineTooLong) {
		l.reportLocal(err)
		return nil
	}
	if !errors.Is(err, macro.ErrNotFound) {
		return err
	}

	slog.Debug("macro not found", "name", d.Name, "error", err)
	fmt.Fprintf(l.out, "Unrecognized command: %s\n", d.Line)
	if near := index.NewFuzzyIndex(l.names()).Nearest(d.Name, 1); len(near) > 0 {
		fmt.Fprintln(l.out, l.styles.Notice.Render(fmt.Sprintf("did you mean %s%s?", Sentinel, near[0])))
	}
	if l.opts.ExitOnUnknownMacro {
		return ErrTerminated
	}
	return nil
}

func (l *Loop) help() {
	fmt.Fprintln(l.out, "directives:")
	fmt.Fprintf(l.out, "  %s%s <n>  set the number of history entries kept\n", Sentinel, DirectiveHistoryLen)
	fmt.Fprintf(l.out, "  %s%s          list builtins and macros\n", Sentinel, DirectiveHelp)
	fmt.Fprintf(l.out, "  %s%s          exit\n", Sentinel, DirectiveQuit)
	if len(l.opts.Builtins) > 0 {
		fmt.Fprintln(l.out, "builtins:")
		names := make([]string, 0, len(l.opts.Builtins))
		for name := range l.opts.Builtins {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(l.out, "  %s%-12s %s\n", Sentinel, name, strings.Join(l.opts.Builtins[name], "; "))
		}
	}
	if l.player != nil {
		fmt.Fprintf(l.out, "macros (%s):\n", l.player.Dir())
		for _, name := range l.names() {
			if l.isMacroName(name) {
				fmt.Fprintf(l.out, "  %s%s\n", Sentinel, name)
			}
		}
	}
}

func (l *Loop) isMacroName(name string) bool {
	switch name {
	case DirectiveHistoryLen, DirectiveHelp, DirectiveQuit, DirectiveExit:
		return false
	}
	_, builtin := l.opts.Builtins[name]
	return !builtin
}

// write copies a reply to the output stream.
func (l *Loop) write(resp []byte) error {
	if _, err := l.out.Write(resp); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

// reportLocal prints an operator input error; the session carries on.
func (l *Loop) reportLocal(err error) {
	fmt.Fprintln(l.errOut, l.styles.Error.Render(err.Error()))
}

func (l *Loop) record(ex linuxcnc.Exchange) {
	if l.transcript == nil {
		return
	}
	if err := l.transcript.Record(ex); err != nil {
		slog.Warn("failed to write transcript", "error", err)
	}
}
