// Command linuxcnc-cli is an interactive console for the LinuxCNC remote
// shell (linuxcncrsh). It sends each typed line to the machine controller,
// prints the reply, and reports controller errors after every command.
//
// Usage:
//
//	linuxcnc-cli <host>                 # interactive, port 5007
//	linuxcnc-cli --port 5008 cnc.local
//	linuxcnc-cli cnc.local < job.txt    # run commands from a file
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	linuxcnc "github.com/sleepybishop/linuxcnc-cli"
	"github.com/sleepybishop/linuxcnc-cli/console"
	"github.com/sleepybishop/linuxcnc-cli/history"
	"github.com/sleepybishop/linuxcnc-cli/index"
	"github.com/sleepybishop/linuxcnc-cli/macro"
	"github.com/sleepybishop/linuxcnc-cli/session"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// options holds the command-line flags. Flags that were set override the
// config file and the environment.
type options struct {
	configPath   string
	port         int
	timeout      time.Duration
	policy       string
	noErrorCheck bool
	verbose      bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd := newRootCmd(os.Stdin, os.Stdout, os.Stderr)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:           "linuxcnc-cli <host>",
		Short:         "Interactive console for the LinuxCNC remote shell",
		Version:       Version,
		Args:          cobra.ExactArgs(1),
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			setupLogging(stderr, opts.verbose)

			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			err = runConsole(cmd.Context(), args[0], cfg, stdin, stdout, stderr)
			if errors.Is(err, console.ErrTerminated) {
				return nil
			}
			return err
		},
	}
	cmd.CompletionOptions.DisableDefaultCmd = true
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	f := cmd.Flags()
	f.StringVar(&opts.configPath, "config", "", "config file (default "+linuxcnc.ConfigPath()+")")
	f.IntVarP(&opts.port, "port", "p", session.DefaultPort, "remote shell TCP port")
	f.DurationVar(&opts.timeout, "timeout", 0, "read window for each reply (e.g. 250ms)")
	f.StringVar(&opts.policy, "policy", linuxcnc.PolicyPoll, "read policy: poll or delay")
	f.BoolVar(&opts.noErrorCheck, "no-error-check", false, "do not query the remote error state after each command")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "log debug information to stderr")
	return cmd
}

func setupLogging(w io.Writer, verbose bool) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}

// loadConfig reads the config file, then applies environment overrides and
// the flags the user set, in that order.
func loadConfig(cmd *cobra.Command, opts options) (*linuxcnc.Config, error) {
	cfg, err := linuxcnc.LoadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}
	for _, w := range linuxcnc.ValidateConfig(cfg) {
		slog.Warn("config", "warning", w)
	}

	cfg.Connection.Port = linuxcnc.ResolvePort(cfg)
	cfg.Connection.ReadTimeout = linuxcnc.ResolveReadTimeout(cfg)
	cfg.Connection.ReadPolicy = linuxcnc.ResolveReadPolicy(cfg)
	cfg.Files.History = linuxcnc.ResolveHistoryPath(cfg)

	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Connection.Port = opts.port
	}
	if flags.Changed("timeout") {
		cfg.Connection.ReadTimeout = opts.timeout
	}
	if flags.Changed("policy") {
		switch opts.policy {
		case linuxcnc.PolicyPoll, linuxcnc.PolicyDelay:
			cfg.Connection.ReadPolicy = opts.policy
		default:
			return nil, fmt.Errorf("invalid --policy %q: want %q or %q", opts.policy, linuxcnc.PolicyPoll, linuxcnc.PolicyDelay)
		}
	}
	if opts.noErrorCheck {
		cfg.Session.ErrorCheck = false
	}
	return cfg, nil
}

func runConsole(ctx context.Context, host string, cfg *linuxcnc.Config, stdin io.Reader, stdout, stderr io.Writer) error {
	sess, err := session.Connect(ctx, host, cfg.Connection.Port, session.Options{
		Policy:        cfg.Connection.ReadPolicy,
		Timeout:       cfg.Connection.ReadTimeout,
		Delay:         cfg.Connection.ReadDelay,
		DialTimeout:   cfg.Connection.DialTimeout,
		BufferSize:    cfg.Connection.BufferSize,
		MaxLineLength: cfg.Connection.MaxLineLength,
	})
	if err != nil {
		return err
	}
	defer sess.Close()

	vocab := index.LoadPrefixIndex(cfg.Files.Vocabulary)
	hist := history.Load(cfg.Files.History, cfg.History.MaxLen)

	catalog := macro.NewCatalog(cfg.Files.MacroDir)
	defer catalog.Close()
	player := macro.NewPlayer(cfg.Files.MacroDir, sess, stdout)

	var transcript *console.Transcript
	if cfg.Files.Transcript != "" {
		transcript, err = console.OpenTranscript(cfg.Files.Transcript)
		if err != nil {
			slog.Warn("transcript disabled", "error", err)
		} else {
			defer transcript.Close()
			slog.Debug("recording transcript", "path", cfg.Files.Transcript, "session", transcript.SessionID())
		}
	}

	errStyles := console.NewStyles(stderr, cfg.UI.Color)
	opts := console.Options{
		Prompt:             host + "> ",
		ExitOnUnknownMacro: cfg.Session.ExitOnUnknownMacro,
		EchoBuiltins:       cfg.Session.EchoBuiltins,
		Builtins:           cfg.Builtins,
	}
	if linuxcnc.ErrorCheckEnabled(cfg) {
		opts.ErrorQuery = cfg.Session.ErrorQuery
		opts.ErrorOK = cfg.Session.ErrorOK
	}

	reader, editor := newLineReader(stdin, stdout, cfg, vocab, hist, catalog)
	if editor != nil {
		go func() {
			<-ctx.Done()
			editor.Restore()
		}()
	}

	loop := console.New(console.Params{
		Reader:     reader,
		Session:    sess,
		History:    hist,
		Vocabulary: vocab,
		Player:     player,
		Macros:     catalog.Names,
		Transcript: transcript,
		Out:        stdout,
		ErrOut:     stderr,
		Styles:     &errStyles,
		Options:    opts,
	})

	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		// The loop may be blocked reading input; history is already saved
		// after every command, so there is nothing left to flush.
		slog.Debug("shutting down")
		return nil
	}
}

// newLineReader returns the line editor when stdin is a terminal and a plain
// line reader otherwise.
func newLineReader(stdin io.Reader, stdout io.Writer, cfg *linuxcnc.Config, vocab *index.PrefixIndex, hist *history.Log, catalog *macro.Catalog) (console.LineReader, *Editor) {
	f, ok := stdin.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return console.NewStreamReader(stdin), nil
	}

	names := console.SentinelNames(cfg.Builtins, catalog.Names)
	editor := NewEditor(f, stdout, int(f.Fd()), EditorOptions{
		Complete: console.Completion(vocab, names),
		Hint:     console.Hints(vocab, names),
		History:  hist,
		Styles:   console.NewStyles(stdout, cfg.UI.Color),
	})
	return editor, editor
}
