package console

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	linuxcnc "github.com/sleepybishop/linuxcnc-cli"
	"github.com/sleepybishop/linuxcnc-cli/history"
	"github.com/sleepybishop/linuxcnc-cli/index"
	"github.com/sleepybishop/linuxcnc-cli/macro"
	"github.com/sleepybishop/linuxcnc-cli/session"
	"github.com/sleepybishop/linuxcnc-cli/session/sessiontest"
)

// remoteShell imitates linuxcncrsh: get commands return a value, set
// commands are acknowledged, "get error" returns errorReply and anything
// starting with "silent" gets no reply.
func remoteShell(errorReply string) sessiontest.Handler {
	return func(line string) (string, bool) {
		switch {
		case line == "get error":
			return errorReply, true
		case strings.HasPrefix(line, "silent"):
			return "", false
		case strings.HasPrefix(line, "get "):
			return strings.ToUpper(strings.TrimPrefix(line, "get ")) + " VALUE\r\n", true
		default:
			return strings.ToUpper(line) + " ACK\r\n", true
		}
	}
}

type fixture struct {
	srv     *sessiontest.Server
	history *history.Log
	dir     string
	out     bytes.Buffer
	errOut  bytes.Buffer
	script  bytes.Buffer
}

func (f *fixture) writeMacro(t *testing.T, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "macros", name), []byte(content), 0o644))
}

// run plays input through a loop connected to a fake remote shell and
// returns the loop's result.
func (f *fixture) run(t *testing.T, input string, opts Options, timeout time.Duration) error {
	t.Helper()
	sess, err := session.Connect(context.Background(), f.srv.Host(), f.srv.Port(), session.Options{Timeout: timeout})
	require.NoError(t, err)
	defer sess.Close()

	macroDir := filepath.Join(f.dir, "macros")
	catalog := macro.NewCatalog(macroDir)
	defer catalog.Close()

	styles := NewStyles(&f.errOut, linuxcnc.ColorNever)
	loop := New(Params{
		Reader:     NewStreamReader(strings.NewReader(input)),
		Session:    sess,
		History:    f.history,
		Vocabulary: index.NewPrefixIndex([]string{"set feed", "set home", "get error"}),
		Player:     macro.NewPlayer(macroDir, sess, &f.out),
		Macros:     catalog.Names,
		Transcript: NewTranscript(&f.script),
		Out:        &f.out,
		ErrOut:     &f.errOut,
		Styles:     &styles,
		Options:    opts,
	})
	return loop.Run(context.Background())
}

func newFixture(t *testing.T, handler sessiontest.Handler) *fixture {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "macros"), 0o755))
	return &fixture{
		srv:     sessiontest.Start(t, handler),
		history: history.Load(filepath.Join(dir, "history.txt"), 100),
		dir:     dir,
	}
}

func errorCheckOptions() Options {
	return Options{ErrorQuery: "get error", ErrorOK: "ERROR OK", EchoBuiltins: true}
}

func TestCommandIsSentAndReplyPrinted(t *testing.T) {
	f := newFixture(t, remoteShell("ERROR OK\r\n"))

	require.NoError(t, f.run(t, "get mode\n", errorCheckOptions(), time.Second))

	assert.Equal(t, []string{"get mode", "get error"}, f.srv.Lines())
	assert.Equal(t, "MODE VALUE\r\n", f.out.String())
	assert.Empty(t, f.errOut.String())
	assert.Equal(t, []string{"get mode"}, f.history.Entries())

	reloaded := history.Load(f.history.Path(), 100)
	assert.Equal(t, []string{"get mode"}, reloaded.Entries())
}

func TestRemoteErrorIsReportedAndLoopContinues(t *testing.T) {
	f := newFixture(t, remoteShell("ERROR unknown command\r\n"))

	require.NoError(t, f.run(t, "set feed 100\nset home\n", errorCheckOptions(), time.Second))

	assert.Equal(t, []string{"set feed 100", "get error", "set home", "get error"}, f.srv.Lines())
	assert.Equal(t, 2, strings.Count(f.errOut.String(), "ERROR unknown command\n"))
	assert.NotContains(t, f.errOut.String(), "did you mean", "known commands get no suggestion")
}

func TestRemoteErrorSuggestsNearestCommand(t *testing.T) {
	f := newFixture(t, remoteShell("ERROR unknown command\r\n"))

	require.NoError(t, f.run(t, "set hom\n", errorCheckOptions(), time.Second))

	assert.Contains(t, f.errOut.String(), `did you mean "set home"?`)
}

func TestErrorCheckDisabled(t *testing.T) {
	f := newFixture(t, remoteShell("ERROR bad\r\n"))

	require.NoError(t, f.run(t, "get mode\n", Options{}, time.Second))

	assert.Equal(t, []string{"get mode"}, f.srv.Lines())
	assert.Empty(t, f.errOut.String())
}

func TestEmptyLinesAreIgnored(t *testing.T) {
	f := newFixture(t, remoteShell("ERROR OK\r\n"))

	require.NoError(t, f.run(t, "\n   \n", errorCheckOptions(), time.Second))

	assert.Empty(t, f.srv.Lines())
	assert.Equal(t, 0, f.history.Len())
}

func TestHistoryLenDirective(t *testing.T) {
	f := newFixture(t, remoteShell("ERROR OK\r\n"))

	require.NoError(t, f.run(t, "/historylen 50\n", errorCheckOptions(), time.Second))

	assert.Equal(t, 50, f.history.MaxLen())
	assert.Empty(t, f.srv.WaitLines(1, 50*time.Millisecond), "directive never reaches the transport")
	assert.Equal(t, 0, f.history.Len())
}

func TestHistoryLenDirectiveRejectsBadArgument(t *testing.T) {
	f := newFixture(t, remoteShell("ERROR OK\r\n"))

	require.NoError(t, f.run(t, "/historylen many\n/historylen 0\n/historylen\n", errorCheckOptions(), time.Second))

	assert.Equal(t, 100, f.history.MaxLen())
	assert.Equal(t, 2, strings.Count(f.errOut.String(), "usage: /historylen <n>"))
	assert.Contains(t, f.errOut.String(), "history length must be at least 1")
}

func TestMacroIsPlayedInOrder(t *testing.T) {
	f := newFixture(t, remoteShell("ERROR OK\r\n"))
	f.writeMacro(t, "pair", "cmd1\ncmd2\n")

	require.NoError(t, f.run(t, "/pair\n", errorCheckOptions(), time.Second))

	assert.Equal(t, []string{"cmd1", "cmd2"}, f.srv.Lines())
	assert.Equal(t, "CMD1 ACK\r\nCMD2 ACK\r\n", f.out.String())
	assert.Equal(t, 0, f.history.Len(), "macro invocations are not recorded in history")
}

func TestUnknownMacroContinuesByDefault(t *testing.T) {
	f := newFixture(t, remoteShell("ERROR OK\r\n"))
	f.writeMacro(t, "startup", "get mode\n")

	require.NoError(t, f.run(t, "/startu\nget mode\n", errorCheckOptions(), time.Second))

	assert.Contains(t, f.out.String(), "Unrecognized command: /startu\n")
	assert.Contains(t, f.out.String(), "did you mean /startup?")
	assert.Equal(t, []string{"get mode", "get error"}, f.srv.Lines())
}

func TestUnknownMacroCanTerminateSession(t *testing.T) {
	f := newFixture(t, remoteShell("ERROR OK\r\n"))

	opts := errorCheckOptions()
	opts.ExitOnUnknownMacro = true
	err := f.run(t, "/nope\nget mode\n", opts, time.Second)

	require.ErrorIs(t, err, ErrTerminated)
	assert.Contains(t, f.out.String(), "Unrecognized command: /nope\n")
	assert.Empty(t, f.srv.WaitLines(1, 50*time.Millisecond))
}

func TestBuiltinSequence(t *testing.T) {
	f := newFixture(t, remoteShell("ERROR OK\r\n"))

	opts := errorCheckOptions()
	opts.Builtins = map[string][]string{"home": {"set mode manual", "set home 0"}}
	require.NoError(t, f.run(t, "/home\n", opts, time.Second))

	assert.Equal(t, []string{"set mode manual", "set home 0"}, f.srv.Lines())
	assert.Equal(t, "SET MODE MANUAL ACK\r\nSET HOME 0 ACK\r\n", f.out.String())
}

func TestBuiltinRepliesDiscardedWithoutEcho(t *testing.T) {
	f := newFixture(t, remoteShell("ERROR OK\r\n"))

	opts := Options{Builtins: map[string][]string{"run": {"set mode auto", "set run"}}}
	require.NoError(t, f.run(t, "/run\n", opts, time.Second))

	assert.Equal(t, []string{"set mode auto", "set run"}, f.srv.Lines())
	assert.Empty(t, f.out.String())
}

func TestSilentRemoteDoesNotBlock(t *testing.T) {
	f := newFixture(t, sessiontest.Silent)

	done := make(chan error, 1)
	go func() {
		done <- f.run(t, "set feed 100\nget mode\n", errorCheckOptions(), 20*time.Millisecond)
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("loop blocked on a silent remote")
	}
	assert.Equal(t, []string{"set feed 100", "get error", "get mode", "get error"}, f.srv.Lines())
	assert.Empty(t, f.out.String())
	assert.Empty(t, f.errOut.String())
}

func TestQuitStopsLoop(t *testing.T) {
	f := newFixture(t, remoteShell("ERROR OK\r\n"))

	require.NoError(t, f.run(t, "/quit\nget mode\n", errorCheckOptions(), time.Second))
	assert.Empty(t, f.srv.WaitLines(1, 50*time.Millisecond))
}

func TestHelpListsBuiltinsAndMacros(t *testing.T) {
	f := newFixture(t, remoteShell("ERROR OK\r\n"))
	f.writeMacro(t, "warmup", "get mode\n")

	opts := errorCheckOptions()
	opts.Builtins = map[string][]string{"init": {"set machine on"}}
	require.NoError(t, f.run(t, "/help\n", opts, time.Second))

	assert.Contains(t, f.out.String(), "/init")
	assert.Contains(t, f.out.String(), "set machine on")
	assert.Contains(t, f.out.String(), "/warmup")
	assert.Empty(t, f.srv.Lines())
}

func TestTranscriptRecordsExchanges(t *testing.T) {
	f := newFixture(t, remoteShell("ERROR OK\r\n"))
	f.writeMacro(t, "m", "cmd1\n")

	require.NoError(t, f.run(t, "get mode\n/m\n", errorCheckOptions(), time.Second))

	exchanges, err := ReadTranscript(&f.script)
	require.NoError(t, err)
	require.Len(t, exchanges, 2)

	assert.Equal(t, linuxcnc.SourceInteractive, exchanges[0].Source)
	assert.Equal(t, "get mode", exchanges[0].Command)
	assert.Equal(t, "MODE VALUE\r\n", exchanges[0].Response)
	assert.Equal(t, "ERROR OK\r\n", exchanges[0].Diagnostic)

	assert.Equal(t, linuxcnc.SourceMacro, exchanges[1].Source)
	assert.Equal(t, "m", exchanges[1].Name)
	assert.Equal(t, "cmd1", exchanges[1].Command)
	assert.Equal(t, exchanges[0].SessionID, exchanges[1].SessionID)
}

func TestTransportFailureEndsLoop(t *testing.T) {
	f := newFixture(t, remoteShell("ERROR OK\r\n"))

	sess, err := session.Connect(context.Background(), f.srv.Host(), f.srv.Port(), session.Options{Timeout: time.Second})
	require.NoError(t, err)
	defer sess.Close()

	_, err = sess.Exchange("hello")
	require.NoError(t, err)
	f.srv.DropConnections()

	loop := New(Params{
		Reader:  NewStreamReader(strings.NewReader("get mode\nget machine\n")),
		Session: sess,
		History: f.history,
		Out:     &f.out,
		ErrOut:  &f.errOut,
	})
	err = loop.Run(context.Background())
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrTerminated))
}

type interruptReader struct{}

func (interruptReader) ReadLine(string) (string, error) { return "", ErrInterrupt }

func TestInterruptEndsLoopGracefully(t *testing.T) {
	loop := New(Params{Reader: interruptReader{}, History: history.New("", 10)})
	require.NoError(t, loop.Run(context.Background()))
}

func TestCancelledContextEndsLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reader := NewStreamReader(strings.NewReader("get mode\n"))
	loop := New(Params{Reader: reader, History: history.New("", 10)})
	require.NoError(t, loop.Run(ctx))

	line, err := reader.ReadLine("")
	require.NoError(t, err)
	assert.Equal(t, "get mode", line, "input is left unread")
}

func TestOversizedMacroLineIsReportedAndLoopContinues(t *testing.T) {
	f := newFixture(t, remoteShell("ERROR OK\r\n"))
	f.writeMacro(t, "big", strings.Repeat("x", 5000)+"\nget machine\n")

	require.NoError(t, f.run(t, "/big\nget mode\n", errorCheckOptions(), time.Second))

	assert.Equal(t, []string{"get mode", "get error"}, f.srv.Lines(), "macro stops at the oversized line")
	assert.Contains(t, f.errOut.String(), "macro big line 1: command line too long")
	assert.NotContains(t, f.out.String(), "Unrecognized command")
}

func TestOversizedBuiltinLineIsReportedAndLoopContinues(t *testing.T) {
	f := newFixture(t, remoteShell("ERROR OK\r\n"))

	opts := errorCheckOptions()
	opts.Builtins = map[string][]string{"big": {"set mode manual", strings.Repeat("x", 5000), "set home 0"}}
	require.NoError(t, f.run(t, "/big\nget mode\n", opts, time.Second))

	assert.Equal(t, []string{"set mode manual", "get mode", "get error"}, f.srv.Lines())
	assert.Contains(t, f.errOut.String(), "/big: command line too long")
}

func TestDirectoryMacroNamesAreUnrecognized(t *testing.T) {
	f := newFixture(t, remoteShell("ERROR OK\r\n"))
	require.NoError(t, os.Mkdir(filepath.Join(f.dir, "macros", "subdir"), 0o755))

	require.NoError(t, f.run(t, "/.\n/subdir\nget mode\n", errorCheckOptions(), time.Second))

	assert.Contains(t, f.out.String(), "Unrecognized command: /.\n")
	assert.Contains(t, f.out.String(), "Unrecognized command: /subdir\n")
	assert.Equal(t, []string{"get mode", "get error"}, f.srv.Lines())
}

func TestOversizedInputLineIsReportedAndLoopContinues(t *testing.T) {
	f := newFixture(t, remoteShell("ERROR OK\r\n"))

	input := strings.Repeat("y", 70000) + "\nget mode\n"
	require.NoError(t, f.run(t, input, errorCheckOptions(), time.Second))

	assert.Contains(t, f.errOut.String(), "input line too long")
	assert.Equal(t, []string{"get mode", "get error"}, f.srv.Lines())
	assert.Equal(t, []string{"get mode"}, f.history.Entries())
}

func TestRejectedCommandIsNotAddedToHistory(t *testing.T) {
	f := newFixture(t, remoteShell("ERROR OK\r\n"))

	input := strings.Repeat("x", 5000) + "\nget mode\n"
	require.NoError(t, f.run(t, input, errorCheckOptions(), time.Second))

	assert.Contains(t, f.errOut.String(), "command line too long")
	assert.Equal(t, []string{"get mode"}, f.history.Entries())
	assert.Equal(t, []string{"get mode", "get error"}, f.srv.Lines())
}

type brokenWriter struct{}

func (brokenWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestOutputWriteFailureEndsLoop(t *testing.T) {
	f := newFixture(t, remoteShell("ERROR OK\r\n"))

	sess, err := session.Connect(context.Background(), f.srv.Host(), f.srv.Port(), session.Options{Timeout: time.Second})
	require.NoError(t, err)
	defer sess.Close()

	loop := New(Params{
		Reader:  NewStreamReader(strings.NewReader("get mode\nget machine\n")),
		Session: sess,
		History: f.history,
		Out:     brokenWriter{},
	})
	err = loop.Run(context.Background())
	require.ErrorContains(t, err, "write output")
	assert.Equal(t, []string{"get mode"}, f.srv.Lines())
}
