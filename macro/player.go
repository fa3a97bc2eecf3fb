// Package macro replays named files of pre-recorded commands through the
// remote shell session.
package macro

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/sleepybishop/linuxcnc-cli/session"
)

// ErrNotFound is returned when a macro name does not resolve to a readable file.
var ErrNotFound = errors.New("macro not found")

// Exchanger sends one command and returns the reply of a bounded read.
type Exchanger interface {
	Exchange(cmd string) ([]byte, error)
}

// Observer is notified after every command a macro sends.
type Observer func(name, cmd string, resp []byte)

// Player resolves macro names under a directory and plays them.
type Player struct {
	dir      string
	session  Exchanger
	out      io.Writer
	observer Observer
}

// NewPlayer returns a player reading macros from dir, sending through session
// and writing every reply to out.
func NewPlayer(dir string, session Exchanger, out io.Writer) *Player {
	return &Player{dir: dir, session: session, out: out}
}

// Dir returns the macro directory.
func (p *Player) Dir() string { return p.dir }

// SetObserver installs fn to be called after each exchange.
func (p *Player) SetObserver(fn Observer) {
	p.observer = fn
}

// Path resolves name to a regular file inside the macro directory. Names
// that would escape the directory, and anything that is not a regular file,
// are not found.
func (p *Player) Path(name string) (string, error) {
	if name == "" || !filepath.IsLocal(name) {
		return "", fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	path := filepath.Join(p.dir, name)
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrNotFound, name, err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s is not a regular file", ErrNotFound, name)
	}
	return path, nil
}

// Play reads the named macro and sends each non-empty line in file order,
// writing each reply to the output as it arrives. The file is read afresh on
// every call. Any error stops playback: a line over the session's length
// limit returns an error wrapping session.ErrLineTooLong before it is sent,
// and the lines after it are not sent either.
func (p *Player) Play(name string) error {
	path, err := p.Path(name)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrNotFound, name, err)
	}
	defer f.Close()

	slog.Debug("playing macro", "name", name, "path", path)

	scanner := bufio.NewScanner(f)
	sent, lineNo := 0, 0
	for scanner.Scan() {
		lineNo++
		cmd := strings.TrimRight(scanner.Text(), "\r\n")
		if cmd == "" {
			continue
		}
		resp, err := p.session.Exchange(cmd)
		if err != nil {
			return fmt.Errorf("macro %s line %d: %w", name, lineNo, err)
		}
		sent++
		if p.observer != nil {
			p.observer(name, cmd, resp)
		}
		if len(resp) > 0 {
			if _, err := p.out.Write(resp); err != nil {
				return fmt.Errorf("macro %s: write reply: %w", name, err)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return fmt.Errorf("macro %s line %d: %w", name, lineNo+1, session.ErrLineTooLong)
		}
		return fmt.Errorf("read macro %s: %w", name, err)
	}
	slog.Debug("macro finished", "name", name, "commands", sent)
	return nil
}
