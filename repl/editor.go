package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/charmbracelet/x/ansi"
	"golang.org/x/term"

	"github.com/sleepybishop/linuxcnc-cli/console"
	"github.com/sleepybishop/linuxcnc-cli/history"
)

// Editor is a minimal line editor with cursor tracking, tab completion,
// inline hints and history navigation. The terminal is in raw mode only
// while ReadLine runs, so output written between lines needs no translation.
type Editor struct {
	in  *bufio.Reader
	out io.Writer
	fd  int // terminal fd switched to raw mode; -1 disables raw mode

	complete func(string) []string
	hint     func(string) string
	history  *history.Log
	styles   console.Styles

	buf []byte
	pos int // cursor byte offset into buf

	mu  sync.Mutex
	raw *term.State // saved state while raw mode is on
}

// EditorOptions wires the editor to its completion sources.
type EditorOptions struct {
	Complete func(string) []string
	Hint     func(string) string
	History  *history.Log
	Styles   console.Styles
}

// NewEditor reads keys from in and draws on out. fd is the terminal put in
// raw mode for each line, or -1 to leave the terminal alone.
func NewEditor(in io.Reader, out io.Writer, fd int, opts EditorOptions) *Editor {
	return &Editor{
		in:       bufio.NewReader(in),
		out:      out,
		fd:       fd,
		complete: opts.Complete,
		hint:     opts.Hint,
		history:  opts.History,
		styles:   opts.Styles,
	}
}

// ReadLine displays the prompt and reads one line. It returns io.EOF when the
// user presses Ctrl-D on empty input and console.ErrInterrupt on Ctrl-C.
func (e *Editor) ReadLine(prompt string) (string, error) {
	if e.fd >= 0 {
		old, err := term.MakeRaw(e.fd)
		if err != nil {
			return "", fmt.Errorf("raw mode: %w", err)
		}
		e.mu.Lock()
		e.raw = old
		e.mu.Unlock()
		defer e.Restore()
	}

	e.buf = e.buf[:0]
	e.pos = 0

	var entries []string
	if e.history != nil {
		entries = e.history.Entries()
	}
	histIdx := len(entries)
	var saved string

	e.redraw(prompt)
	for {
		c, err := e.in.ReadByte()
		if err != nil {
			return "", err
		}

		if c == 9 && e.complete != nil { // Tab
			next, ok, err := e.completeLine(prompt)
			if err != nil {
				return "", err
			}
			if !ok {
				continue
			}
			c = next
		}

		switch c {
		case 3: // Ctrl-C
			io.WriteString(e.out, "\r\n")
			return "", console.ErrInterrupt

		case 4: // Ctrl-D
			if len(e.buf) == 0 {
				io.WriteString(e.out, "\r\n")
				return "", io.EOF
			}
			e.deleteAtCursor()

		case 13, 10: // Enter
			// Drop the hint before the line scrolls away.
			e.render(prompt, e.buf, e.pos, false)
			io.WriteString(e.out, "\r\n")
			return string(e.buf), nil

		case 127, 8: // Backspace / Ctrl-H
			e.deleteBeforeCursor()

		case 1: // Ctrl-A
			e.pos = 0

		case 5: // Ctrl-E
			e.pos = len(e.buf)

		case 2: // Ctrl-B
			e.moveLeft()

		case 6: // Ctrl-F
			e.moveRight()

		case 11: // Ctrl-K
			e.buf = e.buf[:e.pos]

		case 21: // Ctrl-U
			e.buf = e.buf[:0]
			e.pos = 0

		case 23: // Ctrl-W
			e.deleteWord()

		case 12: // Ctrl-L
			io.WriteString(e.out, "\x1b[H\x1b[2J")

		case 16: // Ctrl-P
			histIdx, saved = e.historyPrev(entries, histIdx, saved)

		case 14: // Ctrl-N
			histIdx = e.historyNext(entries, histIdx, saved)

		case 27: // Escape sequence
			seq, err := e.readEscape()
			if err != nil {
				return "", err
			}
			switch seq {
			case "[A", "OA":
				histIdx, saved = e.historyPrev(entries, histIdx, saved)
			case "[B", "OB":
				histIdx = e.historyNext(entries, histIdx, saved)
			case "[D", "OD":
				e.moveLeft()
			case "[C", "OC":
				e.moveRight()
			case "[H", "OH", "[1~":
				e.pos = 0
			case "[F", "OF", "[4~":
				e.pos = len(e.buf)
			case "[3~":
				e.deleteAtCursor()
			}

		default:
			if c >= 32 {
				if err := e.insert(c); err != nil {
					return "", err
				}
			}
		}

		e.redraw(prompt)
	}
}

// Restore leaves raw mode if a ReadLine is in progress. It may be called
// from another goroutine, such as a signal handler.
func (e *Editor) Restore() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.raw != nil {
		term.Restore(e.fd, e.raw)
		e.raw = nil
	}
}

// completeLine cycles through the completions of the current buffer on each
// Tab. Esc restores the original buffer. Any other key accepts the shown
// candidate and is returned for normal processing.
func (e *Editor) completeLine(prompt string) (next byte, ok bool, err error) {
	candidates := e.complete(string(e.buf))
	if len(candidates) == 0 {
		io.WriteString(e.out, "\a")
		return 0, false, nil
	}

	i := 0
	for {
		if i < len(candidates) {
			e.render(prompt, []byte(candidates[i]), len(candidates[i]), false)
		} else {
			e.redraw(prompt)
		}

		c, err := e.in.ReadByte()
		if err != nil {
			return 0, false, err
		}
		switch c {
		case 9:
			i = (i + 1) % (len(candidates) + 1)
			if i == len(candidates) {
				io.WriteString(e.out, "\a")
			}
		case 27:
			e.redraw(prompt)
			return 0, false, nil
		default:
			if i < len(candidates) {
				e.buf = append(e.buf[:0], candidates[i]...)
				e.pos = len(e.buf)
			}
			return c, true, nil
		}
	}
}

// readEscape reads the rest of a CSI or SS3 sequence after ESC.
func (e *Editor) readEscape() (string, error) {
	first, err := e.in.ReadByte()
	if err != nil {
		return "", err
	}
	if first != '[' && first != 'O' {
		return "", nil
	}
	second, err := e.in.ReadByte()
	if err != nil {
		return "", err
	}
	seq := string([]byte{first, second})
	if first == '[' && second >= '0' && second <= '9' {
		third, err := e.in.ReadByte()
		if err != nil {
			return "", err
		}
		seq += string(third)
	}
	return seq, nil
}

func (e *Editor) historyPrev(entries []string, idx int, saved string) (int, string) {
	if idx == 0 {
		return idx, saved
	}
	if idx == len(entries) {
		saved = string(e.buf)
	}
	idx--
	e.setBuffer(entries[idx])
	return idx, saved
}

func (e *Editor) historyNext(entries []string, idx int, saved string) int {
	if idx >= len(entries) {
		return idx
	}
	idx++
	if idx == len(entries) {
		e.setBuffer(saved)
	} else {
		e.setBuffer(entries[idx])
	}
	return idx
}

func (e *Editor) setBuffer(s string) {
	e.buf = append(e.buf[:0], s...)
	e.pos = len(e.buf)
}

func (e *Editor) insert(lead byte) error {
	ch := []byte{lead}
	if lead >= 0xC0 {
		for extra := utf8RuneLen(lead) - 1; extra > 0; extra-- {
			b, err := e.in.ReadByte()
			if err != nil {
				return err
			}
			ch = append(ch, b)
		}
	}
	e.buf = append(e.buf, make([]byte, len(ch))...)
	copy(e.buf[e.pos+len(ch):], e.buf[e.pos:len(e.buf)-len(ch)])
	copy(e.buf[e.pos:], ch)
	e.pos += len(ch)
	return nil
}

func (e *Editor) moveLeft() {
	if e.pos > 0 {
		_, size := prevRune(e.buf, e.pos)
		e.pos -= size
	}
}

func (e *Editor) moveRight() {
	if e.pos < len(e.buf) {
		_, size := utf8.DecodeRune(e.buf[e.pos:])
		e.pos += size
	}
}

func (e *Editor) deleteBeforeCursor() {
	if e.pos > 0 {
		_, size := prevRune(e.buf, e.pos)
		copy(e.buf[e.pos-size:], e.buf[e.pos:])
		e.buf = e.buf[:len(e.buf)-size]
		e.pos -= size
	}
}

func (e *Editor) deleteAtCursor() {
	if e.pos < len(e.buf) {
		_, size := utf8.DecodeRune(e.buf[e.pos:])
		copy(e.buf[e.pos:], e.buf[e.pos+size:])
		e.buf = e.buf[:len(e.buf)-size]
	}
}

// deleteWord removes the word before the cursor and the spaces after it.
func (e *Editor) deleteWord() {
	start := e.pos
	for start > 0 && e.buf[start-1] == ' ' {
		start--
	}
	for start > 0 && e.buf[start-1] != ' ' {
		start--
	}
	e.buf = append(e.buf[:start], e.buf[e.pos:]...)
	e.pos = start
}

func (e *Editor) redraw(prompt string) {
	e.render(prompt, e.buf, e.pos, true)
}

// render clears the current line and draws prompt, line and (when the
// cursor is at the end) the inline hint, then places the cursor.
func (e *Editor) render(prompt string, line []byte, pos int, withHint bool) {
	var sb strings.Builder
	sb.WriteString("\r")
	sb.WriteString(prompt)
	sb.Write(line)

	if withHint && e.hint != nil && pos == len(line) && len(line) > 0 {
		if h := e.hint(string(line)); h != "" {
			if room := e.columns() - ansi.StringWidth(prompt) - ansi.StringWidth(string(line)); room > 0 {
				sb.WriteString(e.styles.Hint.Render(ansi.Truncate(h, room, "")))
			}
		}
	}
	sb.WriteString("\x1b[0K")

	sb.WriteString("\r")
	if col := ansi.StringWidth(prompt) + ansi.StringWidth(string(line[:pos])); col > 0 {
		fmt.Fprintf(&sb, "\x1b[%dC", col)
	}
	io.WriteString(e.out, sb.String())
}

// columns returns the terminal width, assuming 80 when unknown.
func (e *Editor) columns() int {
	if e.fd >= 0 {
		if w, _, err := term.GetSize(e.fd); err == nil && w > 0 {
			return w
		}
	}
	return 80
}

// prevRune returns the rune and byte size of the rune before pos.
func prevRune(buf []byte, pos int) (rune, int) {
	if pos <= 0 {
		return 0, 0
	}
	i := pos - 1
	for i > 0 && !utf8.RuneStart(buf[i]) {
		i--
	}
	return utf8.DecodeRune(buf[i:pos])
}

// utf8RuneLen returns the expected byte length of a UTF-8 sequence
// from its leading byte.
func utf8RuneLen(lead byte) int {
	switch {
	case lead < 0xC0:
		return 1
	case lead < 0xE0:
		return 2
	case lead < 0xF0:
		return 3
	}
	return 4
}
