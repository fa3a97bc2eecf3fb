package console

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	linuxcnc "github.com/sleepybishop/linuxcnc-cli"
)

// Transcript appends every exchange to a TOML document as an [[exchange]]
// table. Appending keeps the file a valid document after each record.
type Transcript struct {
	w         io.Writer
	closer    io.Closer
	sessionID string
	now       func() time.Time
}

type transcriptDoc struct {
	Exchange []linuxcnc.Exchange `toml:"exchange"`
}

// NewTranscript writes records to w under a fresh session id.
func NewTranscript(w io.Writer) *Transcript {
	return &Transcript{w: w, sessionID: uuid.NewString(), now: time.Now}
}

// OpenTranscript opens path for appending, creating it if needed.
func OpenTranscript(path string) (*Transcript, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	t := NewTranscript(f)
	t.closer = f
	return t, nil
}

// SessionID returns the id stamped on every record.
func (t *Transcript) SessionID() string {
	return t.sessionID
}

// Record stamps ex with an id, the session id and (if unset) the current
// time, and appends it.
func (t *Transcript) Record(ex linuxcnc.Exchange) error {
	if ex.Timestamp.IsZero() {
		ex.Timestamp = t.now()
	}
	ex.ID = ulid.MustNew(ulid.Timestamp(ex.Timestamp), ulid.DefaultEntropy()).String()
	ex.SessionID = t.sessionID
	// TOML strings must be UTF-8; a single raw byte from the remote would
	// make the whole file unreadable.
	ex.Name = validUTF8(ex.Name)
	ex.Command = validUTF8(ex.Command)
	ex.Response = validUTF8(ex.Response)
	ex.Diagnostic = validUTF8(ex.Diagnostic)

	enc := toml.NewEncoder(t.w)
	enc.Indent = ""
	if err := enc.Encode(transcriptDoc{Exchange: []linuxcnc.Exchange{ex}}); err != nil {
		return fmt.Errorf("write transcript: %w", err)
	}
	_, err := io.WriteString(t.w, "\n")
	return err
}

// validUTF8 replaces each run of invalid bytes in s with U+FFFD.
func validUTF8(s string) string {
	return strings.ToValidUTF8(s, "\uFFFD")
}

// Close closes the underlying file, if the transcript opened one.
func (t *Transcript) Close() error {
	if t.closer == nil {
		return nil
	}
	return t.closer.Close()
}

// ReadTranscript decodes every exchange recorded in r.
func ReadTranscript(r io.Reader) ([]linuxcnc.Exchange, error) {
	var doc transcriptDoc
	if _, err := toml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}
	return doc.Exchange, nil
}
