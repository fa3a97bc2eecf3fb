// Package index provides the command vocabulary lookups used for tab completion,
// inline hints and "did you mean" suggestions.
package index

import (
	"bufio"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/armon/go-radix"
)

// PrefixIndex is an immutable set of vocabulary entries supporting prefix lookup.
// Iteration is in lexical order, which makes hint selection deterministic.
type PrefixIndex struct {
	tree *radix.Tree
}

// NewPrefixIndex builds an index from words. Blank words are skipped and
// duplicates collapse into one entry.
func NewPrefixIndex(words []string) *PrefixIndex {
	tree := radix.New()
	for _, w := range words {
		if w == "" {
			continue
		}
		tree.Insert(w, struct{}{})
	}
	return &PrefixIndex{tree: tree}
}

// ReadPrefixIndex builds an index from one token per line.
// Trailing CR and LF are stripped from each line.
func ReadPrefixIndex(r io.Reader) (*PrefixIndex, error) {
	var words []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		words = append(words, strings.TrimRight(scanner.Text(), "\r\n"))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return NewPrefixIndex(words), nil
}

// LoadPrefixIndex reads the vocabulary file at path. A missing or unreadable
// file yields an empty index: no completions are available, nothing fails.
func LoadPrefixIndex(path string) *PrefixIndex {
	f, err := os.Open(path)
	if err != nil {
		slog.Debug("no vocabulary loaded", "path", path, "error", err)
		return NewPrefixIndex(nil)
	}
	defer f.Close()

	idx, err := ReadPrefixIndex(f)
	if err != nil {
		slog.Debug("vocabulary read failed", "path", path, "error", err)
		return NewPrefixIndex(nil)
	}
	slog.Debug("loaded vocabulary", "path", path, "entries", idx.Len())
	return idx
}

// Len returns the number of entries.
func (p *PrefixIndex) Len() int {
	return p.tree.Len()
}

// Contains reports whether word is an exact vocabulary entry.
func (p *PrefixIndex) Contains(word string) bool {
	_, ok := p.tree.Get(word)
	return ok
}

// Covers reports whether some entry is a prefix of line, as when line is a
// known command followed by arguments.
func (p *PrefixIndex) Covers(line string) bool {
	_, _, ok := p.tree.LongestPrefix(line)
	return ok
}

// Words returns every entry in lexical order.
func (p *PrefixIndex) Words() []string {
	words := make([]string, 0, p.tree.Len())
	p.tree.Walk(func(s string, _ interface{}) bool {
		words = append(words, s)
		return false
	})
	return words
}

// Complete returns every entry starting with prefix, in lexical order.
// An empty prefix returns nil.
func (p *PrefixIndex) Complete(prefix string) []string {
	if prefix == "" {
		return nil
	}
	var matches []string
	p.tree.WalkPrefix(prefix, func(s string, _ interface{}) bool {
		matches = append(matches, s)
		return false
	})
	return matches
}

// Hint returns the remainder beyond prefix of the first entry, in lexical
// order, that strictly extends prefix. An exact match alone yields no hint.
func (p *PrefixIndex) Hint(prefix string) (string, bool) {
	if prefix == "" {
		return "", false
	}
	var hint string
	p.tree.WalkPrefix(prefix, func(s string, _ interface{}) bool {
		if len(s) > len(prefix) {
			hint = s[len(prefix):]
			return true
		}
		return false
	})
	return hint, hint != ""
}
