package console

import (
	"sort"
	"strings"

	"github.com/sleepybishop/linuxcnc-cli/index"
)

// NameSource lists the sentinel names available at the moment of the call,
// such as the builtins plus the macros currently on disk.
type NameSource func() []string

// SentinelNames returns a NameSource combining the fixed directives, the
// builtin names and the names produced by macros (which may be nil).
func SentinelNames(builtins map[string][]string, macros func() []string) NameSource {
	return func() []string {
		names := []string{DirectiveHistoryLen, DirectiveHelp, DirectiveQuit, DirectiveExit}
		for name := range builtins {
			names = append(names, name)
		}
		if macros != nil {
			names = append(names, macros()...)
		}
		sort.Strings(names)
		return names
	}
}

// Completion returns the tab-completion capability handed to the line
// editor. Sentinel lines complete against names, everything else against
// the vocabulary. An empty buffer completes to nothing.
func Completion(vocab *index.PrefixIndex, names NameSource) func(buf string) []string {
	return func(buf string) []string {
		if buf == "" {
			return nil
		}
		if strings.HasPrefix(buf, Sentinel) {
			return sentinelIndex(names).Complete(buf)
		}
		return vocab.Complete(buf)
	}
}

// Hints returns the inline hint capability handed to the line editor: the
// remainder of one matching entry, or "" when nothing matches.
func Hints(vocab *index.PrefixIndex, names NameSource) func(buf string) string {
	return func(buf string) string {
		if buf == "" {
			return ""
		}
		idx := vocab
		if strings.HasPrefix(buf, Sentinel) {
			idx = sentinelIndex(names)
		}
		hint, _ := idx.Hint(buf)
		return hint
	}
}

func sentinelIndex(names NameSource) *index.PrefixIndex {
	if names == nil {
		return index.NewPrefixIndex(nil)
	}
	list := names()
	prefixed := make([]string, len(list))
	for i, n := range list {
		prefixed[i] = Sentinel + n
	}
	return index.NewPrefixIndex(prefixed)
}
