package console

import (
	"strings"

	"mvdan.cc/sh/v3/shell"
)

// Sentinel starts every line that is handled locally instead of being sent
// to the remote shell verbatim.
const Sentinel = "/"

// Names of the directives every console understands.
const (
	DirectiveHistoryLen = "historylen"
	DirectiveQuit       = "quit"
	DirectiveExit       = "exit"
	DirectiveHelp       = "help"
)

// Kind classifies one input line.
type Kind int

const (
	KindEmpty Kind = iota
	KindCommand
	KindHistoryLen
	KindQuit
	KindHelp
	KindBuiltin
	KindMacro
)

func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindCommand:
		return "command"
	case KindHistoryLen:
		return "historylen"
	case KindQuit:
		return "quit"
	case KindHelp:
		return "help"
	case KindBuiltin:
		return "builtin"
	case KindMacro:
		return "macro"
	}
	return "unknown"
}

// Directive is a classified input line.
type Directive struct {
	Kind Kind
	// Line is the input as typed.
	Line string
	// Name is the builtin or macro name for sentinel lines.
	Name string
	// Args are the words following the directive name.
	Args []string
}

// Classify decides how line is handled. Sentinel lines are split with shell
// quoting rules, so macro names containing spaces can be quoted.
func Classify(line string, builtins map[string][]string) Directive {
	if strings.TrimSpace(line) == "" {
		return Directive{Kind: KindEmpty, Line: line}
	}
	if !strings.HasPrefix(line, Sentinel) {
		return Directive{Kind: KindCommand, Line: line}
	}

	rest := line[len(Sentinel):]
	if strings.HasPrefix(rest, DirectiveHistoryLen) {
		return Directive{
			Kind: KindHistoryLen,
			Line: line,
			Name: DirectiveHistoryLen,
			Args: splitWords(rest[len(DirectiveHistoryLen):]),
		}
	}

	words := splitWords(rest)
	if len(words) == 0 {
		return Directive{Kind: KindMacro, Line: line}
	}
	name, args := words[0], words[1:]

	switch name {
	case DirectiveQuit, DirectiveExit:
		return Directive{Kind: KindQuit, Line: line, Name: name}
	case DirectiveHelp:
		return Directive{Kind: KindHelp, Line: line, Name: name}
	}
	if _, ok := builtins[name]; ok {
		return Directive{Kind: KindBuiltin, Line: line, Name: name, Args: args}
	}
	return Directive{Kind: KindMacro, Line: line, Name: strings.Join(words, " ")}
}

// splitWords applies shell word splitting and quote removal to s. Input the
// shell parser rejects, such as an unterminated quote, falls back to plain
// whitespace splitting.
func splitWords(s string) []string {
	words, err := shell.Fields(s, func(string) string { return "" })
	if err != nil {
		return strings.Fields(s)
	}
	return words
}
