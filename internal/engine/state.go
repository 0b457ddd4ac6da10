package engine

import (
	"sort"
	"strings"
	"sync"
)

// builtinCommands are always offered as completions.
var builtinCommands = []string{"help", "settings", "exit"}

// ParserState is an immutable snapshot of what the engine knows about command
// lines: the commands seen so far and the setting names.
type ParserState struct {
	commands []string
	settings []string
}

// NewParserState returns a state knowing the given commands and settings.
func NewParserState(commands, settings []string) *ParserState {
	s := &ParserState{
		commands: uniqueSorted(append(append([]string(nil), builtinCommands...), commands...)),
		settings: uniqueSorted(settings),
	}
	return s
}

// With returns a new state that also knows the command word of commandLine.
func (s *ParserState) With(commandLine string) *ParserState {
	fields := strings.Fields(commandLine)
	if len(fields) == 0 {
		return s
	}
	return &ParserState{
		commands: uniqueSorted(append(append([]string(nil), s.commands...), fields[0])),
		settings: s.settings,
	}
}

// Commands returns the known command words.
func (s *ParserState) Commands() []string {
	return append([]string(nil), s.commands...)
}

// Complete returns the candidates for a partial command line. The first word
// completes against commands, the argument of "settings" against setting names.
func (s *ParserState) Complete(query string) []string {
	fields := strings.Fields(query)
	trailingSpace := strings.HasSuffix(query, " ")

	switch {
	case len(fields) == 0:
		return s.Commands()
	case len(fields) == 1 && !trailingSpace:
		return withPrefix(s.commands, fields[0], "")
	case fields[0] == "settings" && (len(fields) == 1 || len(fields) == 2 && !trailingSpace):
		partial := ""
		if len(fields) == 2 {
			partial = fields[1]
		}
		return withPrefix(s.settings, partial, "settings ")
	default:
		return []string{}
	}
}

func withPrefix(candidates []string, prefix, lead string) []string {
	out := []string{}
	for _, c := range candidates {
		if strings.HasPrefix(c, prefix) {
			out = append(out, lead+c)
		}
	}
	return out
}

func uniqueSorted(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Settings is a concurrent table of string settings.
type Settings struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewSettings returns a table holding a copy of initial.
func NewSettings(initial map[string]string) *Settings {
	values := make(map[string]string, len(initial))
	for k, v := range initial {
		values[k] = v
	}
	return &Settings{values: values}
}

// Get returns the value of name.
func (s *Settings) Get(name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[name]
	return v, ok
}

// Set changes the value of name.
func (s *Settings) Set(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[name] = value
}

// Names returns the setting names in order.
func (s *Settings) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.values))
	for k := range s.values {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
