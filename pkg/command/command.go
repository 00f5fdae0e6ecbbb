// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package command parses sigil-prefixed user input into structured tool
// commands.
//
// The accepted grammar is:
//
//	@<tool> [<argument text>] [<key>=<value>]*
//
// The argument is the run of consecutive non key=value tokens right after the
// tool name and is kept verbatim. Once the first key=value token is seen every
// following token must also be key=value; anything else is rejected with a
// MALFORMED_COMMAND error. The reserved "@switch <persona>" directive is
// recognised separately by ParseSwitch.
package command

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/jllopis/chorus/pkg/errors"
)

// Sigil marks the start of a command.
const Sigil = "@"

// SwitchDirective is the reserved tool name used for persona switching.
const SwitchDirective = "switch"

var (
	toolNamePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)
	paramPattern    = regexp.MustCompile(`^([A-Za-z0-9_.\-]+)=(.*)$`)
)

// Command is a parsed tool invocation.
type Command struct {
	// Tool is the lower-cased tool name.
	Tool string
	// Argument is the free text following the tool name, verbatim.
	Argument string
	// Params holds key=value parameters with lower-cased keys.
	Params map[string]string
}

// String renders the command back in canonical form.
func (c *Command) String() string {
	var b strings.Builder
	b.WriteString(Sigil)
	b.WriteString(c.Tool)
	if c.Argument != "" {
		b.WriteByte(' ')
		b.WriteString(c.Argument)
	}
	for _, k := range sortedKeys(c.Params) {
		fmt.Fprintf(&b, " %s=%s", k, c.Params[k])
	}
	return b.String()
}

type token struct {
	text       string
	start, end int
}

// Parse parses raw input. It returns (nil, nil) when the input is a plain
// message: no sigil, empty input, a bare sigil or an invalid tool name.
// It returns a MALFORMED_COMMAND error when free text follows parameters.
func Parse(raw string) (*Command, error) {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, Sigil) {
		return nil, nil
	}
	body := s[len(Sigil):]
	if startsWithSpace(body) {
		return nil, nil
	}

	tokens := tokenize(body)
	name := tokens[0].text
	if !toolNamePattern.MatchString(name) {
		return nil, nil
	}

	cmd := &Command{
		Tool:   strings.ToLower(name),
		Params: make(map[string]string),
	}

	i := 1
	for i < len(tokens) && !isParam(tokens[i].text) {
		i++
	}
	if i > 1 {
		cmd.Argument = body[tokens[1].start:tokens[i-1].end]
	}

	for _, tok := range tokens[i:] {
		m := paramPattern.FindStringSubmatch(tok.text)
		if m == nil {
			return nil, errors.New(errors.CodeMalformedCommand,
				fmt.Sprintf("unexpected text %q after parameters of @%s", tok.text, cmd.Tool), nil).
				WithContext("tool", cmd.Tool)
		}
		cmd.Params[strings.ToLower(m[1])] = m[2]
	}

	return cmd, nil
}

// ParseSwitch recognises the "@switch <persona>" directive. It reports ok when
// the input is a switch directive; target is the lower-cased persona name and
// may be empty when none was given.
func ParseSwitch(raw string) (target string, ok bool) {
	s := strings.TrimSpace(raw)
	prefix := Sigil + SwitchDirective
	if len(s) < len(prefix) || !strings.EqualFold(s[:len(prefix)], prefix) {
		return "", false
	}
	rest := s[len(prefix):]
	if rest != "" && !startsWithSpace(rest) {
		return "", false
	}
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return "", true
	}
	return strings.ToLower(fields[0]), true
}

// startsWithSpace reports whether s is empty or its first rune is white
// space, multi-byte spaces such as NBSP included.
func startsWithSpace(s string) bool {
	if s == "" {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s)
	return unicode.IsSpace(r)
}

func isParam(s string) bool {
	return paramPattern.MatchString(s)
}

func tokenize(s string) []token {
	var (
		tokens []token
		start  = -1
	)
	for i, r := range s {
		if unicode.IsSpace(r) {
			if start >= 0 {
				tokens = append(tokens, token{text: s[start:i], start: start, end: i})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		tokens = append(tokens, token{text: s[start:], start: start, end: len(s)})
	}
	return tokens
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
