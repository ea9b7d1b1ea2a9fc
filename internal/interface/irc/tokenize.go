package irc

import (
	"strings"

	"github.com/kballard/go-shellquote"
)

// Tokenize splits content shell-style. There is no comment syntax, so '#'
// is an ordinary character. Malformed quoting falls back to a plain
// whitespace split, so it never fails.
func Tokenize(content string) []string {
	if strings.TrimSpace(content) == "" {
		return []string{}
	}
	parts, err := shellquote.Split(content)
	if err != nil || len(parts) == 0 {
		return strings.Fields(content)
	}
	return parts
}
