// Package script implements the inline tag mini-language embedded in
// dialogue text. A tag has the form [cmd:arg1,arg2,...] and is executed
// before the surrounding line is displayed.
package script

import (
	"regexp"
	"strings"
)

// Tag is one bracketed command extracted from a raw dialogue line.
type Tag struct {
	Cmd  string
	Args []string
}

// tagRegex matches [cmd:a,b,c], [cmd:] and bare [cmd]. Command names are
// alphabetic/underscore only; the argument body may not contain ']'.
var tagRegex = regexp.MustCompile(`\[([a-zA-Z_]+)(?::([^\]]*))?\]`)

// Extract returns all tags found in raw, in source order. Arguments are
// comma-separated and trimmed of surrounding whitespace; an empty body
// yields zero args. There is no quoting mechanism, so an argument cannot
// contain a literal comma or bracket.
func Extract(raw string) []Tag {
	matches := tagRegex.FindAllStringSubmatch(raw, -1)
	if len(matches) == 0 {
		return nil
	}

	tags := make([]Tag, 0, len(matches))
	for _, m := range matches {
		cmd := strings.TrimSpace(m[1])
		body := strings.TrimSpace(m[2])

		var args []string
		if body != "" {
			args = splitArgs(body)
		}
		tags = append(tags, Tag{Cmd: cmd, Args: args})
	}
	return tags
}

// Strip removes every tag from raw, leaving the surrounding text
// concatenated, and trims leading/trailing whitespace. Removal can make
// bracket text contiguous and form a new tag, so it repeats until the
// text stops changing. Idempotent.
func Strip(raw string) string {
	for {
		next := tagRegex.ReplaceAllString(raw, "")
		if next == raw {
			return strings.TrimSpace(next)
		}
		raw = next
	}
}

func splitArgs(body string) []string {
	parts := strings.Split(body, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
