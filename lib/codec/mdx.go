package codec

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	mdxESMLine   = regexp.MustCompile(`^(import|export)\s`)
	mdxComponent = regexp.MustCompile(`^\s*<([A-Z][A-Za-z0-9.]*)\b[^>]*/>\s*$`)
	mdxOpenTag   = regexp.MustCompile(`^\s*<([A-Z][A-Za-z0-9.]*)\b[^>]*>\s*$`)
	mdxCloseTag  = regexp.MustCompile(`^\s*</([A-Z][A-Za-z0-9.]*)>\s*$`)
)

// DeserializeFromMDX parses MDX by dropping ESM statements and JSX component tags
// outside of code fences, then reading the remainder as Markdown. Children of block
// components are kept.
func DeserializeFromMDX(input string) (Node, error) {
	if !utf8.ValidString(input) {
		return Node{}, ErrInvalidEncoding
	}
	_, body := SplitFrontMatter(input)
	return parseMarkdown([]byte(StripMDX(body)))
}

// StripMDX removes import/export lines and capitalised JSX tags that occupy whole lines.
func StripMDX(input string) string {
	lines := strings.Split(strings.ReplaceAll(input, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	inFence := false
	inESM := false

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
			out = append(out, line)
			continue
		}
		if inFence {
			out = append(out, line)
			continue
		}
		// Multi-line ESM blocks run until a blank line.
		if inESM {
			if trimmed == "" {
				inESM = false
			}
			continue
		}
		if mdxESMLine.MatchString(line) {
			inESM = !strings.HasSuffix(trimmed, ";") && !strings.Contains(trimmed, " from ")
			continue
		}
		if mdxComponent.MatchString(line) || mdxOpenTag.MatchString(line) || mdxCloseTag.MatchString(line) {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
