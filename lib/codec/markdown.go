package codec

import (
	"fmt"
	"strings"
)

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`,
	"*", `\*`,
	"_", `\_`,
	"`", "\\`",
	"[", `\[`,
	"]", `\]`,
	"<", `\<`,
	"&", "&amp;",
)

// escapeLineStarts escapes characters that would open a block when they start a line of
// paragraph text.
func escapeLineStarts(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		body := strings.TrimLeft(line, " \t")
		indent := line[:len(line)-len(body)]
		if body == "" {
			continue
		}
		if strings.ContainsRune("#>-+=", rune(body[0])) || strings.HasPrefix(body, "~~~") {
			lines[i] = indent + `\` + body
			continue
		}
		digits := 0
		for digits < len(body) && digits < 10 && body[digits] >= '0' && body[digits] <= '9' {
			digits++
		}
		if digits > 0 && digits < len(body) && (body[digits] == '.' || body[digits] == ')') {
			lines[i] = indent + body[:digits] + `\` + body[digits:]
		}
	}
	return strings.Join(lines, "\n")
}

// codeFence returns a backtick fence longer than any backtick run in code.
func codeFence(code string) string {
	longest, run := 0, 0
	for _, r := range code {
		if r == '`' {
			run++
			longest = max(longest, run)
		} else {
			run = 0
		}
	}
	return strings.Repeat("`", max(3, longest+1))
}

// SerializeToMarkdown renders a document body as CommonMark.
func SerializeToMarkdown(doc Node) string {
	blocks := markdownBlocks(doc.Content)
	if blocks == "" {
		return ""
	}
	return blocks + "\n"
}

func markdownBlocks(nodes []Node) string {
	parts := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if s := markdownBlock(n); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n\n")
}

func markdownBlock(n Node) string {
	switch n.Type {
	case TypeParagraph:
		return escapeLineStarts(markdownInlines(n.Content))
	case TypeHeading:
		level := n.AttrInt("level", 1)
		if level < 1 {
			level = 1
		}
		if level > 6 {
			level = 6
		}
		return strings.Repeat("#", level) + " " + markdownInlines(n.Content)
	case TypeBulletList:
		return markdownList(n, false)
	case TypeOrderedList:
		return markdownList(n, true)
	case TypeBlockquote:
		return prefixLines(markdownBlocks(n.Content), "> ", "> ")
	case TypeCodeBlock:
		code := strings.TrimSuffix(n.PlainText(), "\n")
		fence := codeFence(code)
		return fence + n.AttrString("language") + "\n" + code + "\n" + fence
	case TypeHorizontalRule:
		return "---"
	case TypeImage:
		return markdownImage(n)
	case TypeDoc:
		return markdownBlocks(n.Content)
	default:
		if len(n.Content) > 0 {
			return escapeLineStarts(markdownInlines(n.Content))
		}
		return ""
	}
}

func markdownList(n Node, ordered bool) string {
	start := n.AttrInt("start", 1)
	items := make([]string, 0, len(n.Content))
	for i, item := range n.Content {
		marker := "- "
		if ordered {
			marker = fmt.Sprintf("%d. ", start+i)
		}
		body := markdownBlocks(item.Content)
		items = append(items, prefixLines(body, marker, strings.Repeat(" ", len(marker))))
	}
	return strings.Join(items, "\n")
}

// prefixLines prefixes the first line with first and every following non-empty line with rest.
func prefixLines(s, first, rest string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		switch {
		case i == 0:
			lines[i] = first + line
		case line == "":
			lines[i] = strings.TrimRight(rest, " ")
		default:
			lines[i] = rest + line
		}
	}
	return strings.Join(lines, "\n")
}

func markdownImage(n Node) string {
	return fmt.Sprintf("![%s](%s)", markdownEscaper.Replace(n.AttrString("alt")), n.AttrString("src"))
}

func markdownInlines(nodes []Node) string {
	var sb strings.Builder
	for _, n := range nodes {
		switch n.Type {
		case TypeText:
			sb.WriteString(markdownText(n))
		case TypeHardBreak:
			sb.WriteString("\\\n")
		case TypeImage:
			sb.WriteString(markdownImage(n))
		default:
			sb.WriteString(markdownInlines(n.Content))
		}
	}
	return sb.String()
}

func markdownText(n Node) string {
	text := n.Text
	if n.HasMark(MarkCode) {
		fence := "`"
		if strings.Contains(text, "`") {
			fence = "``"
		}
		text = fence + text + fence
	} else {
		text = markdownEscaper.Replace(text)
	}
	if n.HasMark(MarkStrike) {
		text = "~~" + text + "~~"
	}
	if n.HasMark(MarkItalic) {
		text = "*" + text + "*"
	}
	if n.HasMark(MarkBold) {
		text = "**" + text + "**"
	}
	for _, m := range n.Marks {
		if m.Type == MarkLink {
			text = "[" + text + "](" + markAttr(m, "href") + ")"
		}
	}
	return text
}
