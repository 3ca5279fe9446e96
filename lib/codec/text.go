package codec

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

var blankLines = regexp.MustCompile(`\n[ \t]*\n+`)

// SerializeToText renders the document as plain text, one block per paragraph.
func SerializeToText(doc Node) string {
	parts := textBlocks(doc.Content)
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, "\n\n") + "\n"
}

func textBlocks(nodes []Node) []string {
	var parts []string
	for _, n := range nodes {
		switch n.Type {
		case TypeBulletList, TypeOrderedList:
			start := n.AttrInt("start", 1)
			var items []string
			for i, item := range n.Content {
				marker := "- "
				if n.Type == TypeOrderedList {
					marker = strconv.Itoa(start+i) + ". "
				}
				items = append(items, marker+strings.Join(textBlocks(item.Content), " "))
			}
			parts = append(parts, strings.Join(items, "\n"))
		case TypeBlockquote, TypeDoc:
			parts = append(parts, textBlocks(n.Content)...)
		case TypeHorizontalRule:
			parts = append(parts, "---")
		case TypeImage:
			if alt := n.AttrString("alt"); alt != "" {
				parts = append(parts, alt)
			}
		default:
			if s := textInlines(n.Content); strings.TrimSpace(s) != "" {
				parts = append(parts, s)
			}
		}
	}
	return parts
}

func textInlines(nodes []Node) string {
	var sb strings.Builder
	for _, n := range nodes {
		switch n.Type {
		case TypeText:
			sb.WriteString(n.Text)
		case TypeHardBreak:
			sb.WriteString("\n")
		default:
			sb.WriteString(textInlines(n.Content))
		}
	}
	return sb.String()
}

// DeserializeFromText turns plain text into paragraphs split on blank lines.
// Single newlines inside a paragraph become hard breaks.
func DeserializeFromText(input string) (Node, error) {
	if !utf8.ValidString(input) {
		return Node{}, ErrInvalidEncoding
	}
	normalized := strings.ReplaceAll(input, "\r\n", "\n")
	var blocks []Node
	for _, chunk := range blankLines.Split(normalized, -1) {
		chunk = strings.Trim(chunk, "\n")
		if strings.TrimSpace(chunk) == "" {
			continue
		}
		var inlines []Node
		for i, line := range strings.Split(chunk, "\n") {
			if i > 0 {
				inlines = append(inlines, Node{Type: TypeHardBreak})
			}
			if line != "" {
				inlines = append(inlines, Text(line))
			}
		}
		blocks = append(blocks, Paragraph(inlines...))
	}
	return NewDocument(blocks...), nil
}
