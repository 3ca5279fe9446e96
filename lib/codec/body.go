// Package codec converts between the structured document body and external text formats
// (Markdown, MDX, HTML and plain text).
package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Node types of the structured body.
const (
	TypeDoc            = "doc"
	TypeParagraph      = "paragraph"
	TypeHeading        = "heading"
	TypeBulletList     = "bulletList"
	TypeOrderedList    = "orderedList"
	TypeListItem       = "listItem"
	TypeBlockquote     = "blockquote"
	TypeCodeBlock      = "codeBlock"
	TypeHorizontalRule = "horizontalRule"
	TypeHardBreak      = "hardBreak"
	TypeImage          = "image"
	TypeText           = "text"
)

// Mark types applied to text nodes.
const (
	MarkBold   = "bold"
	MarkItalic = "italic"
	MarkCode   = "code"
	MarkStrike = "strike"
	MarkLink   = "link"
)

// ErrInvalidEncoding is returned when input text is not valid UTF-8.
var ErrInvalidEncoding = errors.New("content is not valid UTF-8")

// Mark is an inline formatting annotation.
type Mark struct {
	Type  string         `json:"type"`
	Attrs map[string]any `json:"attrs,omitempty"`
}

// Node is one element of the structured body. A document is a Node of type "doc".
type Node struct {
	Type    string         `json:"type"`
	Attrs   map[string]any `json:"attrs,omitempty"`
	Content []Node         `json:"content,omitempty"`
	Text    string         `json:"text,omitempty"`
	Marks   []Mark         `json:"marks,omitempty"`
}

// NewDocument wraps blocks in a doc node.
func NewDocument(blocks ...Node) Node {
	return Node{Type: TypeDoc, Content: blocks}
}

// Paragraph builds a paragraph containing the given inline nodes.
func Paragraph(inlines ...Node) Node {
	return Node{Type: TypeParagraph, Content: inlines}
}

// Heading builds a heading of the given level.
func Heading(level int, inlines ...Node) Node {
	return Node{Type: TypeHeading, Attrs: map[string]any{"level": level}, Content: inlines}
}

// Text builds a text node with optional marks.
func Text(s string, marks ...Mark) Node {
	return Node{Type: TypeText, Text: s, Marks: marks}
}

// ParseJSON decodes a structured body stored as JSON.
func ParseJSON(data []byte) (Node, error) {
	var doc Node
	if err := json.Unmarshal(data, &doc); err != nil {
		return Node{}, fmt.Errorf("invalid document body: %w", err)
	}
	if doc.Type == "" {
		doc.Type = TypeDoc
	}
	return doc, nil
}

// HasMark reports whether the node carries a mark of the given type.
func (n Node) HasMark(markType string) bool {
	for _, m := range n.Marks {
		if m.Type == markType {
			return true
		}
	}
	return false
}

// AttrString returns a string attribute or "".
func (n Node) AttrString(key string) string {
	if n.Attrs == nil {
		return ""
	}
	if s, ok := n.Attrs[key].(string); ok {
		return s
	}
	return ""
}

// AttrInt returns an integer attribute or def. JSON numbers decode as float64.
func (n Node) AttrInt(key string, def int) int {
	if n.Attrs == nil {
		return def
	}
	switch v := n.Attrs[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

// PlainText returns the concatenated text of the node and its descendants.
func (n Node) PlainText() string {
	if n.Type == TypeText {
		return n.Text
	}
	var sb strings.Builder
	for _, child := range n.Content {
		sb.WriteString(child.PlainText())
	}
	return sb.String()
}

func markAttr(m Mark, key string) string {
	if m.Attrs == nil {
		return ""
	}
	s, _ := m.Attrs[key].(string)
	return s
}

func withMark(marks []Mark, m Mark) []Mark {
	out := make([]Mark, 0, len(marks)+1)
	out = append(out, marks...)
	return append(out, m)
}

// appendText merges adjacent text nodes that carry identical marks.
func appendText(nodes []Node, s string, marks []Mark) []Node {
	if s == "" {
		return nodes
	}
	if len(nodes) > 0 {
		last := &nodes[len(nodes)-1]
		if last.Type == TypeText && sameMarks(last.Marks, marks) {
			last.Text += s
			return nodes
		}
	}
	var copied []Mark
	if len(marks) > 0 {
		copied = append(copied, marks...)
	}
	return append(nodes, Node{Type: TypeText, Text: s, Marks: copied})
}

func sameMarks(a, b []Mark) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Type != b[i].Type || markAttr(a[i], "href") != markAttr(b[i], "href") {
			return false
		}
	}
	return true
}
