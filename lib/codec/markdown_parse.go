package codec

import (
	"bufio"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
)

var markdownParser = goldmark.New(goldmark.WithExtensions(extension.Strikethrough))

// DeserializeFromMarkdown parses CommonMark (with ~~strikethrough~~) into a document body.
// A leading YAML front matter block is ignored.
func DeserializeFromMarkdown(input string) (Node, error) {
	if !utf8.ValidString(input) {
		return Node{}, ErrInvalidEncoding
	}
	_, body := SplitFrontMatter(input)
	return parseMarkdown([]byte(body))
}

func parseMarkdown(source []byte) (Node, error) {
	root := markdownParser.Parser().Parse(text.NewReader(source))
	w := &mdWalker{source: source}
	blocks, err := w.blocks(root)
	if err != nil {
		return Node{}, err
	}
	return NewDocument(blocks...), nil
}

type mdWalker struct {
	source []byte
}

func (w *mdWalker) blocks(parent ast.Node) ([]Node, error) {
	var out []Node
	for child := parent.FirstChild(); child != nil; child = child.NextSibling() {
		nodes, err := w.block(child)
		if err != nil {
			return nil, err
		}
		out = append(out, nodes...)
	}
	return out, nil
}

func (w *mdWalker) block(n ast.Node) ([]Node, error) {
	switch v := n.(type) {
	case *ast.Paragraph, *ast.TextBlock:
		inlines := w.inlines(v, nil)
		if len(inlines) == 0 {
			return nil, nil
		}
		// A paragraph holding a single image is promoted to a block image.
		if len(inlines) == 1 && inlines[0].Type == TypeImage {
			return inlines, nil
		}
		return []Node{Paragraph(inlines...)}, nil
	case *ast.Heading:
		return []Node{Heading(v.Level, w.inlines(v, nil)...)}, nil
	case *ast.List:
		listType := TypeBulletList
		var attrs map[string]any
		if v.IsOrdered() {
			listType = TypeOrderedList
			attrs = map[string]any{"start": v.Start}
		}
		list := Node{Type: listType, Attrs: attrs}
		for item := v.FirstChild(); item != nil; item = item.NextSibling() {
			content, err := w.blocks(item)
			if err != nil {
				return nil, err
			}
			if len(content) == 0 {
				content = []Node{Paragraph()}
			}
			list.Content = append(list.Content, Node{Type: TypeListItem, Content: content})
		}
		return []Node{list}, nil
	case *ast.Blockquote:
		content, err := w.blocks(v)
		if err != nil {
			return nil, err
		}
		return []Node{{Type: TypeBlockquote, Content: content}}, nil
	case *ast.FencedCodeBlock:
		var attrs map[string]any
		if lang := string(v.Language(w.source)); lang != "" {
			attrs = map[string]any{"language": lang}
		}
		return []Node{codeBlock(w.lines(v), attrs)}, nil
	case *ast.CodeBlock:
		return []Node{codeBlock(w.lines(v), nil)}, nil
	case *ast.ThematicBreak:
		return []Node{{Type: TypeHorizontalRule}}, nil
	case *ast.HTMLBlock:
		doc, err := DeserializeFromHTML(w.lines(v))
		if err != nil {
			return nil, err
		}
		return doc.Content, nil
	default:
		if n.Type() == ast.TypeBlock {
			return w.blocks(n)
		}
		return nil, nil
	}
}

func codeBlock(code string, attrs map[string]any) Node {
	code = strings.TrimSuffix(code, "\n")
	node := Node{Type: TypeCodeBlock, Attrs: attrs}
	if code != "" {
		node.Content = []Node{Text(code)}
	}
	return node
}

func (w *mdWalker) lines(n ast.Node) string {
	var sb strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		sb.Write(seg.Value(w.source))
	}
	return sb.String()
}

func (w *mdWalker) inlines(parent ast.Node, marks []Mark) []Node {
	var out []Node
	for child := parent.FirstChild(); child != nil; child = child.NextSibling() {
		switch v := child.(type) {
		case *ast.Text:
			out = appendText(out, unescapeText(v.Segment.Value(w.source)), marks)
			if v.HardLineBreak() {
				out = append(out, Node{Type: TypeHardBreak})
			} else if v.SoftLineBreak() {
				out = appendText(out, " ", marks)
			}
		case *ast.String:
			out = appendText(out, string(v.Value), marks)
		case *ast.Emphasis:
			markType := MarkItalic
			if v.Level >= 2 {
				markType = MarkBold
			}
			out = append(out, w.inlines(v, withMark(marks, Mark{Type: markType}))...)
		case *extast.Strikethrough:
			out = append(out, w.inlines(v, withMark(marks, Mark{Type: MarkStrike}))...)
		case *ast.CodeSpan:
			var sb strings.Builder
			for c := v.FirstChild(); c != nil; c = c.NextSibling() {
				if t, ok := c.(*ast.Text); ok {
					sb.Write(t.Segment.Value(w.source))
				}
			}
			out = appendText(out, sb.String(), withMark(marks, Mark{Type: MarkCode}))
		case *ast.Link:
			link := Mark{Type: MarkLink, Attrs: map[string]any{"href": string(v.Destination)}}
			out = append(out, w.inlines(v, withMark(marks, link))...)
		case *ast.AutoLink:
			url := string(v.URL(w.source))
			link := Mark{Type: MarkLink, Attrs: map[string]any{"href": url}}
			out = appendText(out, url, withMark(marks, link))
		case *ast.Image:
			alt := Node{Content: w.inlines(v, nil)}.PlainText()
			out = append(out, Node{Type: TypeImage, Attrs: map[string]any{"src": string(v.Destination), "alt": alt}})
		case *ast.RawHTML:
			var sb strings.Builder
			for i := 0; i < v.Segments.Len(); i++ {
				seg := v.Segments.At(i)
				sb.Write(seg.Value(w.source))
			}
			out = appendText(out, sb.String(), marks)
		default:
			out = append(out, w.inlines(child, marks)...)
		}
	}
	return out
}

// unescapeText resolves backslash escapes and entity references the parser leaves in
// text segments.
func unescapeText(raw []byte) string {
	value := util.UnescapePunctuations(raw)
	value = util.ResolveNumericReferences(value)
	value = util.ResolveEntityNames(value)
	return string(value)
}

// SplitFrontMatter separates a leading "---" delimited block of "key: value" lines from the body.
// Inputs without front matter are returned unchanged with a nil map.
func SplitFrontMatter(input string) (map[string]string, string) {
	normalized := strings.ReplaceAll(input, "\r\n", "\n")
	if !strings.HasPrefix(normalized, "---\n") {
		return nil, input
	}
	rest := normalized[len("---\n"):]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return nil, input
	}
	header := rest[:end]
	body := rest[end+len("\n---"):]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		body = body[nl+1:]
	} else {
		body = ""
	}

	fields := make(map[string]string)
	scanner := bufio.NewScanner(strings.NewReader(header))
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		if key != "" {
			fields[key] = value
		}
	}
	return fields, body
}
