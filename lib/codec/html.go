package codec

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// SerializeToHTML renders a document body as minified HTML.
func SerializeToHTML(doc Node) string {
	var sb strings.Builder
	for _, n := range doc.Content {
		writeHTMLBlock(&sb, n)
	}
	return DefaultMinifier().MinifyHTML(sb.String())
}

func writeHTMLBlock(sb *strings.Builder, n Node) {
	switch n.Type {
	case TypeParagraph:
		sb.WriteString("<p>")
		writeHTMLInlines(sb, n.Content)
		sb.WriteString("</p>")
	case TypeHeading:
		level := n.AttrInt("level", 1)
		if level < 1 || level > 6 {
			level = 1
		}
		fmt.Fprintf(sb, "<h%d>", level)
		writeHTMLInlines(sb, n.Content)
		fmt.Fprintf(sb, "</h%d>", level)
	case TypeBulletList:
		sb.WriteString("<ul>")
		writeHTMLItems(sb, n.Content)
		sb.WriteString("</ul>")
	case TypeOrderedList:
		if start := n.AttrInt("start", 1); start != 1 {
			fmt.Fprintf(sb, `<ol start="%d">`, start)
		} else {
			sb.WriteString("<ol>")
		}
		writeHTMLItems(sb, n.Content)
		sb.WriteString("</ol>")
	case TypeBlockquote:
		sb.WriteString("<blockquote>")
		for _, child := range n.Content {
			writeHTMLBlock(sb, child)
		}
		sb.WriteString("</blockquote>")
	case TypeCodeBlock:
		if lang := n.AttrString("language"); lang != "" {
			fmt.Fprintf(sb, `<pre><code class="language-%s">`, html.EscapeString(lang))
		} else {
			sb.WriteString("<pre><code>")
		}
		sb.WriteString(html.EscapeString(n.PlainText()))
		sb.WriteString("</code></pre>")
	case TypeHorizontalRule:
		sb.WriteString("<hr>")
	case TypeImage:
		writeHTMLImage(sb, n)
	default:
		for _, child := range n.Content {
			writeHTMLBlock(sb, child)
		}
	}
}

func writeHTMLItems(sb *strings.Builder, items []Node) {
	for _, item := range items {
		sb.WriteString("<li>")
		for _, child := range item.Content {
			writeHTMLBlock(sb, child)
		}
		sb.WriteString("</li>")
	}
}

func writeHTMLImage(sb *strings.Builder, n Node) {
	fmt.Fprintf(sb, `<img src="%s" alt="%s">`, html.EscapeString(n.AttrString("src")), html.EscapeString(n.AttrString("alt")))
}

func writeHTMLInlines(sb *strings.Builder, nodes []Node) {
	for _, n := range nodes {
		switch n.Type {
		case TypeText:
			writeHTMLText(sb, n)
		case TypeHardBreak:
			sb.WriteString("<br>")
		case TypeImage:
			writeHTMLImage(sb, n)
		default:
			writeHTMLInlines(sb, n.Content)
		}
	}
}

func writeHTMLText(sb *strings.Builder, n Node) {
	var open, closing []string
	for _, m := range n.Marks {
		switch m.Type {
		case MarkBold:
			open, closing = append(open, "<strong>"), append(closing, "</strong>")
		case MarkItalic:
			open, closing = append(open, "<em>"), append(closing, "</em>")
		case MarkCode:
			open, closing = append(open, "<code>"), append(closing, "</code>")
		case MarkStrike:
			open, closing = append(open, "<s>"), append(closing, "</s>")
		case MarkLink:
			open = append(open, fmt.Sprintf(`<a href="%s">`, html.EscapeString(markAttr(m, "href"))))
			closing = append(closing, "</a>")
		}
	}
	for _, tag := range open {
		sb.WriteString(tag)
	}
	sb.WriteString(html.EscapeString(n.Text))
	for i := len(closing) - 1; i >= 0; i-- {
		sb.WriteString(closing[i])
	}
}

// DeserializeFromHTML parses an HTML fragment into a document body.
func DeserializeFromHTML(input string) (Node, error) {
	if !utf8.ValidString(input) {
		return Node{}, ErrInvalidEncoding
	}
	root, err := html.Parse(strings.NewReader(input))
	if err != nil {
		return Node{}, fmt.Errorf("failed to parse HTML: %w", err)
	}
	body := findElement(root, atom.Body)
	if body == nil {
		return NewDocument(), nil
	}
	return NewDocument(htmlBlocks(body)...), nil
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, a); found != nil {
			return found
		}
	}
	return nil
}

func htmlBlocks(parent *html.Node) []Node {
	var out []Node
	var pending []Node

	flush := func() {
		if len(pending) == 0 {
			return
		}
		if strings.TrimSpace(Node{Content: pending}.PlainText()) != "" || hasNonText(pending) {
			out = append(out, Paragraph(trimInlines(pending)...))
		}
		pending = nil
	}

	for c := parent.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && isHTMLBlock(c.DataAtom) {
			flush()
			out = append(out, htmlBlock(c)...)
			continue
		}
		pending = append(pending, htmlInline(c, nil)...)
	}
	flush()
	return out
}

func hasNonText(nodes []Node) bool {
	for _, n := range nodes {
		if n.Type != TypeText {
			return true
		}
	}
	return false
}

func isHTMLBlock(a atom.Atom) bool {
	switch a {
	case atom.P, atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6,
		atom.Ul, atom.Ol, atom.Li, atom.Blockquote, atom.Pre, atom.Hr,
		atom.Div, atom.Section, atom.Article, atom.Header, atom.Footer, atom.Main,
		atom.Figure, atom.Table:
		return true
	}
	return false
}

func htmlBlock(n *html.Node) []Node {
	switch n.DataAtom {
	case atom.P:
		inlines := trimInlines(htmlChildrenInline(n, nil))
		if len(inlines) == 1 && inlines[0].Type == TypeImage {
			return inlines
		}
		if len(inlines) == 0 {
			return nil
		}
		return []Node{Paragraph(inlines...)}
	case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
		level, _ := strconv.Atoi(n.Data[1:])
		return []Node{Heading(level, trimInlines(htmlChildrenInline(n, nil))...)}
	case atom.Ul, atom.Ol:
		listType := TypeBulletList
		var attrs map[string]any
		if n.DataAtom == atom.Ol {
			listType = TypeOrderedList
			start := 1
			if v := htmlAttr(n, "start"); v != "" {
				if parsed, err := strconv.Atoi(v); err == nil {
					start = parsed
				}
			}
			attrs = map[string]any{"start": start}
		}
		list := Node{Type: listType, Attrs: attrs}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && c.DataAtom == atom.Li {
				list.Content = append(list.Content, listItem(c))
			}
		}
		return []Node{list}
	case atom.Li:
		return []Node{{Type: TypeBulletList, Content: []Node{listItem(n)}}}
	case atom.Blockquote:
		return []Node{{Type: TypeBlockquote, Content: htmlBlocks(n)}}
	case atom.Pre:
		var attrs map[string]any
		if code := findElement(n, atom.Code); code != nil {
			for _, class := range strings.Fields(htmlAttr(code, "class")) {
				if lang, ok := strings.CutPrefix(class, "language-"); ok {
					attrs = map[string]any{"language": lang}
				}
			}
		}
		return []Node{codeBlock(rawText(n), attrs)}
	case atom.Hr:
		return []Node{{Type: TypeHorizontalRule}}
	default:
		return htmlBlocks(n)
	}
}

func listItem(n *html.Node) Node {
	content := htmlBlocks(n)
	if len(content) == 0 {
		content = []Node{Paragraph()}
	}
	return Node{Type: TypeListItem, Content: content}
}

func htmlChildrenInline(n *html.Node, marks []Mark) []Node {
	var out []Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		for _, node := range htmlInline(c, marks) {
			if node.Type == TypeText {
				out = appendText(out, node.Text, node.Marks)
			} else {
				out = append(out, node)
			}
		}
	}
	return out
}

func htmlInline(n *html.Node, marks []Mark) []Node {
	switch n.Type {
	case html.TextNode:
		s := collapseWhitespace(n.Data)
		if s == "" {
			return nil
		}
		return []Node{Text(s, marks...)}
	case html.ElementNode:
	default:
		return nil
	}

	switch n.DataAtom {
	case atom.Strong, atom.B:
		return htmlChildrenInline(n, withMark(marks, Mark{Type: MarkBold}))
	case atom.Em, atom.I:
		return htmlChildrenInline(n, withMark(marks, Mark{Type: MarkItalic}))
	case atom.Code:
		return htmlChildrenInline(n, withMark(marks, Mark{Type: MarkCode}))
	case atom.S, atom.Del, atom.Strike:
		return htmlChildrenInline(n, withMark(marks, Mark{Type: MarkStrike}))
	case atom.A:
		href := htmlAttr(n, "href")
		if href == "" {
			return htmlChildrenInline(n, marks)
		}
		return htmlChildrenInline(n, withMark(marks, Mark{Type: MarkLink, Attrs: map[string]any{"href": href}}))
	case atom.Br:
		return []Node{{Type: TypeHardBreak}}
	case atom.Img:
		return []Node{{Type: TypeImage, Attrs: map[string]any{"src": htmlAttr(n, "src"), "alt": htmlAttr(n, "alt")}}}
	case atom.Script, atom.Style:
		return nil
	default:
		return htmlChildrenInline(n, marks)
	}
}

func htmlAttr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func rawText(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		sb.WriteString(rawText(c))
	}
	return sb.String()
}

func collapseWhitespace(s string) string {
	if strings.TrimSpace(s) == "" {
		if s == "" {
			return ""
		}
		return " "
	}
	leading := s[0] == ' ' || s[0] == '\n' || s[0] == '\t' || s[0] == '\r'
	last := s[len(s)-1]
	trailing := last == ' ' || last == '\n' || last == '\t' || last == '\r'
	collapsed := strings.Join(strings.Fields(s), " ")
	if leading {
		collapsed = " " + collapsed
	}
	if trailing {
		collapsed += " "
	}
	return collapsed
}

// trimInlines strips whitespace at the edges of an inline run.
func trimInlines(nodes []Node) []Node {
	for len(nodes) > 0 && nodes[0].Type == TypeText && strings.TrimSpace(nodes[0].Text) == "" {
		nodes = nodes[1:]
	}
	for len(nodes) > 0 && nodes[len(nodes)-1].Type == TypeText && strings.TrimSpace(nodes[len(nodes)-1].Text) == "" {
		nodes = nodes[:len(nodes)-1]
	}
	if len(nodes) == 0 {
		return nil
	}
	out := make([]Node, len(nodes))
	copy(out, nodes)
	if out[0].Type == TypeText {
		out[0].Text = strings.TrimLeft(out[0].Text, " ")
	}
	if last := len(out) - 1; out[last].Type == TypeText {
		out[last].Text = strings.TrimRight(out[last].Text, " ")
	}
	return out
}
