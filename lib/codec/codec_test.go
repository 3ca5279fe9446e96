package codec

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDocument() Node {
	return NewDocument(
		Heading(1, Text("Title")),
		Paragraph(Text("Hello "), Text("world", Mark{Type: MarkBold})),
		Node{Type: TypeBulletList, Content: []Node{
			{Type: TypeListItem, Content: []Node{Paragraph(Text("one"))}},
			{Type: TypeListItem, Content: []Node{Paragraph(Text("two"))}},
		}},
		Node{Type: TypeCodeBlock, Attrs: map[string]any{"language": "go"}, Content: []Node{Text("fmt.Println()")}},
	)
}

func findText(nodes []Node, s string) *Node {
	for i := range nodes {
		if nodes[i].Type == TypeText && nodes[i].Text == s {
			return &nodes[i]
		}
		if found := findText(nodes[i].Content, s); found != nil {
			return found
		}
	}
	return nil
}

func TestSerializeToMarkdown(t *testing.T) {
	expected := "# Title\n\nHello **world**\n\n- one\n- two\n\n```go\nfmt.Println()\n```\n"
	assert.Equal(t, expected, SerializeToMarkdown(sampleDocument()))
}

func TestSerializeToMarkdown_EscapesAndLinks(t *testing.T) {
	doc := NewDocument(Paragraph(
		Text("a*b "),
		Text("site", Mark{Type: MarkLink, Attrs: map[string]any{"href": "https://example.com"}}),
		Node{Type: TypeHardBreak},
		Text("x", Mark{Type: MarkCode}),
	))
	assert.Equal(t, "a\\*b [site](https://example.com)\\\n`x`\n", SerializeToMarkdown(doc))
}

func TestMarkdownRoundTrip(t *testing.T) {
	doc := sampleDocument()
	parsed, err := DeserializeFromMarkdown(SerializeToMarkdown(doc))
	require.NoError(t, err)
	assert.Equal(t, doc, parsed)
}

func TestMarkdownRoundTrip_BlockMarkersInText(t *testing.T) {
	for _, text := range []string{
		"# not a heading",
		"1. not a list",
		"2) not a list either",
		"- not a bullet",
		"+ not a bullet",
		"> not a quote",
		"--- not a rule",
		"<div>raw</div>",
		"Tom &amp; Jerry & <friends>",
		`a \ b * c _ d`,
	} {
		t.Run(text, func(t *testing.T) {
			doc := NewDocument(Paragraph(Text(text)))
			parsed, err := DeserializeFromMarkdown(SerializeToMarkdown(doc))
			require.NoError(t, err)
			assert.Equal(t, doc, parsed)
		})
	}
}

func TestMarkdownRoundTrip_LineStartAfterHardBreak(t *testing.T) {
	doc := NewDocument(Paragraph(Text("first"), Node{Type: TypeHardBreak}, Text("# second")))
	parsed, err := DeserializeFromMarkdown(SerializeToMarkdown(doc))
	require.NoError(t, err)
	require.Len(t, parsed.Content, 1)
	assert.Equal(t, TypeParagraph, parsed.Content[0].Type)
	assert.NotNil(t, findText(parsed.Content, "# second"))
}

func TestMarkdownRoundTrip_CodeBlockWithFence(t *testing.T) {
	code := "before\n```\nafter ````"
	doc := NewDocument(Node{Type: TypeCodeBlock, Content: []Node{Text(code)}})

	out := SerializeToMarkdown(doc)
	assert.True(t, strings.HasPrefix(out, "`````\n"))

	parsed, err := DeserializeFromMarkdown(out)
	require.NoError(t, err)
	assert.Equal(t, doc, parsed)
}

func TestDeserializeFromMarkdown_Marks(t *testing.T) {
	doc, err := DeserializeFromMarkdown("# Title\n\nHello **world** and *it* ~~gone~~ `code` [link](https://x.y)\n\n1. first\n2. second\n")
	require.NoError(t, err)
	require.Len(t, doc.Content, 3)

	assert.Equal(t, TypeHeading, doc.Content[0].Type)
	assert.Equal(t, 1, doc.Content[0].AttrInt("level", 0))

	para := doc.Content[1].Content
	assert.True(t, findText(para, "world").HasMark(MarkBold))
	assert.True(t, findText(para, "it").HasMark(MarkItalic))
	assert.True(t, findText(para, "gone").HasMark(MarkStrike))
	assert.True(t, findText(para, "code").HasMark(MarkCode))
	link := findText(para, "link")
	require.NotNil(t, link)
	require.Len(t, link.Marks, 1)
	assert.Equal(t, "https://x.y", markAttr(link.Marks[0], "href"))

	list := doc.Content[2]
	assert.Equal(t, TypeOrderedList, list.Type)
	assert.Equal(t, 1, list.AttrInt("start", 0))
	require.Len(t, list.Content, 2)
	assert.Equal(t, "second", list.Content[1].PlainText())
}

func TestDeserializeFromMarkdown_SkipsFrontMatter(t *testing.T) {
	doc, err := DeserializeFromMarkdown("---\ntitle: Hello\n---\n# Body\n")
	require.NoError(t, err)
	require.Len(t, doc.Content, 1)
	assert.Equal(t, "Body", doc.Content[0].PlainText())
}

func TestDeserializers_RejectInvalidUTF8(t *testing.T) {
	bad := string([]byte{0xff, 0xfe, 0xfd})
	for name, fn := range map[string]func(string) (Node, error){
		"markdown": DeserializeFromMarkdown,
		"mdx":      DeserializeFromMDX,
		"html":     DeserializeFromHTML,
		"text":     DeserializeFromText,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := fn(bad)
			assert.ErrorIs(t, err, ErrInvalidEncoding)
		})
	}
}

func TestSplitFrontMatter(t *testing.T) {
	fields, body := SplitFrontMatter("---\ntitle: \"Hello\"\ndraft: true\n---\n# Body")
	assert.Equal(t, map[string]string{"title": "Hello", "draft": "true"}, fields)
	assert.Equal(t, "# Body", body)

	fields, body = SplitFrontMatter("# No front matter")
	assert.Nil(t, fields)
	assert.Equal(t, "# No front matter", body)
}

func TestDeserializeFromMDX(t *testing.T) {
	input := "import Chart from './chart'\n\n# Hello\n\n<Callout>\nInside\n</Callout>\n\n<Chart data={1} />\n\n```jsx\n<Keep />\n```\n"
	doc, err := DeserializeFromMDX(input)
	require.NoError(t, err)
	require.Len(t, doc.Content, 3)
	assert.Equal(t, TypeHeading, doc.Content[0].Type)
	assert.Equal(t, "Inside", doc.Content[1].PlainText())
	assert.Equal(t, TypeCodeBlock, doc.Content[2].Type)
	assert.Equal(t, "<Keep />", doc.Content[2].PlainText())
}

func TestSerializeToHTML(t *testing.T) {
	out := SerializeToHTML(sampleDocument())
	assert.Contains(t, out, "<h1>Title</h1>")
	assert.Contains(t, out, "<strong>world</strong>")
	assert.Contains(t, out, "<li><p>one</p></li>")
	assert.Contains(t, out, `class="language-go"`)
}

func TestDeserializeFromHTML(t *testing.T) {
	input := `<h2>Intro</h2>
<p>Some <strong>bold</strong> and <a href="https://a.b">link</a>.</p>
<ul><li>One</li><li>Two</li></ul>
<pre><code class="language-go">x := 1</code></pre>`

	doc, err := DeserializeFromHTML(input)
	require.NoError(t, err)
	require.Len(t, doc.Content, 4)

	assert.Equal(t, 2, doc.Content[0].AttrInt("level", 0))
	assert.Equal(t, "Intro", doc.Content[0].PlainText())

	para := doc.Content[1]
	assert.Equal(t, "Some bold and link.", para.PlainText())
	assert.True(t, findText(para.Content, "bold").HasMark(MarkBold))
	assert.True(t, findText(para.Content, "link").HasMark(MarkLink))

	list := doc.Content[2]
	assert.Equal(t, TypeBulletList, list.Type)
	require.Len(t, list.Content, 2)
	assert.Equal(t, TypeParagraph, list.Content[0].Content[0].Type)
	assert.Equal(t, "One", list.Content[0].PlainText())

	code := doc.Content[3]
	assert.Equal(t, TypeCodeBlock, code.Type)
	assert.Equal(t, "go", code.AttrString("language"))
	assert.Equal(t, "x := 1", code.PlainText())
}

func TestDeserializeFromHTML_BareText(t *testing.T) {
	doc, err := DeserializeFromHTML("just words<br>next")
	require.NoError(t, err)
	require.Len(t, doc.Content, 1)
	assert.Equal(t, TypeParagraph, doc.Content[0].Type)
	assert.Equal(t, TypeHardBreak, doc.Content[0].Content[1].Type)
}

func TestTextCodec(t *testing.T) {
	doc, err := DeserializeFromText("line one\nline two\n\n\nsecond para\n")
	require.NoError(t, err)
	require.Len(t, doc.Content, 2)
	first := doc.Content[0].Content
	require.Len(t, first, 3)
	assert.Equal(t, TypeHardBreak, first[1].Type)
	assert.Equal(t, "second para", doc.Content[1].PlainText())

	out := SerializeToText(NewDocument(
		Paragraph(Text("Hello")),
		Node{Type: TypeOrderedList, Attrs: map[string]any{"start": 3}, Content: []Node{
			{Type: TypeListItem, Content: []Node{Paragraph(Text("a"))}},
			{Type: TypeListItem, Content: []Node{Paragraph(Text("b"))}},
		}},
	))
	assert.Equal(t, "Hello\n\n3. a\n4. b\n", out)
}

func TestFormatFromExtension(t *testing.T) {
	tests := []struct {
		name   string
		format Format
		ok     bool
	}{
		{"intro.md", FormatMarkdown, true},
		{"notes.MDX", FormatMDX, true},
		{"readme.txt", FormatText, true},
		{"txt", FormatText, true},
		{"page.html", FormatHTML, true},
		{"image.png", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			format, ok := FormatFromExtension(tt.name)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.format, format)
		})
	}
}

func TestParseJSON(t *testing.T) {
	doc, err := ParseJSON([]byte(`{"type":"doc","content":[{"type":"heading","attrs":{"level":2},"content":[{"type":"text","text":"Hi"}]}]}`))
	require.NoError(t, err)
	assert.Equal(t, 2, doc.Content[0].AttrInt("level", 0))
	assert.Equal(t, "## Hi\n", SerializeToMarkdown(doc))

	_, err = ParseJSON([]byte(`{`))
	assert.Error(t, err)
}
