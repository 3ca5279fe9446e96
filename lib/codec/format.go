package codec

import (
	"fmt"
	"path"
	"strings"
)

// Format names a textual representation of a document.
type Format string

const (
	FormatMarkdown Format = "md"
	FormatMDX      Format = "mdx"
	FormatText     Format = "txt"
	FormatHTML     Format = "html"
)

// FormatFromExtension maps a file name or extension to a Format. ok is false for
// extensions the codec does not read.
func FormatFromExtension(name string) (Format, bool) {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
	if ext == "" {
		ext = strings.ToLower(strings.TrimPrefix(name, "."))
	}
	switch ext {
	case "md", "markdown":
		return FormatMarkdown, true
	case "mdx":
		return FormatMDX, true
	case "txt":
		return FormatText, true
	case "html", "htm":
		return FormatHTML, true
	}
	return "", false
}

// Deserialize dispatches to the deserializer for format.
func Deserialize(format Format, input string) (Node, error) {
	switch format {
	case FormatMarkdown:
		return DeserializeFromMarkdown(input)
	case FormatMDX:
		return DeserializeFromMDX(input)
	case FormatText:
		return DeserializeFromText(input)
	case FormatHTML:
		return DeserializeFromHTML(input)
	}
	return Node{}, fmt.Errorf("unsupported format %q", format)
}

// Serialize dispatches to the serializer for format. MDX is written as Markdown.
func Serialize(format Format, doc Node) (string, error) {
	switch format {
	case FormatMarkdown, FormatMDX:
		return SerializeToMarkdown(doc), nil
	case FormatText:
		return SerializeToText(doc), nil
	case FormatHTML:
		return SerializeToHTML(doc), nil
	}
	return "", fmt.Errorf("unsupported format %q", format)
}
