package codec

import (
	"github.com/getevo/evo/v2/lib/log"
	"github.com/tdewolff/minify/v2"
	minhtml "github.com/tdewolff/minify/v2/html"
)

const mimeHTML = "text/html"

// HTMLMinifier compacts serialized HTML before it leaves for a storefront or CMS.
type HTMLMinifier struct {
	minifier *minify.M
}

var defaultMinifier *HTMLMinifier

func init() {
	defaultMinifier = NewHTMLMinifier()
}

// NewHTMLMinifier creates a minifier that keeps end tags and attribute quotes, so the
// output stays readable in platform editors.
func NewHTMLMinifier() *HTMLMinifier {
	m := minify.New()
	m.Add(mimeHTML, &minhtml.Minifier{KeepEndTags: true, KeepQuotes: true})

	return &HTMLMinifier{minifier: m}
}

// DefaultMinifier returns the shared minifier instance.
func DefaultMinifier() *HTMLMinifier {
	return defaultMinifier
}

// MinifyHTML returns the minified markup, falling back to the input when minification fails.
func (hm *HTMLMinifier) MinifyHTML(source string) string {
	minified, err := hm.minifier.String(mimeHTML, source)
	if err != nil {
		log.Warning("Minify: failed to minify HTML (%d bytes): %v", len(source), err)
		return source
	}
	return minified
}
