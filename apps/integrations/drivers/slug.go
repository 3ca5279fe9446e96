package drivers

import (
	"strings"
	"unicode"
)

// Slugify lower-cases s and joins its letter and digit runs with single dashes.
func Slugify(s string) string {
	var sb strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if dash && sb.Len() > 0 {
				sb.WriteByte('-')
			}
			sb.WriteRune(r)
			dash = false
			continue
		}
		dash = true
	}
	return sb.String()
}

// DocumentSlug returns the document's slug, derived from its title when unset.
func DocumentSlug(doc SyncDocument) string {
	if doc.Slug != "" {
		return doc.Slug
	}
	return Slugify(doc.Title)
}
