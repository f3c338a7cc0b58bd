package catalog

import "strings"

// Slug derives a tool id from a title: lower-case, every run of characters
// outside [a-z0-9] becomes one hyphen, leading and trailing hyphens dropped.
// Titles with no ASCII letters or digits yield "".
func Slug(title string) string {
	var b strings.Builder
	b.Grow(len(title))
	pendingHyphen := false
	for _, r := range strings.ToLower(title) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingHyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingHyphen = false
			b.WriteRune(r)
			continue
		}
		pendingHyphen = true
	}
	return b.String()
}

// ValidID reports whether id is already in Slug form.
func ValidID(id string) bool {
	return id != "" && Slug(id) == id
}
