package catalog

import "strings"

// Filter returns the categories of c narrowed to selectedCategory (all when
// empty) and to tools whose title, description or any tag contains
// searchTerm, case-insensitively. Categories left without tools are dropped,
// and order is preserved. c is not modified.
func Filter(c *Catalog, selectedCategory, searchTerm string) []Category {
	out := []Category{}
	if c == nil {
		return out
	}
	term := strings.ToLower(searchTerm)
	for _, cat := range c.Categories {
		if selectedCategory != "" && cat.ID != selectedCategory {
			continue
		}
		var kept []*Tool
		for _, t := range cat.Tools {
			if Matches(t, term) {
				kept = append(kept, t)
			}
		}
		if len(kept) > 0 {
			out = append(out, Category{ID: cat.ID, Tools: kept})
		}
	}
	return out
}

// Matches reports whether lowerTerm (already lower-cased) is a substring of
// the tool's title, description or one of its tags.
func Matches(t *Tool, lowerTerm string) bool {
	if lowerTerm == "" {
		return true
	}
	if strings.Contains(strings.ToLower(t.Title), lowerTerm) ||
		strings.Contains(strings.ToLower(t.Description), lowerTerm) {
		return true
	}
	for _, tag := range t.Tags {
		if strings.Contains(strings.ToLower(tag), lowerTerm) {
			return true
		}
	}
	return false
}

// CategoryIDs lists the category ids of c in order.
func CategoryIDs(c *Catalog) []string {
	ids := make([]string, 0, len(c.Categories))
	for _, cat := range c.Categories {
		ids = append(ids, cat.ID)
	}
	return ids
}
