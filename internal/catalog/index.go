package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// IndexCategory is one entry of tools/index.json: a category name and the ids
// listed under it, in file order.
type IndexCategory struct {
	Name    string
	ToolIDs []string
}

// Index is the parsed tools/index.json. Category order follows the key order
// of the document, which encoding/json maps would lose.
type Index struct {
	Categories []IndexCategory
}

// ParseIndex decodes tools/index.json. The current shape is a flat object of
// category name to id array. The older shape
//
//	{"categories": {"<name>": {"id": "...", "tools": ["<id>", ...]}}}
//
// is accepted too. Repeated category keys are merged and repeated ids within a
// category are dropped.
func ParseIndex(data []byte) (*Index, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: not valid JSON", ErrInvalidIndex)
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, fmt.Errorf("%w: top level must be an object", ErrInvalidIndex)
	}

	ix := &Index{Categories: []IndexCategory{}}
	if legacy := root.Get("categories"); legacy.IsObject() && isLegacy(root) {
		return ix, ix.parseCategories(legacy, func(v gjson.Result) (gjson.Result, bool) {
			tools := v.Get("tools")
			return tools, v.IsObject() && (tools.IsArray() || !tools.Exists())
		})
	}
	return ix, ix.parseCategories(root, func(v gjson.Result) (gjson.Result, bool) {
		return v, v.IsArray()
	})
}

// isLegacy reports whether root is {"categories": {...}} with object values.
func isLegacy(root gjson.Result) bool {
	keys := 0
	root.ForEach(func(_, _ gjson.Result) bool {
		keys++
		return true
	})
	if keys != 1 {
		return false
	}
	legacy := true
	root.Get("categories").ForEach(func(_, v gjson.Result) bool {
		legacy = v.IsObject()
		return legacy
	})
	return legacy
}

func (ix *Index) parseCategories(obj gjson.Result, ids func(gjson.Result) (gjson.Result, bool)) error {
	var err error
	obj.ForEach(func(key, value gjson.Result) bool {
		list, ok := ids(value)
		if !ok {
			err = fmt.Errorf("%w: category %q must list tool ids", ErrInvalidIndex, key.String())
			return false
		}
		pos := ix.ensure(key.String())
		list.ForEach(func(_, id gjson.Result) bool {
			if id.Type != gjson.String {
				err = fmt.Errorf("%w: category %q contains a non-string id", ErrInvalidIndex, key.String())
				return false
			}
			ix.addAt(pos, id.String())
			return true
		})
		return err == nil
	})
	return err
}

// ensure returns the position of category name, appending it if absent.
func (ix *Index) ensure(name string) int {
	for i := range ix.Categories {
		if ix.Categories[i].Name == name {
			return i
		}
	}
	ix.Categories = append(ix.Categories, IndexCategory{Name: name, ToolIDs: []string{}})
	return len(ix.Categories) - 1
}

func (ix *Index) addAt(pos int, id string) bool {
	for _, existing := range ix.Categories[pos].ToolIDs {
		if existing == id {
			return false
		}
	}
	ix.Categories[pos].ToolIDs = append(ix.Categories[pos].ToolIDs, id)
	return true
}

// Upsert lists id under category, creating the category at the end if it is
// new. It reports whether id was already listed there.
func (ix *Index) Upsert(category, id string) (existed bool) {
	return !ix.addAt(ix.ensure(category), id)
}

// Contains reports whether id is listed under category.
func (ix *Index) Contains(category, id string) bool {
	for _, c := range ix.Categories {
		if c.Name != category {
			continue
		}
		for _, existing := range c.ToolIDs {
			if existing == id {
				return true
			}
		}
	}
	return false
}

// ToolIDs returns every distinct id in the index in first-seen order.
func (ix *Index) ToolIDs() []string {
	seen := make(map[string]bool)
	ids := []string{}
	for _, c := range ix.Categories {
		for _, id := range c.ToolIDs {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// Remove drops every listed id in drop from all categories and returns how
// many entries were removed. Categories are kept even when emptied.
func (ix *Index) Remove(drop map[string]bool) int {
	removed := 0
	for i := range ix.Categories {
		kept := ix.Categories[i].ToolIDs[:0]
		for _, id := range ix.Categories[i].ToolIDs {
			if drop[id] {
				removed++
				continue
			}
			kept = append(kept, id)
		}
		ix.Categories[i].ToolIDs = kept
	}
	return removed
}

// MarshalJSON writes the flat shape, preserving category order.
func (ix *Index) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range ix.Categories {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(c.Name)
		if err != nil {
			return nil, err
		}
		ids := c.ToolIDs
		if ids == nil {
			ids = []string{}
		}
		list, err := json.Marshal(ids)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(list)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Encode returns the index as the indented document stored in the repository.
func (ix *Index) Encode() ([]byte, error) {
	raw, err := ix.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var out bytes.Buffer
	if err := json.Indent(&out, raw, "", "  "); err != nil {
		return nil, err
	}
	out.WriteByte('\n')
	return out.Bytes(), nil
}
