// Package catalog holds the tool listing model, the category index codec,
// catalog assembly from the content repository, and listing filters.
package catalog

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrToolNotFound is returned when a tool id has no metadata file
	ErrToolNotFound = errors.New("tool not found")

	// ErrInvalidTool is returned for metadata that decodes but breaks the model rules
	ErrInvalidTool = errors.New("invalid tool metadata")

	// ErrInvalidIndex is returned when tools/index.json has an unsupported shape
	ErrInvalidIndex = errors.New("invalid tool index")
)

// Tool is one directory listing, stored as tools/{id}/meta.json.
type Tool struct {
	ID           string       `json:"id"`
	Title        string       `json:"title"`
	Description  string       `json:"description"`
	Category     string       `json:"category"`
	Tags         []string     `json:"tags"`
	Installation Installation `json:"installation"`
	GitHubURL    string       `json:"githubUrl"`
	Author       string       `json:"author"`
	CreateTime   time.Time    `json:"createTime"`
}

// Installation lists the ways a tool can be installed. Either variant may be absent.
type Installation struct {
	Auto   *AutoInstall   `json:"auto,omitempty"`
	Manual *ManualInstall `json:"manual,omitempty"`
}

// AutoInstall is a single command that installs and configures the tool.
type AutoInstall struct {
	Command string `json:"command"`
}

// ManualInstall is a command line plus the environment it needs.
type ManualInstall struct {
	Command string            `json:"command"`
	Args    []string          `json:"args"`
	Env     map[string]string `json:"env,omitempty"`
}

// ToolDetail is a Tool plus its rendered-as-is README, served by the detail view.
type ToolDetail struct {
	Tool
	Documentation string `json:"documentation,omitempty"`
}

// Category is a named, ordered group of tools.
type Category struct {
	ID    string  `json:"id"`
	Tools []*Tool `json:"tools"`
}

// Catalog is the full listing served to clients.
type Catalog struct {
	Categories []Category `json:"categories"`
}

// Empty returns a catalog with no categories. It marshals as {"categories":[]}.
func Empty() *Catalog {
	return &Catalog{Categories: []Category{}}
}

// ToolCount returns the number of tool entries across all categories.
func (c *Catalog) ToolCount() int {
	n := 0
	for _, cat := range c.Categories {
		n += len(cat.Tools)
	}
	return n
}

// Normalize fills defaults on a decoded tool and checks it against the id the
// index listed it under. An empty id takes indexID; a different id is rejected.
func (t *Tool) Normalize(indexID string) error {
	if t.ID == "" {
		t.ID = indexID
	}
	if t.ID != indexID {
		return fmt.Errorf("%w: id %q does not match index entry %q", ErrInvalidTool, t.ID, indexID)
	}
	if !ValidID(t.ID) {
		return fmt.Errorf("%w: id %q is not a valid slug", ErrInvalidTool, t.ID)
	}
	if strings.TrimSpace(t.Title) == "" {
		return fmt.Errorf("%w: %s: title is required", ErrInvalidTool, t.ID)
	}
	if t.Tags == nil {
		t.Tags = []string{}
	}
	if t.Installation.Manual != nil && t.Installation.Manual.Args == nil {
		t.Installation.Manual.Args = []string{}
	}
	return nil
}
