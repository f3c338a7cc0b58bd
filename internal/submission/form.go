// Package submission turns a submitted tool form into a tool record and
// commits it, together with its README and the updated category index, to
// the content repository.
package submission

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/mcp-directory/mcp-directory/internal/catalog"
)

// ErrInvalidSubmission is returned when the form fails validation.
var ErrInvalidSubmission = errors.New("invalid submission")

// Form is the submission payload, accepted as JSON or as an HTML form post.
type Form struct {
	Title         string `json:"title" form:"title" binding:"required"`
	Description   string `json:"description" form:"description" binding:"required"`
	GitHubURL     string `json:"githubUrl" form:"githubUrl" binding:"required,url"`
	Category      string `json:"category" form:"category" binding:"required"`
	Tags          string `json:"tags" form:"tags"`
	AutoCommand   string `json:"autoCommand" form:"autoCommand" binding:"required"`
	ManualCommand string `json:"manualCommand" form:"manualCommand"`
	EnvVars       string `json:"envVars" form:"envVars"`
}

// Normalize trims every field.
func (f *Form) Normalize() {
	f.Title = strings.TrimSpace(f.Title)
	f.Description = strings.TrimSpace(f.Description)
	f.GitHubURL = strings.TrimSpace(f.GitHubURL)
	f.Category = strings.TrimSpace(f.Category)
	f.Tags = strings.TrimSpace(f.Tags)
	f.AutoCommand = strings.TrimSpace(f.AutoCommand)
	f.ManualCommand = strings.TrimSpace(f.ManualCommand)
	f.EnvVars = strings.TrimSpace(f.EnvVars)
}

// Validate checks a normalized form and returns its tool id.
func (f *Form) Validate() (string, error) {
	switch {
	case f.Title == "":
		return "", fmt.Errorf("%w: title is required", ErrInvalidSubmission)
	case f.Description == "":
		return "", fmt.Errorf("%w: description is required", ErrInvalidSubmission)
	case f.Category == "":
		return "", fmt.Errorf("%w: category is required", ErrInvalidSubmission)
	case f.AutoCommand == "":
		return "", fmt.Errorf("%w: autoCommand is required", ErrInvalidSubmission)
	}
	if err := validateRepoURL(f.GitHubURL); err != nil {
		return "", err
	}
	id := catalog.Slug(f.Title)
	if id == "" {
		return "", fmt.Errorf("%w: title must contain at least one letter or digit", ErrInvalidSubmission)
	}
	return id, nil
}

func validateRepoURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("%w: githubUrl is required", ErrInvalidSubmission)
	}
	u, err := url.ParseRequestURI(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: githubUrl must be an http(s) URL", ErrInvalidSubmission)
	}
	return nil
}

// ParseTags splits a comma-separated tag list, dropping blanks.
func ParseTags(s string) []string {
	tags := []string{}
	for _, tag := range strings.Split(s, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

// ParseEnvVars reads newline-separated KEY=VALUE lines. The value is
// everything after the first "=", so it may itself contain "=". Lines without
// "=" or with an empty key are skipped.
func ParseEnvVars(s string) map[string]string {
	env := map[string]string{}
	for _, line := range strings.Split(s, "\n") {
		key, value, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		env[key] = strings.TrimSpace(value)
	}
	return env
}

// ParseManualCommand splits a command line on whitespace into the command and
// its arguments. It returns nil for a blank line.
func ParseManualCommand(line string, env map[string]string) *catalog.ManualInstall {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	m := &catalog.ManualInstall{
		Command: fields[0],
		Args:    append([]string{}, fields[1:]...),
	}
	if len(env) > 0 {
		m.Env = env
	}
	return m
}

// BuildTool assembles the tool record for a validated form.
func BuildTool(f Form, id, author string, now time.Time) *catalog.Tool {
	return &catalog.Tool{
		ID:          id,
		Title:       f.Title,
		Description: f.Description,
		Category:    f.Category,
		Tags:        ParseTags(f.Tags),
		Installation: catalog.Installation{
			Auto:   &catalog.AutoInstall{Command: f.AutoCommand},
			Manual: ParseManualCommand(f.ManualCommand, ParseEnvVars(f.EnvVars)),
		},
		GitHubURL:  f.GitHubURL,
		Author:     author,
		CreateTime: now.UTC(),
	}
}

// Readme renders the generated README for a new tool.
func Readme(title, description string) []byte {
	return []byte("# " + title + "\n\n" + description + "\n")
}

// encodeMeta writes tool metadata the way the content repository stores it:
// two-space indentation, trailing newline, no HTML escaping.
func encodeMeta(t *catalog.Tool) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(t); err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return buf.Bytes(), nil
}
