// Package github implements content.Provider on top of the GitHub REST API v3.
// Reads go through the contents API on a fixed branch; writes are a single
// commit built with the Git Data API so that metadata, README and index land
// together or not at all.
package github

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/mcp-directory/mcp-directory/internal/config"
	"github.com/mcp-directory/mcp-directory/internal/content"
)

const (
	defaultAPIURL = "https://api.github.com"
	apiVersion    = "2022-11-28"
	kind          = "github"
)

// Settings configures a Provider.
type Settings struct {
	APIURL  string
	Owner   string
	Repo    string
	Branch  string
	Token   string
	Timeout time.Duration
}

// Provider implements content.Provider for one GitHub repository branch.
type Provider struct {
	client *http.Client
	apiURL string
	owner  string
	repo   string
	branch string
}

// New creates a GitHub provider. An empty token yields an unauthenticated
// client, which works for public repositories at a much lower rate limit but
// cannot commit.
func New(s Settings) (*Provider, error) {
	if s.Owner == "" || s.Repo == "" {
		return nil, fmt.Errorf("github: owner and repo are required")
	}
	apiURL := strings.TrimRight(s.APIURL, "/")
	if apiURL == "" {
		apiURL = defaultAPIURL
	}
	branch := s.Branch
	if branch == "" {
		branch = "main"
	}

	client := &http.Client{}
	if s.Token != "" {
		src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: s.Token})
		client = oauth2.NewClient(context.Background(), src)
	}
	client.Timeout = s.Timeout

	return &Provider{
		client: client,
		apiURL: apiURL,
		owner:  s.Owner,
		repo:   s.Repo,
		branch: branch,
	}, nil
}

// Kind returns the provider kind
func (p *Provider) Kind() string { return kind }

// Head returns the commit SHA the branch points at.
func (p *Provider) Head(ctx context.Context) (string, error) {
	var ref refResponse
	if err := p.do(ctx, http.MethodGet, p.repoURL()+"/git/ref/heads/"+escapePath(p.branch), nil, &ref); err != nil {
		return "", fmt.Errorf("github: resolve branch %s: %w", p.branch, err)
	}
	return ref.Object.SHA, nil
}

// GetFile reads path from the tip of the configured branch.
func (p *Provider) GetFile(ctx context.Context, path string) ([]byte, error) {
	return p.GetFileAt(ctx, "", path)
}

// GetFileAt reads path as of commit rev. An empty rev reads the branch tip.
func (p *Provider) GetFileAt(ctx context.Context, rev, path string) ([]byte, error) {
	ref := rev
	if ref == "" {
		ref = p.branch
	}
	endpoint := fmt.Sprintf("%s/contents/%s?ref=%s", p.repoURL(), escapePath(path), url.QueryEscape(ref))

	var file contentsResponse
	if err := p.do(ctx, http.MethodGet, endpoint, nil, &file); err != nil {
		return nil, fmt.Errorf("github: get %s: %w", path, err)
	}
	if file.Type != "" && file.Type != "file" {
		return nil, fmt.Errorf("github: get %s: %w", path, content.ErrFileNotFound)
	}

	switch file.Encoding {
	case "base64":
		data, err := base64.StdEncoding.DecodeString(stripNewlines(file.Content))
		if err != nil {
			return nil, fmt.Errorf("github: decode %s: %w", path, err)
		}
		return data, nil
	case "none", "":
		// Files above 1 MB come back without inline content.
		return p.getRaw(ctx, endpoint, path)
	default:
		return nil, fmt.Errorf("github: get %s: unsupported encoding %q", path, file.Encoding)
	}
}

func (p *Provider) getRaw(ctx context.Context, endpoint, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("github: create raw request: %w", err)
	}
	setHeaders(req)
	req.Header.Set("Accept", "application/vnd.github.raw+json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, content.WrapRemoteError(0, "failed to download "+path, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, fmt.Errorf("github: get %s: %w", path, err)
	}
	return io.ReadAll(resp.Body)
}

// Commit writes every change in one commit on the branch: resolve the branch
// head, check it is still base, create a tree on top of its tree, create the
// commit, then fast-forward the branch ref. A branch that is no longer at
// base, or that moves before the ref update, yields content.ErrConflict.
func (p *Provider) Commit(ctx context.Context, base, message string, changes []content.FileChange) error {
	if len(changes) == 0 {
		return nil
	}

	headSHA, err := p.Head(ctx)
	if err != nil {
		return err
	}
	if base != "" && base != headSHA {
		return fmt.Errorf("github: branch %s is at %s, not %s: %w", p.branch, headSHA, base, content.ErrConflict)
	}

	var head commitResponse
	if err := p.do(ctx, http.MethodGet, p.repoURL()+"/git/commits/"+headSHA, nil, &head); err != nil {
		return fmt.Errorf("github: get head commit: %w", err)
	}

	entries := make([]treeEntry, 0, len(changes))
	for _, c := range changes {
		entries = append(entries, treeEntry{
			Path:    c.Path,
			Mode:    "100644",
			Type:    "blob",
			Content: string(c.Content),
		})
	}
	var tree shaResponse
	if err := p.do(ctx, http.MethodPost, p.repoURL()+"/git/trees", createTreeRequest{
		BaseTree: head.Tree.SHA,
		Tree:     entries,
	}, &tree); err != nil {
		return fmt.Errorf("github: create tree: %w", err)
	}

	var commit shaResponse
	if err := p.do(ctx, http.MethodPost, p.repoURL()+"/git/commits", createCommitRequest{
		Message: message,
		Tree:    tree.SHA,
		Parents: []string{headSHA},
	}, &commit); err != nil {
		return fmt.Errorf("github: create commit: %w", err)
	}

	err = p.do(ctx, http.MethodPatch, p.repoURL()+"/git/refs/heads/"+escapePath(p.branch), updateRefRequest{
		SHA:   commit.SHA,
		Force: false,
	}, nil)
	if err != nil {
		var apiErr *content.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnprocessableEntity {
			return fmt.Errorf("github: update branch %s: %w", p.branch, content.ErrConflict)
		}
		return fmt.Errorf("github: update branch %s: %w", p.branch, err)
	}
	return nil
}

func (p *Provider) repoURL() string {
	return fmt.Sprintf("%s/repos/%s/%s", p.apiURL, p.owner, p.repo)
}

// do sends a JSON request and decodes a JSON response into out when non-nil.
func (p *Provider) do(ctx context.Context, method, endpoint string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	setHeaders(req)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return content.WrapRemoteError(0, "request failed", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
}

// checkStatus maps non-2xx responses to content errors.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	msg := readMessage(resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return content.WrapRemoteError(resp.StatusCode, "not found", content.ErrFileNotFound)
	case (resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests) &&
		(resp.Header.Get("X-RateLimit-Remaining") == "0" || resp.Header.Get("Retry-After") != ""):
		return content.WrapRemoteError(resp.StatusCode, "rate limited", content.ErrRateLimitExceeded)
	default:
		return content.WrapRemoteError(resp.StatusCode, fmt.Sprintf("unexpected status %d", resp.StatusCode), fmt.Errorf("%s", msg))
	}
}

func readMessage(r io.Reader) string {
	body, _ := io.ReadAll(io.LimitReader(r, 4096))
	var e struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &e) == nil && e.Message != "" {
		return e.Message
	}
	return strings.TrimSpace(string(body))
}

func escapePath(p string) string {
	segments := strings.Split(strings.TrimPrefix(p, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}

func stripNewlines(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

type contentsResponse struct {
	Type     string `json:"type"`
	Encoding string `json:"encoding"`
	Content  string `json:"content"`
	SHA      string `json:"sha"`
}

type refResponse struct {
	Object struct {
		SHA string `json:"sha"`
	} `json:"object"`
}

type commitResponse struct {
	SHA  string `json:"sha"`
	Tree struct {
		SHA string `json:"sha"`
	} `json:"tree"`
}

type shaResponse struct {
	SHA string `json:"sha"`
}

type treeEntry struct {
	Path    string `json:"path"`
	Mode    string `json:"mode"`
	Type    string `json:"type"`
	Content string `json:"content"`
}

type createTreeRequest struct {
	BaseTree string      `json:"base_tree"`
	Tree     []treeEntry `json:"tree"`
}

type createCommitRequest struct {
	Message string   `json:"message"`
	Tree    string   `json:"tree"`
	Parents []string `json:"parents"`
}

type updateRefRequest struct {
	SHA   string `json:"sha"`
	Force bool   `json:"force"`
}

func init() {
	content.Register(kind, func(cfg *config.ContentConfig) (content.Provider, error) {
		return New(Settings{
			APIURL:  cfg.GitHub.APIURL,
			Owner:   cfg.GitHub.Owner,
			Repo:    cfg.GitHub.Repo,
			Branch:  cfg.GitHub.Branch,
			Token:   cfg.GitHub.Token,
			Timeout: cfg.RequestTimeout,
		})
	})
}
