// Package main is a post-deployment smoke check for the directory. It hits
// the health, readiness and catalog endpoints of a running server and exits
// non-zero when any of them misbehaves.
//
//	go run ./cmd/smoke -url http://localhost:8080
package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/tidwall/gjson"
)

type check struct {
	path   string
	status int
	verify func(body []byte) error
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "base URL of the running server")
	flag.Parse()

	client := &http.Client{Timeout: 30 * time.Second}

	var toolID string
	checks := []check{
		{path: "/health", status: http.StatusOK},
		{path: "/ready", status: http.StatusOK},
		{path: "/version", status: http.StatusOK, verify: func(body []byte) error {
			if !gjson.GetBytes(body, "version").Exists() {
				return fmt.Errorf("missing version field")
			}
			return nil
		}},
		{path: "/api/tools", status: http.StatusOK, verify: func(body []byte) error {
			cats := gjson.GetBytes(body, "categories")
			if !cats.IsArray() {
				return fmt.Errorf("categories is not an array")
			}
			toolID = gjson.GetBytes(body, "categories.0.tools.0.id").String()
			return nil
		}},
		{path: "/", status: http.StatusOK},
	}

	failed := false
	for _, c := range checks {
		if err := runCheck(client, *baseURL, c); err != nil {
			fmt.Printf("FAIL %s: %v\n", c.path, err)
			failed = true
			continue
		}
		fmt.Printf("ok   %s\n", c.path)
	}

	if toolID != "" {
		detail := check{path: "/api/tools/" + toolID, status: http.StatusOK, verify: func(body []byte) error {
			if got := gjson.GetBytes(body, "id").String(); got != toolID {
				return fmt.Errorf("id = %q, want %q", got, toolID)
			}
			return nil
		}}
		if err := runCheck(client, *baseURL, detail); err != nil {
			fmt.Printf("FAIL %s: %v\n", detail.path, err)
			failed = true
		} else {
			fmt.Printf("ok   %s\n", detail.path)
		}
	}

	if failed {
		os.Exit(1)
	}
}

func runCheck(client *http.Client, baseURL string, c check) error {
	resp, err := client.Get(baseURL + c.path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading body: %w", err)
	}
	if resp.StatusCode != c.status {
		return fmt.Errorf("status %d, want %d", resp.StatusCode, c.status)
	}
	if c.verify != nil {
		return c.verify(body)
	}
	return nil
}
