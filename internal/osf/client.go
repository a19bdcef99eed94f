// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package osf lists the files of an Open Science Framework project so that
// analysis agents can see what a study publishes alongside its protocol.
package osf

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/pdiddy/irb-engine/internal/httputil"
	"github.com/pdiddy/irb-engine/pkg/types"
)

// DefaultBaseURL is the public OSF v2 API.
const DefaultBaseURL = "https://api.osf.io/v2"

// maxPages bounds how many listing pages are followed.
const maxPages = 10

// Client fetches project metadata and osfstorage listings.
type Client struct {
	BaseURL    string
	Token      string
	UserAgent  string
	MaxRetries int
	HTTP       *http.Client
}

// New returns a Client configured from cfg.
func New(cfg types.OSFConfig) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	return &Client{
		BaseURL:    strings.TrimRight(base, "/"),
		Token:      cfg.Token,
		UserAgent:  cfg.UserAgent,
		MaxRetries: 2,
		HTTP:       &http.Client{Timeout: cfg.Timeout},
	}
}

// ProjectID extracts the project identifier from an OSF URL such as
// https://osf.io/abc12/ or from a bare identifier.
func ProjectID(repoURL string) string {
	s := strings.TrimSpace(repoURL)
	if i := strings.Index(s, "osf.io/"); i >= 0 {
		s = s[i+len("osf.io/"):]
	}
	s = strings.Trim(s, "/")
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	return s
}

// Listing returns the project's title and file listing. Failures are
// recorded in the listing's Error field rather than returned, so a broken
// repository link never stops an analysis.
func (c *Client) Listing(ctx context.Context, repoURL string) types.RepoListing {
	listing := types.RepoListing{URL: repoURL, ProjectID: ProjectID(repoURL)}
	if listing.ProjectID == "" {
		listing.Error = "Could not extract project ID from OSF URL"
		return listing
	}

	var node nodeResponse
	if err := c.get(ctx, c.BaseURL+"/nodes/"+listing.ProjectID+"/", &node); err != nil {
		listing.Error = fmt.Sprintf("OSF fetch failed: %v", err)
		return listing
	}
	listing.Title = node.Data.Attributes.Title

	files, err := c.files(ctx, listing.ProjectID)
	if err != nil {
		listing.Error = fmt.Sprintf("OSF fetch failed: %v", err)
	}
	listing.Files = files
	return listing
}

func (c *Client) files(ctx context.Context, projectID string) ([]types.RepoFile, error) {
	var out []types.RepoFile
	next := c.BaseURL + "/nodes/" + projectID + "/files/osfstorage/"
	for page := 0; next != "" && page < maxPages; page++ {
		var resp filesResponse
		if err := c.get(ctx, next, &resp); err != nil {
			return out, err
		}
		for _, item := range resp.Data {
			kind := item.Attributes.Kind
			if kind == "" {
				kind = "file"
			}
			out = append(out, types.RepoFile{
				Name:        item.Attributes.Name,
				Kind:        kind,
				Path:        item.Attributes.MaterializedPath,
				Size:        item.Attributes.Size,
				DownloadURL: item.Links.Download,
			})
		}
		next = resp.Links.Next
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.api+json")
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := httputil.DoWithRetry(ctx, c.HTTP, req, c.MaxRetries)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("parsing OSF response: %w", err)
	}
	return nil
}

type nodeResponse struct {
	Data struct {
		Attributes struct {
			Title string `json:"title"`
		} `json:"attributes"`
	} `json:"data"`
}

type filesResponse struct {
	Data []struct {
		Attributes struct {
			Name             string `json:"name"`
			Kind             string `json:"kind"`
			Size             int64  `json:"size"`
			MaterializedPath string `json:"materialized_path"`
		} `json:"attributes"`
		Links struct {
			Download string `json:"download"`
		} `json:"links"`
	} `json:"data"`
	Links struct {
		Next string `json:"next"`
	} `json:"links"`
}
