package source

import (
	"context"
	"encoding/base64"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/gofri/go-github-ratelimit/github_ratelimit"
	"github.com/google/go-github/v81/github"

	"github.com/1475505/Miliastra-toolbox/internal/document"
	"github.com/1475505/Miliastra-toolbox/internal/markdown"
)

// GitHubSource ingests markdown from a directory of a GitHub repository.
// Community-contributed guides live in a repo rather than on the service
// host; this source pulls them into the same pipeline as local corpora.
type GitHubSource struct {
	client   *github.Client
	owner    string
	repo     string
	basePath string
	name     string
}

// NewGitHubSource creates a source for owner/repo at basePath, tagged with
// the given provenance name. token may be empty for public repositories;
// rate limits are handled with automatic waiting either way.
func NewGitHubSource(owner, repo, basePath, name, token string) (*GitHubSource, error) {
	rateLimiter, err := github_ratelimit.NewRateLimitWaiterClient(nil)
	if err != nil {
		return nil, err
	}
	client := github.NewClient(rateLimiter)
	if token != "" {
		client = client.WithAuthToken(token)
	}
	return &GitHubSource{
		client:   client,
		owner:    owner,
		repo:     repo,
		basePath: basePath,
		name:     name,
	}, nil
}

func (s *GitHubSource) Name() string { return s.name }

// Load lists and fetches every markdown file under basePath.
func (s *GitHubSource) Load(ctx context.Context) ([]*document.Document, error) {
	paths, err := s.listRecursive(ctx, s.basePath, "")
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	docs := make([]*document.Document, 0, len(paths))
	for _, rel := range paths {
		content, err := s.fetch(ctx, rel)
		if err != nil {
			return nil, err
		}
		meta, body := markdown.ExtractFrontmatter(content)
		// Keep a stable link back to the rendered file for citations.
		if _, ok := meta["url"]; !ok {
			meta["url"] = fmt.Sprintf("https://github.com/%s/%s/blob/main/%s",
				s.owner, s.repo, path.Join(s.basePath, rel))
		}
		docs = append(docs, document.New(s.name, rel, body, meta))
	}
	return docs, nil
}

func (s *GitHubSource) listRecursive(ctx context.Context, fullPath, relPath string) ([]string, error) {
	_, dirContents, _, err := s.client.Repositories.GetContents(ctx, s.owner, s.repo, fullPath, nil)
	if err != nil {
		return nil, fmt.Errorf("get contents of %s: %w", fullPath, err)
	}

	var out []string
	for _, item := range dirContents {
		if item.Type == nil || item.Name == nil {
			continue
		}
		itemRel := path.Join(relPath, *item.Name)
		switch *item.Type {
		case "file":
			if strings.HasSuffix(*item.Name, ".md") {
				out = append(out, itemRel)
			}
		case "dir":
			sub, err := s.listRecursive(ctx, path.Join(fullPath, *item.Name), itemRel)
			if err != nil {
				return nil, err
			}
			out = append(out, sub...)
		}
	}
	return out, nil
}

func (s *GitHubSource) fetch(ctx context.Context, rel string) (string, error) {
	fullPath := path.Join(s.basePath, rel)
	fileContent, _, _, err := s.client.Repositories.GetContents(ctx, s.owner, s.repo, fullPath, nil)
	if err != nil {
		return "", fmt.Errorf("get content of %s: %w", fullPath, err)
	}
	if fileContent == nil {
		return "", fmt.Errorf("no file content returned for %s", fullPath)
	}
	decoded, err := base64.StdEncoding.DecodeString(*fileContent.Content)
	if err != nil {
		return "", fmt.Errorf("decode content of %s: %w", fullPath, err)
	}
	return string(decoded), nil
}
