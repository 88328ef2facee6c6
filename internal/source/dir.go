package source

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/1475505/Miliastra-toolbox/internal/document"
	"github.com/1475505/Miliastra-toolbox/internal/markdown"
)

// DirSource reads markdown files recursively from a local directory.
// The directory's base name is the provenance tag, so a corpus laid out as
// knowledge/official and knowledge/user_contrib tags itself.
type DirSource struct {
	root string
	name string
}

// NewDirSource creates a source for the given directory.
func NewDirSource(root string) *DirSource {
	return &DirSource{
		root: root,
		name: filepath.Base(filepath.Clean(root)),
	}
}

func (s *DirSource) Name() string { return s.name }

// Load reads every .md file under the root. Files are returned in path
// order so repeated loads of an unchanged tree are identical.
func (s *DirSource) Load(ctx context.Context) ([]*document.Document, error) {
	var paths []string
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".md") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	docs := make([]*document.Document, 0, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			rel = filepath.Base(path)
		}
		meta, body := markdown.ExtractFrontmatter(string(raw))
		docs = append(docs, document.New(s.name, filepath.ToSlash(rel), body, meta))
	}
	return docs, nil
}
