package mapper

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mvelasco/photo-mapper/internal/match"
	"github.com/mvelasco/photo-mapper/internal/names"
	"github.com/mvelasco/photo-mapper/internal/roster"
)

var photoExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
}

// ListPhotos returns the supported image files under root, sorted by path.
func ListPhotos(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to open photo directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}

	var paths []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if photoExtensions[strings.ToLower(filepath.Ext(path))] {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk photo directory: %w", err)
	}

	sort.Strings(paths)
	return paths, nil
}

// BuildMetadata extracts PhotoMetadata for every path, applying manifest
// entries first, then the filename template, then auto-detection.
func BuildMetadata(paths []string, manifest match.Manifest, template string) []match.PhotoMetadata {
	photos := make([]match.PhotoMetadata, len(paths))
	for i, path := range paths {
		photos[i] = match.ExtractMetadata(path, manifest, template)
	}
	return photos
}

// FindPhoto locates the photo belonging to an identity, preferring an
// external-identifier match over a normalized full-name match. Returns
// ErrNotFound when neither resolves.
func FindPhoto(photos []match.PhotoMetadata, id roster.Identity) (match.PhotoMetadata, error) {
	if id.ExternalID != "" {
		for _, p := range photos {
			if p.ExternalID == id.ExternalID {
				return p, nil
			}
		}
	}

	want := canonicalName(id.FullName)
	if want != "" {
		for _, p := range photos {
			if p.DisplayName != "" && canonicalName(p.DisplayName) == want {
				return p, nil
			}
		}
	}

	return match.PhotoMetadata{}, fmt.Errorf("%s: %w", id.FullName, ErrNotFound)
}

// canonicalName is an order-independent normalized form, so "Ramos Sergio"
// and "Sergio Ramos" resolve to the same photo.
func canonicalName(raw string) string {
	tokens := names.Normalize(raw)
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}
