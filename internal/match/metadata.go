package match

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Provenance records which source yielded a photograph's metadata.
type Provenance string

const (
	ProvenanceManifest Provenance = "manifest"
	ProvenanceTemplate Provenance = "template"
	ProvenanceAuto     Provenance = "auto"
	ProvenanceUnknown  Provenance = "unknown"
)

// PhotoMetadata describes one photograph at match time. Immutable after
// extraction.
type PhotoMetadata struct {
	FileName    string
	Path        string
	ExternalID  string
	DisplayName string
	Provenance  Provenance
}

// ManifestEntry is one manifest record keyed by filename.
type ManifestEntry struct {
	Name       string `yaml:"name"`
	ExternalID string `yaml:"external_id"`
}

// Manifest maps photo filenames to explicit metadata. It is the highest
// precedence metadata source.
type Manifest map[string]ManifestEntry

// LoadManifest reads a YAML manifest from disk. A missing path returns an
// empty manifest, not an error; the manifest is optional.
func LoadManifest(path string) (Manifest, error) {
	if path == "" {
		return Manifest{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Manifest{}, nil
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if m == nil {
		m = Manifest{}
	}
	return m, nil
}

// autoPattern matches the conventional photo-drop naming scheme:
// Name_Parts_1234567.jpg with a numeric external identifier last.
var autoPattern = regexp.MustCompile(`^(.+)_([0-9]{4,})$`)

// templatePlaceholder matches {name}, {first}, {last} and {id} in a
// user-supplied filename template.
var templatePlaceholder = regexp.MustCompile(`\{(name|first|last|id)\}`)

// ExtractMetadata derives PhotoMetadata for one file, applying sources in
// precedence order: manifest entry by filename, user filename template,
// auto-detected naming pattern, then a filename-only fallback with unknown
// provenance. The first source that yields a name or identifier wins.
func ExtractMetadata(path string, manifest Manifest, template string) PhotoMetadata {
	fileName := filepath.Base(path)
	meta := PhotoMetadata{
		FileName:   fileName,
		Path:       path,
		Provenance: ProvenanceUnknown,
	}

	if entry, ok := manifest[fileName]; ok {
		meta.DisplayName = entry.Name
		meta.ExternalID = entry.ExternalID
		meta.Provenance = ProvenanceManifest
		return meta
	}

	base := strings.TrimSuffix(fileName, filepath.Ext(fileName))

	if template != "" {
		if name, id, ok := applyTemplate(template, base); ok {
			meta.DisplayName = name
			meta.ExternalID = id
			meta.Provenance = ProvenanceTemplate
			return meta
		}
	}

	if m := autoPattern.FindStringSubmatch(base); m != nil {
		meta.DisplayName = strings.ReplaceAll(m[1], "_", " ")
		meta.ExternalID = m[2]
		meta.Provenance = ProvenanceAuto
		return meta
	}

	// Filename-only fallback: the base name may still carry a usable name
	// for the similarity tier.
	meta.DisplayName = strings.ReplaceAll(base, "_", " ")
	return meta
}

// applyTemplate parses a file base name against a template such as
// "{first}_{last}_{id}" or "{id}-{name}". Returns the extracted display
// name, external id and whether the template matched.
func applyTemplate(template, base string) (name, id string, ok bool) {
	var groups []string
	pattern := "^"
	rest := template
	for {
		loc := templatePlaceholder.FindStringSubmatchIndex(rest)
		if loc == nil {
			pattern += regexp.QuoteMeta(rest)
			break
		}
		pattern += regexp.QuoteMeta(rest[:loc[0]])
		placeholder := rest[loc[2]:loc[3]]
		groups = append(groups, placeholder)
		if placeholder == "id" {
			pattern += `([0-9]+)`
		} else if placeholder == "name" {
			pattern += `(.+?)`
		} else {
			pattern += `([^_\-. ]+)`
		}
		rest = rest[loc[1]:]
	}
	pattern += "$"

	re, err := regexp.Compile(pattern)
	if err != nil {
		return "", "", false
	}
	m := re.FindStringSubmatch(base)
	if m == nil {
		return "", "", false
	}

	var first, last, full string
	for i, g := range groups {
		val := m[i+1]
		switch g {
		case "id":
			id = val
		case "first":
			first = val
		case "last":
			last = val
		case "name":
			full = strings.ReplaceAll(val, "_", " ")
		}
	}

	switch {
	case full != "":
		name = full
	case first != "" || last != "":
		name = strings.TrimSpace(first + " " + last)
	}
	if name == "" && id == "" {
		return "", "", false
	}
	return name, id, true
}
