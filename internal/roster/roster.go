// Package roster holds the identity records that photographs are matched
// against, and the sources that load them.
package roster

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
)

// Identity is one roster entry. The matcher mutates Confidence, Valid and
// ExternalID on acceptance; persisting those mutations is the caller's job.
type Identity struct {
	InternalID string  // stable identifier inside the roster
	FullName   string  // display name
	ExternalID string  // optional photo-side identifier
	Team       string  // optional grouping, carried through to reports
	Confidence float64 // match confidence, set by the matcher
	Valid      bool    // set once a photo has been accepted for this identity
}

// Source supplies an ordered list of identities.
type Source interface {
	Load() ([]Identity, error)
}

// CSVSource reads identities from a CSV file with a header row. Header
// matching is case-insensitive and tolerates the common column spellings
// (ExternalId/external_id, FullName/full_name/name, InternalId, Team).
type CSVSource struct {
	Path string
}

func NewCSVSource(path string) *CSVSource {
	return &CSVSource{Path: path}
}

func (s *CSVSource) Load() ([]Identity, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open roster file: %w", err)
	}
	defer f.Close()

	return parseCSV(f)
}

func parseCSV(r io.Reader) ([]Identity, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read roster header: %w", err)
	}

	cols := map[string]int{}
	for i, name := range header {
		cols[canonicalColumn(name)] = i
	}

	idCol, ok := cols["internalid"]
	if !ok {
		return nil, fmt.Errorf("roster header missing internal id column: %v", header)
	}
	nameCol, ok := cols["fullname"]
	if !ok {
		return nil, fmt.Errorf("roster header missing full name column: %v", header)
	}
	extCol, hasExt := cols["externalid"]
	teamCol, hasTeam := cols["team"]

	var identities []Identity
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read roster row: %w", err)
		}

		id := Identity{
			InternalID: field(record, idCol),
			FullName:   field(record, nameCol),
		}
		if id.InternalID == "" || id.FullName == "" {
			continue
		}
		if hasExt {
			id.ExternalID = field(record, extCol)
		}
		if hasTeam {
			id.Team = field(record, teamCol)
		}
		identities = append(identities, id)
	}

	return identities, nil
}

// canonicalColumn folds a header cell to a comparable key: lowercase with
// separators removed, common aliases mapped to one spelling.
func canonicalColumn(name string) string {
	k := strings.ToLower(strings.TrimSpace(name))
	k = strings.NewReplacer("_", "", "-", "", " ", "").Replace(k)
	switch k {
	case "name", "playername", "displayname":
		return "fullname"
	case "id", "playerid":
		return "internalid"
	case "photoid", "externalphotoid":
		return "externalid"
	}
	return k
}

func field(record []string, i int) string {
	if i < 0 || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}
