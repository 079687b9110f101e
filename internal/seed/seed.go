// Package seed loads the national master list and creates the canonical
// entity set once.
package seed

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"kaisou/internal/domain"
)

// Fallback records an entity that arrived without a usable slug. Fallbacks
// are always reported, never silent: the placeholder slug is clearly
// synthetic so it can't be mistaken for a real one.
type Fallback struct {
	JISCode string
	Name    string
	Slug    string
}

// SyntheticSlug builds the placeholder slug for a slug-less master row.
func SyntheticSlug(jisCode string) string {
	return "unresolved-" + jisCode
}

// Load reads the master list (.csv or .xlsx) into municipalities ready for
// seeding. Every entity starts UNKNOWN and unpublished; links arrive later
// through reconciliation.
func Load(path string) ([]domain.Municipality, []Fallback, error) {
	var rows [][]string
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		rows, err = readCSV(path)
	case ".xlsx":
		rows, err = readXLSX(path)
	default:
		return nil, nil, fmt.Errorf("unsupported master list type %q (want .csv or .xlsx)", filepath.Ext(path))
	}
	if err != nil {
		return nil, nil, err
	}
	if len(rows) < 2 {
		return nil, nil, fmt.Errorf("master list %s has no data rows", path)
	}

	columns := make(map[string]int, len(rows[0]))
	for i, header := range rows[0] {
		columns[strings.ToLower(strings.TrimSpace(header))] = i
	}
	for _, required := range []string{"jis_code", "name", "prefecture_code", "prefecture_name"} {
		if _, ok := columns[required]; !ok {
			return nil, nil, fmt.Errorf("master list missing required column %q", required)
		}
	}
	cell := func(row []string, name string) string {
		idx, ok := columns[name]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	var (
		municipalities []domain.Municipality
		fallbacks      []Fallback
	)
	for i, row := range rows[1:] {
		jisCode := cell(row, "jis_code")
		if jisCode == "" {
			return nil, nil, fmt.Errorf("master list row %d has no jis_code", i+2)
		}
		m := domain.Municipality{
			JISCode:        jisCode,
			Name:           cell(row, "name"),
			PrefectureCode: cell(row, "prefecture_code"),
			PrefectureName: cell(row, "prefecture_name"),
			PrefectureSlug: cell(row, "prefecture_slug"),
			Slug:           cell(row, "slug"),
			LinkStatus:     domain.LinkStatusUnknown,
			LinkType:       domain.LinkTypeNone,
		}
		if m.Slug == "" {
			m.Slug = SyntheticSlug(jisCode)
			fallbacks = append(fallbacks, Fallback{JISCode: jisCode, Name: m.Name, Slug: m.Slug})
		}
		municipalities = append(municipalities, m)
	}
	return municipalities, fallbacks, nil
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open master list: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse master list: %w", err)
	}
	return rows, nil
}

func readXLSX(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open master list: %w", err)
	}
	defer f.Close()

	rows, err := f.GetRows(f.GetSheetName(0))
	if err != nil {
		return nil, fmt.Errorf("read master list sheet: %w", err)
	}
	return rows, nil
}
