package reconcile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"kaisou/internal/domain"
)

// candidateFile is the JSON shape produced by the out-of-band discovery
// processes (manual research, external search).
type candidateFile struct {
	Prefecture   string `json:"prefecture"`
	Municipality string `json:"municipality"`
	JISCode      string `json:"jisCode,omitempty"`
	URL          string `json:"url,omitempty"`
	PDFURL       string `json:"pdfUrl,omitempty"`
	Tag          string `json:"tag,omitempty"`
}

// LoadCandidates reads a candidate file, dispatching on extension:
// .json for JSON arrays, .xlsx for research spreadsheets.
func LoadCandidates(path string) ([]domain.Candidate, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return loadCandidatesJSON(path)
	case ".xlsx":
		return loadCandidatesXLSX(path)
	default:
		return nil, fmt.Errorf("unsupported candidate file type %q (want .json or .xlsx)", filepath.Ext(path))
	}
}

func loadCandidatesJSON(path string) ([]domain.Candidate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read candidates: %w", err)
	}
	var records []candidateFile
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse candidates: %w", err)
	}

	out := make([]domain.Candidate, 0, len(records))
	for _, r := range records {
		out = append(out, domain.Candidate{
			Prefecture:   r.Prefecture,
			Municipality: r.Municipality,
			JISCode:      strings.TrimSpace(r.JISCode),
			URL:          strings.TrimSpace(r.URL),
			PDFURL:       strings.TrimSpace(r.PDFURL),
			Tag:          r.Tag,
		})
	}
	return out, nil
}

// loadCandidatesXLSX reads the first sheet. The header row names the columns;
// recognized headers are prefecture, municipality, jis_code, url, pdf_url and
// tag, in any order.
func loadCandidatesXLSX(path string) ([]domain.Candidate, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	if len(rows) < 2 {
		return nil, nil
	}

	columns := make(map[string]int, len(rows[0]))
	for i, header := range rows[0] {
		columns[strings.ToLower(strings.TrimSpace(header))] = i
	}
	for _, required := range []string{"prefecture", "municipality"} {
		if _, ok := columns[required]; !ok {
			return nil, fmt.Errorf("sheet %q missing required column %q", sheet, required)
		}
	}

	cell := func(row []string, name string) string {
		idx, ok := columns[name]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	out := make([]domain.Candidate, 0, len(rows)-1)
	for _, row := range rows[1:] {
		c := domain.Candidate{
			Prefecture:   cell(row, "prefecture"),
			Municipality: cell(row, "municipality"),
			JISCode:      cell(row, "jis_code"),
			URL:          cell(row, "url"),
			PDFURL:       cell(row, "pdf_url"),
			Tag:          cell(row, "tag"),
		}
		if c.Prefecture == "" && c.Municipality == "" {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}
