package domain

import (
	"strings"
	"time"
)

// Municipality is the canonical registry entity. The JIS code is the natural
// key: globally unique, immutable once assigned at seeding.
type Municipality struct {
	JISCode          string
	Name             string
	PrefectureCode   string
	PrefectureName   string
	PrefectureSlug   string
	Slug             string
	URL              string
	PDFURL           string
	LinkStatus       LinkStatus
	LinkType         LinkType
	IsPublished      bool
	HasDomainWarning bool
	LastCheckedAt    *time.Time
	Notes            string
}

// ProbeTarget identifies which link field a probe exercised.
type ProbeTarget string

const (
	TargetURL  ProbeTarget = "url"
	TargetPDF  ProbeTarget = "pdfUrl"
	TargetNone ProbeTarget = "none"
)

// ProbeURL picks the link to verify: the guide page wins over the direct PDF
// when both are present.
func (m Municipality) ProbeURL() (string, ProbeTarget) {
	if m.URL != "" {
		return m.URL, TargetURL
	}
	if m.PDFURL != "" {
		return m.PDFURL, TargetPDF
	}
	return "", TargetNone
}

// HasLink reports whether the entity has anything to verify at all.
func (m Municipality) HasLink() bool {
	return m.URL != "" || m.PDFURL != ""
}

// AppendNote appends an audit note, never overwriting existing notes.
func (m *Municipality) AppendNote(note string) {
	if note == "" {
		return
	}
	if m.Notes == "" {
		m.Notes = note
		return
	}
	m.Notes = m.Notes + "\n" + note
}

// DeriveLinkFields computes status, type and publication deterministically
// from which link fields are populated. Used after a reconciliation write so
// the derived fields can never drift from the URLs themselves.
func DeriveLinkFields(url, pdfURL string) (LinkStatus, LinkType, bool) {
	switch {
	case url != "":
		return LinkStatusOK, LinkTypeGuide, true
	case pdfURL != "":
		return LinkStatusPDFOnly, LinkTypePDF, true
	default:
		return LinkStatusUnknown, LinkTypeNone, false
	}
}

// IsPDFPath reports whether a URL points at a PDF document by path suffix.
// Query strings and fragments are ignored.
func IsPDFPath(rawURL string) bool {
	u := rawURL
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	return strings.HasSuffix(strings.ToLower(u), ".pdf")
}
