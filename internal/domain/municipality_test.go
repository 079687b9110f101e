package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProbeURL(t *testing.T) {
	t.Run("guide page wins over pdf", func(t *testing.T) {
		m := Municipality{URL: "https://a.lg.jp/guide", PDFURL: "https://a.lg.jp/form.pdf"}
		url, target := m.ProbeURL()
		assert.Equal(t, "https://a.lg.jp/guide", url)
		assert.Equal(t, TargetURL, target)
	})

	t.Run("pdf when no guide page", func(t *testing.T) {
		m := Municipality{PDFURL: "https://a.lg.jp/form.pdf"}
		url, target := m.ProbeURL()
		assert.Equal(t, "https://a.lg.jp/form.pdf", url)
		assert.Equal(t, TargetPDF, target)
	})

	t.Run("nothing to probe", func(t *testing.T) {
		url, target := Municipality{}.ProbeURL()
		assert.Empty(t, url)
		assert.Equal(t, TargetNone, target)
	})
}

func TestDeriveLinkFields(t *testing.T) {
	status, linkType, published := DeriveLinkFields("https://a.lg.jp/guide", "")
	assert.Equal(t, LinkStatusOK, status)
	assert.Equal(t, LinkTypeGuide, linkType)
	assert.True(t, published)

	status, linkType, published = DeriveLinkFields("", "https://a.lg.jp/form.pdf")
	assert.Equal(t, LinkStatusPDFOnly, status)
	assert.Equal(t, LinkTypePDF, linkType)
	assert.True(t, published)

	status, linkType, published = DeriveLinkFields("", "")
	assert.Equal(t, LinkStatusUnknown, status)
	assert.Equal(t, LinkTypeNone, linkType)
	assert.False(t, published)
}

func TestIsPDFPath(t *testing.T) {
	assert.True(t, IsPDFPath("https://a.lg.jp/files/kaisou.pdf"))
	assert.True(t, IsPDFPath("https://a.lg.jp/files/KAISOU.PDF"))
	assert.True(t, IsPDFPath("https://a.lg.jp/kaisou.pdf?version=2"))
	assert.True(t, IsPDFPath("https://a.lg.jp/kaisou.pdf#page=3"))
	assert.False(t, IsPDFPath("https://a.lg.jp/kaisou.pdf.html"))
	assert.False(t, IsPDFPath("https://a.lg.jp/guide"))
	assert.False(t, IsPDFPath(""))
}

func TestAppendNote(t *testing.T) {
	var m Municipality
	m.AppendNote("")
	assert.Empty(t, m.Notes)

	m.AppendNote("first")
	assert.Equal(t, "first", m.Notes)

	m.AppendNote("second")
	assert.Equal(t, "first\nsecond", m.Notes)
}

func TestProbeErrorKindTransient(t *testing.T) {
	assert.True(t, ProbeErrTimeout.Transient())
	assert.True(t, ProbeErrDNS.Transient())
	assert.True(t, ProbeErrServer.Transient())
	assert.False(t, ProbeErrClient.Transient())
	assert.False(t, ProbeErrUnknown.Transient())
}

func TestRunStatusIsTerminal(t *testing.T) {
	assert.False(t, RunStatusRunning.IsTerminal())
	assert.True(t, RunStatusSucceeded.IsTerminal())
	assert.True(t, RunStatusFailed.IsTerminal())
}
