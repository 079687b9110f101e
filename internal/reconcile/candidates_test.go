package reconcile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCandidatesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "candidates.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"prefecture": "大阪府", "municipality": "高槻市", "jisCode": " 272078 ",
		 "url": " https://www.city.takatsuki.lg.jp/kaisou ", "tag": "manual-research"},
		{"prefecture": "兵庫県", "municipality": "太子町",
		 "pdfUrl": "https://www.town.hyogo-taishi.lg.jp/kaisou.pdf"}
	]`), 0o600))

	candidates, err := LoadCandidates(path)
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	assert.Equal(t, "272078", candidates[0].JISCode)
	assert.Equal(t, "https://www.city.takatsuki.lg.jp/kaisou", candidates[0].URL)
	assert.Equal(t, "manual-research", candidates[0].Tag)

	assert.Empty(t, candidates[1].JISCode)
	assert.Equal(t, "https://www.town.hyogo-taishi.lg.jp/kaisou.pdf", candidates[1].PDFURL)
}

func TestLoadCandidatesRejectsBadInput(t *testing.T) {
	t.Run("unsupported extension", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "candidates.csv")
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
		_, err := LoadCandidates(path)
		assert.ErrorContains(t, err, "unsupported")
	})

	t.Run("malformed json", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "candidates.json")
		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
		_, err := LoadCandidates(path)
		assert.ErrorContains(t, err, "parse candidates")
	})
}
