package variations

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_PreservesOrderAndRawBytes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.json")
	body := `[
		{"description": "a", "header_name": "Transfer-Encoding", "header_value": " chunked"},
		{"description": "b", "header_name": "Transfer-Encoding", "header_value": "\tchunked",
		 "extra_headers": [{"name": "X-Extra", "value": " 1"}]}
	]`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cat, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cat, 2)
	assert.Equal(t, "a", cat[0].Description)
	assert.Equal(t, " chunked", cat[0].HeaderValue)
	assert.Equal(t, "\tchunked", cat[1].HeaderValue)
	require.Len(t, cat[1].ExtraHeaders, 1)
	assert.Equal(t, "X-Extra", cat[1].ExtraHeaders[0].Name)
}

func TestLoad_UnreadablePathErrors(t *testing.T) {
	_, err := Load("/nonexistent/path/catalog.json")
	assert.Error(t, err)
}

func TestLoadOrDefault_FallsBackOnUnreadableOrEmptyPath(t *testing.T) {
	cat := LoadOrDefault("", TE)
	assert.Equal(t, Defaults(TE), cat)

	cat2 := LoadOrDefault("/nonexistent/catalog.json", CL)
	assert.Equal(t, Defaults(CL), cat2)
}

func TestDefaults_TEHasAtLeastOneChunkedSpelling(t *testing.T) {
	cat := Defaults(TE)
	require.NotEmpty(t, cat)
	found := false
	for _, v := range cat {
		if v.HeaderName == "Transfer-Encoding" && v.HeaderValue == "chunked" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestDefaults_CLHasAtLeastOneContentLengthSpelling(t *testing.T) {
	cat := Defaults(CL)
	require.NotEmpty(t, cat)
	assert.Equal(t, "Content-Length", cat[0].HeaderName)
}
