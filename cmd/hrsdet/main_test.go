package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a0x194/hrsdetect/internal/httpmodel"
)

func TestParseDetectors_EmptyMeansDefault(t *testing.T) {
	kinds, err := parseDetectors(nil)
	require.NoError(t, err)
	assert.Nil(t, kinds)
}

func TestParseDetectors_RejectsUnknownType(t *testing.T) {
	_, err := parseDetectors([]string{"CL.TE", "BOGUS"})
	assert.Error(t, err)
}

func TestParseDetectors_AcceptsKnownSubset(t *testing.T) {
	kinds, err := parseDetectors([]string{"CL.TE", "H2.TE"})
	require.NoError(t, err)
	assert.Equal(t, []httpmodel.DetectorKind{httpmodel.DetectorCLTE, httpmodel.DetectorH2TE}, kinds)
}

func TestParseHeaders_SplitsNameValue(t *testing.T) {
	headers, err := parseHeaders([]string{"X-Foo: bar", "X-Baz:qux"})
	require.NoError(t, err)
	require.Len(t, headers, 2)
	assert.Equal(t, "X-Foo", headers[0].Name)
	assert.Equal(t, " bar", headers[0].Value)
	assert.Equal(t, "X-Baz", headers[1].Name)
	assert.Equal(t, "qux", headers[1].Value)
}

func TestParseHeaders_RejectsMissingColon(t *testing.T) {
	_, err := parseHeaders([]string{"no-colon-here"})
	assert.Error(t, err)
}

func TestCollectTargets_FromURLAndList(t *testing.T) {
	dir := t.TempDir()
	listPath := filepath.Join(dir, "targets.txt")
	require.NoError(t, os.WriteFile(listPath, []byte("http://a.example/\n# comment\nhttp://b.example/\n"), 0o644))

	f := &flags{urls: []string{"https://c.example/"}, list: listPath}
	targets, err := collectTargets(f)
	require.NoError(t, err)
	require.Len(t, targets, 3)
	assert.Equal(t, "c.example", targets[0].Host)
	assert.Equal(t, "a.example", targets[1].Host)
	assert.Equal(t, "b.example", targets[2].Host)
}
