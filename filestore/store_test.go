package filestore

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTar(t *testing.T, files map[string]string) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	w := tar.NewWriter(&buf)
	for name, content := range files {
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(content))}
		require.NoError(t, w.WriteHeader(hdr))
		_, err := w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return &buf
}

func TestWriteFilesFromTarStream(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStagingStore(dir)
	require.NoError(t, err)
	tarBuf := buildTar(t, map[string]string{"foo-1.0.tar.gz": "payload"})

	loaded, err := s.WriteFilesFromTarStream(tarBuf, "job-1")
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "foo-1.0.tar.gz", loaded[0])
	assert.True(t, s.PathExistsInStoreRoot("foo-1.0.tar.gz"), "expected path to exist in store root after successful write")
	_, err = os.Stat(filepath.Join(dir, "foo-1.0.tar.gz"))
	assert.NoError(t, err, "expected file on disk")
}

func TestWriteFilesFromTarStreamRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStagingStore(dir)
	require.NoError(t, err)
	tarBuf := buildTar(t, map[string]string{"../../etc/passwd": "evil"})

	_, err = s.WriteFilesFromTarStream(tarBuf, "job-1")
	assert.Error(t, err, "expected path-traversal rejection")
	assert.False(t, s.PathExistsInStoreRoot("../../etc/passwd"), "traversal entry must not be indexed")
}

func TestMergedStoresPrefersStaging(t *testing.T) {
	stagingDir, releaseDir := t.TempDir(), t.TempDir()
	staging, err := NewStagingStore(stagingDir)
	require.NoError(t, err)
	release, err := NewReleaseStore("stable", releaseDir)
	require.NoError(t, err)

	tarBuf := buildTar(t, map[string]string{"foo-1.0.tar.gz": "payload"})
	_, err = staging.WriteFilesFromTarStream(tarBuf, "job-1")
	require.NoError(t, err)
	_, err = release.Promote(staging, "foo-1.0.tar.gz", "job-1")
	require.NoError(t, err)

	merged := &MergedStores{Staging: staging, Releases: []*ReleaseStore{release}}
	matches := merged.GetArtifactByNameAndVersion("foo", "1.0")
	require.Len(t, matches, 2, "expected duplicate entries from both stores")
	assert.Equal(t, "foo-1.0.tar.gz", matches[0].Path)
	assert.Equal(t, "foo-1.0.tar.gz", matches[1].Path)
}

func TestGetArtifactByNameAndVersionEmptyIsNotError(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStagingStore(dir)
	require.NoError(t, err)
	merged := &MergedStores{Staging: s}
	assert.Empty(t, merged.GetArtifactByNameAndVersion("nope", "1.0"))
}

func TestPromoteCompressed(t *testing.T) {
	stagingDir, releaseDir := t.TempDir(), t.TempDir()
	staging, err := NewStagingStore(stagingDir)
	require.NoError(t, err)
	release, err := NewReleaseStore("stable", releaseDir)
	require.NoError(t, err)

	tarBuf := buildTar(t, map[string]string{"foo-1.0.tar.gz": "payload"})
	_, err = staging.WriteFilesFromTarStream(tarBuf, "job-1")
	require.NoError(t, err)

	artifact, err := release.PromoteCompressed(staging, "foo-1.0.tar.gz", "job-1")
	require.NoError(t, err)
	assert.Equal(t, "foo-1.0.tar.gz.gz", artifact.Path)
	assert.True(t, release.PathExistsInStoreRoot("foo-1.0.tar.gz.gz"))

	f, err := os.Open(filepath.Join(releaseDir, "foo-1.0.tar.gz.gz"))
	require.NoError(t, err)
	defer f.Close()
	gr, err := gzip.NewReader(f)
	require.NoError(t, err)
	defer gr.Close()
	content, err := io.ReadAll(gr)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(content))
}
