package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/doc-enricher/internal/artifact"
	"github.com/joseph-ayodele/doc-enricher/internal/common"
)

func newIngestor(maxBytes int64) (*FSIngestor, *artifact.FSStore) {
	store := artifact.NewMemStore(artifact.WithLogger(common.DiscardLogger()))
	return NewFSIngestor(store, maxBytes, common.DiscardLogger()), store
}

func writeFile(t *testing.T, path string, content []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, content, 0o644))
}

func TestIngestText(t *testing.T) {
	ctx := context.Background()
	ing, store := newIngestor(64)

	res, err := ing.IngestText(ctx, "ACME-100", []byte("Alarm panel, 12V, zone expander"))
	require.NoError(t, err)
	assert.Equal(t, "ACME-100", res.Document)
	assert.False(t, res.Deduplicated)
	assert.Len(t, res.HashHex, 64)

	b, err := store.Get(ctx, "ACME-100", artifact.KeyOf(artifact.RawText))
	require.NoError(t, err)
	assert.Equal(t, "Alarm panel, 12V, zone expander", string(b))

	res, err = ing.IngestText(ctx, "ACME-100", []byte("Alarm panel, 12V, zone expander"))
	require.NoError(t, err)
	assert.True(t, res.Deduplicated)

	res, err = ing.IngestText(ctx, "../etc/ACME 200", []byte("Siren"))
	require.NoError(t, err)
	assert.Equal(t, "ACME_200", res.Document)
}

func TestIngestTextRejects(t *testing.T) {
	ctx := context.Background()
	ing, store := newIngestor(16)

	_, err := ing.IngestText(ctx, "big", []byte("this text is longer than sixteen bytes"))
	assert.True(t, common.IsKind(err, common.KindPayloadTooLarge))
	assert.Equal(t, 413, common.HTTPStatus(err))

	_, err = ing.IngestText(ctx, "blank", []byte("  \n\t"))
	assert.True(t, common.IsKind(err, common.KindValidation))

	_, err = ing.IngestText(ctx, "pdf", []byte("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n"))
	assert.True(t, common.IsKind(err, common.KindValidation))

	_, err = ing.IngestText(ctx, "..", []byte("text"))
	assert.True(t, common.IsKind(err, common.KindValidation))

	docs, err := store.Documents(ctx)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestIngestDirectory(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "ACME-100.txt"), []byte("Alarm panel"))
	writeFile(t, filepath.Join(root, "nested", "BETA-7.md"), []byte("# Siren\nOutdoor siren"))
	writeFile(t, filepath.Join(root, "photo.jpg"), []byte{0xff, 0xd8, 0xff, 0xe0})
	writeFile(t, filepath.Join(root, ".hidden", "SECRET.txt"), []byte("skip me"))
	writeFile(t, filepath.Join(root, "EMPTY.txt"), []byte(""))

	ing, store := newIngestor(0)
	results, stats, err := ing.IngestDirectory(ctx, root, true)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), stats.Matched)
	assert.Equal(t, uint32(2), stats.Succeeded)
	assert.Equal(t, uint32(1), stats.Failed)
	assert.Len(t, results, 3)

	docs, err := store.Documents(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ACME-100", "BETA-7"}, docs)

	_, stats, err = ing.IngestDirectory(ctx, root, true)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), stats.Deduplicated)

	_, _, err = ing.IngestDirectory(ctx, " ", true)
	assert.Error(t, err)
}

func TestIngestPathUnsupported(t *testing.T) {
	root := t.TempDir()
	p := filepath.Join(root, "scan.pdf")
	writeFile(t, p, []byte("%PDF-1.7"))
	ing, _ := newIngestor(0)
	_, err := ing.IngestPath(context.Background(), p)
	assert.True(t, common.IsKind(err, common.KindValidation))
}

func TestHelpers(t *testing.T) {
	assert.True(t, AllowedExt(".TXT"))
	assert.True(t, AllowedExt("md"))
	assert.False(t, AllowedExt(".pdf"))
	assert.True(t, IsHidden("/a/.git"))
	assert.False(t, IsHidden("."))
	assert.Equal(t, "ACME-100", DocumentName("/data/in/ACME-100.txt"))
	assert.Equal(t, "manual.v2", DocumentName("manual.v2.md"))
}

func TestWatcherEmitsNewTextFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "EXISTING.txt"), []byte("already here"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, _, err := StartWatcher(ctx, WatchConfig{
		Roots:       []string{root},
		InitialScan: true,
		Debounce:    20 * time.Millisecond,
		Logger:      common.DiscardLogger(),
	})
	require.NoError(t, err)

	next := func() string {
		select {
		case p := <-events:
			return p
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for watcher event")
			return ""
		}
	}
	assert.Equal(t, filepath.Join(root, "EXISTING.txt"), next())

	writeFile(t, filepath.Join(root, "ignored.bin"), []byte{0x00})
	writeFile(t, filepath.Join(root, "NEW.md"), []byte("fresh"))
	assert.Equal(t, filepath.Join(root, "NEW.md"), next())

	cancel()
	for range events {
	}
}

func TestWatcherRequiresRoots(t *testing.T) {
	_, _, err := StartWatcher(context.Background(), WatchConfig{})
	assert.Error(t, err)
}
