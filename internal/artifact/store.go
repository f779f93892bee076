package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/doc-enricher/internal/common"
)

// Store is the artifact persistence contract the executor depends on.
type Store interface {
	Get(ctx context.Context, doc string, key Key) ([]byte, error)
	Put(ctx context.Context, doc string, key Key, data []byte, stage string) error
	Exists(ctx context.Context, doc string, key Key) (bool, error)
}

const manifestFile = "manifest.json"

// FSStore keeps one directory per document on a billy filesystem.
// Every write goes to a temp file in the target directory and is renamed
// into place, so readers never observe a partial artifact.
type FSStore struct {
	fs     billy.Filesystem
	logger *slog.Logger
	now    func() time.Time

	manifestMu sync.Mutex
	locks      *docLocks
}

type Option func(*FSStore)

// WithClock overrides the time source used for manifest timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *FSStore) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *FSStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewFSStore(fs billy.Filesystem, opts ...Option) *FSStore {
	s := &FSStore{
		fs:     fs,
		logger: slog.Default(),
		now:    time.Now,
		locks:  newDocLocks(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// OpenDir roots a store at a directory on the local disk, creating it if needed.
func OpenDir(root string, opts ...Option) (*FSStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, common.NewAppError(common.KindConfig, "artifact root is required", common.ErrInvalidInput)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, common.PersistenceError("create artifact root", err)
	}
	return NewFSStore(osfs.New(root, osfs.WithBoundOS()), opts...), nil
}

// NewMemStore returns a store backed by an in-memory filesystem.
func NewMemStore(opts ...Option) *FSStore {
	return NewFSStore(memfs.New(), opts...)
}

func (s *FSStore) artifactPath(doc string, key Key) string {
	return s.fs.Join(doc, key.relPath())
}

func (s *FSStore) check(ctx context.Context, doc string, key Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := mustDocument(doc); err != nil {
		return err
	}
	return key.Validate()
}

// Get returns the artifact bytes, or an error wrapping common.ErrNotFound.
func (s *FSStore) Get(ctx context.Context, doc string, key Key) ([]byte, error) {
	if err := s.check(ctx, doc, key); err != nil {
		return nil, err
	}
	b, err := util.ReadFile(s.fs, s.artifactPath(doc, key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("artifact %s/%s: %w", doc, key, common.ErrNotFound)
		}
		return nil, common.PersistenceError(fmt.Sprintf("read %s/%s", doc, key), err)
	}
	return b, nil
}

func (s *FSStore) Exists(ctx context.Context, doc string, key Key) (bool, error) {
	if err := s.check(ctx, doc, key); err != nil {
		return false, err
	}
	_, err := s.fs.Stat(s.artifactPath(doc, key))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, common.PersistenceError(fmt.Sprintf("stat %s/%s", doc, key), err)
}

// Put atomically replaces the artifact and records it in the document manifest.
func (s *FSStore) Put(ctx context.Context, doc string, key Key, data []byte, stage string) error {
	if err := s.check(ctx, doc, key); err != nil {
		return err
	}
	p := s.artifactPath(doc, key)
	if err := s.writeAtomic(p, data); err != nil {
		s.logger.Error("artifact.put.failed", "document", doc, "kind", key.String(), "error", err)
		return common.PersistenceError(fmt.Sprintf("write %s/%s", doc, key), err)
	}

	sum := sha256.Sum256(data)
	entry := Entry{
		Kind:            key.String(),
		ProducedByStage: stage,
		WrittenAt:       s.now().UTC(),
		SHA256:          hex.EncodeToString(sum[:]),
		Size:            len(data),
	}
	if err := s.recordManifest(doc, entry); err != nil {
		s.logger.Error("artifact.manifest.failed", "document", doc, "kind", key.String(), "error", err)
		return common.PersistenceError(fmt.Sprintf("update manifest for %s", doc), err)
	}

	s.logger.Debug("artifact.put.ok", "document", doc, "kind", key.String(), "stage", stage, "bytes", len(data))
	return nil
}

func (s *FSStore) writeAtomic(p string, data []byte) error {
	dir := path.Dir(p)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	tmp := s.fs.Join(dir, "."+path.Base(p)+".tmp-"+uuid.NewString())
	f, err := s.fs.OpenFile(tmp, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	cleanup := func() { _ = s.fs.Remove(tmp) }

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		cleanup()
		return fmt.Errorf("write temp: %w", err)
	}
	if syncer, ok := f.(interface{ Sync() error }); ok {
		if err := syncer.Sync(); err != nil {
			_ = f.Close()
			cleanup()
			return fmt.Errorf("sync temp: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp: %w", err)
	}
	if err := s.fs.Rename(tmp, p); err != nil {
		cleanup()
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// Documents lists the documents that have at least one artifact.
func (s *FSStore) Documents(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	infos, err := s.fs.ReadDir(".")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, common.PersistenceError("list documents", err)
	}
	var docs []string
	for _, fi := range infos {
		if fi.IsDir() && !strings.HasPrefix(fi.Name(), ".") {
			docs = append(docs, fi.Name())
		}
	}
	sort.Strings(docs)
	return docs, nil
}

// Entry is the manifest record of one artifact write.
type Entry struct {
	Kind            string    `json:"kind"`
	ProducedByStage string    `json:"produced_by_stage,omitempty"`
	WrittenAt       time.Time `json:"written_at"`
	SHA256          string    `json:"sha256"`
	Size            int       `json:"size"`
}

// Manifest tracks provenance for every artifact of a document.
type Manifest struct {
	Document string           `json:"document"`
	Entries  map[string]Entry `json:"entries"`
}

// Manifest returns the provenance records of a document.
func (s *FSStore) Manifest(ctx context.Context, doc string) (Manifest, error) {
	if err := ctx.Err(); err != nil {
		return Manifest{}, err
	}
	if err := mustDocument(doc); err != nil {
		return Manifest{}, err
	}
	s.manifestMu.Lock()
	defer s.manifestMu.Unlock()
	return s.readManifest(doc)
}

func (s *FSStore) readManifest(doc string) (Manifest, error) {
	m := Manifest{Document: doc, Entries: map[string]Entry{}}
	f, err := s.fs.Open(s.fs.Join(doc, manifestFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return m, nil
		}
		return m, err
	}
	defer func() { _ = f.Close() }()
	raw, err := io.ReadAll(f)
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return m, fmt.Errorf("decode manifest: %w", err)
	}
	if m.Entries == nil {
		m.Entries = map[string]Entry{}
	}
	return m, nil
}

func (s *FSStore) recordManifest(doc string, e Entry) error {
	s.manifestMu.Lock()
	defer s.manifestMu.Unlock()

	m, err := s.readManifest(doc)
	if err != nil {
		return err
	}
	m.Entries[e.Kind] = e
	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return s.writeAtomic(s.fs.Join(doc, manifestFile), raw)
}
