package artifact

import (
	"sync"

	"github.com/joseph-ayodele/doc-enricher/internal/common"
)

type docLocks struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func newDocLocks() *docLocks {
	return &docLocks{held: map[string]struct{}{}}
}

// TryLock takes the advisory lock for a document without waiting. A second
// caller gets a conflict error until the returned release func runs.
func (s *FSStore) TryLock(doc string) (func(), error) {
	l := s.locks
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[doc]; busy {
		return nil, common.ConflictErrorf("document %q has a stage run in progress", doc)
	}
	l.held[doc] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, doc)
			l.mu.Unlock()
		})
	}, nil
}
