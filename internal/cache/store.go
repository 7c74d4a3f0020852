// Package cache persists the incoming and outgoing ledgers as YAML documents
// on a storage backend.
package cache

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/webmentions/internal/mention"
	"github.com/JakeFAU/webmentions/internal/storage"
)

// DefaultPrefix is prepended to every cache file name.
const DefaultPrefix = "webmention_io_"

// ErrStaleCacheFormat reports a legacy cache that has not been upgraded.
var ErrStaleCacheFormat = errors.New("outgoing webmentions cache needs to be upgraded; re-build your project")

// Kind names one cache document.
type Kind string

// Cache documents. Sent and Queued only exist in caches written by older tooling.
const (
	KindIncoming Kind = "incoming"
	KindOutgoing Kind = "outgoing"
	KindSent     Kind = "sent"
	KindQueued   Kind = "queued"
)

// Store loads and saves ledgers through a storage backend.
type Store struct {
	backend storage.Backend
	prefix  string
	logger  *zap.Logger
}

// New creates a cache store. An empty prefix selects DefaultPrefix.
func New(backend storage.Backend, prefix string, logger *zap.Logger) (*Store, error) {
	if backend == nil {
		return nil, fmt.Errorf("storage backend is required")
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{backend: backend, prefix: prefix, logger: logger}, nil
}

// Name returns the file name for kind.
func (s *Store) Name(kind Kind) string {
	return s.prefix + string(kind) + ".yml"
}

// LoadIncoming reads the incoming ledger, returning an empty one when absent.
func (s *Store) LoadIncoming(ctx context.Context) (*mention.IncomingLedger, error) {
	ledger := mention.NewIncomingLedger()
	if err := s.load(ctx, KindIncoming, ledger); err != nil {
		return nil, err
	}
	return ledger, nil
}

// LoadOutgoing reads the outgoing ledger, returning an empty one when absent.
func (s *Store) LoadOutgoing(ctx context.Context) (*mention.OutgoingLedger, error) {
	ledger := mention.NewOutgoingLedger()
	if err := s.load(ctx, KindOutgoing, ledger); err != nil {
		return nil, err
	}
	return ledger, nil
}

// LoadLegacy reads one of the old two-file cache documents.
func (s *Store) LoadLegacy(ctx context.Context, kind Kind) (*mention.LegacyLedger, error) {
	ledger := mention.NewLegacyLedger()
	if err := s.load(ctx, kind, ledger); err != nil {
		return nil, err
	}
	return ledger, nil
}

// SaveIncoming writes the incoming ledger.
func (s *Store) SaveIncoming(ctx context.Context, ledger *mention.IncomingLedger) error {
	return s.save(ctx, KindIncoming, ledger)
}

// SaveOutgoing writes the outgoing ledger.
func (s *Store) SaveOutgoing(ctx context.Context, ledger *mention.OutgoingLedger) error {
	return s.save(ctx, KindOutgoing, ledger)
}

// DirtyLedger is a ledger that tracks whether it changed since loading.
type DirtyLedger interface {
	Dirty() bool
}

// SaveIfDirty writes ledger under kind only when it reports a change. It
// reports whether a write happened.
func (s *Store) SaveIfDirty(ctx context.Context, kind Kind, ledger DirtyLedger) (bool, error) {
	if ledger == nil || !ledger.Dirty() {
		s.logger.Debug("cache unchanged, skipping write", zap.String("cache", s.Name(kind)))
		return false, nil
	}
	if err := s.save(ctx, kind, ledger); err != nil {
		return false, err
	}
	return true, nil
}

// Exists reports whether the document for kind is present.
func (s *Store) Exists(ctx context.Context, kind Kind) (bool, error) {
	ok, err := s.backend.Exists(ctx, s.Name(kind))
	if err != nil {
		return false, fmt.Errorf("check cache %s: %w", s.Name(kind), err)
	}
	return ok, nil
}

// Remove deletes the document for kind.
func (s *Store) Remove(ctx context.Context, kind Kind) error {
	if err := s.backend.Delete(ctx, s.Name(kind)); err != nil {
		return fmt.Errorf("remove cache %s: %w", s.Name(kind), err)
	}
	return nil
}

func (s *Store) load(ctx context.Context, kind Kind, out any) error {
	name := s.Name(kind)
	data, err := s.backend.Get(ctx, name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.logger.Debug("cache not found, starting empty", zap.String("cache", name))
			return nil
		}
		return fmt.Errorf("read cache %s: %w", name, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode cache %s: %w", name, err)
	}
	return nil
}

func (s *Store) save(ctx context.Context, kind Kind, ledger any) error {
	name := s.Name(kind)
	data, err := yaml.Marshal(ledger)
	if err != nil {
		return fmt.Errorf("encode cache %s: %w", name, err)
	}
	if err := s.backend.Put(ctx, name, data); err != nil {
		return fmt.Errorf("write cache %s: %w", name, err)
	}
	s.logger.Debug("cache written", zap.String("cache", name), zap.Int("bytes", len(data)))
	return nil
}
