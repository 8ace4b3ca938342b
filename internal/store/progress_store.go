package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/JakeFAU/follower-audit/internal/audit"
)

// DefaultNamespace prefixes every progress key.
const DefaultNamespace = "follower_audit"

// ProgressStore saves and restores one ProgressRecord per target handle.
type ProgressStore struct {
	kv        audit.KeyValue
	namespace string
}

// New builds a ProgressStore. An empty namespace uses DefaultNamespace.
func New(kv audit.KeyValue, namespace string) (*ProgressStore, error) {
	if kv == nil {
		return nil, errors.New("store: key-value backend is required")
	}
	if strings.TrimSpace(namespace) == "" {
		namespace = DefaultNamespace
	}
	return &ProgressStore{kv: kv, namespace: namespace}, nil
}

// Key returns the persistence key for target.
func (s *ProgressStore) Key(target string) string {
	return s.namespace + "_" + target
}

// Save overwrites the stored record for target.
func (s *ProgressStore) Save(ctx context.Context, target string, record audit.ProgressRecord) error {
	if target == "" {
		return errors.New("store: target handle is required")
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode progress for %s: %w", target, err)
	}
	if err := s.kv.Set(ctx, s.Key(target), string(raw)); err != nil {
		return fmt.Errorf("save progress for %s: %w", target, err)
	}
	return nil
}

// Load returns the stored record for target. found is false when nothing was
// saved. Duplicate analyzed handles are dropped, as are suspicious items whose
// handle was never analyzed, so the restored record always satisfies
// suspicious ⊆ analyzed.
func (s *ProgressStore) Load(ctx context.Context, target string) (audit.ProgressRecord, bool, error) {
	raw, found, err := s.kv.Get(ctx, s.Key(target))
	if err != nil {
		return audit.ProgressRecord{}, false, fmt.Errorf("load progress for %s: %w", target, err)
	}
	if !found {
		return audit.ProgressRecord{}, false, nil
	}
	var record audit.ProgressRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return audit.ProgressRecord{}, false, fmt.Errorf("decode progress for %s: %w", target, err)
	}

	index := audit.NewAnalyzedIndex(record.AnalyzedHandles)
	record.AnalyzedHandles = index.Handles()
	kept := make([]audit.FlaggedFollower, 0, len(record.SuspiciousItems))
	for _, item := range record.SuspiciousItems {
		if index.Has(item.Handle) {
			kept = append(kept, item)
		}
	}
	record.SuspiciousItems = kept
	record.AnalyzedCount = index.Len()
	return record, true, nil
}

// Clear removes the stored record for target. Clearing a missing record is
// not an error.
func (s *ProgressStore) Clear(ctx context.Context, target string) error {
	if err := s.kv.Remove(ctx, s.Key(target)); err != nil {
		return fmt.Errorf("clear progress for %s: %w", target, err)
	}
	return nil
}

// Targets lists the handles that have a saved record.
func (s *ProgressStore) Targets(ctx context.Context) ([]string, error) {
	lister, ok := s.kv.(audit.KeyLister)
	if !ok {
		return nil, errors.New("store: backend cannot list keys")
	}
	prefix := s.namespace + "_"
	keys, err := lister.Keys(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	targets := make([]string, 0, len(keys))
	for _, k := range keys {
		targets = append(targets, strings.TrimPrefix(k, prefix))
	}
	return targets, nil
}
