package reload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/chenyanchen/comptree"
	"github.com/chenyanchen/comptree/configstore"
)

// Result describes the root changes of one reconciliation.
type Result struct {
	Added   []string // Root exists only in the next configuration.
	Removed []string // Root exists only in the previous configuration.
	Reused  []string // Root is unchanged and its instance kept.
	Rebuilt []string // Root is requested again (added or changed).
}

// Reconciler keeps the components of a set of root groups in sync with new
// configuration snapshots.
//
// Semantics:
// 1. a root is compared by the sha256 of its canonical dump
// 2. removed and changed roots are destroyed before the store is replaced
// 3. added and changed roots are requested after it
// 4. a root whose request fails is retried on the next reconciliation
type Reconciler struct {
	engine *comptree.Engine
	roots  []string
	logger *slog.Logger

	mu       sync.Mutex
	snapshot map[string]string
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLogger sets the logger. The default discards records.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) { r.logger = l }
}

// New returns a reconciler for the given root groups and requests the ones
// present in the engine's store.
func New(ctx context.Context, engine *comptree.Engine, roots []string, opts ...Option) (*Reconciler, error) {
	if engine == nil {
		return nil, fmt.Errorf("new reconciler: engine is nil")
	}
	r := &Reconciler{
		engine:   engine,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		snapshot: make(map[string]string),
	}
	for _, root := range roots {
		r.roots = append(r.roots, configstore.Clean(root))
	}
	for _, opt := range opts {
		opt(r)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	current, err := snapshot(engine.Store(), r.roots)
	if err != nil {
		return nil, err
	}
	var errs []error
	for _, root := range r.roots {
		hash, ok := current[root]
		if !ok {
			continue
		}
		if _, err := engine.Request(ctx, root); err != nil {
			errs = append(errs, err)
			continue
		}
		r.snapshot[root] = hash
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("request initial roots: %w", err)
	}
	return r, nil
}

// Engine returns the reconciled engine.
func (r *Reconciler) Engine() *comptree.Engine { return r.engine }

// Reconcile switches the engine to the next configuration.
func (r *Reconciler) Reconcile(ctx context.Context, next *configstore.Store) (Result, error) {
	if next == nil {
		return Result{}, fmt.Errorf("reconcile: next store is nil")
	}
	nextSnapshot, err := snapshot(next, r.roots)
	if err != nil {
		return Result{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var result Result
	for _, root := range r.roots {
		oldHash, hadOld := r.snapshot[root]
		newHash, hasNew := nextSnapshot[root]
		_, live := r.engine.InstanceAt(root)
		switch {
		case !hadOld && !hasNew:
		case !hasNew:
			result.Removed = append(result.Removed, root)
		case !hadOld:
			result.Added = append(result.Added, root)
			result.Rebuilt = append(result.Rebuilt, root)
		case oldHash != newHash || !live:
			result.Rebuilt = append(result.Rebuilt, root)
		default:
			result.Reused = append(result.Reused, root)
		}
	}

	for _, root := range append(append([]string(nil), result.Removed...), result.Rebuilt...) {
		if inst, ok := r.engine.InstanceAt(root); ok {
			r.engine.Destroy(inst)
		}
		delete(r.snapshot, root)
	}

	r.engine.Store().ReplaceWith(next)

	var errs []error
	for _, root := range result.Rebuilt {
		if _, err := r.engine.Request(ctx, root); err != nil {
			r.logger.Warn("reload root failed", "root", root, "error", err)
			errs = append(errs, err)
			continue
		}
		r.snapshot[root] = nextSnapshot[root]
	}

	r.logger.Info("configuration reconciled",
		"added", len(result.Added),
		"removed", len(result.Removed),
		"reused", len(result.Reused),
		"rebuilt", len(result.Rebuilt),
	)
	if err := errors.Join(errs...); err != nil {
		return result, fmt.Errorf("request rebuilt roots: %w", err)
	}
	return result, nil
}

// ReconcileFile loads filename and reconciles with its content.
func (r *Reconciler) ReconcileFile(ctx context.Context, filename string) (Result, error) {
	next, err := configstore.LoadFile(filename)
	if err != nil {
		return Result{}, err
	}
	return r.Reconcile(ctx, next)
}

func snapshot(s *configstore.Store, roots []string) (map[string]string, error) {
	out := make(map[string]string, len(roots))
	for _, root := range roots {
		if !s.GroupExists(root) {
			continue
		}
		dump, err := s.Dump(root)
		if err != nil {
			return nil, fmt.Errorf("dump %q: %w", root, err)
		}
		sum := sha256.Sum256([]byte(dump))
		out[root] = hex.EncodeToString(sum[:])
	}
	return out, nil
}
