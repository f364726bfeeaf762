package translate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"weft/internal/coder"
	"weft/internal/dataset"
	"weft/internal/element"
	"weft/internal/exec"
	"weft/internal/graph"
	"weft/internal/sideinput"
	"weft/internal/telemetry"
)

// ErrUnsupportedFeature marks a transform the batch translator refuses
// to run. Raised before any execution is scheduled.
var ErrUnsupportedFeature = errors.New("unsupported feature")

// ErrInvariant marks a defect in the filtering/indexing contract, not a
// user-data problem. Never defaulted over.
var ErrInvariant = errors.New("internal invariant violation")

// Session owns the mutable state of one translation run: the dataset
// registry, the broadcast cache, and the resources to tear down at job
// scope. Never shared across runs, never package-level.
type Session struct {
	Graph       *graph.Graph
	Tier        Tier
	Parallelism int
	SpillDir    string
	// Compression, when set, overrides the tier's spill codec.
	Compression coder.Compression
	Metrics     *telemetry.Metrics
	Options     exec.OptionsSupplier

	mu         sync.Mutex
	datasets   map[string]*dataset.Dataset[element.Windowed]
	cacheable  map[string]bool
	broadcasts map[string]*sideinput.Broadcast
	retained   []*sideinput.Broadcast
	spills     []*dataset.Spill
	tmpSpill   string
}

func NewSession(g *graph.Graph, tier Tier, parallelism int, spillDir string, m *telemetry.Metrics) *Session {
	if parallelism <= 0 {
		parallelism = 1
	}
	return &Session{
		Graph:       g,
		Tier:        tier,
		Parallelism: parallelism,
		SpillDir:    spillDir,
		Metrics:     m,
		datasets:    make(map[string]*dataset.Dataset[element.Windowed]),
		cacheable:   make(map[string]bool),
		broadcasts:  make(map[string]*sideinput.Broadcast),
	}
}

// PutDataset registers the physical dataset backing a collection.
// cacheable=false marks per-tag projections of an already-persisted
// stream, so later stages never cache the same bytes twice.
func (s *Session) PutDataset(col *graph.Collection, ds *dataset.Dataset[element.Windowed], cacheable bool) {
	s.mu.Lock()
	s.datasets[col.ID] = ds
	s.cacheable[col.ID] = cacheable
	s.mu.Unlock()
}

// Dataset resolves the physical dataset of a collection. A miss means
// translation order is broken.
func (s *Session) Dataset(col *graph.Collection) (*dataset.Dataset[element.Windowed], error) {
	s.mu.Lock()
	ds, ok := s.datasets[col.ID]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: no dataset for collection %s (%s)", ErrInvariant, col.Name, col.ID)
	}
	return ds, nil
}

// Cacheable reports whether the translator may persist the collection's
// dataset again downstream. Anything persisting a dataset it did not
// build itself must consult this first; split projections report false
// because the combined stream behind them is already the cache point.
func (s *Session) Cacheable(col *graph.Collection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cacheable[col.ID]
	return !ok || c
}

// GetOrCreateBroadcast returns the broadcast handle for a collection,
// materializing it through loader on first request. At most one
// materialization per collection per session.
func (s *Session) GetOrCreateBroadcast(ctx context.Context, col *graph.Collection, loader func(context.Context) (*sideinput.Values, error)) (*sideinput.Broadcast, error) {
	s.mu.Lock()
	if b, ok := s.broadcasts[col.ID]; ok {
		s.mu.Unlock()
		return b, nil
	}
	s.mu.Unlock()

	// Materialize outside the lock; batch translation is single-threaded
	// per node, the lock only guards against concurrent sessions misuse.
	vals, err := loader(ctx)
	if err != nil {
		return nil, fmt.Errorf("broadcast %s: %w", col.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.broadcasts[col.ID]; ok {
		return b, nil
	}
	b := sideinput.NewBroadcast(col.ID, vals)
	s.broadcasts[col.ID] = b
	if s.Metrics != nil {
		s.Metrics.Broadcasts.Inc()
	}
	return b, nil
}

func (s *Session) retain(b *sideinput.Broadcast) {
	b.Retain()
	s.mu.Lock()
	s.retained = append(s.retained, b)
	s.mu.Unlock()
}

func (s *Session) trackSpill(sp *dataset.Spill) {
	s.mu.Lock()
	s.spills = append(s.spills, sp)
	s.mu.Unlock()
}

// spillRoot resolves the directory spill segments go under. Without a
// configured SpillDir each session gets its own temp directory, so
// concurrent engines running same-named transforms never share segment
// files.
func (s *Session) spillRoot() (string, error) {
	if s.SpillDir != "" {
		return s.SpillDir, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tmpSpill == "" {
		dir, err := os.MkdirTemp("", "weft-spill-")
		if err != nil {
			return "", fmt.Errorf("spill root: %w", err)
		}
		s.tmpSpill = dir
	}
	return s.tmpSpill, nil
}

// spillCompression is the codec for spill segments: the configured
// override when present, otherwise what the tier implies.
func (s *Session) spillCompression() coder.Compression {
	if s.Compression != "" {
		return s.Compression
	}
	return s.Tier.Compression()
}

// Close is the job-scope teardown: releases every broadcast reference
// this session retained and removes spill segments.
func (s *Session) Close() error {
	s.mu.Lock()
	retained := s.retained
	spills := s.spills
	tmp := s.tmpSpill
	s.retained, s.spills, s.tmpSpill = nil, nil, ""
	s.mu.Unlock()

	for _, b := range retained {
		b.Release()
	}
	var first error
	for _, sp := range spills {
		if err := sp.Remove(); err != nil && first == nil {
			first = err
		}
	}
	if tmp != "" {
		if err := os.RemoveAll(tmp); err != nil && first == nil {
			first = err
		}
	}
	return first
}
