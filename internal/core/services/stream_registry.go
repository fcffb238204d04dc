package services

import (
	"math/rand"
	"sync"
	"time"

	"cdnpulse/internal/core/domain"

	"github.com/google/uuid"
)

const (
	minViewers     = 10
	maxViewers     = 10000
	minDuration    = 300
	maxDuration    = 7200
	viewerDriftMax = 100
)

// StreamRegistry owns the set of active synthetic streams.
type StreamRegistry struct {
	mu      sync.RWMutex
	streams map[domain.StreamID]*domain.StreamRecord
	rng     *rand.Rand
	now     func() time.Time
}

// FleetAggregates are the registry-derived fields of a snapshot, computed
// under a single read lock.
type FleetAggregates struct {
	TotalBandwidthMbps float64
	ActiveStreams      int
	RegionCounts       map[domain.Region]int
	CategoryCounts     map[domain.Category]int
}

func NewStreamRegistry(seed int64) *StreamRegistry {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &StreamRegistry{
		streams: make(map[domain.StreamID]*domain.StreamRecord),
		rng:     rand.New(rand.NewSource(seed)),
		now:     time.Now,
	}
}

// Generate creates a stream of the given category and adds it to the active
// set. An empty category picks one uniformly at random.
func (r *StreamRegistry) Generate(category domain.Category) (domain.StreamRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.generateLocked(category)
}

func (r *StreamRegistry) generateLocked(category domain.Category) (domain.StreamRecord, error) {
	if category == "" {
		all := domain.Categories()
		category = all[r.rng.Intn(len(all))]
	}
	menu, ok := domain.MenuFor(category)
	if !ok {
		return domain.StreamRecord{}, domain.ErrUnknownCategory
	}

	regions := domain.Regions()
	stream := &domain.StreamRecord{
		ID:             domain.StreamID(uuid.NewString()),
		Title:          menu.Titles[r.rng.Intn(len(menu.Titles))],
		Category:       category,
		Bitrate:        menu.Bitrates[r.rng.Intn(len(menu.Bitrates))],
		Resolution:     menu.Resolutions[r.rng.Intn(len(menu.Resolutions))],
		CurrentViewers: r.intBetween(minViewers, maxViewers),
		StartTime:      r.now(),
		Duration:       r.intBetween(minDuration, maxDuration),
		SegmentSize:    menu.SegmentSizes[r.rng.Intn(len(menu.SegmentSizes))],
		Region:         regions[r.rng.Intn(len(regions))],
	}
	r.streams[stream.ID] = stream
	return *stream, nil
}

// PerturbViewers shifts the viewer count of a stream by up to ±100, never
// below zero. Unknown ids are ignored.
func (r *StreamRegistry) PerturbViewers(id domain.StreamID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.perturbLocked(id)
}

func (r *StreamRegistry) perturbLocked(id domain.StreamID) {
	stream, exists := r.streams[id]
	if !exists {
		return
	}
	stream.CurrentViewers += r.intBetween(-viewerDriftMax, viewerDriftMax)
	if stream.CurrentViewers < 0 {
		stream.CurrentViewers = 0
	}
}

// Remove deletes a stream. Unknown ids are ignored.
func (r *StreamRegistry) Remove(id domain.StreamID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.streams, id)
}

// Churn applies one tick of population change atomically: every stream's
// viewers drift, then a stream is added with probability addProb and a
// random stream removed with probability removeProb.
func (r *StreamRegistry) Churn(addProb, removeProb float64) (added, removed int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id := range r.streams {
		r.perturbLocked(id)
	}

	if r.rng.Float64() < addProb {
		if _, err := r.generateLocked(""); err == nil {
			added++
		}
	}
	if r.rng.Float64() < removeProb && len(r.streams) > 0 {
		target := r.rng.Intn(len(r.streams))
		for id := range r.streams {
			if target == 0 {
				delete(r.streams, id)
				removed++
				break
			}
			target--
		}
	}
	return added, removed
}

// Get returns a copy of one stream.
func (r *StreamRegistry) Get(id domain.StreamID) (domain.StreamRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stream, exists := r.streams[id]
	if !exists {
		return domain.StreamRecord{}, domain.ErrStreamNotFound
	}
	return *stream, nil
}

func (r *StreamRegistry) ActiveStreams() []domain.StreamRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.StreamRecord, 0, len(r.streams))
	for _, s := range r.streams {
		out = append(out, *s)
	}
	return out
}

func (r *StreamRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.streams)
}

// TotalBandwidthMbps returns Σ(bitrate × viewers) / 1000 over active streams.
func (r *StreamRegistry) TotalBandwidthMbps() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.bandwidthLocked()
}

func (r *StreamRegistry) RegionDistribution() map[domain.Region]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.regionsLocked()
}

func (r *StreamRegistry) CategoryDistribution() map[domain.Category]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.categoriesLocked()
}

// Aggregates returns bandwidth, count and distributions from one consistent view.
func (r *StreamRegistry) Aggregates() FleetAggregates {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return FleetAggregates{
		TotalBandwidthMbps: r.bandwidthLocked(),
		ActiveStreams:      len(r.streams),
		RegionCounts:       r.regionsLocked(),
		CategoryCounts:     r.categoriesLocked(),
	}
}

func (r *StreamRegistry) bandwidthLocked() float64 {
	var kbps int64
	for _, s := range r.streams {
		kbps += s.BandwidthKbps()
	}
	return float64(kbps) / 1000.0
}

func (r *StreamRegistry) regionsLocked() map[domain.Region]int {
	dist := make(map[domain.Region]int)
	for _, region := range domain.Regions() {
		dist[region] = 0
	}
	for _, s := range r.streams {
		dist[s.Region]++
	}
	return dist
}

func (r *StreamRegistry) categoriesLocked() map[domain.Category]int {
	dist := make(map[domain.Category]int)
	for _, c := range domain.Categories() {
		dist[c] = 0
	}
	for _, s := range r.streams {
		dist[s.Category]++
	}
	return dist
}

func (r *StreamRegistry) intBetween(lo, hi int) int {
	return lo + r.rng.Intn(hi-lo+1)
}
