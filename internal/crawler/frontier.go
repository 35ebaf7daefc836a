package crawler

import (
	"container/heap"

	"github.com/cespare/xxhash/v2"
)

// Admission is the verdict of a Frontier offer.
type Admission int

const (
	AdmitOK Admission = iota
	RejectInvalid
	RejectOffHost
	RejectVisited
	RejectExcluded
	RejectDepth
	RejectScore
)

func (a Admission) String() string {
	switch a {
	case AdmitOK:
		return "admitted"
	case RejectInvalid:
		return "invalid"
	case RejectOffHost:
		return "off_host"
	case RejectVisited:
		return "visited"
	case RejectExcluded:
		return "excluded"
	case RejectDepth:
		return "depth"
	case RejectScore:
		return "score"
	default:
		return "unknown"
	}
}

// FrontierPolicy holds the admission limits of one run.
type FrontierPolicy struct {
	Domain            string
	MaxDepth          int
	MinScoreToEnqueue float64
	SeedScore         float64
}

// Frontier is the per-run priority queue plus its visited set. It is owned by
// a single coordinator goroutine and is not safe for concurrent use.
type Frontier struct {
	policy  FrontierPolicy
	scorer  *Scorer
	filter  *ExclusionFilter
	visited map[uint64]struct{}
	queue   *itemHeap
	seq     uint64
}

// NewFrontier creates an empty frontier for one domain run.
func NewFrontier(policy FrontierPolicy, scorer *Scorer, filter *ExclusionFilter) *Frontier {
	h := &itemHeap{}
	heap.Init(h)
	return &Frontier{
		policy:  policy,
		scorer:  scorer,
		filter:  filter,
		visited: make(map[uint64]struct{}),
		queue:   h,
	}
}

// Offer scores and admits a discovered URL at depth. The returned item is
// only meaningful when the admission is AdmitOK.
func (f *Frontier) Offer(rawURL string, depth int) (FrontierItem, Admission) {
	normalized, verdict := f.screen(rawURL, depth)
	if verdict != AdmitOK {
		return FrontierItem{}, verdict
	}
	score := f.scorer.PriorityScore(normalized, depth)
	if score < f.policy.MinScoreToEnqueue {
		return FrontierItem{}, RejectScore
	}
	item := FrontierItem{URL: normalized, Depth: depth, Score: score}
	f.admit(item)
	return item, AdmitOK
}

// OfferSeed admits a seed at depth 0 with the seed sentinel score. Seeds skip
// the minimum score check only.
func (f *Frontier) OfferSeed(rawURL string) (FrontierItem, Admission) {
	normalized, verdict := f.screen(rawURL, 0)
	if verdict != AdmitOK {
		return FrontierItem{}, verdict
	}
	item := FrontierItem{URL: normalized, Depth: 0, Score: f.policy.SeedScore}
	f.admit(item)
	return item, AdmitOK
}

// Requeue puts a previously admitted item back for a retry.
func (f *Frontier) Requeue(item FrontierItem) {
	f.push(item)
}

// Pop returns the highest scoring item. Ties leave in insertion order.
func (f *Frontier) Pop() (FrontierItem, bool) {
	if f.queue.Len() == 0 {
		return FrontierItem{}, false
	}
	entry, _ := heap.Pop(f.queue).(heapEntry)
	return entry.item, true
}

// Len returns the number of queued items.
func (f *Frontier) Len() int { return f.queue.Len() }

// Visited reports whether the normalized form of rawURL was ever admitted.
func (f *Frontier) Visited(rawURL string) bool {
	_, ok := f.visited[xxhash.Sum64String(NormalizeURL(rawURL))]
	return ok
}

// VisitedCount returns how many distinct URLs were admitted.
func (f *Frontier) VisitedCount() int { return len(f.visited) }

func (f *Frontier) screen(rawURL string, depth int) (string, Admission) {
	normalized := NormalizeURL(rawURL)
	u, err := parseAbsolute(normalized)
	if err != nil {
		return "", RejectInvalid
	}
	if !sameHost(u, f.policy.Domain) {
		return "", RejectOffHost
	}
	if f.Visited(normalized) {
		return "", RejectVisited
	}
	if f.filter.ExcludesURL(normalized) {
		return "", RejectExcluded
	}
	if depth > f.policy.MaxDepth {
		return "", RejectDepth
	}
	return normalized, AdmitOK
}

func (f *Frontier) admit(item FrontierItem) {
	f.visited[xxhash.Sum64String(item.URL)] = struct{}{}
	f.push(item)
}

func (f *Frontier) push(item FrontierItem) {
	f.seq++
	heap.Push(f.queue, heapEntry{item: item, seq: f.seq})
}

type heapEntry struct {
	item FrontierItem
	seq  uint64
}

// itemHeap is a max-heap on score, FIFO among equal scores.
type itemHeap []heapEntry

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].item.Score != h[j].item.Score {
		return h[i].item.Score > h[j].item.Score
	}
	return h[i].seq < h[j].seq
}

func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x any) {
	entry, _ := x.(heapEntry)
	*h = append(*h, entry)
}

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}
