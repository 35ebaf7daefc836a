package crawler

import (
	"math"
	"net/url"
	"strings"
)

// Keywords drives both the relevance gate and the priority scores.
type Keywords struct {
	Relevant     []string
	HighPriority []string
}

// DefaultKeywords returns the stock academic keyword lists.
func DefaultKeywords() Keywords {
	return Keywords{
		Relevant: []string{
			"undergraduate", "graduate", "program", "programs",
			"department", "departments", "school", "college",
			"admission", "admissions", "apply", "applications",
			"academic", "academics", "faculty", "faculties",
			"course", "courses", "curriculum", "curricula",
			"degree", "degrees", "major", "minor",
			"engineering", "computer", "science", "medicine",
			"business", "law", "education",
		},
		HighPriority: []string{
			"program", "programs", "department", "departments",
			"admission", "admissions", "academics", "academic",
			"faculty", "degree", "undergraduate", "graduate",
		},
	}
}

type pathWeight struct {
	needles []string
	weight  float64
}

// Each group contributes at most once per URL.
var priorityPathWeights = []pathWeight{
	{needles: []string{"admission", "apply"}, weight: 100},
	{needles: []string{"program", "degree", "major"}, weight: 90},
	{needles: []string{"academic"}, weight: 80},
	{needles: []string{"department", "school", "college"}, weight: 75},
	{needles: []string{"faculty"}, weight: 70},
	{needles: []string{"international"}, weight: 65},
	{needles: []string{"tuition", "fees", "scholarship"}, weight: 60},
	{needles: []string{"research"}, weight: 50},
	{needles: []string{"undergraduate"}, weight: 20},
	{needles: []string{"graduate"}, weight: 20},
}

const (
	relevantURLKeywordWeight  = 2
	highPriorityContentWeight = 5
	relevantContentWeight     = 1
	sectionPathBonus          = 10
)

// Scorer computes relevance and priority. It is immutable after construction.
type Scorer struct {
	relevant     []string
	highPriority []string
	maxDepth     int
}

// NewScorer builds a Scorer. maxDepth feeds the depth penalty of PriorityScore.
func NewScorer(keywords Keywords, maxDepth int) *Scorer {
	return &Scorer{
		relevant:     lowerAll(keywords.Relevant),
		highPriority: lowerAll(keywords.HighPriority),
		maxDepth:     maxDepth,
	}
}

// IsRelevant reports whether any relevant keyword occurs in the page.
func (s *Scorer) IsRelevant(title, path, content string) bool {
	text := strings.ToLower(title + " " + path + " " + content)
	for _, kw := range s.relevant {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// ContentScore is the relevanceScore stored on a PageRecord.
func (s *Scorer) ContentScore(title, path, content string) int {
	text := strings.ToLower(title + " " + path + " " + content)
	score := 0
	for _, kw := range s.highPriority {
		if strings.Contains(text, kw) {
			score += highPriorityContentWeight
		}
	}
	for _, kw := range s.relevant {
		if strings.Contains(text, kw) {
			score += relevantContentWeight
		}
	}
	lowerPath := strings.ToLower(path)
	if strings.Contains(lowerPath, "/admission") {
		score += sectionPathBonus
	}
	if strings.Contains(lowerPath, "/program") {
		score += sectionPathBonus
	}
	return score
}

// PriorityScore orders the frontier. Deeper URLs are penalized linearly so
// that a URL at maxDepth+1 would score zero.
func (s *Scorer) PriorityScore(rawURL string, depth int) float64 {
	lowerURL := strings.ToLower(rawURL)
	path := lowerURL
	if u, err := url.Parse(rawURL); err == nil {
		path = strings.ToLower(u.Path)
	}

	var score float64
	for _, group := range priorityPathWeights {
		for _, needle := range group.needles {
			if strings.Contains(path, needle) {
				score += group.weight
				break
			}
		}
	}
	for _, kw := range s.relevant {
		if strings.Contains(lowerURL, kw) {
			score += relevantURLKeywordWeight
		}
	}

	penalty := 1 - float64(depth)/float64(s.maxDepth+1)
	return math.Floor(score*penalty + 0.5)
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
