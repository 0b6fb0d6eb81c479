// Package search ranks vault files for a free-text query.
package search

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/hyperjump/obra/internal/config"
	"github.com/hyperjump/obra/internal/embedding"
	"github.com/hyperjump/obra/internal/models"
	"github.com/hyperjump/obra/internal/vector"
)

// Ranker turns vector candidates into file results: distance, minus a boost
// when a query term appears in the file name, best chunk per file.
type Ranker struct {
	embedder   embedding.Embedder
	store      *vector.Store
	candidates int
	limit      int
	boost      float64
	maxScore   float64
}

// NewRanker creates a ranker over store using cfg's candidate pool, limit,
// filename boost and score cutoff.
func NewRanker(embedder embedding.Embedder, store *vector.Store, cfg config.SearchConfig) *Ranker {
	return &Ranker{
		embedder:   embedder,
		store:      store,
		candidates: cfg.Candidates,
		limit:      cfg.Limit,
		boost:      cfg.FilenameBoost,
		maxScore:   cfg.MaxScore,
	}
}

type ranked struct {
	chunk *models.Chunk
	score float64
	order int
}

// Search returns up to limit files for query, best (lowest score) first.
// limit <= 0 uses the configured limit. It never writes and is safe for
// concurrent use.
func (r *Ranker) Search(ctx context.Context, query string, limit int) ([]models.SearchResult, error) {
	q, err := models.NormalizeQuery(query)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = r.limit
	}
	vec, err := r.embedder.Embed(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("embedding failed: %w", err)
	}
	cands, err := r.store.Query(ctx, vec, max(r.candidates, limit))
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	terms := models.QueryTerms(q)
	best := make(map[string]int)
	var files []ranked
	for i, c := range cands {
		score := c.Distance
		if nameMatches(c.Chunk.Path, terms) {
			score -= r.boost
		}
		if j, ok := best[c.Chunk.Path]; ok {
			if score < files[j].score {
				files[j] = ranked{chunk: c.Chunk, score: score, order: i}
			}
			continue
		}
		best[c.Chunk.Path] = len(files)
		files = append(files, ranked{chunk: c.Chunk, score: score, order: i})
	}
	sort.SliceStable(files, func(i, j int) bool {
		if files[i].score != files[j].score {
			return files[i].score < files[j].score
		}
		return files[i].order < files[j].order
	})

	results := make([]models.SearchResult, 0, min(limit, len(files)))
	for _, f := range files {
		if len(results) == limit {
			break
		}
		if r.maxScore > 0 && f.score >= r.maxScore {
			break
		}
		results = append(results, models.SearchResult{
			Path:    f.chunk.Path,
			Score:   f.score,
			Snippet: Snippet(f.chunk.Text),
		})
	}
	return results, nil
}

// nameMatches reports whether any term occurs in the lowercase file stem.
func nameMatches(key string, terms []string) bool {
	base := path.Base(key)
	stem := strings.ToLower(strings.TrimSuffix(base, path.Ext(base)))
	for _, t := range terms {
		if strings.Contains(stem, t) {
			return true
		}
	}
	return false
}
