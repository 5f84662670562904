package analysis

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/footage.report/internal/config"
	"github.com/banshee-data/footage.report/internal/match"
	"github.com/banshee-data/footage.report/internal/monitoring"
)

// SuspectMatcher is the slice of the clothing-similarity service the batcher
// needs.
type SuspectMatcher interface {
	IdentifyPerson(ctx context.Context, png []byte, name string, threshold float64) ([]match.Match, error)
}

// TrackMatch links a track to the registered target it most resembles.
type TrackMatch struct {
	Track      *Track
	TargetID   string
	Similarity float64
	Confidence float64
}

// MatchingBatcher flushes frozen tracks to the similarity service in small
// concurrent batches, best crops first. Per query it keeps only the single
// best pairing at or above the retention threshold. A hit at or above the
// high-confidence threshold fires the terminator; in realtime mode that stops
// dispatching after the current batch, in normal mode dispatching stops once
// the flag is up and enough matches have accumulated.
type MatchingBatcher struct {
	cfg     *config.TuningConfig
	matcher SuspectMatcher
	term    *Terminator
}

func NewMatchingBatcher(cfg *config.TuningConfig, matcher SuspectMatcher, term *Terminator) *MatchingBatcher {
	return &MatchingBatcher{cfg: cfg, matcher: matcher, term: term}
}

// Run identifies the given tracks (already ordered by descending crop
// quality) and returns the retained matches. Per-request failures are logged
// and the track contributes nothing.
func (b *MatchingBatcher) Run(ctx context.Context, tracks []*Track) ([]TrackMatch, error) {
	size := b.cfg.GetMatchingBatchSize()
	threshold := b.cfg.GetMatchThreshold()
	high := b.cfg.GetHighConfidence()
	minMatches := b.cfg.GetNormalModeMinMatches()

	var matches []TrackMatch
	for start := 0; start < len(tracks); start += size {
		if err := ctx.Err(); err != nil {
			return matches, err
		}

		end := start + size
		if end > len(tracks) {
			end = len(tracks)
		}
		batch := tracks[start:end]

		results := make([]*TrackMatch, len(batch))
		g, gctx := errgroup.WithContext(ctx)
		for i, tr := range batch {
			g.Go(func() error {
				found, err := b.matcher.IdentifyPerson(gctx, tr.BestCrop.PNG, tr.TrackID, threshold)
				if err != nil {
					monitoring.Opsf("[MatchBatch] track %s: identify failed: %v", tr.TrackID, err)
					return nil
				}
				results[i] = bestMatch(tr, found, threshold)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return matches, err
		}

		for _, m := range results {
			if m == nil {
				continue
			}
			matches = append(matches, *m)
			monitoring.Diagf("[MatchBatch] track %s matched %s (similarity %.3f)",
				m.Track.TrackID, m.TargetID, m.Similarity)
			if m.Similarity >= high {
				b.term.Fire(m.Similarity)
			}
		}

		if b.term.Fired() {
			if b.term.Realtime() {
				monitoring.Opsf("[MatchBatch] realtime stop after %d matches", len(matches))
				return matches, nil
			}
			if len(matches) >= minMatches {
				monitoring.Opsf("[MatchBatch] stopping with %d matches and high-confidence hit", len(matches))
				return matches, nil
			}
		}
	}
	return matches, nil
}

// bestMatch reduces a query's result list to its single strongest pairing,
// or nil when nothing clears the retention threshold.
func bestMatch(tr *Track, found []match.Match, threshold float64) *TrackMatch {
	var best *match.Match
	for i := range found {
		if found[i].Similarity < threshold {
			continue
		}
		if best == nil || found[i].Similarity > best.Similarity {
			best = &found[i]
		}
	}
	if best == nil {
		return nil
	}
	return &TrackMatch{
		Track:      tr,
		TargetID:   best.SuspectID,
		Similarity: best.Similarity,
		Confidence: best.Confidence,
	}
}
