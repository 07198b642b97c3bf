package livematch

import (
	"context"
	"sync"

	"github.com/rivengate/skinwatch/internal/store"
)

// competitiveModes are the game modes for which per-player match-id lookup
// and score extraction apply.
var competitiveModes = map[string]bool{"competitive": true, "skirmish": true}

// Enrich fans out per-participant lookups for a non-empty GameState: a
// single batch name-resolution call, a per-puuid rank lookup with
// all-settled semantics (any individual failure yields a null rank rather
// than aborting the whole enrichment — this is why the fan-out is
// hand-rolled over sync.WaitGroup rather than an errgroup, which would
// abort the group on first member error), and for competitive/skirmish
// modes, deduplicated detailed-match fetches.
func (a *Aggregator) Enrich(ctx context.Context, gs *GameState) ([]EnrichedParticipant, error) {
	if gs == nil || len(gs.Participants) == 0 {
		return nil, nil
	}

	puuids := make([]store.Puuid, len(gs.Participants))
	for i, p := range gs.Participants {
		puuids[i] = p.Puuid
	}

	names, _ := a.fetcher.ResolveNames(ctx, puuids)
	currentSeason := a.getCurrentSeason()

	enriched := make([]EnrichedParticipant, len(gs.Participants))
	var wg sync.WaitGroup
	wg.Add(len(gs.Participants))
	for i, p := range gs.Participants {
		i, p := i, p
		go func() {
			defer wg.Done()
			ep := EnrichedParticipant{Participant: p}

			if name, ok := names[p.Puuid]; ok && !p.Incognito {
				ep.DisplayName = name
			} else if p.Incognito && p.AgentID != "" {
				ep.AgentName = p.AgentID
			} else {
				ep.DisplayName = "Unknown Agent"
			}

			tier, rating, peakTier, peakSeason, err := a.fetcher.FetchRank(ctx, p.Puuid)
			if err != nil {
				// all-settled: a failed rank lookup yields a null rank for
				// this participant only, never aborting the enrichment.
				ep.CurrentTier, ep.CurrentRating = 0, 0
			} else {
				ep.CurrentTier, ep.CurrentRating, ep.PeakTier, ep.PeakSeason = tier, rating, peakTier, peakSeason
			}

			// win-rate/game-count for the current season, falling back to
			// the latest known (peak) season when the current one isn't
			// known yet.
			season := currentSeason
			if season == "" {
				season = peakSeason
			}
			if season != "" {
				winRate, games, err := a.fetcher.FetchSeasonStats(ctx, p.Puuid, season)
				if err == nil {
					ep.WinRate, ep.GameCount = winRate, games
				}
			}

			// Unranked this season: the last competitive game recorded was
			// in an older season (peakSeason set and different from the
			// current one) and no games have been played in the current
			// season yet.
			ep.UnrankedThisSeason = currentSeason != "" && peakSeason != "" &&
				peakSeason != currentSeason && ep.GameCount == 0

			enriched[i] = ep
		}()
	}
	wg.Wait()

	if competitiveModes[gs.Mode] {
		if err := a.enrichCompetitive(ctx, gs, enriched); err != nil {
			return enriched, err
		}
	}

	return enriched, nil
}

func (a *Aggregator) enrichCompetitive(ctx context.Context, gs *GameState, enriched []EnrichedParticipant) error {
	matchIDByPuuid := make(map[store.Puuid]string, len(gs.Participants))
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(len(gs.Participants))
	for _, p := range gs.Participants {
		p := p
		go func() {
			defer wg.Done()
			matchID, err := a.fetcher.FetchLatestCompetitiveMatchID(ctx, p.Puuid)
			if err != nil || matchID == "" {
				return
			}
			mu.Lock()
			matchIDByPuuid[p.Puuid] = matchID
			mu.Unlock()
		}()
	}
	wg.Wait()

	uniqueMatchIDs := make(map[string]bool)
	for _, id := range matchIDByPuuid {
		uniqueMatchIDs[id] = true
	}

	scoresByPuuid := make(map[store.Puuid]RoundScore)
	var scoreMu sync.Mutex
	var matchWg sync.WaitGroup
	matchWg.Add(len(uniqueMatchIDs))
	for matchID := range uniqueMatchIDs {
		matchID := matchID
		go func() {
			defer matchWg.Done()
			rounds, err := a.fetcher.FetchMatchDetail(ctx, matchID)
			if err != nil {
				return
			}
			scoreMu.Lock()
			for puuid, rs := range rounds {
				scoresByPuuid[puuid] = rs
			}
			scoreMu.Unlock()
		}()
	}
	matchWg.Wait()

	for i := range enriched {
		if rs, ok := scoresByPuuid[enriched[i].Puuid]; ok {
			enriched[i].AllyRoundScore = rs.Ally
			enriched[i].EnemyRoundScore = rs.Enemy
		}
	}
	return nil
}
