// Package livematch implements the live-match aggregation pipeline: three
// parallel upstream calls (party/pre-game/in-game) resolved by precedence,
// followed by a per-participant enrichment fan-out.
package livematch

import (
	"context"
	"sync"

	"github.com/rivengate/skinwatch/internal/store"
)

// MatchState is the precedence-resolved state of one account's current
// match context. At most one of Party/PreGame/InGame is non-nil; all three
// are nil when the account is in no party or match.
type MatchState struct {
	Party   *PartyState
	PreGame *GameState
	InGame  *GameState
}

// PartyState describes a queuing-or-not party.
type PartyState struct {
	PartyID string
	Queuing bool
}

// GameState describes a pre-game or in-game match.
type GameState struct {
	MatchID      string
	Mode         string
	Participants []Participant
}

// Participant is one player observed in a GameState, before enrichment.
type Participant struct {
	Puuid     store.Puuid
	TeamID    string
	AgentID   string
	Incognito bool
}

// EnrichedParticipant combines the static Participant with fan-out
// results: display name, rank, season stats, and last-match scores.
type EnrichedParticipant struct {
	Participant

	DisplayName string
	AgentName   string

	CurrentTier   int
	CurrentRating int
	PeakTier      int
	PeakSeason    string
	UnrankedThisSeason bool

	WinRate   float64
	GameCount int

	AllyRoundScore  int
	EnemyRoundScore int
}

// Fetcher performs the opaque upstream calls this aggregator composes. The
// concrete wire shapes are out of this module's scope (spec.md §1/§6).
type Fetcher interface {
	FetchParty(ctx context.Context, acc *store.Account) (*PartyState, error)
	FetchPreGame(ctx context.Context, acc *store.Account) (*GameState, error)
	FetchInGame(ctx context.Context, acc *store.Account) (*GameState, error)

	ResolveNames(ctx context.Context, puuids []store.Puuid) (map[store.Puuid]string, error)
	FetchRank(ctx context.Context, puuid store.Puuid) (tier, rating, peakTier int, peakSeason string, err error)
	FetchLatestCompetitiveMatchID(ctx context.Context, puuid store.Puuid) (string, error)
	FetchMatchDetail(ctx context.Context, matchID string) (roundsByPuuid map[store.Puuid]RoundScore, err error)
	FetchSeasonStats(ctx context.Context, puuid store.Puuid, season string) (winRate float64, games int, err error)
}

type RoundScore struct {
	Ally  int
	Enemy int
}

// Aggregator composes MatchState and enrichment for (user, account) pairs.
type Aggregator struct {
	fetcher Fetcher

	mu      sync.Mutex
	cancels map[store.UserID]context.CancelFunc

	seasonMu      sync.RWMutex
	currentSeason string
}

// New returns an Aggregator wired to fetcher.
func New(fetcher Fetcher) *Aggregator {
	return &Aggregator{fetcher: fetcher, cancels: make(map[store.UserID]context.CancelFunc)}
}

// SetCurrentSeason updates the season id Enrich treats as "current" when
// fetching season stats and deciding UnrankedThisSeason. Until it is called
// the current season is empty.
func (a *Aggregator) SetCurrentSeason(seasonID string) {
	a.seasonMu.Lock()
	a.currentSeason = seasonID
	a.seasonMu.Unlock()
}

func (a *Aggregator) getCurrentSeason() string {
	a.seasonMu.RLock()
	defer a.seasonMu.RUnlock()
	return a.currentSeason
}

// Resolve fans out the three parallel upstream calls and returns the
// precedence-resolved MatchState: in-game beats pre-game beats party.
// Supports explicit cancel-by-user-id (spec.md §5) via CancelFor.
func (a *Aggregator) Resolve(ctx context.Context, userID store.UserID, acc *store.Account) (MatchState, error) {
	ctx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.cancels[userID] = cancel
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.cancels, userID)
		a.mu.Unlock()
		cancel()
	}()

	var wg sync.WaitGroup
	var party *PartyState
	var pregame, ingame *GameState

	wg.Add(3)
	go func() { defer wg.Done(); party, _ = a.fetcher.FetchParty(ctx, acc) }()
	go func() { defer wg.Done(); pregame, _ = a.fetcher.FetchPreGame(ctx, acc) }()
	go func() { defer wg.Done(); ingame, _ = a.fetcher.FetchInGame(ctx, acc) }()
	wg.Wait()

	switch {
	case ingame != nil:
		return MatchState{InGame: ingame}, nil
	case pregame != nil:
		return MatchState{PreGame: pregame}, nil
	case party != nil:
		return MatchState{Party: party}, nil
	default:
		return MatchState{}, nil
	}
}

// CancelFor cancels any in-flight Resolve call for userID, supporting the
// presentation layer's pre-game-to-in-game live poller upgrade.
func (a *Aggregator) CancelFor(userID store.UserID) {
	a.mu.Lock()
	cancel, ok := a.cancels[userID]
	a.mu.Unlock()
	if ok {
		cancel()
	}
}
