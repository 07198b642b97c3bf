// Package providers contains the thin adapters binding this module's
// interfaces (auth.Reauthorizer, shop.Fetcher, livematch.Fetcher,
// notify.Port, emoji.Uploader) to the opaque upstream game provider and
// chat platform wire contracts. Both contracts are explicit Non-goals
// (spec.md §1): their exact JSON/gateway shapes live outside this
// module. What's here is real request plumbing through internal/upstream
// — decoding targets are generic, since the concrete response schema is
// the boundary this module deliberately doesn't own.
package providers

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
	"golang.org/x/oauth2"

	"github.com/rivengate/skinwatch/internal/catalog"
	"github.com/rivengate/skinwatch/internal/livematch"
	"github.com/rivengate/skinwatch/internal/store"
	"github.com/rivengate/skinwatch/internal/upstream"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// UpstreamProvider implements auth.Reauthorizer, shop.Fetcher, and
// livematch.Fetcher over a single internal/upstream.Client, the way the
// teacher's client.Client is the one egress point every REST call goes
// through.
type UpstreamProvider struct {
	Client *upstream.Client

	// OAuth is the authorization-code exchange config used by ExchangeCode.
	// Its token request is still issued through Client (OAuth.HTTPClient
	// wraps Client as an http.RoundTripper), so the code exchange still
	// consults the rate-limit gate like every other upstream call.
	OAuth *oauth2.Config
}

// NewUpstreamProvider returns a provider bound to client, with code-flow
// exchanges performed as an OAuth2 authorization-code exchange against
// upstream.EndpointToken over the same rate-limited client.
func NewUpstreamProvider(client *upstream.Client, clientID, clientSecret string) *UpstreamProvider {
	return &UpstreamProvider{
		Client: client,
		OAuth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: upstream.EndpointToken},
		},
	}
}

func (p *UpstreamProvider) getJSON(ctx context.Context, url string, headers map[string]string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return p.Client.Do(ctx, req, func(resp *http.Response) error {
		return json.NewDecoder(resp.Body).Decode(out)
	})
}

// --- auth.Reauthorizer ---

func (p *UpstreamProvider) ReauthorizeWithCookies(ctx context.Context, cookies string) (access, id, entitlement string, expiresAt time.Time, err error) {
	var body struct {
		AccessToken string `json:"access_token"`
		IDToken     string `json:"id_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err = p.getJSON(ctx, upstream.EndpointAuthorize, map[string]string{"Cookie": cookies}, &body); err != nil {
		return "", "", "", time.Time{}, err
	}
	entitlement, err = p.FetchEntitlement(ctx, body.AccessToken)
	if err != nil {
		return "", "", "", time.Time{}, err
	}
	return body.AccessToken, body.IDToken, entitlement, time.Now().Add(time.Duration(body.ExpiresIn) * time.Second), nil
}

func (p *UpstreamProvider) ReauthorizeWithRefreshToken(ctx context.Context, refreshToken string) (access, id, entitlement, newRefreshToken string, expiresAt time.Time, err error) {
	var body struct {
		AccessToken  string `json:"access_token"`
		IDToken      string `json:"id_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err = p.getJSON(ctx, upstream.EndpointToken, map[string]string{"Authorization": "Bearer " + refreshToken}, &body); err != nil {
		return "", "", "", "", time.Time{}, err
	}
	entitlement, err = p.FetchEntitlement(ctx, body.AccessToken)
	if err != nil {
		return "", "", "", "", time.Time{}, err
	}
	return body.AccessToken, body.IDToken, entitlement, body.RefreshToken, time.Now().Add(time.Duration(body.ExpiresIn) * time.Second), nil
}

// ExchangeCode performs the standard OAuth2 authorization-code exchange via
// golang.org/x/oauth2, with the token request routed through p.Client (an
// http.RoundTripper) so it still passes the rate-limit gate like every
// other upstream call.
func (p *UpstreamProvider) ExchangeCode(ctx context.Context, code string) (refreshToken string, err error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Transport: p.Client})
	tok, err := p.OAuth.Exchange(ctx, code)
	if err != nil {
		return "", err
	}
	return tok.RefreshToken, nil
}

func (p *UpstreamProvider) FetchEntitlement(ctx context.Context, accessToken string) (string, error) {
	var body struct {
		EntitlementsToken string `json:"entitlements_token"`
	}
	if err := p.getJSON(ctx, upstream.EndpointEntitlement, map[string]string{"Authorization": "Bearer " + accessToken}, &body); err != nil {
		return "", err
	}
	return body.EntitlementsToken, nil
}

// --- shop.Fetcher ---

func (p *UpstreamProvider) authHeaders(acc *store.Account) map[string]string {
	if acc.Auth == nil {
		return nil
	}
	return map[string]string{
		"Authorization":     "Bearer " + acc.Auth.AccessToken,
		"X-Riot-Entitlements-JWT": acc.Auth.EntitlementToken,
	}
}

func (p *UpstreamProvider) storefrontURL(acc *store.Account) string {
	return fmt.Sprintf(upstream.EndpointPDFmt, acc.Region) + "/store/v2/storefront/" + string(acc.Puuid)
}

func (p *UpstreamProvider) FetchDailyShop(ctx context.Context, acc *store.Account) ([]store.ItemID, map[string]catalog.Price, time.Time, error) {
	var body struct {
		SkinsPanelLayout struct {
			SingleItemOffers        []string `json:"SingleItemOffers"`
			SingleItemOffersRemaining int    `json:"SingleItemOffersRemainingDurationInSeconds"`
		} `json:"SkinsPanelLayout"`
	}
	if err := p.getJSON(ctx, p.storefrontURL(acc), p.authHeaders(acc), &body); err != nil {
		return nil, nil, time.Time{}, err
	}
	items := make([]store.ItemID, len(body.SkinsPanelLayout.SingleItemOffers))
	for i, id := range body.SkinsPanelLayout.SingleItemOffers {
		items[i] = store.ItemID(id)
	}
	expiresAt := time.Now().Add(time.Duration(body.SkinsPanelLayout.SingleItemOffersRemaining) * time.Second)
	return items, nil, expiresAt, nil
}

func (p *UpstreamProvider) FetchNightMarket(ctx context.Context, acc *store.Account) ([]store.ItemID, map[string]catalog.Price, time.Time, error) {
	var body struct {
		BonusStore struct {
			Offers []struct {
				Offer struct {
					OfferID string `json:"OfferID"`
				} `json:"Offer"`
			} `json:"BonusStoreOffers"`
			DurationRemaining int `json:"BonusStoreRemainingDurationInSeconds"`
		} `json:"BonusStore"`
	}
	if err := p.getJSON(ctx, p.storefrontURL(acc), p.authHeaders(acc), &body); err != nil {
		return nil, nil, time.Time{}, err
	}
	items := make([]store.ItemID, len(body.BonusStore.Offers))
	for i, o := range body.BonusStore.Offers {
		items[i] = store.ItemID(o.Offer.OfferID)
	}
	return items, nil, time.Now().Add(time.Duration(body.BonusStore.DurationRemaining) * time.Second), nil
}

func (p *UpstreamProvider) FetchBundles(ctx context.Context) ([]string, map[string]catalog.Price, error) {
	var body struct {
		Bundles []struct {
			ID string `json:"uuid"`
		} `json:"bundles"`
	}
	if err := p.getJSON(ctx, upstream.EndpointStaticCDN+"/bundles", nil, &body); err != nil {
		return nil, nil, err
	}
	ids := make([]string, len(body.Bundles))
	for i, b := range body.Bundles {
		ids[i] = b.ID
	}
	return ids, nil, nil
}

// --- livematch.Fetcher ---

func (p *UpstreamProvider) partyURLFmt(acc *store.Account) string {
	return fmt.Sprintf(upstream.EndpointGLZFmt, acc.Region, acc.Region) + "/parties/v1/players/" + string(acc.Puuid)
}

func (p *UpstreamProvider) FetchParty(ctx context.Context, acc *store.Account) (*livematch.PartyState, error) {
	var body struct {
		CurrentPartyID string `json:"CurrentPartyID"`
	}
	if err := p.getJSON(ctx, p.partyURLFmt(acc), p.authHeaders(acc), &body); err != nil {
		return nil, err
	}
	if body.CurrentPartyID == "" {
		return nil, nil
	}
	return &livematch.PartyState{PartyID: body.CurrentPartyID}, nil
}

func (p *UpstreamProvider) FetchPreGame(ctx context.Context, acc *store.Account) (*livematch.GameState, error) {
	return p.fetchGameState(ctx, acc, fmt.Sprintf(upstream.EndpointGLZFmt, acc.Region, acc.Region)+"/pregame/v1/players/"+string(acc.Puuid))
}

func (p *UpstreamProvider) FetchInGame(ctx context.Context, acc *store.Account) (*livematch.GameState, error) {
	return p.fetchGameState(ctx, acc, fmt.Sprintf(upstream.EndpointGLZFmt, acc.Region, acc.Region)+"/core-game/v1/players/"+string(acc.Puuid))
}

func (p *UpstreamProvider) fetchGameState(ctx context.Context, acc *store.Account, matchRefURL string) (*livematch.GameState, error) {
	var ref struct {
		MatchID string `json:"MatchID"`
	}
	if err := p.getJSON(ctx, matchRefURL, p.authHeaders(acc), &ref); err != nil {
		return nil, err
	}
	if ref.MatchID == "" {
		return nil, nil
	}

	var detail struct {
		MatchID string `json:"MatchID"`
		Mode    string `json:"ModeID"`
		Players []struct {
			Puuid     string `json:"Subject"`
			TeamID    string `json:"TeamID"`
			CharacterID string `json:"CharacterID"`
			Incognito bool   `json:"PlayerIdentity.Incognito"`
		} `json:"Players"`
	}
	detailURL := fmt.Sprintf(upstream.EndpointGLZFmt, acc.Region, acc.Region) + "/core-game/v1/matches/" + ref.MatchID
	if err := p.getJSON(ctx, detailURL, p.authHeaders(acc), &detail); err != nil {
		return nil, err
	}

	participants := make([]livematch.Participant, len(detail.Players))
	for i, pl := range detail.Players {
		participants[i] = livematch.Participant{
			Puuid:     store.Puuid(pl.Puuid),
			TeamID:    pl.TeamID,
			AgentID:   pl.CharacterID,
			Incognito: pl.Incognito,
		}
	}
	return &livematch.GameState{MatchID: detail.MatchID, Mode: detail.Mode, Participants: participants}, nil
}

func (p *UpstreamProvider) ResolveNames(ctx context.Context, puuids []store.Puuid) (map[store.Puuid]string, error) {
	ids := make([]string, len(puuids))
	for i, id := range puuids {
		ids[i] = string(id)
	}
	var body []struct {
		Puuid       string `json:"Subject"`
		GameName    string `json:"GameName"`
		TagLine     string `json:"TagLine"`
	}
	if err := p.postJSON(ctx, upstream.EndpointUserInfo+"/name/v2/players", ids, &body); err != nil {
		return nil, err
	}
	out := make(map[store.Puuid]string, len(body))
	for _, e := range body {
		out[store.Puuid(e.Puuid)] = fmt.Sprintf("%s#%s", e.GameName, e.TagLine)
	}
	return out, nil
}

func (p *UpstreamProvider) postJSON(ctx context.Context, url string, payload any, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.ContentLength = int64(len(data))
	return p.Client.Do(ctx, req, func(resp *http.Response) error {
		return json.NewDecoder(resp.Body).Decode(out)
	})
}

func (p *UpstreamProvider) FetchRank(ctx context.Context, puuid store.Puuid) (tier, rating, peakTier int, peakSeason string, err error) {
	var body struct {
		CurrentTier       int    `json:"currenttier"`
		RankedRating      int    `json:"ranking_in_tier"`
		HighestTier       int    `json:"highest_rank.tier"`
		HighestSeason     string `json:"highest_rank.season"`
	}
	url := upstream.EndpointStaticCDN + "/mmr/" + string(puuid)
	if err := p.getJSON(ctx, url, nil, &body); err != nil {
		return 0, 0, 0, "", err
	}
	return body.CurrentTier, body.RankedRating, body.HighestTier, body.HighestSeason, nil
}

func (p *UpstreamProvider) FetchLatestCompetitiveMatchID(ctx context.Context, puuid store.Puuid) (string, error) {
	var body struct {
		History []struct {
			MatchID string `json:"MatchID"`
		} `json:"Matches"`
	}
	url := upstream.EndpointStaticCDN + "/mmr-history/" + string(puuid)
	if err := p.getJSON(ctx, url, nil, &body); err != nil {
		return "", err
	}
	if len(body.History) == 0 {
		return "", nil
	}
	return body.History[0].MatchID, nil
}

func (p *UpstreamProvider) FetchMatchDetail(ctx context.Context, matchID string) (map[store.Puuid]livematch.RoundScore, error) {
	var body struct {
		Teams []struct {
			TeamID    string `json:"teamId"`
			RoundsWon int    `json:"roundsWon"`
		} `json:"teams"`
		Players []struct {
			Puuid  string `json:"subject"`
			TeamID string `json:"teamId"`
		} `json:"players"`
	}
	url := upstream.EndpointStaticCDN + "/matches/" + matchID
	if err := p.getJSON(ctx, url, nil, &body); err != nil {
		return nil, err
	}
	wonByTeam := make(map[string]int, len(body.Teams))
	for _, t := range body.Teams {
		wonByTeam[t.TeamID] = t.RoundsWon
	}
	out := make(map[store.Puuid]livematch.RoundScore, len(body.Players))
	for _, pl := range body.Players {
		ally := wonByTeam[pl.TeamID]
		enemy := 0
		for team, won := range wonByTeam {
			if team != pl.TeamID {
				enemy = won
			}
		}
		out[store.Puuid(pl.Puuid)] = livematch.RoundScore{Ally: ally, Enemy: enemy}
	}
	return out, nil
}

func (p *UpstreamProvider) FetchSeasonStats(ctx context.Context, puuid store.Puuid, season string) (winRate float64, games int, err error) {
	var body struct {
		NumberOfWins int `json:"number_of_wins"`
		NumberOfGames int `json:"number_of_games"`
	}
	url := upstream.EndpointStaticCDN + "/mmr-history/" + string(puuid) + "/" + season
	if err := p.getJSON(ctx, url, nil, &body); err != nil {
		return 0, 0, err
	}
	if body.NumberOfGames == 0 {
		return 0, 0, nil
	}
	return float64(body.NumberOfWins) / float64(body.NumberOfGames), body.NumberOfGames, nil
}
