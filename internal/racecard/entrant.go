// internal/racecard/entrant.go
//
// Race card model.
// Defines:
//   - Entrant: one horse's row within one race (immutable once loaded).
//   - Race:    the entrants sharing a race id, in feed order.
//
// Numeric fields that feed payout math (odds, finishing rank) and the
// opponent's decision (prediction score) are nullable: a malformed cell is
// kept as "invalid" rather than silently becoming zero, and the engine
// rejects it when that race is resolved.

package racecard

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ErrDataUnavailable is returned when the race card cannot be read or holds
// no entrants. Callers treat it as a blocking state, never as partial data.
var ErrDataUnavailable = errors.New("race data unavailable")

// Entrant is a single horse's data row within one race.
type Entrant struct {
	RaceID    string `json:"raceId"`
	EntrantID string `json:"entrantId"`

	Name   string `json:"name"`
	Jockey string `json:"jockey"`
	Gate   *int   `json:"gate"` // frame number
	Post   *int   `json:"post"` // horse number

	Odds         decimal.NullDecimal `json:"odds"`
	Popularity   *int                `json:"popularity"`
	PrevRank     *int                `json:"prevRank"`
	PrevPrevRank *int                `json:"prevPrevRank"`
	FinishRank   *int                `json:"finishRank"` // 1 = winner
	Score        *float64            `json:"score"`      // prediction score used by the opponent

	// Race-level display metadata, repeated on every row of the feed.
	RaceName   string `json:"raceName,omitempty"`
	RaceNumber string `json:"raceNumber,omitempty"`
	Distance   string `json:"distance,omitempty"`
	Weather    string `json:"weather,omitempty"`
	Ground     string `json:"ground,omitempty"`
	Date       string `json:"date,omitempty"`
}

// Race is the ordered set of entrants sharing a race id.
type Race struct {
	ID       string    `json:"id"`
	Entrants []Entrant `json:"entrants"`
}

// Find returns the entrant with the given id, if it runs in this race.
func (r Race) Find(entrantID string) (Entrant, bool) {
	for _, e := range r.Entrants {
		if e.EntrantID == entrantID {
			return e, true
		}
	}
	return Entrant{}, false
}

// Info returns the display metadata of the race (taken from its first row).
func (r Race) Info() Entrant {
	if len(r.Entrants) == 0 {
		return Entrant{RaceID: r.ID}
	}
	return r.Entrants[0]
}

// Group splits a flat feed into races, ordered by first appearance of each
// race id. Entrants keep their feed order inside a race.
func Group(entrants []Entrant) []Race {
	index := make(map[string]int)
	var races []Race
	for _, e := range entrants {
		i, ok := index[e.RaceID]
		if !ok {
			i = len(races)
			index[e.RaceID] = i
			races = append(races, Race{ID: e.RaceID})
		}
		races[i].Entrants = append(races[i].Entrants, e)
	}
	return races
}
