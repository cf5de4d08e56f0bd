// internal/racecard/tsv.go
//
// Tab-separated race card parser.
//
// The feed has one header row followed by one row per entrant. Columns are
// matched by header name; both the scraper's Japanese headers (着順, オッズ,
// ...) and ASCII aliases (rank, odds, ...) are accepted. Where the feed
// carries a display-friendly variant (SF馬名, SF騎手, SFレース名) it wins over
// the plain column.
//
// Required columns: race id, entrant id, odds, finishing rank, score.
// A missing required column is a parse error. A malformed cell in one of the
// numeric columns is NOT a parse error: it yields a null value the engine
// rejects when that race is resolved.

package racecard

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// field identifies one logical column of the feed.
type field int

const (
	fRaceID field = iota
	fEntrantID
	fName
	fNameDisplay
	fJockey
	fJockeyDisplay
	fGate
	fPost
	fOdds
	fPopularity
	fPrevRank
	fPrevPrevRank
	fFinishRank
	fScore
	fRaceName
	fRaceNameDisplay
	fRaceNumber
	fDistance
	fWeather
	fGround
	fDate
)

// headerAliases maps accepted header spellings to logical columns.
var headerAliases = map[string]field{
	"race_id":        fRaceID,
	"horse_id":       fEntrantID,
	"entrant_id":     fEntrantID,
	"馬名":             fName,
	"name":           fName,
	"SF馬名":           fNameDisplay,
	"騎手":             fJockey,
	"jockey":         fJockey,
	"SF騎手":           fJockeyDisplay,
	"枠番":             fGate,
	"gate":           fGate,
	"馬番":             fPost,
	"post":           fPost,
	"オッズ":            fOdds,
	"odds":           fOdds,
	"人気":             fPopularity,
	"popularity":     fPopularity,
	"前走着順":           fPrevRank,
	"prev_rank":      fPrevRank,
	"前々走着順":          fPrevPrevRank,
	"prev_prev_rank": fPrevPrevRank,
	"着順":             fFinishRank,
	"rank":           fFinishRank,
	"pred":           fScore,
	"score":          fScore,
	"レース名":          fRaceName,
	"race_name":      fRaceName,
	"SFレース名":        fRaceNameDisplay,
	"R":              fRaceNumber,
	"race_number":    fRaceNumber,
	"距離":             fDistance,
	"distance":       fDistance,
	"天気":             fWeather,
	"weather":        fWeather,
	"馬場":             fGround,
	"ground":         fGround,
	"日付":             fDate,
	"date":           fDate,
}

var requiredFields = []struct {
	f    field
	name string
}{
	{fRaceID, "race_id"},
	{fEntrantID, "horse_id"},
	{fOdds, "odds"},
	{fFinishRank, "rank"},
	{fScore, "pred"},
}

// ParseTSV reads a tab-separated race card.
// Returns ErrDataUnavailable (wrapped) when there are no data rows.
func ParseTSV(r io.Reader) ([]Entrant, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: empty feed", ErrDataUnavailable)
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	cols := make(map[field]int)
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if f, ok := headerAliases[h]; ok {
			if _, dup := cols[f]; !dup {
				cols[f] = i
			}
		}
	}
	for _, req := range requiredFields {
		if _, ok := cols[req.f]; !ok {
			return nil, fmt.Errorf("missing column %q", req.name)
		}
	}

	var out []Entrant
	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if blank(rec) {
			continue
		}
		get := func(f field) string {
			i, ok := cols[f]
			if !ok || i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}

		e := Entrant{
			RaceID:       get(fRaceID),
			EntrantID:    get(fEntrantID),
			Name:         firstNonEmpty(get(fNameDisplay), get(fName)),
			Jockey:       firstNonEmpty(get(fJockeyDisplay), get(fJockey)),
			Gate:         parseInt(get(fGate)),
			Post:         parseInt(get(fPost)),
			Odds:         parseOdds(get(fOdds)),
			Popularity:   parseInt(get(fPopularity)),
			PrevRank:     parseInt(get(fPrevRank)),
			PrevPrevRank: parseInt(get(fPrevPrevRank)),
			FinishRank:   parseInt(get(fFinishRank)),
			Score:        parseFloat(get(fScore)),
			RaceName:     firstNonEmpty(get(fRaceNameDisplay), get(fRaceName)),
			RaceNumber:   get(fRaceNumber),
			Distance:     get(fDistance),
			Weather:      get(fWeather),
			Ground:       get(fGround),
			Date:         get(fDate),
		}
		if e.RaceID == "" || e.EntrantID == "" {
			return nil, fmt.Errorf("line %d: race id and entrant id are required", line)
		}
		out = append(out, e)
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no entrants", ErrDataUnavailable)
	}
	return out, nil
}

// parseOdds accepts a positive decimal; anything else is invalid.
func parseOdds(s string) decimal.NullDecimal {
	d, err := decimal.NewFromString(s)
	if err != nil || !d.IsPositive() {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

// parseInt accepts plain integers and integral floats ("3", "3.0").
func parseInt(s string) *int {
	if s == "" {
		return nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		return &n
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != float64(int(f)) {
		return nil
	}
	n := int(f)
	return &n
}

func parseFloat(s string) *float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
