// internal/racecard/source.go
//
// Race card sources.
//
// Selection (wired in main):
//   1. RACES_SOURCE=sqlite → SQLiteSource over the entrants table.
//   2. RACES_FILE set      → FileSource reading that TSV file.
//   3. otherwise           → EmbeddedSource (assets/races.tsv).
//
// Every failure is reported as ErrDataUnavailable so callers have exactly
// one blocking condition to check.

package racecard

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/robalobadob/keiba-duel/assets"
)

// Source produces the flat entrant feed. Load is a one-shot call made
// before any race interaction is possible.
type Source interface {
	Load(ctx context.Context) ([]Entrant, error)
}

// FileSource reads a TSV race card from disk.
type FileSource struct {
	Path string
}

func (s FileSource) Load(ctx context.Context) ([]Entrant, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDataUnavailable, err)
	}
	defer f.Close()
	return unavailable(ParseTSV(f))
}

// EmbeddedSource reads the race card compiled into the binary.
type EmbeddedSource struct{}

func (EmbeddedSource) Load(ctx context.Context) ([]Entrant, error) {
	b, err := assets.RaceCard()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDataUnavailable, err)
	}
	return unavailable(ParseTSV(bytes.NewReader(b)))
}

// LoadRaces loads a feed and groups it into races.
func LoadRaces(ctx context.Context, src Source) ([]Entrant, []Race, error) {
	entrants, err := src.Load(ctx)
	if err != nil {
		return nil, nil, err
	}
	races := Group(entrants)
	if len(races) == 0 {
		return nil, nil, ErrDataUnavailable
	}
	return entrants, races, nil
}

// unavailable folds any parse failure into ErrDataUnavailable.
func unavailable(entrants []Entrant, err error) ([]Entrant, error) {
	if err == nil {
		return entrants, nil
	}
	if errors.Is(err, ErrDataUnavailable) {
		return nil, err
	}
	return nil, fmt.Errorf("%w: %v", ErrDataUnavailable, err)
}
