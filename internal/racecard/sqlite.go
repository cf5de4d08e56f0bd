// internal/racecard/sqlite.go
//
// SQLite-backed race card.
// Responsibilities:
//   - SQLiteSource: read the entrants table in feed order (seq).
//   - Seed: populate an empty entrants table from a parsed feed, in one tx.
//
// The schema lives in sql/001_entrants.sql and is applied by the server's
// migration step before either of these run.

package racecard

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"
)

// SQLiteSource reads entrants from the entrants table.
type SQLiteSource struct {
	DB *sql.DB
}

func (s SQLiteSource) Load(ctx context.Context) ([]Entrant, error) {
	rows, err := s.DB.QueryContext(ctx, `
        SELECT race_id, entrant_id, name, jockey, gate, post, odds, popularity,
               prev_rank, prev_prev_rank, finish_rank, score,
               race_name, race_number, distance, weather, ground, date
        FROM entrants
        ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("%w: query entrants: %v", ErrDataUnavailable, err)
	}
	defer rows.Close()

	var out []Entrant
	for rows.Next() {
		var (
			e                                  Entrant
			gate, post, pop, prev, prev2, rank sql.NullInt64
			score                              sql.NullFloat64
		)
		if err := rows.Scan(&e.RaceID, &e.EntrantID, &e.Name, &e.Jockey, &gate, &post, &e.Odds, &pop,
			&prev, &prev2, &rank, &score,
			&e.RaceName, &e.RaceNumber, &e.Distance, &e.Weather, &e.Ground, &e.Date); err != nil {
			return nil, fmt.Errorf("%w: scan entrant: %v", ErrDataUnavailable, err)
		}
		e.Gate, e.Post, e.Popularity = intPtr(gate), intPtr(post), intPtr(pop)
		e.PrevRank, e.PrevPrevRank, e.FinishRank = intPtr(prev), intPtr(prev2), intPtr(rank)
		if score.Valid {
			f := score.Float64
			e.Score = &f
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDataUnavailable, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: entrants table is empty", ErrDataUnavailable)
	}
	return out, nil
}

// Seed inserts entrants only when the table is empty.
// Returns the number of rows inserted (0 when the table was already populated).
func Seed(ctx context.Context, db *sql.DB, entrants []Entrant) (int, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM entrants`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count entrants: %w", err)
	}
	if count > 0 {
		log.Debug().Int("rows", count).Msg("entrants already seeded")
		return 0, nil
	}

	stmt, err := tx.PrepareContext(ctx, `
        INSERT INTO entrants
            (race_id, entrant_id, name, jockey, gate, post, odds, popularity,
             prev_rank, prev_prev_rank, finish_rank, score,
             race_name, race_number, distance, weather, ground, date)
        VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entrants {
		var score any
		if e.Score != nil {
			score = *e.Score
		}
		if _, err := stmt.ExecContext(ctx,
			e.RaceID, e.EntrantID, e.Name, e.Jockey, nullInt(e.Gate), nullInt(e.Post), e.Odds, nullInt(e.Popularity),
			nullInt(e.PrevRank), nullInt(e.PrevPrevRank), nullInt(e.FinishRank), score,
			e.RaceName, e.RaceNumber, e.Distance, e.Weather, e.Ground, e.Date,
		); err != nil {
			return 0, fmt.Errorf("insert entrant %s/%s: %w", e.RaceID, e.EntrantID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit seed: %w", err)
	}
	return len(entrants), nil
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func nullInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}
