package persist

import (
	"context"
)

// PlayerRow mirrors one row of the players table.
type PlayerRow struct {
	Name      string
	Level     int
	Exp       int64
	X         float64
	Y         float64
	Direction float64
}

// PlayerRepo persists player records. Saves run off the gameplay path —
// see Saver.
type PlayerRepo struct {
	db *DB
}

func NewPlayerRepo(db *DB) *PlayerRepo {
	return &PlayerRepo{db: db}
}

// Save upserts a player by name, refreshing last_login.
func (r *PlayerRepo) Save(ctx context.Context, p *PlayerRow) error {
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO players (name, level, experience, position_x, position_y, direction, last_login)
		 VALUES ($1, $2, $3, $4, $5, $6, now())
		 ON CONFLICT (name) DO UPDATE SET
		     level      = EXCLUDED.level,
		     experience = EXCLUDED.experience,
		     position_x = EXCLUDED.position_x,
		     position_y = EXCLUDED.position_y,
		     direction  = EXCLUDED.direction,
		     last_login = EXCLUDED.last_login`,
		p.Name, p.Level, p.Exp, p.X, p.Y, p.Direction,
	)
	return err
}

// LoadAll returns every persisted player, for optional startup
// pre-population.
func (r *PlayerRepo) LoadAll(ctx context.Context) ([]PlayerRow, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT name, level, experience, position_x, position_y, direction
		 FROM players
		 ORDER BY id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []PlayerRow
	for rows.Next() {
		var p PlayerRow
		if err := rows.Scan(&p.Name, &p.Level, &p.Exp, &p.X, &p.Y, &p.Direction); err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}
