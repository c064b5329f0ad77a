package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/encounter/internal/game/instance"
)

// BossStateRepository persists per-instance boss states in the boss_states
// table. It implements instance.Persister.
type BossStateRepository struct {
	db *pgxpool.Pool
}

var _ instance.Persister = (*BossStateRepository)(nil)

// NewBossStateRepository creates a BossStateRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewBossStateRepository(db *pgxpool.Pool) *BossStateRepository {
	return &BossStateRepository{db: db}
}

// LoadBossStates returns every stored boss state of instanceID.
//
// Postcondition: Returns a non-nil map, empty for an unknown instance; a row
// holding an unknown state name is an error.
func (r *BossStateRepository) LoadBossStates(ctx context.Context, instanceID string) (map[string]instance.BossState, error) {
	rows, err := r.db.Query(ctx,
		`SELECT boss, state FROM boss_states WHERE instance_id = $1`,
		instanceID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying boss states of %q: %w", instanceID, err)
	}
	defer rows.Close()

	out := make(map[string]instance.BossState)
	for rows.Next() {
		var boss, name string
		if err := rows.Scan(&boss, &name); err != nil {
			return nil, fmt.Errorf("scanning boss state: %w", err)
		}
		state, err := instance.ParseBossState(name)
		if err != nil {
			return nil, fmt.Errorf("boss %q of %q: %w", boss, instanceID, err)
		}
		out[boss] = state
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating boss states of %q: %w", instanceID, err)
	}
	return out, nil
}

// SaveBossState upserts the state of boss in instanceID.
//
// Postcondition: exactly one row exists for (instanceID, boss).
func (r *BossStateRepository) SaveBossState(ctx context.Context, instanceID, boss string, state instance.BossState) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO boss_states (instance_id, boss, state, updated_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (instance_id, boss)
		 DO UPDATE SET state = EXCLUDED.state, updated_at = EXCLUDED.updated_at`,
		instanceID, boss, state.String(),
	)
	if err != nil {
		return fmt.Errorf("saving boss %q of %q: %w", boss, instanceID, err)
	}
	return nil
}

// DeleteInstance removes every boss state of instanceID, as when a lockout
// expires.
//
// Postcondition: Returns the number of rows removed.
func (r *BossStateRepository) DeleteInstance(ctx context.Context, instanceID string) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM boss_states WHERE instance_id = $1`, instanceID)
	if err != nil {
		return 0, fmt.Errorf("deleting boss states of %q: %w", instanceID, err)
	}
	return tag.RowsAffected(), nil
}
