package vocabulary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ayushsetu/ayushsetu/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

// NewRepoPG creates the PostgreSQL-backed vocabulary repository.
func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const entryCols = `id, code, display, COALESCE(definition,''), system,
	COALESCE(ayush_system,''), COALESCE(category,''), COALESCE(properties,'{}'),
	is_active, created_at`

func scanEntry(row pgx.Row) (*CodeEntry, error) {
	var e CodeEntry
	var props []byte
	err := row.Scan(&e.ID, &e.Code, &e.Display, &e.Definition, &e.System,
		&e.AyushSystem, &e.Category, &props, &e.IsActive, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(props) > 0 {
		if err := json.Unmarshal(props, &e.Properties); err != nil {
			return nil, fmt.Errorf("decode properties for %s/%s: %w", e.System, e.Code, err)
		}
	}
	return &e, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (r *repoPG) insert(ctx context.Context, q queryable, e *CodeEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	props, err := json.Marshal(e.Properties)
	if err != nil {
		return fmt.Errorf("encode properties for %s/%s: %w", e.System, e.Code, err)
	}
	_, err = q.Exec(ctx, `
		INSERT INTO terminology_entries
			(id, code, display, definition, system, ayush_system, category, properties, is_active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		e.ID, e.Code, e.Display, e.Definition, e.System, e.AyushSystem,
		e.Category, props, e.IsActive)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (r *repoPG) Put(ctx context.Context, e *CodeEntry) error {
	if err := r.insert(ctx, r.conn(ctx), e); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return err
		}
		return fmt.Errorf("insert code entry: %w", err)
	}
	return nil
}

func (r *repoPG) GetByCode(ctx context.Context, code, system string) (*CodeEntry, error) {
	e, err := scanEntry(r.conn(ctx).QueryRow(ctx,
		`SELECT `+entryCols+` FROM terminology_entries WHERE code = $1 AND system = $2`,
		code, system))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get code entry: %w", err)
	}
	return e, nil
}

func (r *repoPG) Search(ctx context.Context, query, system, ayushSystem string, limit, offset int) ([]*CodeEntry, int, error) {
	if limit <= 0 {
		limit = 10
	}
	pattern := "%" + query + "%"

	where := `(code ILIKE $1 OR display ILIKE $1 OR definition ILIKE $1)`
	args := []interface{}{pattern}
	if system != "" {
		args = append(args, system)
		where += fmt.Sprintf(" AND system = $%d", len(args))
	}
	if ayushSystem != "" {
		args = append(args, ayushSystem)
		where += fmt.Sprintf(" AND ayush_system = $%d", len(args))
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM terminology_entries WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count search results: %w", err)
	}

	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+entryCols+` FROM terminology_entries WHERE `+where+
			fmt.Sprintf(` ORDER BY display, code LIMIT $%d OFFSET $%d`, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, fmt.Errorf("search code entries: %w", err)
	}
	defer rows.Close()

	var results []*CodeEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		results = append(results, e)
	}
	return results, total, rows.Err()
}

func (r *repoPG) ListActive(ctx context.Context, system string) ([]*CodeEntry, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+entryCols+` FROM terminology_entries
		 WHERE system = $1 AND is_active ORDER BY code`, system)
	if err != nil {
		return nil, fmt.Errorf("list active entries: %w", err)
	}
	defer rows.Close()

	var results []*CodeEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, e)
	}
	return results, rows.Err()
}

// ReplaceSystem deletes the system's prior snapshot and inserts the new one
// inside a single transaction, so an interrupted replace never leaves a mixed
// state and a failed insert keeps the old snapshot.
func (r *repoPG) ReplaceSystem(ctx context.Context, system string, entries []*CodeEntry) error {
	return db.WithTx(ctx, r.pool, func(txCtx context.Context) error {
		tx := db.TxFromContext(txCtx)
		if _, err := tx.Exec(txCtx,
			`DELETE FROM terminology_entries WHERE system = $1`, system); err != nil {
			return fmt.Errorf("delete prior %s snapshot: %w", system, err)
		}
		for _, e := range entries {
			if err := r.insert(txCtx, tx, e); err != nil {
				return fmt.Errorf("insert %s snapshot entry %s: %w", system, e.Code, err)
			}
		}
		return nil
	})
}

func (r *repoPG) Count(ctx context.Context, system string) (int, error) {
	var total int
	var err error
	if system == "" {
		err = r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM terminology_entries`).Scan(&total)
	} else {
		err = r.conn(ctx).QueryRow(ctx,
			`SELECT COUNT(*) FROM terminology_entries WHERE system = $1`, system).Scan(&total)
	}
	if err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return total, nil
}
