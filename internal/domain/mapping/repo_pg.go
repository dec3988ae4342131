package mapping

import (
	"context"
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

// NewRepoPG creates the PostgreSQL-backed mapping repository.
func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const mappingCols = `id, source_code, source_display, source_system,
	target_code, target_display, target_system, confidence, equivalence,
	validation, COALESCE(validated_by,''), COALESCE(validated_at,'epoch'), created_at`

func scanMapping(row pgx.Row) (*Correspondence, error) {
	var m Correspondence
	err := row.Scan(&m.ID, &m.SourceCode, &m.SourceDisplay, &m.SourceSystem,
		&m.TargetCode, &m.TargetDisplay, &m.TargetSystem, &m.Confidence,
		&m.Equivalence, &m.Validation, &m.ValidatedBy, &m.ValidatedAt, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// InsertCandidates keeps prior rows, and their curator decisions, for
// pairs that already exist.
func (r *repoPG) InsertCandidates(ctx context.Context, candidates []*Correspondence) (int, error) {
	inserted := 0
	err := db.WithTx(ctx, r.pool, func(txCtx context.Context) error {
		tx := db.TxFromContext(txCtx)
		for _, m := range candidates {
			if m.ID == uuid.Nil {
				m.ID = uuid.New()
			}
			tag, err := tx.Exec(txCtx, `
				INSERT INTO concept_mappings
					(id, source_code, source_display, source_system,
					 target_code, target_display, target_system,
					 confidence, equivalence, validation)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
				ON CONFLICT (source_code, source_system, target_code, target_system)
				DO NOTHING`,
				m.ID, m.SourceCode, m.SourceDisplay, m.SourceSystem,
				m.TargetCode, m.TargetDisplay, m.TargetSystem,
				m.Confidence, m.Equivalence, m.Validation)
			if err != nil {
				return fmt.Errorf("insert candidate %s -> %s: %w", m.SourceCode, m.TargetCode, err)
			}
			inserted += int(tag.RowsAffected())
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Correspondence, error) {
	m, err := scanMapping(r.conn(ctx).QueryRow(ctx,
		`SELECT `+mappingCols+` FROM concept_mappings WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get mapping: %w", err)
	}
	return m, nil
}

func (r *repoPG) FindBySource(ctx context.Context, sourceCode, sourceSystem, targetSystem string) ([]*Correspondence, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+mappingCols+` FROM concept_mappings
		 WHERE source_code = $1 AND source_system = $2 AND target_system = $3
		 ORDER BY confidence DESC, created_at, target_code`,
		sourceCode, sourceSystem, targetSystem)
	if err != nil {
		return nil, fmt.Errorf("find mappings: %w", err)
	}
	defer rows.Close()

	var results []*Correspondence
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, m)
	}
	return results, rows.Err()
}

// SetValidation overwrites any prior decision; the latest review wins.
func (r *repoPG) SetValidation(ctx context.Context, id uuid.UUID, decision, equivalence, actor string) (*Correspondence, error) {
	m, err := scanMapping(r.conn(ctx).QueryRow(ctx, `
		UPDATE concept_mappings
		SET validation = $2,
		    equivalence = COALESCE(NULLIF($3,''), equivalence),
		    validated_by = $4,
		    validated_at = now()
		WHERE id = $1
		RETURNING `+mappingCols, id, decision, equivalence, actor))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("set validation: %w", err)
	}
	return m, nil
}

func (r *repoPG) List(ctx context.Context, validation string, limit, offset int) ([]*Correspondence, int, error) {
	if limit <= 0 {
		limit = 20
	}
	where := `TRUE`
	args := []interface{}{}
	if validation != "" {
		args = append(args, validation)
		where = `validation = $1`
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM concept_mappings WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count mappings: %w", err)
	}

	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+mappingCols+` FROM concept_mappings WHERE `+where+
			fmt.Sprintf(` ORDER BY source_code, confidence DESC, target_code LIMIT $%d OFFSET $%d`,
				len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list mappings: %w", err)
	}
	defer rows.Close()

	var results []*Correspondence
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, 0, err
		}
		results = append(results, m)
	}
	return results, total, rows.Err()
}
