package postgres

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/creditdispatch/inference-broker/internal/domain"
)

// ModelRepo implements domain.ModelRepository over the model catalog table
// populated at boot from the YAML seed file.
type ModelRepo struct{ Pool PgxPool }

// NewModelRepo constructs a ModelRepo with the given pool.
func NewModelRepo(p PgxPool) *ModelRepo { return &ModelRepo{Pool: p} }

func (r *ModelRepo) GetActiveModel(ctx domain.Context, modelID string) (domain.Model, error) {
	tracer := otel.Tracer("repo.models")
	ctx, span := tracer.Start(ctx, "models.GetActiveModel")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "models"),
	)

	var m domain.Model
	row := r.Pool.QueryRow(ctx,
		`SELECT id, name, description, cost, active FROM models WHERE id = $1 AND active = true`, modelID)
	if err := row.Scan(&m.ID, &m.Name, &m.Description, &m.Cost, &m.Active); err != nil {
		span.RecordError(err)
		return domain.Model{}, fmt.Errorf("op=models.get_active: %w", mapPgError(err))
	}
	return m, nil
}

func (r *ModelRepo) ListModels(ctx domain.Context) ([]domain.Model, error) {
	tracer := otel.Tracer("repo.models")
	ctx, span := tracer.Start(ctx, "models.ListModels")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "models"),
	)

	rows, err := r.Pool.Query(ctx, `SELECT id, name, description, cost, active FROM models ORDER BY id`)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("op=models.list: %w", mapPgError(err))
	}
	defer rows.Close()

	var out []domain.Model
	for rows.Next() {
		var m domain.Model
		if err := rows.Scan(&m.ID, &m.Name, &m.Description, &m.Cost, &m.Active); err != nil {
			return nil, fmt.Errorf("op=models.list_scan: %w", mapPgError(err))
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// UpsertSeed writes (or refreshes) the given models, matching the teacher's
// seed-at-boot convention of loading a static list into storage at startup.
func (r *ModelRepo) UpsertSeed(ctx domain.Context, models []domain.Model) error {
	tracer := otel.Tracer("repo.models")
	ctx, span := tracer.Start(ctx, "models.UpsertSeed")
	defer span.End()

	for _, m := range models {
		_, err := r.Pool.Exec(ctx,
			`INSERT INTO models (id, name, description, cost, active)
			 VALUES ($1,$2,$3,$4,$5)
			 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, description = EXCLUDED.description,
			   cost = EXCLUDED.cost, active = EXCLUDED.active`,
			m.ID, m.Name, m.Description, m.Cost, m.Active)
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("op=models.upsert_seed: %w", mapPgError(err))
		}
	}
	return nil
}
