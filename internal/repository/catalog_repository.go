package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/eduforge/eduforge-api/internal/models"
)

// CatalogRepository persists the academic-assistance service catalog.
type CatalogRepository struct {
	db *sqlx.DB
}

// NewCatalogRepository constructs the repository.
func NewCatalogRepository(db *sqlx.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

const catalogColumns = `id, title, description, price, currency, active, created_at, updated_at`

// FindByID returns a catalog service by identifier.
func (r *CatalogRepository) FindByID(ctx context.Context, id string) (*models.CatalogService, error) {
	query := fmt.Sprintf(`SELECT %s FROM services WHERE id = $1 LIMIT 1`, catalogColumns)
	var svc models.CatalogService
	if err := r.db.GetContext(ctx, &svc, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find service by id: %w", err)
	}
	return &svc, nil
}

// List returns catalog services matching the filter with total count.
func (r *CatalogRepository) List(ctx context.Context, filter models.CatalogFilter) ([]models.CatalogService, int, error) {
	baseQuery := `FROM services WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.Active != nil {
		conditions = append(conditions, fmt.Sprintf("active = $%d", len(args)+1))
		args = append(args, *filter.Active)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(title) LIKE $%d OR LOWER(description) LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}
	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	limit, offset := pageWindow(filter.Page, filter.PageSize, 20, 100)

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY title ASC LIMIT %d OFFSET %d", catalogColumns, baseQuery, limit, offset)

	var services []models.CatalogService
	if err := r.db.SelectContext(ctx, &services, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list services: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count services: %w", err)
	}

	return services, total, nil
}

// Create inserts a new catalog service.
func (r *CatalogRepository) Create(ctx context.Context, svc *models.CatalogService) error {
	if svc.ID == "" {
		svc.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if svc.CreatedAt.IsZero() {
		svc.CreatedAt = now
	}
	svc.UpdatedAt = now

	const query = `INSERT INTO services (id, title, description, price, currency, active, created_at, updated_at) VALUES (:id, :title, :description, :price, :currency, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, svc); err != nil {
		return fmt.Errorf("create service: %w", err)
	}
	return nil
}

// Update updates mutable fields of a catalog service.
func (r *CatalogRepository) Update(ctx context.Context, svc *models.CatalogService) error {
	svc.UpdatedAt = time.Now().UTC()
	const query = `UPDATE services SET title = :title, description = :description, price = :price, currency = :currency, active = :active, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, svc); err != nil {
		return fmt.Errorf("update service: %w", err)
	}
	return nil
}

// Delete performs a soft delete by deactivating the service.
func (r *CatalogRepository) Delete(ctx context.Context, id string) error {
	const query = `UPDATE services SET active = FALSE, updated_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("delete service: %w", err)
	}
	return nil
}
