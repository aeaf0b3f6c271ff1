package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/sorenmh/infrastructure-shared/tenant-orchestrator/models"
)

// ErrNotFound indicates that a requested row does not exist
var ErrNotFound = errors.New("not found")

type Database struct {
	db *sql.DB
}

func New(path string) (*Database, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	d := &Database{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return d, nil
}

func (d *Database) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS deployments (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		tenant_key TEXT NOT NULL,
		tier TEXT NOT NULL,
		image_tag TEXT NOT NULL,
		version TEXT NOT NULL,
		cluster_name TEXT NOT NULL DEFAULT '',
		service_name TEXT NOT NULL DEFAULT '',
		previous_task_definition TEXT NOT NULL DEFAULT '',
		task_definition TEXT NOT NULL DEFAULT '',
		previous_config TEXT,
		config_applied INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		type TEXT NOT NULL,
		message TEXT,
		deployed_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_tenant_id ON deployments(tenant_id);
	CREATE INDEX IF NOT EXISTS idx_deployed_at ON deployments(deployed_at DESC);
	CREATE INDEX IF NOT EXISTS idx_status ON deployments(status);

	CREATE TABLE IF NOT EXISTS deployment_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		deployment_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		details TEXT,
		FOREIGN KEY (deployment_id) REFERENCES deployments(id)
	);

	CREATE INDEX IF NOT EXISTS idx_deployment_id ON deployment_events(deployment_id);

	CREATE TABLE IF NOT EXISTS tenant_configs (
		tenant_id TEXT PRIMARY KEY,
		tenant_key TEXT NOT NULL,
		image_tag TEXT NOT NULL,
		version TEXT NOT NULL,
		config TEXT NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	`

	_, err := d.db.Exec(schema)
	return err
}

const deploymentColumns = `id, tenant_id, tenant_key, tier, image_tag, version, cluster_name, service_name,
	previous_task_definition, task_definition, previous_config, config_applied, status, type, message, deployed_at`

func (d *Database) CreateDeployment(ctx context.Context, dep *models.Deployment) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO deployments (`+deploymentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, dep.ID, dep.TenantID, dep.TenantKey, string(dep.Tier), dep.ImageTag, dep.Version, dep.ClusterName, dep.ServiceName,
		dep.PreviousTaskDefinition, dep.TaskDefinition, nullString(dep.PreviousConfig), dep.ConfigApplied, dep.Status, dep.Type, dep.Message, dep.DeployedAt)

	return err
}

// UpdateDeployment writes the fields that change while a deployment runs
func (d *Database) UpdateDeployment(ctx context.Context, dep *models.Deployment) error {
	res, err := d.db.ExecContext(ctx, `
		UPDATE deployments
		SET cluster_name = ?, service_name = ?, previous_task_definition = ?, task_definition = ?,
			previous_config = ?, config_applied = ?, status = ?, message = ?
		WHERE id = ?
	`, dep.ClusterName, dep.ServiceName, dep.PreviousTaskDefinition, dep.TaskDefinition,
		nullString(dep.PreviousConfig), dep.ConfigApplied, dep.Status, dep.Message, dep.ID)
	if err != nil {
		return err
	}
	return expectRow(res)
}

func (d *Database) UpdateDeploymentStatus(ctx context.Context, id, status string) error {
	res, err := d.db.ExecContext(ctx, `UPDATE deployments SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return err
	}
	return expectRow(res)
}

func (d *Database) GetDeployment(ctx context.Context, id string) (*models.Deployment, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+deploymentColumns+` FROM deployments WHERE id = ?`, id)

	dep, err := scanDeployment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("deployment %s: %w", id, ErrNotFound)
	}
	return dep, err
}

func (d *Database) GetDeployments(ctx context.Context, tenantID string, limit, offset int) ([]models.Deployment, int, error) {
	var total int
	err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM deployments WHERE tenant_id = ?`, tenantID).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := d.db.QueryContext(ctx, `
		SELECT `+deploymentColumns+`
		FROM deployments
		WHERE tenant_id = ?
		ORDER BY deployed_at DESC
		LIMIT ? OFFSET ?
	`, tenantID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	deployments := []models.Deployment{}
	for rows.Next() {
		dep, err := scanDeployment(rows)
		if err != nil {
			return nil, 0, err
		}
		deployments = append(deployments, *dep)
	}

	return deployments, total, rows.Err()
}

// GetCurrentDeployment returns the tenant's most recent successful deployment,
// or nil when the tenant has none
func (d *Database) GetCurrentDeployment(ctx context.Context, tenantID string) (*models.Deployment, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT `+deploymentColumns+`
		FROM deployments
		WHERE tenant_id = ? AND status = ?
		ORDER BY deployed_at DESC
		LIMIT 1
	`, tenantID, models.DeploymentDeployed)

	dep, err := scanDeployment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return dep, err
}

func (d *Database) AddEvent(ctx context.Context, deploymentID, eventType, details string) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO deployment_events (deployment_id, event_type, details, timestamp)
		VALUES (?, ?, ?, ?)
	`, deploymentID, eventType, details, time.Now())
	return err
}

func (d *Database) GetEvents(ctx context.Context, deploymentID string) ([]models.DeploymentEvent, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, deployment_id, event_type, timestamp, COALESCE(details, '')
		FROM deployment_events
		WHERE deployment_id = ?
		ORDER BY id ASC
	`, deploymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.DeploymentEvent
	for rows.Next() {
		var ev models.DeploymentEvent
		if err := rows.Scan(&ev.ID, &ev.DeploymentID, &ev.EventType, &ev.Timestamp, &ev.Details); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// UpsertTenantConfig records a pooled tenant in the shared configuration store
func (d *Database) UpsertTenantConfig(ctx context.Context, cfg *models.TenantConfig) error {
	data, err := json.Marshal(cfg.Config)
	if err != nil {
		return fmt.Errorf("failed to encode tenant config: %w", err)
	}
	if cfg.UpdatedAt.IsZero() {
		cfg.UpdatedAt = time.Now().UTC()
	}

	_, err = d.db.ExecContext(ctx, `
		INSERT INTO tenant_configs (tenant_id, tenant_key, image_tag, version, config, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id) DO UPDATE SET
			tenant_key = excluded.tenant_key,
			image_tag = excluded.image_tag,
			version = excluded.version,
			config = excluded.config,
			updated_at = excluded.updated_at
	`, cfg.TenantID, cfg.TenantKey, cfg.ImageTag, cfg.Version, string(data), cfg.UpdatedAt)
	return err
}

func (d *Database) GetTenantConfig(ctx context.Context, tenantID string) (*models.TenantConfig, error) {
	var (
		cfg  models.TenantConfig
		data string
	)
	err := d.db.QueryRowContext(ctx, `
		SELECT tenant_id, tenant_key, image_tag, version, config, updated_at
		FROM tenant_configs WHERE tenant_id = ?
	`, tenantID).Scan(&cfg.TenantID, &cfg.TenantKey, &cfg.ImageTag, &cfg.Version, &data, &cfg.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("tenant config %s: %w", tenantID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(data), &cfg.Config); err != nil {
		return nil, fmt.Errorf("failed to decode tenant config: %w", err)
	}
	return &cfg, nil
}

// DeleteTenantConfig removes a pooled tenant and reports whether a row existed
func (d *Database) DeleteTenantConfig(ctx context.Context, tenantID string) (bool, error) {
	res, err := d.db.ExecContext(ctx, `DELETE FROM tenant_configs WHERE tenant_id = ?`, tenantID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

func (d *Database) Ping() error {
	return d.db.Ping()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanDeployment(s scanner) (*models.Deployment, error) {
	var (
		dep            models.Deployment
		tier           string
		previousConfig sql.NullString
		message        sql.NullString
	)
	err := s.Scan(&dep.ID, &dep.TenantID, &dep.TenantKey, &tier, &dep.ImageTag, &dep.Version, &dep.ClusterName, &dep.ServiceName,
		&dep.PreviousTaskDefinition, &dep.TaskDefinition, &previousConfig, &dep.ConfigApplied, &dep.Status, &dep.Type, &message, &dep.DeployedAt)
	if err != nil {
		return nil, err
	}

	dep.Tier = models.TenantTier(tier)
	dep.Message = message.String
	if previousConfig.Valid {
		dep.PreviousConfig = &previousConfig.String
	}
	return &dep, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
