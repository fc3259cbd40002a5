package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log"
	"sort"
	"strings"

	_ "github.com/lib/pq"
	"github.com/smukkama/awair-bridge/internal/protocol"
)

//go:embed migrations/*.sql
var migrations embed.FS

// DB wraps the database connection
type DB struct {
	*sql.DB
}

// Connect establishes a connection to the database
func Connect(connectionString string) (*DB, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	return &DB{db}, nil
}

// Migrate runs the bundled schema migrations
func (db *DB) Migrate(ctx context.Context) error {
	sub, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}
	return db.RunMigrations(ctx, sub)
}

// RunMigrations executes every .sql file of fsys in name order. The files are
// written to be idempotent so they are re-run on every start.
func (db *DB) RunMigrations(ctx context.Context, fsys fs.FS) error {
	files, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var sqlFiles []string
	for _, file := range files {
		if !file.IsDir() && strings.HasSuffix(file.Name(), ".sql") {
			sqlFiles = append(sqlFiles, file.Name())
		}
	}
	sort.Strings(sqlFiles)

	for _, filename := range sqlFiles {
		log.Printf("Running migration: %s", filename)

		content, err := fs.ReadFile(fsys, filename)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", filename, err)
		}

		if _, err := db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", filename, err)
		}
	}

	log.Println("All migrations completed successfully")
	return nil
}

// UpsertLatest stores the newest value of each characteristic in one transaction.
// Values older than the stored one are ignored so redelivered messages cannot
// move a characteristic back in time.
func (db *DB) UpsertLatest(ctx context.Context, updates []protocol.Update) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	deviceQuery := `
		INSERT INTO devices (serial, name, device_type)
		VALUES ($1, $2, $3)
		ON CONFLICT (serial) DO UPDATE
		SET name = EXCLUDED.name,
		    device_type = EXCLUDED.device_type,
		    last_seen_at = CURRENT_TIMESTAMP
	`
	valueQuery := `
		INSERT INTO latest_values (
			serial, characteristic, value, text_value, source, event_id, observed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (serial, characteristic) DO UPDATE
		SET value = EXCLUDED.value,
		    text_value = EXCLUDED.text_value,
		    source = EXCLUDED.source,
		    event_id = EXCLUDED.event_id,
		    observed_at = EXCLUDED.observed_at,
		    updated_at = CURRENT_TIMESTAMP
		WHERE latest_values.observed_at <= EXCLUDED.observed_at
	`

	seen := make(map[string]bool)
	for _, u := range updates {
		if !seen[u.Device.Serial] {
			if _, err := tx.ExecContext(ctx, deviceQuery, u.Device.Serial, u.Device.Name, u.Device.Type); err != nil {
				return fmt.Errorf("failed to upsert device %s: %w", u.Device.Serial, err)
			}
			seen[u.Device.Serial] = true
		}

		var text *string
		if u.Text != "" {
			t := u.Text
			text = &t
		}
		if _, err := tx.ExecContext(ctx, valueQuery,
			u.Device.Serial, string(u.Characteristic), u.Value, text, string(u.Source), u.EventID, u.Timestamp,
		); err != nil {
			return fmt.Errorf("failed to upsert %s for %s: %w", u.Characteristic, u.Device.Serial, err)
		}
	}

	return tx.Commit()
}

// GetLatest retrieves the stored values of a device
func (db *DB) GetLatest(ctx context.Context, serial string) ([]*LatestValue, error) {
	query := `
		SELECT serial, characteristic, value, text_value, source, event_id, observed_at, updated_at
		FROM latest_values
		WHERE serial = $1
		ORDER BY characteristic
	`

	rows, err := db.QueryContext(ctx, query, serial)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var values []*LatestValue
	for rows.Next() {
		var v LatestValue
		if err := rows.Scan(
			&v.Serial,
			&v.Characteristic,
			&v.Value,
			&v.Text,
			&v.Source,
			&v.EventID,
			&v.ObservedAt,
			&v.UpdatedAt,
		); err != nil {
			return nil, err
		}
		values = append(values, &v)
	}

	return values, rows.Err()
}

// InsertAlert logs an alert event. A detected event opens an ACTIVE entry; a
// cleared event closes the open entry of the same device and metric.
// Redelivered events are ignored by event ID.
func (db *DB) InsertAlert(ctx context.Context, alert *protocol.AlertEvent) error {
	if alert.Detected() {
		query := `
			INSERT INTO alerts_log (
				event_id, serial, metric, value, on_level, off_level, start_time, status
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (event_id) DO NOTHING
		`
		_, err := db.ExecContext(ctx, query,
			alert.EventID, alert.Device.Serial, alert.Metric, alert.Value,
			alert.On, alert.Off, alert.OccurredAt, AlertStatusActive,
		)
		if err != nil {
			return fmt.Errorf("failed to insert alert: %w", err)
		}
		return nil
	}

	query := `
		UPDATE alerts_log
		SET status = $1, end_time = $2, clear_value = $3, updated_at = CURRENT_TIMESTAMP
		WHERE serial = $4 AND metric = $5 AND status = $6 AND start_time <= $2
	`
	_, err := db.ExecContext(ctx, query,
		AlertStatusCleared, alert.OccurredAt, alert.Value,
		alert.Device.Serial, alert.Metric, AlertStatusActive,
	)
	if err != nil {
		return fmt.Errorf("failed to clear alert: %w", err)
	}
	return nil
}

// ActiveAlerts returns the open alerts of every device
func (db *DB) ActiveAlerts(ctx context.Context) ([]*AlertLog, error) {
	query := `
		SELECT alert_id, event_id, serial, metric, value, on_level, off_level,
		       start_time, end_time, clear_value, status, created_at, updated_at
		FROM alerts_log
		WHERE status = $1
		ORDER BY start_time
	`

	rows, err := db.QueryContext(ctx, query, AlertStatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*AlertLog
	for rows.Next() {
		var a AlertLog
		if err := rows.Scan(
			&a.AlertID,
			&a.EventID,
			&a.Serial,
			&a.Metric,
			&a.Value,
			&a.OnLevel,
			&a.OffLevel,
			&a.StartTime,
			&a.EndTime,
			&a.ClearValue,
			&a.Status,
			&a.CreatedAt,
			&a.UpdatedAt,
		); err != nil {
			return nil, err
		}
		alerts = append(alerts, &a)
	}

	return alerts, rows.Err()
}
