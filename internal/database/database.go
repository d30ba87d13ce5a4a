package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"whatsrelay/internal/constants"
	"whatsrelay/internal/migrations"
	"whatsrelay/internal/models"
	"whatsrelay/internal/retry"
	"whatsrelay/internal/security"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// Database is the sqlite state store. Besides the config and stats records
// it keeps a delivery log with one row per destination attempt.
type Database struct {
	db        *sql.DB
	encryptor *encryptor
}

func New(dbPath string) (*Database, error) {
	if len(dbPath) == 0 || dbPath[0] == '\x00' {
		return nil, fmt.Errorf("invalid database path")
	}

	if err := security.ValidateFilePath(dbPath); err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}

	file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, constants.DefaultFilePermissions) // #nosec G304 - path validated above
	if err != nil {
		return nil, fmt.Errorf("failed to create database file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close database file: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, closeWith(db, fmt.Errorf("failed to ping database: %w", err))
	}

	if _, err := migrations.Apply(context.Background(), db); err != nil {
		return nil, closeWith(db, fmt.Errorf("failed to initialize schema: %w", err))
	}

	enc, err := NewEncryptor()
	if err != nil {
		return nil, closeWith(db, fmt.Errorf("failed to initialize encryptor: %w", err))
	}

	return &Database{db: db, encryptor: enc}, nil
}

// OpenWithRetry opens the database, retrying with backoff. Startup on a
// shared volume can briefly see the file locked by a previous instance.
func OpenWithRetry(ctx context.Context, dbPath string, cfg retry.BackoffConfig, logger *logrus.Logger) (*Database, error) {
	var db *Database
	backoff := retry.NewBackoff(cfg).OnRetry(func(attempt int, delay time.Duration, err error) {
		logger.WithError(err).WithFields(logrus.Fields{
			"attempt":  attempt,
			"delay_ms": delay.Milliseconds(),
		}).Warn("Failed to open database, retrying")
	})
	err := backoff.Retry(ctx, func() error {
		var err error
		db, err = New(dbPath)
		return err
	})
	if err != nil {
		return nil, err
	}
	return db, nil
}

func closeWith(db *sql.DB, err error) error {
	if closeErr := db.Close(); closeErr != nil {
		return fmt.Errorf("%w (close error: %v)", err, closeErr)
	}
	return err
}

func (d *Database) Close() error {
	return d.db.Close()
}

// Load returns the persisted config and stats. Missing rows yield defaults.
func (d *Database) Load(ctx context.Context) (models.State, error) {
	state := models.State{Config: models.DefaultForwardingConfig()}

	var data string
	err := d.db.QueryRowContext(ctx, SelectConfigQuery).Scan(&data)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return models.State{}, fmt.Errorf("failed to load forwarding config: %w", err)
	default:
		if err := json.Unmarshal([]byte(data), &state.Config); err != nil {
			return models.State{}, fmt.Errorf("failed to decode forwarding config: %w", err)
		}
	}

	var last sql.NullTime
	err = d.db.QueryRowContext(ctx, SelectStatsQuery).Scan(
		&state.Stats.TotalForwarded,
		&state.Stats.TodayForwarded,
		&last,
		&state.Stats.ErrorCount,
		&state.Stats.Day,
	)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return models.State{}, fmt.Errorf("failed to load forwarding stats: %w", err)
	default:
		if last.Valid {
			t := last.Time
			state.Stats.LastForwardedAt = &t
		}
	}

	return state, nil
}

func (d *Database) SaveConfig(ctx context.Context, cfg models.ForwardingConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode forwarding config: %w", err)
	}
	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, UpsertConfigQuery, string(data))
		return err
	}, "save forwarding config")
}

func (d *Database) SaveStats(ctx context.Context, stats models.ForwardingStats) error {
	var last sql.NullTime
	if stats.LastForwardedAt != nil {
		last = sql.NullTime{Time: stats.LastForwardedAt.UTC(), Valid: true}
	}
	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, UpsertStatsQuery,
			stats.TotalForwarded,
			stats.TodayForwarded,
			last,
			stats.ErrorCount,
			stats.Day,
		)
		return err
	}, "save forwarding stats")
}

// RecordDelivery appends one row per destination result in a single transaction
func (d *Database) RecordDelivery(ctx context.Context, report models.DeliveryReport) error {
	if len(report.Results) == 0 {
		return nil
	}

	text, err := d.encryptor.Encrypt(report.Text)
	if err != nil {
		return fmt.Errorf("failed to encrypt message text: %w", err)
	}

	type row struct {
		destination string
		hash        string
		result      models.DeliveryResult
	}
	rows := make([]row, 0, len(report.Results))
	for _, res := range report.Results {
		dest, err := d.encryptor.Encrypt(res.Destination)
		if err != nil {
			return fmt.Errorf("failed to encrypt destination: %w", err)
		}
		rows = append(rows, row{destination: dest, hash: d.encryptor.LookupHash(res.Destination), result: res})
	}

	deliveredAt := time.Now().UTC()
	return retryableDBOperation(ctx, func() error {
		tx, err := d.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx, InsertDeliveryQuery)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		defer stmt.Close()

		for _, r := range rows {
			if _, err := stmt.ExecContext(ctx,
				report.Message.ID,
				nullString(report.Message.ExternalID),
				nullString(report.Message.SourceChannelName),
				r.destination,
				r.hash,
				text,
				r.result.Success,
				nullString(r.result.ErrorDetail),
				deliveredAt,
			); err != nil {
				_ = tx.Rollback()
				return err
			}
		}
		return tx.Commit()
	}, "record delivery")
}

// RecentDeliveries returns the newest delivery log rows first
func (d *Database) RecentDeliveries(ctx context.Context, limit int) ([]models.DeliveryRecord, error) {
	rows, err := d.db.QueryContext(ctx, SelectRecentDeliveriesQuery, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query deliveries: %w", err)
	}
	return d.scanDeliveries(rows)
}

// DeliveriesForDestination returns the newest rows for one destination. The
// destination is matched on its digits.
func (d *Database) DeliveriesForDestination(ctx context.Context, destination string, limit int) ([]models.DeliveryRecord, error) {
	rows, err := d.db.QueryContext(ctx, SelectDeliveriesByDestinationQuery, d.encryptor.LookupHash(destination), clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query deliveries: %w", err)
	}
	return d.scanDeliveries(rows)
}

func (d *Database) scanDeliveries(rows *sql.Rows) ([]models.DeliveryRecord, error) {
	defer rows.Close()

	var out []models.DeliveryRecord
	for rows.Next() {
		var rec models.DeliveryRecord
		var externalID, channel, errDetail sql.NullString
		var dest, text string
		if err := rows.Scan(&rec.ID, &rec.MessageID, &externalID, &channel, &dest, &text,
			&rec.Success, &errDetail, &rec.DeliveredAt); err != nil {
			return nil, fmt.Errorf("failed to scan delivery: %w", err)
		}

		var err error
		if rec.Destination, err = d.encryptor.Decrypt(dest); err != nil {
			return nil, fmt.Errorf("failed to decrypt destination: %w", err)
		}
		if rec.Text, err = d.encryptor.Decrypt(text); err != nil {
			return nil, fmt.Errorf("failed to decrypt message text: %w", err)
		}
		rec.ExternalID = externalID.String
		rec.Channel = channel.String
		rec.ErrorDetail = errDetail.String
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CleanupOldRecords removes delivery log rows older than retentionDays
func (d *Database) CleanupOldRecords(ctx context.Context, retentionDays int) error {
	if _, err := d.db.ExecContext(ctx, CleanupDeliveriesQuery, retentionDays); err != nil {
		return fmt.Errorf("failed to cleanup old records: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 100
	}
	return limit
}
