// Package database provides the configuration-store adapter used by the
// pipeline: notification actions for an alarm, current alarm state, and
// registration of known notification method types.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/sapcc/monasca-notification/internal/config"
	"github.com/sapcc/monasca-notification/internal/models"
)

// Error wraps any failure of the configuration store. Callers decide
// recovery: the alarm transformer retries a failed lookup once, the
// engines abort without committing on a second failure.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("config store %s failed: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func storeError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

// Store wraps the MySQL connection pool. database/sql re-establishes
// connections after transient failures, so a repeated call after an error
// transparently uses a fresh connection.
type Store struct {
	db *sql.DB
}

// New opens the configuration store and verifies connectivity.
func New(cfg config.MySQLConfig) (*Store, error) {
	dsnCfg := mysql.NewConfig()
	dsnCfg.Net = "tcp"
	dsnCfg.Addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	dsnCfg.User = cfg.User
	dsnCfg.Passwd = cfg.Passwd
	dsnCfg.DBName = cfg.DB
	if cfg.SSL != "" {
		dsnCfg.TLSConfig = cfg.SSL
	}

	db, err := sql.Open("mysql", dsnCfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	slog.Info("Successfully connected to MySQL configuration store",
		"host", cfg.Host,
		"db", cfg.DB,
	)
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		slog.Info("Closing database connection")
		return s.db.Close()
	}
	return nil
}

// FetchNotificationActions returns the notification methods subscribed to
// the given alarm definition and target state, in store order.
func (s *Store) FetchNotificationActions(ctx context.Context, alarmDefinitionID, state string) ([]models.NotificationAction, error) {
	query := `
		SELECT nm.id, nm.type, nm.name, nm.address, nm.period
		FROM alarm_action aa
		JOIN notification_method nm ON aa.action_id = nm.id
		WHERE aa.alarm_definition_id = ? AND aa.alarm_state = ?
	`
	rows, err := s.db.QueryContext(ctx, query, alarmDefinitionID, state)
	if err != nil {
		return nil, storeError("fetch notification actions", err)
	}
	defer rows.Close()

	var actions []models.NotificationAction
	for rows.Next() {
		var action models.NotificationAction
		if err := rows.Scan(&action.ID, &action.Type, &action.Name, &action.Address, &action.Period); err != nil {
			return nil, storeError("scan notification action", err)
		}
		// Legacy schemas store method types upper-case; dispatch matches
		// lower-case kinds.
		action.Type = strings.ToLower(action.Type)
		actions = append(actions, action)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("iterate notification actions", err)
	}
	return actions, nil
}

// GetNotificationMethod resolves one notification method by id. Returns
// nil without error when the method has been deleted.
func (s *Store) GetNotificationMethod(ctx context.Context, id string) (*models.NotificationAction, error) {
	query := `
		SELECT id, type, name, address, period
		FROM notification_method
		WHERE id = ?
	`
	var action models.NotificationAction
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&action.ID, &action.Type, &action.Name, &action.Address, &action.Period)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storeError("get notification method", err)
	}
	action.Type = strings.ToLower(action.Type)
	return &action, nil
}

// GetAlarmCurrentState returns the current state of an alarm. The second
// return value is false when the alarm has been deleted.
func (s *Store) GetAlarmCurrentState(ctx context.Context, alarmID string) (string, bool, error) {
	var state string
	err := s.db.QueryRowContext(ctx, `SELECT state FROM alarm WHERE id = ?`, alarmID).Scan(&state)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, storeError("get alarm current state", err)
	}
	return state, true, nil
}

// FetchNotificationMethodTypes returns the method types known to the
// store.
func (s *Store) FetchNotificationMethodTypes(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM notification_method_type`)
	if err != nil {
		return nil, storeError("fetch notification method types", err)
	}
	defer rows.Close()

	var types []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, storeError("scan notification method type", err)
		}
		types = append(types, name)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("iterate notification method types", err)
	}
	return types, nil
}

// InsertNotificationMethodTypes registers method types. Registration is
// idempotent.
func (s *Store) InsertNotificationMethodTypes(ctx context.Context, types []string) error {
	for _, name := range types {
		_, err := s.db.ExecContext(ctx,
			`INSERT IGNORE INTO notification_method_type (name) VALUES (?)`, name)
		if err != nil {
			return storeError("insert notification method type", err)
		}
	}
	return nil
}
