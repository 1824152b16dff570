// Package db persists trade groups, pairings and audit records in SQLite.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound marks a missing record.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate marks a uniqueness violation surfaced to the API as a conflict.
	ErrDuplicate = errors.New("record already exists")
)

// Store provides the query layer over the relay schema.
type Store struct {
	db *sql.DB
}

// NewStore creates a Store over an open handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// ----------------------------------------
// Trade groups
// ----------------------------------------

// CreateGroup inserts a group. Settings start at config_version 1.
func (s *Store) CreateGroup(ctx context.Context, name, masterAccount string, settings MasterSettings) (*TradeGroup, error) {
	settings.ConfigVersion = 1
	blob, err := json.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("marshal master settings: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO trade_groups (name, master_account, enabled, master_settings)
		VALUES (?, ?, 1, ?)
	`, name, masterAccount, string(blob))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("insert trade group: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("trade group id: %w", err)
	}
	return s.GetGroup(ctx, id)
}

// GetGroup returns one group by id.
func (s *Store) GetGroup(ctx context.Context, id int64) (*TradeGroup, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, master_account, enabled, master_settings, created_at, updated_at
		FROM trade_groups WHERE id = ?
	`, id)
	return scanGroup(row)
}

// GetGroupByMaster returns the group owned by a master account.
func (s *Store) GetGroupByMaster(ctx context.Context, masterAccount string) (*TradeGroup, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, master_account, enabled, master_settings, created_at, updated_at
		FROM trade_groups WHERE master_account = ?
	`, masterAccount)
	return scanGroup(row)
}

// ListGroups returns all groups.
func (s *Store) ListGroups(ctx context.Context) ([]TradeGroup, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, master_account, enabled, master_settings, created_at, updated_at
		FROM trade_groups ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("query trade groups: %w", err)
	}
	defer rows.Close()

	var groups []TradeGroup
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, *g)
	}
	return groups, rows.Err()
}

// UpdateGroupSettings replaces the settings blob, bumping config_version past
// the stored one regardless of what the caller passed in.
func (s *Store) UpdateGroupSettings(ctx context.Context, id int64, name string, settings MasterSettings) (*TradeGroup, error) {
	current, err := s.GetGroup(ctx, id)
	if err != nil {
		return nil, err
	}
	settings.ConfigVersion = current.MasterSettings.ConfigVersion + 1
	blob, err := json.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("marshal master settings: %w", err)
	}
	if name == "" {
		name = current.Name
	}
	if _, err := s.db.ExecContext(ctx, `
		UPDATE trade_groups
		SET name = ?, master_settings = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, name, string(blob), id); err != nil {
		return nil, fmt.Errorf("update trade group: %w", err)
	}
	return s.GetGroup(ctx, id)
}

// SetGroupEnabled toggles a group and bumps its config_version so terminals
// pick up the change.
func (s *Store) SetGroupEnabled(ctx context.Context, id int64, enabled bool) (*TradeGroup, error) {
	current, err := s.GetGroup(ctx, id)
	if err != nil {
		return nil, err
	}
	settings := current.MasterSettings
	settings.ConfigVersion++
	blob, err := json.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("marshal master settings: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		UPDATE trade_groups
		SET enabled = ?, master_settings = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, boolToInt(enabled), string(blob), id); err != nil {
		return nil, fmt.Errorf("toggle trade group: %w", err)
	}
	return s.GetGroup(ctx, id)
}

// DeleteGroup removes a group and, via cascade, its members.
func (s *Store) DeleteGroup(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM trade_groups WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete trade group: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ----------------------------------------
// Members
// ----------------------------------------

// AddMember pairs a slave account into a group. Settings start at
// config_version 1.
func (s *Store) AddMember(ctx context.Context, groupID int64, slaveAccount string, settings SlaveSettings) (*Member, error) {
	settings.ConfigVersion = 1
	blob, err := json.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("marshal slave settings: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO trade_group_members (group_id, slave_account, slave_settings, status)
		VALUES (?, ?, ?, 0)
	`, groupID, slaveAccount, string(blob)); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("insert member: %w", err)
	}
	return s.GetMember(ctx, groupID, slaveAccount)
}

// GetMember returns one pairing.
func (s *Store) GetMember(ctx context.Context, groupID int64, slaveAccount string) (*Member, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, group_id, slave_account, slave_settings, status, created_at, updated_at
		FROM trade_group_members WHERE group_id = ? AND slave_account = ?
	`, groupID, slaveAccount)
	return scanMember(row)
}

// ListMembers returns all pairings in one group.
func (s *Store) ListMembers(ctx context.Context, groupID int64) ([]Member, error) {
	return s.queryMembers(ctx, `
		SELECT id, group_id, slave_account, slave_settings, status, created_at, updated_at
		FROM trade_group_members WHERE group_id = ? ORDER BY id
	`, groupID)
}

// ListMembersBySlave returns every pairing a slave account belongs to.
func (s *Store) ListMembersBySlave(ctx context.Context, slaveAccount string) ([]Member, error) {
	return s.queryMembers(ctx, `
		SELECT id, group_id, slave_account, slave_settings, status, created_at, updated_at
		FROM trade_group_members WHERE slave_account = ? ORDER BY id
	`, slaveAccount)
}

// ListAllMembers returns every pairing, used to warm the relay's in-memory
// snapshot at startup.
func (s *Store) ListAllMembers(ctx context.Context) ([]Member, error) {
	return s.queryMembers(ctx, `
		SELECT id, group_id, slave_account, slave_settings, status, created_at, updated_at
		FROM trade_group_members ORDER BY id
	`)
}

// UpdateMemberSettings replaces the pairing settings, bumping config_version
// past the stored one.
func (s *Store) UpdateMemberSettings(ctx context.Context, groupID int64, slaveAccount string, settings SlaveSettings) (*Member, error) {
	current, err := s.GetMember(ctx, groupID, slaveAccount)
	if err != nil {
		return nil, err
	}
	settings.ConfigVersion = current.Settings.ConfigVersion + 1
	blob, err := json.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("marshal slave settings: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		UPDATE trade_group_members
		SET slave_settings = ?, updated_at = CURRENT_TIMESTAMP
		WHERE group_id = ? AND slave_account = ?
	`, string(blob), groupID, slaveAccount); err != nil {
		return nil, fmt.Errorf("update member: %w", err)
	}
	return s.GetMember(ctx, groupID, slaveAccount)
}

// SetMemberEnabled toggles a pairing, bumping config_version.
func (s *Store) SetMemberEnabled(ctx context.Context, groupID int64, slaveAccount string, enabled bool) (*Member, error) {
	current, err := s.GetMember(ctx, groupID, slaveAccount)
	if err != nil {
		return nil, err
	}
	settings := current.Settings
	settings.Enabled = enabled
	return s.UpdateMemberSettings(ctx, groupID, slaveAccount, settings)
}

// UpdateMemberStatus refreshes the cached status column. Does not touch
// settings or config_version.
func (s *Store) UpdateMemberStatus(ctx context.Context, groupID int64, slaveAccount string, status int) error {
	if _, err := s.db.ExecContext(ctx, `
		UPDATE trade_group_members SET status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE group_id = ? AND slave_account = ?
	`, status, groupID, slaveAccount); err != nil {
		return fmt.Errorf("update member status: %w", err)
	}
	return nil
}

// DeleteMember removes a pairing.
func (s *Store) DeleteMember(ctx context.Context, groupID int64, slaveAccount string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM trade_group_members WHERE group_id = ? AND slave_account = ?
	`, groupID, slaveAccount)
	if err != nil {
		return fmt.Errorf("delete member: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ----------------------------------------
// Users
// ----------------------------------------

// CreateUser inserts a dashboard account.
func (s *Store) CreateUser(ctx context.Context, id, email, passwordHash string) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash) VALUES (?, ?, ?)
	`, id, email, passwordHash); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetUserByEmail returns a dashboard account by email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var u User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, created_at FROM users WHERE email = ?
	`, email).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &u, nil
}

// ----------------------------------------
// Activity log
// ----------------------------------------

// AppendActivity writes one audit entry.
func (s *Store) AppendActivity(ctx context.Context, id, category, accountID, message string) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO activity_log (id, category, account_id, message) VALUES (?, ?, ?, ?)
	`, id, category, accountID, message); err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

// ListActivity returns the most recent entries.
func (s *Store) ListActivity(ctx context.Context, limit int) ([]ActivityEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, category, COALESCE(account_id, ''), message, created_at
		FROM activity_log ORDER BY created_at DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query activity: %w", err)
	}
	defer rows.Close()

	var entries []ActivityEntry
	for rows.Next() {
		var e ActivityEntry
		if err := rows.Scan(&e.ID, &e.Category, &e.AccountID, &e.Message, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ----------------------------------------
// Send failures (dead letter)
// ----------------------------------------

// RecordSendFailure dead-letters an undeliverable outbound message.
func (s *Store) RecordSendFailure(ctx context.Context, targetAccount, kind string, payload []byte, sendErr string, retries int) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO send_failures (target_account, message_kind, payload, error, retry_count)
		VALUES (?, ?, ?, ?, ?)
	`, targetAccount, kind, payload, sendErr, retries); err != nil {
		return fmt.Errorf("insert send failure: %w", err)
	}
	return nil
}

// ListSendFailures returns recent dead-lettered messages.
func (s *Store) ListSendFailures(ctx context.Context, limit int) ([]SendFailure, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, target_account, message_kind, payload, error, retry_count, created_at
		FROM send_failures ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query send failures: %w", err)
	}
	defer rows.Close()

	var failures []SendFailure
	for rows.Next() {
		var f SendFailure
		if err := rows.Scan(&f.ID, &f.TargetAccount, &f.MessageKind, &f.Payload, &f.Error, &f.RetryCount, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan send failure: %w", err)
		}
		failures = append(failures, f)
	}
	return failures, rows.Err()
}

// ----------------------------------------
// helpers
// ----------------------------------------

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGroup(row rowScanner) (*TradeGroup, error) {
	var (
		g       TradeGroup
		enabled int
		blob    string
	)
	err := row.Scan(&g.ID, &g.Name, &g.MasterAccount, &enabled, &blob, &g.CreatedAt, &g.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan trade group: %w", err)
	}
	g.Enabled = enabled != 0
	if err := json.Unmarshal([]byte(blob), &g.MasterSettings); err != nil {
		return nil, fmt.Errorf("decode master settings: %w", err)
	}
	return &g, nil
}

func scanMember(row rowScanner) (*Member, error) {
	var (
		m    Member
		blob string
	)
	err := row.Scan(&m.ID, &m.GroupID, &m.SlaveAccount, &blob, &m.Status, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan member: %w", err)
	}
	if err := json.Unmarshal([]byte(blob), &m.Settings); err != nil {
		return nil, fmt.Errorf("decode slave settings: %w", err)
	}
	return &m, nil
}

func (s *Store) queryMembers(ctx context.Context, query string, args ...any) ([]Member, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query members: %w", err)
	}
	defer rows.Close()

	var members []Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, *m)
	}
	return members, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}
