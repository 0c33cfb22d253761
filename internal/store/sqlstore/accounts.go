package sqlstore

import (
	"context"
	"strings"
	"time"

	"koperasi/backend/internal/domain"
	"koperasi/backend/internal/store"
	"koperasi/backend/internal/xid"
)

type auditRow struct {
	ID            string    `db:"id"`
	ActorUsername string    `db:"actor_username"`
	ActorRole     string    `db:"actor_role"`
	Action        string    `db:"action"`
	EntityType    string    `db:"entity_type"`
	EntityID      string    `db:"entity_id"`
	Detail        string    `db:"detail"`
	CreatedAt     time.Time `db:"created_at"`
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.exec(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES (?,?,?,?,?,?,?,?)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return translate(err)
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	var rows []auditRow
	err := s.selectAll(ctx, &rows, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= ? AND created_at < ?
		ORDER BY created_at DESC
	`+limitClause(limit), from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}

	logs := make([]domain.AuditLog, 0, len(rows))
	for _, row := range rows {
		entry := domain.AuditLog(row)
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	return logs, nil
}

type userRow struct {
	Username  string    `db:"username"`
	Password  string    `db:"password"`
	Role      string    `db:"role"`
	Active    bool      `db:"active"`
	CreatedAt time.Time `db:"created_at"`
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidRecord
	}
	if user.Role == "" {
		user.Role = "clerk"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.exec(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES (?,?,?,?,?,?)
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt, user.CreatedAt)
	return translate(err)
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	var rows []userRow
	if err := s.selectAll(ctx, &rows, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`); err != nil {
		return nil, err
	}

	users := make([]domain.UserAccount, 0, len(rows))
	for _, row := range rows {
		user := domain.UserAccount(row)
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidRecord
	}

	res, err := s.exec(ctx, `
		UPDATE app_users SET password = ?, updated_at = ? WHERE username = ?
	`, password, time.Now().UTC(), username)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}
