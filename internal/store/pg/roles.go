package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"projectdesk.io/internal/auth"
)

type roleStore struct{ db *sql.DB }

func (s roleStore) FindDefault(ctx context.Context) (*auth.Role, error) {
	var (
		role  auth.Role
		desc  sql.NullString
		perms []byte
	)
	err := s.db.QueryRowContext(ctx, `
		select id, name, description, permissions, created_at
		from roles
		where name = $1
	`, auth.DefaultRoleName).Scan(&role.ID, &role.Name, &desc, &perms, &role.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	role.Description = desc.String
	if len(perms) > 0 {
		if err := json.Unmarshal(perms, &role.Permissions); err != nil {
			return nil, fmt.Errorf("decode role permissions: %w", err)
		}
	}
	return &role, nil
}

func (s roleStore) Assign(ctx context.Context, identityID, roleID int64) error {
	_, err := s.db.ExecContext(ctx, `
		insert into identity_roles (identity_id, role_id, created_at)
		values ($1, $2, now())
		on conflict (identity_id, role_id) do nothing
	`, identityID, roleID)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return auth.ErrNotFound
		}
		return err
	}
	return nil
}

func (s roleStore) RoleNames(ctx context.Context, identityID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		select r.name
		from identity_roles ir
		join roles r on r.id = ir.role_id
		where ir.identity_id = $1
		order by r.name
	`, identityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	names := make([]string, 0, 2)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
