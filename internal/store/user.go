package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/pavelanni/cbtportal/internal/model"
)

const userColumns = `id, name, COALESCE(email, ''), COALESCE(admission_number, ''), class_level,
	password_hash, role, permissions, active, created_at`

// CreateUser inserts a new user. Email and admission number must be unique
// when set.
func (s *Store) CreateUser(ctx context.Context, u model.User) (string, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	perms, err := json.Marshal(u.Permissions)
	if err != nil {
		return "", fmt.Errorf("encode permissions: %w", err)
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if u.Email != "" {
			if taken, err := exists(ctx, tx, `SELECT 1 FROM users WHERE email = $1`, u.Email); err != nil {
				return err
			} else if taken {
				return fmt.Errorf("email %s: %w", u.Email, model.ErrDuplicate)
			}
		}
		if u.AdmissionNumber != "" {
			if taken, err := exists(ctx, tx, `SELECT 1 FROM users WHERE admission_number = $1`, u.AdmissionNumber); err != nil {
				return err
			} else if taken {
				return fmt.Errorf("admission number %s: %w", u.AdmissionNumber, model.ErrDuplicate)
			}
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO users (id, name, email, admission_number, class_level, password_hash, role, permissions, active, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			u.ID, u.Name, nullString(u.Email), nullString(u.AdmissionNumber), u.ClassLevel,
			u.PasswordHash, u.Role, string(perms), u.Active, s.now(),
		)
		return err
	})
	if err != nil {
		slog.Error("failed to create user", "name", u.Name, "error", err)
		return "", err
	}
	slog.Info("created user", "id", u.ID, "name", u.Name, "role", u.Role)
	return u.ID, nil
}

// UpdateUser replaces a user's profile: name, email, admission number, class
// level, role and permissions. Password and active flag are left alone.
func (s *Store) UpdateUser(ctx context.Context, u model.User) error {
	perms, err := json.Marshal(u.Permissions)
	if err != nil {
		return fmt.Errorf("encode permissions: %w", err)
	}
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if u.Email != "" {
			if taken, err := exists(ctx, tx, `SELECT 1 FROM users WHERE email = $1 AND id <> $2`, u.Email, u.ID); err != nil {
				return err
			} else if taken {
				return fmt.Errorf("email %s: %w", u.Email, model.ErrDuplicate)
			}
		}
		if u.AdmissionNumber != "" {
			if taken, err := exists(ctx, tx, `SELECT 1 FROM users WHERE admission_number = $1 AND id <> $2`, u.AdmissionNumber, u.ID); err != nil {
				return err
			} else if taken {
				return fmt.Errorf("admission number %s: %w", u.AdmissionNumber, model.ErrDuplicate)
			}
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE users SET name = $1, email = $2, admission_number = $3, class_level = $4, role = $5, permissions = $6
			 WHERE id = $7`,
			u.Name, nullString(u.Email), nullString(u.AdmissionNumber), u.ClassLevel, u.Role, string(perms), u.ID,
		)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return model.NotFoundf("user %s", u.ID)
		}
		return nil
	})
	if err != nil {
		return err
	}
	slog.Info("updated user", "id", u.ID, "role", u.Role, "class_level", u.ClassLevel)
	return nil
}

// GetUserByLogin returns the user whose email or admission number equals
// login, or nil if there is none.
func (s *Store) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1 OR admission_number = $1`, login)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

// GetUserByID returns a user by ID, or nil if there is none.
func (s *Store) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	return getUserByID(ctx, s.db, id)
}

func getUserByID(ctx context.Context, q querier, id string) (*model.User, error) {
	row := q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

// UserFilter narrows ListUsers. Zero values match everything.
type UserFilter struct {
	Role       model.UserRole
	ClassLevel string
}

// ListUsers returns users ordered by class and name.
func (s *Store) ListUsers(ctx context.Context, f UserFilter) ([]model.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users
		 WHERE ($1 = '' OR role = $1) AND ($2 = '' OR class_level = $2)
		 ORDER BY class_level, name`,
		string(f.Role), f.ClassLevel,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// ToggleUserActive flips the active flag on a user and returns the new value.
func (s *Store) ToggleUserActive(ctx context.Context, id string) (bool, error) {
	var active bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE users SET active = NOT active WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return model.NotFoundf("user %s", id)
		}
		return tx.QueryRowContext(ctx, `SELECT active FROM users WHERE id = $1`, id).Scan(&active)
	})
	return active, err
}

// DeleteUser removes a user together with their sessions and submissions.
// Users who created exams cannot be deleted.
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if owns, err := exists(ctx, tx, `SELECT 1 FROM exams WHERE created_by_id = $1`, id); err != nil {
			return err
		} else if owns {
			return model.Validationf("user %s still owns exams", id)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM answers WHERE submission_id IN (SELECT id FROM submissions WHERE student_id = $1)`, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM submissions WHERE student_id = $1`, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM auth_sessions WHERE user_id = $1`, id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return model.NotFoundf("user %s", id)
		}
		return nil
	})
}

// UserCount returns the total number of users.
func (s *Store) UserCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	return count, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	var (
		u     model.User
		perms string
	)
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.AdmissionNumber, &u.ClassLevel,
		&u.PasswordHash, &u.Role, &perms, &u.Active, &u.CreatedAt); err != nil {
		return nil, err
	}
	p, err := model.ParseStaffPermissions(perms)
	if err != nil {
		return nil, fmt.Errorf("user %s: %w", u.ID, err)
	}
	u.Permissions = p
	return &u, nil
}

func exists(ctx context.Context, q querier, query string, args ...any) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}
