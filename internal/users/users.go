// Package users maps platform identities onto internal user records.
package users

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"assistant-bot/internal/storage"
)

// User is one external account known to the bot.
type User struct {
	ID          int64
	ExternalID  int64
	DisplayName string
	CreatedAt   time.Time
}

// Directory reads and writes users through a storage engine. It holds
// no state of its own.
type Directory struct {
	db  *storage.Engine
	now func() time.Time
}

func NewDirectory(db *storage.Engine) *Directory {
	return &Directory{db: db, now: time.Now}
}

const selectUser = `SELECT id, external_id, display_name, created_at FROM users`

func scanUser(u *User) storage.ScanFunc {
	return func(s storage.Scanner) error {
		var name sql.NullString
		var created int64
		if err := s.Scan(&u.ID, &u.ExternalID, &name, &created); err != nil {
			return err
		}
		u.DisplayName = name.String
		u.CreatedAt = time.UnixMilli(created).UTC()
		return nil
	}
}

// GetOrCreate returns the user for externalID, creating it on first
// contact. Insert and read-back share one transaction and the insert
// ignores conflicts, so concurrent first contacts yield a single row.
func (d *Directory) GetOrCreate(ctx context.Context, externalID int64, displayName string) (User, error) {
	var u User
	var created bool
	err := d.db.WithTx(ctx, func(q storage.Querier) error {
		n, err := q.Execute(ctx,
			`INSERT INTO users (external_id, display_name, created_at) VALUES (?, ?, ?)
			 ON CONFLICT (external_id) DO NOTHING`,
			externalID, nullable(displayName), d.now().UTC().UnixMilli())
		if err != nil {
			return err
		}
		created = n > 0
		found, err := q.FetchOne(ctx, scanUser(&u), selectUser+` WHERE external_id = ?`, externalID)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("user %d missing after insert", externalID)
		}
		return nil
	})
	if err != nil {
		return User{}, fmt.Errorf("get or create user %d: %w", externalID, err)
	}
	if created {
		slog.Info("new user created", "external_id", externalID, "display_name", displayName)
	} else {
		slog.Debug("user found", "external_id", externalID)
	}
	return u, nil
}

// UpdateDisplayName reports whether a row was changed.
func (d *Directory) UpdateDisplayName(ctx context.Context, externalID int64, name string) (bool, error) {
	n, err := d.db.Execute(ctx, `UPDATE users SET display_name = ? WHERE external_id = ?`, nullable(name), externalID)
	if err != nil {
		return false, fmt.Errorf("update display name of %d: %w", externalID, err)
	}
	return n > 0, nil
}

func (d *Directory) GetByID(ctx context.Context, id int64) (User, bool, error) {
	var u User
	found, err := d.db.FetchOne(ctx, scanUser(&u), selectUser+` WHERE id = ?`, id)
	if err != nil {
		return User{}, false, fmt.Errorf("get user %d: %w", id, err)
	}
	return u, found, nil
}

func (d *Directory) GetByExternalID(ctx context.Context, externalID int64) (User, bool, error) {
	var u User
	found, err := d.db.FetchOne(ctx, scanUser(&u), selectUser+` WHERE external_id = ?`, externalID)
	if err != nil {
		return User{}, false, fmt.Errorf("get user by external id %d: %w", externalID, err)
	}
	return u, found, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
