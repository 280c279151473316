package state

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrUserExists is returned when creating a user whose name is taken.
var ErrUserExists = errors.New("user already exists")

// User is a registered API user.
type User struct {
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// CreateUser inserts u. It returns ErrUserExists for a taken name.
func (db *DB) CreateUser(u *User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	_, err := db.Exec(`
		INSERT INTO users (username, password_hash, created_at) VALUES (?, ?, ?)
	`, u.Username, u.PasswordHash, formatTime(u.CreatedAt))
	if isUniqueViolation(err) {
		return ErrUserExists
	}
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// GetUser returns the user named username, or ErrNotFound.
func (db *DB) GetUser(username string) (*User, error) {
	row := db.QueryRow(`SELECT username, password_hash, created_at FROM users WHERE username = ?`, username)

	var u User
	var createdAt string
	err := row.Scan(&u.Username, &u.PasswordHash, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.CreatedAt, _ = parseTime(createdAt)
	return &u, nil
}

// CountUsers returns the number of registered users.
func (db *DB) CountUsers() (int, error) {
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}
