package serverdb

import (
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"
)

const (
	apiKeyPrefix = "ck_live_"
	keyLength    = 32
)

var base62Chars = []byte("0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz")

// User is a tenant: the owning principal whose scoping predicate gates row
// visibility.
type User struct {
	ID        string
	Email     string
	CreatedAt time.Time
}

// APIKey is a stored API key (without the plaintext secret).
type APIKey struct {
	ID         string
	UserID     string
	KeyPrefix  string
	Name       string
	LastUsedAt *time.Time
	CreatedAt  time.Time
}

// CreateUser inserts a new user with the given email (lowercased).
func (db *ServerDB) CreateUser(email string) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, fmt.Errorf("email is required")
	}

	id, err := generateID("u_")
	if err != nil {
		return nil, fmt.Errorf("generate user id: %w", err)
	}

	now := time.Now().UTC()
	if _, err := db.conn.Exec(
		`INSERT INTO users (id, email, created_at) VALUES (?, ?, ?)`, id, email, now,
	); err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return &User{ID: id, Email: email, CreatedAt: now}, nil
}

// GetUserByEmail returns the user with the given email, or nil if not found.
func (db *ServerDB) GetUserByEmail(email string) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	u := &User{}
	err := db.conn.QueryRow(
		`SELECT id, email, created_at FROM users WHERE LOWER(email) = ?`, email,
	).Scan(&u.ID, &u.Email, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

// GenerateAPIKey creates a new API key for the given user. Returns the
// plaintext key (shown once) and the stored record.
func (db *ServerDB) GenerateAPIKey(userID, name string) (string, *APIKey, error) {
	var exists int
	if err := db.conn.QueryRow(`SELECT 1 FROM users WHERE id = ?`, userID).Scan(&exists); err != nil {
		if err == sql.ErrNoRows {
			return "", nil, fmt.Errorf("user not found: %s", userID)
		}
		return "", nil, fmt.Errorf("check user: %w", err)
	}

	id, err := generateID("k_")
	if err != nil {
		return "", nil, fmt.Errorf("generate api key id: %w", err)
	}

	secret := make([]byte, keyLength)
	for i := range secret {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(base62Chars))))
		if err != nil {
			return "", nil, fmt.Errorf("generate random key: %w", err)
		}
		secret[i] = base62Chars[n.Int64()]
	}

	plaintext := apiKeyPrefix + string(secret)
	prefix := string(secret[:8])

	hash := sha256.Sum256([]byte(plaintext))
	keyHash := hex.EncodeToString(hash[:])

	now := time.Now().UTC()
	if _, err := db.conn.Exec(
		`INSERT INTO api_keys (id, user_id, key_hash, key_prefix, name, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, userID, keyHash, prefix, name, now,
	); err != nil {
		return "", nil, fmt.Errorf("insert api key: %w", err)
	}

	return plaintext, &APIKey{ID: id, UserID: userID, KeyPrefix: prefix, Name: name, CreatedAt: now}, nil
}

// VerifyAPIKey checks a plaintext key against the stored hashes. Returns the
// matching key and user, or (nil, nil, nil) when the key is unknown.
func (db *ServerDB) VerifyAPIKey(plaintext string) (*APIKey, *User, error) {
	hash := sha256.Sum256([]byte(plaintext))
	keyHash := hex.EncodeToString(hash[:])

	ak := &APIKey{}
	u := &User{}
	err := db.conn.QueryRow(`
		SELECT ak.id, ak.user_id, ak.key_prefix, ak.name, ak.last_used_at, ak.created_at,
		       u.id, u.email, u.created_at
		FROM api_keys ak
		JOIN users u ON u.id = ak.user_id
		WHERE ak.key_hash = ?
	`, keyHash).Scan(
		&ak.ID, &ak.UserID, &ak.KeyPrefix, &ak.Name, &ak.LastUsedAt, &ak.CreatedAt,
		&u.ID, &u.Email, &u.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("verify api key: %w", err)
	}

	db.conn.Exec(`UPDATE api_keys SET last_used_at = CURRENT_TIMESTAMP WHERE id = ?`, ak.ID)
	return ak, u, nil
}
