package serverdb

import (
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"
)

const (
	apiKeyPrefix = "sk_live_"
	keyLength    = 32
)

var base62Chars = []byte("0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz")

// APIKey represents a stored API key (without the plaintext secret).
type APIKey struct {
	ID         string
	TenantID   string
	KeyPrefix  string
	Name       string
	ExpiresAt  *time.Time
	LastUsedAt *time.Time
	CreatedAt  time.Time
}

// GenerateAPIKey creates a new API key scoped to one tenant.
// Returns the plaintext key (shown once) and the stored APIKey record.
func (db *ServerDB) GenerateAPIKey(tenantID, name string, expiresAt *time.Time) (string, *APIKey, error) {
	var exists int
	if err := db.conn.QueryRow(`SELECT 1 FROM tenants WHERE id = ? AND deleted_at IS NULL`, tenantID).Scan(&exists); err != nil {
		if err == sql.ErrNoRows {
			return "", nil, fmt.Errorf("tenant not found: %s", tenantID)
		}
		return "", nil, fmt.Errorf("check tenant: %w", err)
	}

	id := generateID("ak_")

	secret, err := randomBase62(keyLength)
	if err != nil {
		return "", nil, fmt.Errorf("generate random key: %w", err)
	}
	plaintext := apiKeyPrefix + secret
	prefix := secret[:8]

	now := time.Now().UTC()
	_, err = db.conn.Exec(
		`INSERT INTO api_keys (id, tenant_id, key_hash, key_prefix, name, expires_at, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, tenantID, hashKey(plaintext), prefix, name, expiresAt, now,
	)
	if err != nil {
		return "", nil, fmt.Errorf("insert api key: %w", err)
	}

	ak := &APIKey{
		ID:        id,
		TenantID:  tenantID,
		KeyPrefix: prefix,
		Name:      name,
		ExpiresAt: expiresAt,
		CreatedAt: now,
	}
	return plaintext, ak, nil
}

// randomBase62 draws n characters uniformly from base62Chars.
func randomBase62(n int) (string, error) {
	var b strings.Builder
	b.Grow(n)
	limit := big.NewInt(int64(len(base62Chars)))
	for range n {
		i, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		b.WriteByte(base62Chars[i.Int64()])
	}
	return b.String(), nil
}

func hashKey(plaintext string) string {
	hash := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(hash[:])
}

// VerifyAPIKey checks a plaintext key against stored hashes.
// Returns the matching APIKey and its tenant, or nils when the key is
// unknown, expired, or belongs to a deleted tenant.
func (db *ServerDB) VerifyAPIKey(plaintextKey string) (*APIKey, *Tenant, error) {
	keyHash := hashKey(plaintextKey)

	ak := &APIKey{}
	t := &Tenant{}
	err := db.conn.QueryRow(`
		SELECT ak.id, ak.tenant_id, ak.key_prefix, ak.name, ak.expires_at, ak.last_used_at, ak.created_at,
		       t.id, t.name, t.created_at, t.updated_at, t.deleted_at
		FROM api_keys ak
		JOIN tenants t ON t.id = ak.tenant_id
		WHERE ak.key_hash = ?
	`, keyHash).Scan(
		&ak.ID, &ak.TenantID, &ak.KeyPrefix, &ak.Name, &ak.ExpiresAt, &ak.LastUsedAt, &ak.CreatedAt,
		&t.ID, &t.Name, &t.CreatedAt, &t.UpdatedAt, &t.DeletedAt,
	)
	if err == sql.ErrNoRows {
		slog.Debug("api key not found", "key_hash_prefix", keyHash[:8])
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("verify api key: %w", err)
	}

	if ak.ExpiresAt != nil && ak.ExpiresAt.Before(time.Now().UTC()) {
		slog.Debug("api key expired", "key_id", ak.ID, "expires_at", ak.ExpiresAt)
		return nil, nil, nil
	}
	if t.DeletedAt != nil {
		slog.Debug("api key tenant deleted", "key_id", ak.ID, "tenant", t.ID)
		return nil, nil, nil
	}

	now := time.Now().UTC()
	if _, err := db.conn.Exec(`UPDATE api_keys SET last_used_at = ? WHERE id = ?`, now, ak.ID); err != nil {
		slog.Warn("update last_used_at", "key_id", ak.ID, "err", err)
	}
	ak.LastUsedAt = &now

	return ak, t, nil
}

// RevokeAPIKey deletes an API key, only if it belongs to the given tenant.
func (db *ServerDB) RevokeAPIKey(keyID, tenantID string) error {
	res, err := db.conn.Exec(`DELETE FROM api_keys WHERE id = ? AND tenant_id = ?`, keyID, tenantID)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("api key not found for tenant")
	}
	return nil
}

// ListAPIKeys returns all API keys for a tenant (without secrets).
func (db *ServerDB) ListAPIKeys(tenantID string) ([]*APIKey, error) {
	rows, err := db.conn.Query(
		`SELECT id, tenant_id, key_prefix, name, expires_at, last_used_at, created_at FROM api_keys WHERE tenant_id = ? ORDER BY created_at`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var keys []*APIKey
	for rows.Next() {
		ak := &APIKey{}
		if err := rows.Scan(&ak.ID, &ak.TenantID, &ak.KeyPrefix, &ak.Name, &ak.ExpiresAt, &ak.LastUsedAt, &ak.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, ak)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list api keys: iterate: %w", err)
	}
	return keys, nil
}
