package serverdb

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Tenant is one business whose data the server keeps apart from every other.
type Tenant struct {
	ID        string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// CreateTenant creates a new tenant.
func (db *ServerDB) CreateTenant(name string) (*Tenant, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("tenant name is required")
	}

	id := generateID("t_")
	now := time.Now().UTC()
	_, err := db.conn.Exec(
		`INSERT INTO tenants (id, name, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		id, name, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert tenant: %w", err)
	}

	return &Tenant{ID: id, Name: name, CreatedAt: now, UpdatedAt: now}, nil
}

// GetTenant returns a tenant by ID. If includeSoftDeleted is false, soft-deleted tenants are excluded.
func (db *ServerDB) GetTenant(id string, includeSoftDeleted bool) (*Tenant, error) {
	query := `SELECT id, name, created_at, updated_at, deleted_at FROM tenants WHERE id = ?`
	if !includeSoftDeleted {
		query += ` AND deleted_at IS NULL`
	}

	t := &Tenant{}
	err := db.conn.QueryRow(query, id).Scan(&t.ID, &t.Name, &t.CreatedAt, &t.UpdatedAt, &t.DeletedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant: %w", err)
	}
	return t, nil
}

// ListTenants returns all non-deleted tenants.
func (db *ServerDB) ListTenants() ([]*Tenant, error) {
	rows, err := db.conn.Query(`
		SELECT id, name, created_at, updated_at, deleted_at
		FROM tenants
		WHERE deleted_at IS NULL
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []*Tenant
	for rows.Next() {
		t := &Tenant{}
		if err := rows.Scan(&t.ID, &t.Name, &t.CreatedAt, &t.UpdatedAt, &t.DeletedAt); err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		tenants = append(tenants, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tenants: iterate: %w", err)
	}
	return tenants, nil
}

// RenameTenant updates a tenant's name.
func (db *ServerDB) RenameTenant(id, name string) (*Tenant, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("tenant name is required")
	}
	now := time.Now().UTC()
	res, err := db.conn.Exec(
		`UPDATE tenants SET name = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		name, now, id,
	)
	if err != nil {
		return nil, fmt.Errorf("rename tenant: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return nil, fmt.Errorf("tenant not found: %s", id)
	}
	return db.GetTenant(id, false)
}

// SoftDeleteTenant marks a tenant as deleted. Its keys stop verifying.
func (db *ServerDB) SoftDeleteTenant(id string) error {
	now := time.Now().UTC()
	res, err := db.conn.Exec(
		`UPDATE tenants SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		now, now, id,
	)
	if err != nil {
		return fmt.Errorf("soft delete tenant: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("tenant not found: %s", id)
	}
	return nil
}
