package api

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/stockly-app/stockly/internal/serverdb"
)

// TenantDBPool manages per-tenant entity databases.
type TenantDBPool struct {
	mu      sync.RWMutex
	dbs     map[string]*serverdb.EntityStore
	dataDir string
}

// NewTenantDBPool creates a new pool that stores tenant databases under dataDir.
func NewTenantDBPool(dataDir string) *TenantDBPool {
	return &TenantDBPool{
		dbs:     make(map[string]*serverdb.EntityStore),
		dataDir: dataDir,
	}
}

// Get returns the entity store for the given tenant, opening (and creating)
// it lazily. Callers must have authenticated the tenant.
func (p *TenantDBPool) Get(tenantID string) (*serverdb.EntityStore, error) {
	p.mu.RLock()
	db, ok := p.dbs[tenantID]
	p.mu.RUnlock()
	if ok {
		return db, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Double-check after acquiring write lock
	if db, ok := p.dbs[tenantID]; ok {
		return db, nil
	}

	dir := filepath.Join(p.dataDir, tenantID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create tenant dir: %w", err)
	}

	db, err := serverdb.OpenEntityStore(filepath.Join(dir, "entities.db"))
	if err != nil {
		return nil, fmt.Errorf("open tenant db %s: %w", tenantID, err)
	}

	p.dbs[tenantID] = db
	return db, nil
}

// Open reports how many tenant databases are currently open.
func (p *TenantDBPool) Open() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.dbs)
}

// CloseAll closes all open tenant database connections.
func (p *TenantDBPool) CloseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, db := range p.dbs {
		db.Close()
		delete(p.dbs, id)
	}
}
