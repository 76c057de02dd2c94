package storage

import (
	"context"
	"fmt"
	"log"
	"sync"

	"s3etl/internal/ddl"
)

var (
	ddlMu   sync.RWMutex
	flavors = map[string]ddl.Flavor{}
)

// RegisterDDL registers (or replaces) the DDL flavor for a storage kind.
// Backends call it from init.
func RegisterDDL(kind string, f ddl.Flavor) {
	ddlMu.Lock()
	defer ddlMu.Unlock()
	flavors[kind] = f
}

// FlavorFor returns the DDL flavor registered for kind.
func FlavorFor(kind string) (ddl.Flavor, error) {
	ddlMu.RLock()
	f, ok := flavors[kind]
	ddlMu.RUnlock()
	if !ok {
		return ddl.Flavor{}, fmt.Errorf("no DDL flavor registered for storage.kind=%q", kind)
	}
	return f, nil
}

// EnsureTables creates every table in defs that does not exist yet. It is
// idempotent.
func EnsureTables(ctx context.Context, repo Execer, kind string, defs []ddl.TableDef) error {
	f, err := FlavorFor(kind)
	if err != nil {
		return err
	}
	for _, td := range defs {
		stmts, err := f.CreateTable(td)
		if err != nil {
			return err
		}
		for _, s := range stmts {
			if _, err := repo.Exec(ctx, s); err != nil {
				return fmt.Errorf("ensure table %s: %w", td.FQN, err)
			}
		}
		log.Printf("ddl: ensured table=%s kind=%s", td.FQN, kind)
	}
	return nil
}
