package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/stockly-app/stockly/internal/api"
	"github.com/stockly-app/stockly/internal/serverdb"
)

func runAdmin(args []string) {
	if len(args) < 2 {
		printAdminUsage()
		os.Exit(1)
	}

	switch args[0] + " " + args[1] {
	case "tenant create":
		runTenantCreate(args[2:])
	case "tenant list":
		runTenantList(args[2:])
	case "tenant rename":
		runTenantRename(args[2:])
	case "tenant delete":
		runTenantDelete(args[2:])
	case "key create":
		runKeyCreate(args[2:])
	case "key list":
		runKeyList(args[2:])
	case "key revoke":
		runKeyRevoke(args[2:])
	case "ratelimit list":
		runRateLimitList(args[2:])
	case "ratelimit cleanup":
		runRateLimitCleanup(args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown admin command: %s %s\n", args[0], args[1])
		printAdminUsage()
		os.Exit(1)
	}
}

func printAdminUsage() {
	fmt.Fprintln(os.Stderr, `Usage: stockly-server admin <group> <command> [flags]

Commands:
  tenant create     Create a tenant (--name)
  tenant list       List tenants
  tenant rename     Rename a tenant (--id, --name)
  tenant delete     Soft-delete a tenant (--id)
  key create        Issue an API key for a tenant (--tenant, --name, --expires)
  key list          List a tenant's API keys (--tenant)
  key revoke        Revoke an API key (--tenant, --id)
  ratelimit list    Show recent rate limit violations (--key, --ip, --limit)
  ratelimit cleanup Delete violations older than --older-than`)
}

func newFlagSet(name string) (*pflag.FlagSet, *string) {
	fs := pflag.NewFlagSet(name, pflag.ExitOnError)
	dbPath := fs.String("db", "", "path to server.db (default: from SYNC_SERVER_DB_PATH or ./data/server.db)")
	return fs, dbPath
}

func openDB(dbPath string) *serverdb.ServerDB {
	if dbPath == "" {
		cfg := api.LoadConfig()
		dbPath = cfg.ServerDBPath
	}
	store, err := serverdb.Open(dbPath)
	if err != nil {
		fatalf("open database: %v", err)
	}
	return store
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

func require(fs *pflag.FlagSet, names ...string) {
	for _, n := range names {
		if v, _ := fs.GetString(n); v == "" {
			fmt.Fprintf(os.Stderr, "error: --%s is required\n", n)
			fs.Usage()
			os.Exit(1)
		}
	}
}

func runTenantCreate(args []string) {
	fs, dbPath := newFlagSet("admin tenant create")
	name := fs.String("name", "", "tenant name")
	fs.Parse(args)
	require(fs, "name")

	store := openDB(*dbPath)
	defer store.Close()

	t, err := store.CreateTenant(*name)
	if err != nil {
		fatalf("%v", err)
	}
	fmt.Printf("created tenant %s (%s)\n", t.ID, t.Name)
}

func runTenantList(args []string) {
	fs, dbPath := newFlagSet("admin tenant list")
	fs.Parse(args)

	store := openDB(*dbPath)
	defer store.Close()

	tenants, err := store.ListTenants()
	if err != nil {
		fatalf("%v", err)
	}
	if len(tenants) == 0 {
		fmt.Println("no tenants")
		return
	}
	for _, t := range tenants {
		fmt.Printf("%-24s %-30s %s\n", t.ID, t.Name, t.CreatedAt.Format(time.RFC3339))
	}
}

func runTenantRename(args []string) {
	fs, dbPath := newFlagSet("admin tenant rename")
	id := fs.String("id", "", "tenant id")
	name := fs.String("name", "", "new name")
	fs.Parse(args)
	require(fs, "id", "name")

	store := openDB(*dbPath)
	defer store.Close()

	t, err := store.RenameTenant(*id, *name)
	if err != nil {
		fatalf("%v", err)
	}
	fmt.Printf("renamed tenant %s to %s\n", t.ID, t.Name)
}

func runTenantDelete(args []string) {
	fs, dbPath := newFlagSet("admin tenant delete")
	id := fs.String("id", "", "tenant id")
	fs.Parse(args)
	require(fs, "id")

	store := openDB(*dbPath)
	defer store.Close()

	if err := store.SoftDeleteTenant(*id); err != nil {
		fatalf("%v", err)
	}
	fmt.Printf("deleted tenant %s\n", *id)
}

func runKeyCreate(args []string) {
	fs, dbPath := newFlagSet("admin key create")
	tenant := fs.String("tenant", "", "tenant id")
	name := fs.String("name", "", "key name (e.g. shop-laptop)")
	expires := fs.Duration("expires", 0, "key lifetime (0 = never expires)")
	fs.Parse(args)
	require(fs, "tenant", "name")

	store := openDB(*dbPath)
	defer store.Close()

	if t, err := store.GetTenant(*tenant, false); err != nil {
		fatalf("%v", err)
	} else if t == nil {
		fatalf("tenant not found: %s", *tenant)
	}

	var expiresAt *time.Time
	if *expires > 0 {
		at := time.Now().UTC().Add(*expires)
		expiresAt = &at
	}

	plaintext, key, err := store.GenerateAPIKey(*tenant, *name, expiresAt)
	if err != nil {
		fatalf("%v", err)
	}

	fmt.Printf("key id:  %s\n", key.ID)
	fmt.Printf("api key: %s\n", plaintext)
	fmt.Println("store this key now, it will not be shown again")
}

func runKeyList(args []string) {
	fs, dbPath := newFlagSet("admin key list")
	tenant := fs.String("tenant", "", "tenant id")
	fs.Parse(args)
	require(fs, "tenant")

	store := openDB(*dbPath)
	defer store.Close()

	keys, err := store.ListAPIKeys(*tenant)
	if err != nil {
		fatalf("%v", err)
	}
	if len(keys) == 0 {
		fmt.Println("no keys")
		return
	}
	for _, k := range keys {
		lastUsed := "never"
		if k.LastUsedAt != nil {
			lastUsed = k.LastUsedAt.Format(time.RFC3339)
		}
		expires := "-"
		if k.ExpiresAt != nil {
			expires = k.ExpiresAt.Format(time.RFC3339)
		}
		fmt.Printf("%-24s %-10s %-20s expires:%s last_used:%s\n", k.ID, k.KeyPrefix, k.Name, expires, lastUsed)
	}
}

func runKeyRevoke(args []string) {
	fs, dbPath := newFlagSet("admin key revoke")
	tenant := fs.String("tenant", "", "tenant id")
	id := fs.String("id", "", "key id")
	fs.Parse(args)
	require(fs, "tenant", "id")

	store := openDB(*dbPath)
	defer store.Close()

	if err := store.RevokeAPIKey(*id, *tenant); err != nil {
		fatalf("%v", err)
	}
	fmt.Printf("revoked key %s\n", *id)
}

func runRateLimitList(args []string) {
	fs, dbPath := newFlagSet("admin ratelimit list")
	keyID := fs.String("key", "", "filter by key id")
	ip := fs.String("ip", "", "filter by client ip")
	limit := fs.Int("limit", 50, "max events")
	fs.Parse(args)

	store := openDB(*dbPath)
	defer store.Close()

	events, err := store.ListRateLimitEvents(*keyID, *ip, *limit)
	if err != nil {
		fatalf("%v", err)
	}
	if len(events) == 0 {
		fmt.Println("no rate limit events")
		return
	}
	for _, e := range events {
		key := e.KeyID
		if key == "" {
			key = "-"
		}
		fmt.Printf("%s %-6s key:%s ip:%s\n", e.CreatedAt, e.EndpointClass, key, e.IP)
	}
}

func runRateLimitCleanup(args []string) {
	fs, dbPath := newFlagSet("admin ratelimit cleanup")
	olderThan := fs.Duration("older-than", api.LoadConfig().RateLimitEventRetention, "delete events older than this")
	fs.Parse(args)

	store := openDB(*dbPath)
	defer store.Close()

	n, err := store.CleanupRateLimitEvents(*olderThan)
	if err != nil {
		fatalf("%v", err)
	}
	fmt.Printf("deleted %d event(s)\n", n)
}
