//go:build integration

package testutil

import (
	"context"
	"testing"
)

// Seeded ASIC_DB identifiers written by SeedAsicDB.
const (
	SwitchOID        = "oid:0x21000000000000"
	DefaultVirtualRO = "oid:0x3000000000022"
)

// FlushDB flushes a specific Redis database.
func FlushDB(t *testing.T, db int) {
	t.Helper()

	if err := RedisClient(t, db).FlushDB(context.Background()).Err(); err != nil {
		t.Fatalf("flushing DB %d: %v", db, err)
	}
}

// SeedAsicDB flushes ASIC_DB and writes the switch and default virtual
// router objects syncd creates at startup.
func SeedAsicDB(t *testing.T) {
	t.Helper()

	FlushDB(t, AsicDB)
	client := RedisClient(t, AsicDB)
	ctx := context.Background()

	if err := client.HSet(ctx, "ASIC_STATE:SAI_OBJECT_TYPE_SWITCH:"+SwitchOID,
		"SAI_SWITCH_ATTR_DEFAULT_VIRTUAL_ROUTER_ID", DefaultVirtualRO).Err(); err != nil {
		t.Fatalf("seeding switch: %v", err)
	}
	if err := client.HSet(ctx, "ASIC_STATE:SAI_OBJECT_TYPE_VIRTUAL_ROUTER:"+DefaultVirtualRO,
		"NULL", "NULL").Err(); err != nil {
		t.Fatalf("seeding default VR: %v", err)
	}
}

// ReadHash reads a hash from a specific Redis DB.
func ReadHash(t *testing.T, db int, key string) map[string]string {
	t.Helper()

	vals, err := RedisClient(t, db).HGetAll(context.Background(), key).Result()
	if err != nil {
		t.Fatalf("reading %s: %v", key, err)
	}
	return vals
}

// KeyExists checks if a key exists in a specific Redis DB.
func KeyExists(t *testing.T, db int, key string) bool {
	t.Helper()

	n, err := RedisClient(t, db).Exists(context.Background(), key).Result()
	if err != nil {
		t.Fatalf("checking existence of %s: %v", key, err)
	}
	return n > 0
}
