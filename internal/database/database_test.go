package database

import (
	"path/filepath"
	"testing"
)

func TestOpenCreatesSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "pingmatrix.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer Close(db)

	if !db.Migrator().HasTable(&Ping{}) {
		t.Fatal("pings table not created")
	}

	var mode string
	if err := db.Raw("PRAGMA journal_mode").Scan(&mode).Error; err != nil {
		t.Fatalf("read journal mode: %v", err)
	}
	if mode != "wal" {
		t.Fatalf("journal_mode = %q, want wal", mode)
	}
}

func TestCompositePrimaryKey(t *testing.T) {
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer Close(db)

	if err := db.Create(&Ping{Src: "a", Dst: "b", LatencyMs: 1}).Error; err != nil {
		t.Fatalf("create a->b: %v", err)
	}
	if err := db.Create(&Ping{Src: "b", Dst: "a", LatencyMs: 2}).Error; err != nil {
		t.Fatalf("create b->a: %v", err)
	}
	if err := db.Create(&Ping{Src: "a", Dst: "b", LatencyMs: 3}).Error; err == nil {
		t.Fatal("expected duplicate (src,dst) insert to fail")
	}
}

func TestCloseNil(t *testing.T) {
	if err := Close(nil); err != nil {
		t.Fatalf("Close(nil) = %v", err)
	}
}
