package crypto

import (
	"path/filepath"
	"testing"
)

func TestKeystoreRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("scrypt key derivation is slow")
	}
	path := filepath.Join(t.TempDir(), "owner.keystore")
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	if err := SaveToKeystore(path, key, "hunter2"); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := LoadFromKeystore(path, "hunter2")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !loaded.PubKey().Address().Equal(key.PubKey().Address()) {
		t.Fatal("loaded key derives a different address")
	}
	if _, err := LoadFromKeystore(path, "wrong"); err == nil {
		t.Fatal("expected error for wrong passphrase")
	}
}

func TestEnsureKeystoreIdempotent(t *testing.T) {
	if testing.Short() {
		t.Skip("scrypt key derivation is slow")
	}
	path := filepath.Join(t.TempDir(), "owner.keystore")
	first, err := EnsureKeystore(path, "hunter2")
	if err != nil {
		t.Fatalf("first ensure: %v", err)
	}
	second, err := EnsureKeystore(path, "hunter2")
	if err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	if !first.PubKey().Address().Equal(second.PubKey().Address()) {
		t.Fatal("ensure must return the persisted key on subsequent runs")
	}
}
