package middleware_test

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aretw0/strata/pkg/adapters/memory"
	"github.com/aretw0/strata/pkg/domain"
	"github.com/aretw0/strata/pkg/persistence/middleware"
	"github.com/aretw0/strata/pkg/ports"
)

func generateKey(t *testing.T) []byte {
	k := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, k); err != nil {
		t.Fatal(err)
	}
	return k
}

var none domain.TransactionKey

func TestEncryptionMiddleware_Contract(t *testing.T) {
	key := generateKey(t)
	ports.RunClusterStorageContract(t, func(t *testing.T, support ports.Support) ports.ClusterStorage {
		mw := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: key})
		return mw(memory.NewStore(memory.WithSupport(support)))
	})
}

func TestEncryptionMiddleware_Roundtrip(t *testing.T) {
	// Setup
	underlyingStore := memory.NewStore()
	key := generateKey(t)
	mw := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: key})
	secureStore := mw(underlyingStore)

	ctx := context.Background()
	original := []byte(`{"secret":"my-secret-sauce"}`)

	// 1. Save
	if err := secureStore.Put(ctx, "item-1", domain.ClusterProperty, "Secret", original, none); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// 2. Verify Underlying Store directly (Should be encrypted)
	stored, err := underlyingStore.Get(ctx, "item-1", domain.ClusterProperty, "Secret", none)
	if err != nil {
		t.Fatalf("Underlying get failed: %v", err)
	}
	if strings.Contains(string(stored), "my-secret-sauce") {
		t.Fatalf("Expected secret to be hidden, found: %s", stored)
	}
	if !strings.Contains(string(stored), "__encrypted__") {
		t.Fatal("Expected __encrypted__ envelope")
	}

	// 3. Load via Middleware (Should be decrypted)
	loaded, err := secureStore.Get(ctx, "item-1", domain.ClusterProperty, "Secret", none)
	if err != nil {
		t.Fatalf("Get via middleware failed: %v", err)
	}
	if string(loaded) != string(original) {
		t.Errorf("Expected %s, got %s", original, loaded)
	}
}

func TestEncryptionMiddleware_KeyRotation(t *testing.T) {
	// Setup
	underlyingStore := memory.NewStore()
	oldKey := generateKey(t)
	newKey := generateKey(t)

	// Create middleware with OLD key to save initial object
	secureStoreOld := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: oldKey})(underlyingStore)

	ctx := context.Background()

	// 1. Save with OLD key
	if err := secureStoreOld.Put(ctx, "item-1", domain.ClusterProperty, "Data", []byte("encrypted-with-old-key"), none); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// 2. Load with NEW key (Active) + OLD key (Fallback)
	secureStoreNew := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{
		ActiveKey:    newKey,
		FallbackKeys: [][]byte{oldKey},
	})(underlyingStore)

	loaded, err := secureStoreNew.Get(ctx, "item-1", domain.ClusterProperty, "Data", none)
	if err != nil {
		t.Fatalf("Get with rotated key failed: %v", err)
	}
	if string(loaded) != "encrypted-with-old-key" {
		t.Errorf("Decryption with fallback key failed")
	}

	// 3. Save again (Should now use the NEW key)
	if err := secureStoreNew.Put(ctx, "item-1", domain.ClusterProperty, "Data", []byte("encrypted-with-new-key"), none); err != nil {
		t.Fatalf("Put with new key failed: %v", err)
	}

	// 4. Verify we CANNOT load with just OLD key anymore
	if _, err := secureStoreOld.Get(ctx, "item-1", domain.ClusterProperty, "Data", none); err == nil {
		t.Error("Expected failure when loading new-key encryption with old-key middleware")
	}
}

func TestEncryptionMiddleware_RefusesPlainObjects(t *testing.T) {
	underlyingStore := memory.NewStore()
	secureStore := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: generateKey(t)})(underlyingStore)
	ctx := context.Background()

	if err := underlyingStore.Put(ctx, "item-1", domain.ClusterProperty, "Plain", []byte(`{"a":1}`), none); err != nil {
		t.Fatal(err)
	}
	_, err := secureStore.Get(ctx, "item-1", domain.ClusterProperty, "Plain", none)
	if !errors.Is(err, domain.ErrInvalidData) {
		t.Errorf("expected ErrInvalidData, got %v", err)
	}
}

func TestEncryptionMiddleware_InvalidKey(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Errorf("Expected panic for invalid key size")
		}
	}()
	middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: []byte("short-key")})
}

func TestParseKey(t *testing.T) {
	key := generateKey(t)
	got, err := middleware.ParseKey(hex.EncodeToString(key))
	if err != nil {
		t.Fatalf("ParseKey failed: %v", err)
	}
	if string(got) != string(key) {
		t.Error("ParseKey returned a different key")
	}

	if _, err := middleware.ParseKey("abcd"); !errors.Is(err, domain.ErrInvalidData) {
		t.Errorf("expected ErrInvalidData for short key, got %v", err)
	}
	if _, err := middleware.ParseKey("zz"); !errors.Is(err, domain.ErrInvalidData) {
		t.Errorf("expected ErrInvalidData for non-hex key, got %v", err)
	}
}
