package middleware_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/aretw0/strata/pkg/adapters/memory"
	"github.com/aretw0/strata/pkg/domain"
	"github.com/aretw0/strata/pkg/persistence/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPIIMiddleware_Masking(t *testing.T) {
	// Setup
	underlyingStore := memory.NewStore()
	// Mask keys containing "password" or "ssn"
	mw, err := middleware.NewPIIMiddleware([]string{"password", "ssn"})
	require.NoError(t, err)
	secureStore := mw(underlyingStore)

	ctx := context.Background()
	doc := []byte(`{
		"username": "jdoe",
		"user_password": "secret123",
		"details": {"address": "123 St", "ssn_number": "999-99-9999"},
		"contacts": [{"password": "x", "age": 42}],
		"safe_data": "public"
	}`)
	original := append([]byte(nil), doc...)

	// 1. Save
	require.NoError(t, secureStore.Put(ctx, "item-1", domain.ClusterOutcome, "Signup/1/0", doc, none))
	assert.Equal(t, original, doc, "Middleware modified the caller's payload")

	// 2. Load from Underlying Store (Should be masked)
	stored, err := underlyingStore.Get(ctx, "item-1", domain.ClusterOutcome, "Signup/1/0", none)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(stored, &got))
	assert.Equal(t, "jdoe", got["username"], "Username shouldn't be masked")
	assert.Equal(t, middleware.Mask, got["user_password"])
	assert.Equal(t, middleware.Mask, got["details"].(map[string]any)["ssn_number"])
	assert.Equal(t, "123 St", got["details"].(map[string]any)["address"])
	contact := got["contacts"].([]any)[0].(map[string]any)
	assert.Equal(t, middleware.Mask, contact["password"])
	assert.EqualValues(t, 42, contact["age"])
}

func TestPIIMiddleware_OnlySelectedClusters(t *testing.T) {
	underlyingStore := memory.NewStore()
	mw, err := middleware.NewPIIMiddleware([]string{"^email$"}, domain.ClusterOutcome)
	require.NoError(t, err)
	store := mw(underlyingStore)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "item-1", domain.ClusterProperty, "Contact", []byte(`{"email":"a@b.c"}`), none))
	stored, err := underlyingStore.Get(ctx, "item-1", domain.ClusterProperty, "Contact", none)
	require.NoError(t, err)
	assert.JSONEq(t, `{"email":"a@b.c"}`, string(stored))
}

func TestPIIMiddleware_NonJSONPassesThrough(t *testing.T) {
	underlyingStore := memory.NewStore()
	mw, err := middleware.NewPIIMiddleware([]string{"password"})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, mw(underlyingStore).Put(ctx, "item-1", domain.ClusterProperty, "Note", []byte("password=hunter2"), none))
	stored, err := underlyingStore.Get(ctx, "item-1", domain.ClusterProperty, "Note", none)
	require.NoError(t, err)
	assert.Equal(t, "password=hunter2", string(stored))
}

func TestPIIMiddleware_InvalidPattern(t *testing.T) {
	_, err := middleware.NewPIIMiddleware([]string{"("})
	assert.ErrorIs(t, err, domain.ErrInvalidData)
}

func TestWrap_RedactsBeforeEncrypting(t *testing.T) {
	underlyingStore := memory.NewStore()
	pii, err := middleware.NewPIIMiddleware([]string{"password"})
	require.NoError(t, err)
	enc := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: generateKey(t)})
	store := middleware.Wrap(underlyingStore, enc, pii)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "item-1", domain.ClusterProperty, "Login", []byte(`{"password":"p"}`), none))

	got, err := store.Get(ctx, "item-1", domain.ClusterProperty, "Login", none)
	require.NoError(t, err)
	assert.JSONEq(t, `{"password":"***"}`, string(got))
	assert.Equal(t, domain.CapReadWrite, store.Support(domain.ClusterProperty))
}
