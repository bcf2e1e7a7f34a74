package session

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client), mr
}

func TestCartID_StringID(t *testing.T) {
	store, mr := setupTestRedis(t)
	mr.Set(sessionKey("s1"), `{"id_carrito":"abc","nombre":"Ana"}`)

	id, err := store.CartID(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "abc", id)
}

func TestCartID_NumericID(t *testing.T) {
	store, mr := setupTestRedis(t)
	mr.Set(sessionKey("s1"), `{"id_carrito":17}`)

	id, err := store.CartID(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "17", id)
}

func TestCartID_Missing(t *testing.T) {
	store, _ := setupTestRedis(t)

	_, err := store.CartID(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = store.CartID(context.Background(), "")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestCartID_Malformed(t *testing.T) {
	cases := map[string]string{
		"invalid json":  `{"id_carrito":`,
		"no cart id":    `{"nombre":"Ana"}`,
		"null cart id":  `{"id_carrito":null}`,
		"empty string":  `{"id_carrito":""}`,
		"negative":      `{"id_carrito":-3}`,
		"fractional":    `{"id_carrito":1.5}`,
		"wrong type":    `{"id_carrito":true}`,
		"not an object": `[1,2]`,
	}
	for name, record := range cases {
		t.Run(name, func(t *testing.T) {
			store, mr := setupTestRedis(t)
			mr.Set(sessionKey("s1"), record)

			_, err := store.CartID(context.Background(), "s1")
			assert.ErrorIs(t, err, ErrSessionMalformed)
		})
	}
}

func TestSave_KeepsExtraFields(t *testing.T) {
	store, mr := setupTestRedis(t)
	mr.Set(sessionKey("s1"), `{"id_carrito":"abc","rol":"cliente"}`)

	raw, err := mr.Get(sessionKey("s1"))
	require.NoError(t, err)
	var profile Profile
	require.NoError(t, json.Unmarshal([]byte(raw), &profile))

	require.NoError(t, store.Save(context.Background(), "s2", profile))

	stored, err := mr.Get(sessionKey("s2"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"id_carrito":"abc","rol":"cliente"}`, stored)
}

func TestSaveAndDelete(t *testing.T) {
	store, mr := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "s1", NewProfile("cart-5")))
	id, err := store.CartID(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "cart-5", id)

	require.NoError(t, store.Delete(ctx, "s1"))
	assert.False(t, mr.Exists(sessionKey("s1")))
}

func TestSessionKey_Format(t *testing.T) {
	assert.Equal(t, "session:abc", sessionKey("abc"))
}
