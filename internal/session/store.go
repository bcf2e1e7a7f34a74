// Package session resolves a visitor session to the cart id persisted in
// the visitor's profile record.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionMalformed = errors.New("session record malformed")
)

// Store reads and writes the persisted profile record.
type Store interface {
	CartID(ctx context.Context, sessionID string) (string, error)
	Save(ctx context.Context, sessionID string, profile Profile) error
	Delete(ctx context.Context, sessionID string) error
}

// Profile is the persisted "userData" record. Only the cart id is read by
// the storefront; the rest is carried through untouched.
type Profile struct {
	CartID json.RawMessage            `json:"id_carrito"`
	Extra  map[string]json.RawMessage `json:"-"`
}

func NewProfile(cartID string) Profile {
	raw, _ := json.Marshal(cartID)
	return Profile{CartID: raw}
}

func (p Profile) MarshalJSON() ([]byte, error) {
	m := make(map[string]json.RawMessage, len(p.Extra)+1)
	for k, v := range p.Extra {
		m[k] = v
	}
	if p.CartID != nil {
		m["id_carrito"] = p.CartID
	}
	return json.Marshal(m)
}

func (p *Profile) UnmarshalJSON(data []byte) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	p.CartID = m["id_carrito"]
	delete(m, "id_carrito")
	p.Extra = m
	return nil
}

// ParseCartID accepts the id as a JSON string or integer.
func (p Profile) ParseCartID() (string, error) {
	raw := bytes.TrimSpace(p.CartID)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", fmt.Errorf("%w: missing id_carrito", ErrSessionMalformed)
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return "", fmt.Errorf("%w: empty id_carrito", ErrSessionMalformed)
		}
		return s, nil
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if id, err := strconv.ParseInt(n.String(), 10, 64); err == nil && id > 0 {
			return strconv.FormatInt(id, 10), nil
		}
	}
	return "", fmt.Errorf("%w: id_carrito %s", ErrSessionMalformed, raw)
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

type RedisStore struct {
	client *redis.Client
}

func (r RedisStore) CartID(ctx context.Context, sessionID string) (string, error) {
	if sessionID == "" {
		return "", ErrSessionNotFound
	}

	data, err := r.client.Get(ctx, sessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return "", ErrSessionNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis get failed: %w", err)
	}

	var profile Profile
	if err := json.Unmarshal(data, &profile); err != nil {
		return "", fmt.Errorf("%w: %v", ErrSessionMalformed, err)
	}
	return profile.ParseCartID()
}

func (r RedisStore) Save(ctx context.Context, sessionID string, profile Profile) error {
	data, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("marshal profile failed: %w", err)
	}
	if err := r.client.Set(ctx, sessionKey(sessionID), data, 0).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r RedisStore) Delete(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, sessionKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func sessionKey(sessionID string) string {
	return fmt.Sprintf("session:%s", sessionID)
}
