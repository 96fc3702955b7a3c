package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const apiKeyPrefix = "cronpilot:apikey:"

// APIKeyStore validates and manages API keys used for the http.auth.type
// == "apikey" transport mode.
type APIKeyStore interface {
	ValidateKey(ctx context.Context, key string) (*APIKeyInfo, error)
	CreateKey(ctx context.Context, name string) (plainKey string, info *APIKeyInfo, err error)
	RevokeKey(ctx context.Context, keyID string) error
}

// APIKeyInfo is the metadata stored alongside a key's hash.
type APIKeyInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	KeyHash   string `json:"key_hash"`
	CreatedAt int64  `json:"created_at"`
	LastUsed  int64  `json:"last_used,omitempty"`
}

// RedisAPIKeyStore is a Redis-backed key/hash lookup.
type RedisAPIKeyStore struct {
	client *redis.Client
}

func NewRedisAPIKeyStore(client *redis.Client) *RedisAPIKeyStore {
	return &RedisAPIKeyStore{client: client}
}

func (s *RedisAPIKeyStore) ValidateKey(ctx context.Context, key string) (*APIKeyInfo, error) {
	hash := hashKey(key)
	data, err := s.client.Get(ctx, apiKeyPrefix+hash).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("auth: lookup api key: %w", err)
	}

	var info APIKeyInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("auth: unmarshal api key info: %w", err)
	}

	go func() {
		info.LastUsed = time.Now().Unix()
		if updated, err := json.Marshal(info); err == nil {
			_ = s.client.Set(context.Background(), apiKeyPrefix+hash, updated, 0).Err()
		}
	}()

	return &info, nil
}

func (s *RedisAPIKeyStore) CreateKey(ctx context.Context, name string) (string, *APIKeyInfo, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return "", nil, fmt.Errorf("auth: generate key: %w", err)
	}
	plainKey := "cck_" + hex.EncodeToString(secret)

	info := &APIKeyInfo{
		ID:        hex.EncodeToString(secret[:8]),
		Name:      name,
		KeyHash:   hashKey(plainKey),
		CreatedAt: time.Now().Unix(),
	}

	data, err := json.Marshal(info)
	if err != nil {
		return "", nil, fmt.Errorf("auth: marshal key info: %w", err)
	}
	if err := s.client.Set(ctx, apiKeyPrefix+info.KeyHash, data, 0).Err(); err != nil {
		return "", nil, fmt.Errorf("auth: store key: %w", err)
	}
	if err := s.client.Set(ctx, apiKeyPrefix+"id:"+info.ID, info.KeyHash, 0).Err(); err != nil {
		return "", nil, fmt.Errorf("auth: store key mapping: %w", err)
	}

	return plainKey, info, nil
}

func (s *RedisAPIKeyStore) RevokeKey(ctx context.Context, keyID string) error {
	hash, err := s.client.Get(ctx, apiKeyPrefix+"id:"+keyID).Result()
	if err != nil {
		if err == redis.Nil {
			return ErrInvalidToken
		}
		return fmt.Errorf("auth: lookup key id: %w", err)
	}
	pipe := s.client.Pipeline()
	pipe.Del(ctx, apiKeyPrefix+hash)
	pipe.Del(ctx, apiKeyPrefix+"id:"+keyID)
	_, err = pipe.Exec(ctx)
	return err
}

func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
