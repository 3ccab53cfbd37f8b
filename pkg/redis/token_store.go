package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type TokenInfo struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// TokenStore keeps the streaming-provider credentials bound to a session.
// The reconciliation loop reads them on each cycle and writes back the
// refreshed access token after a credential rejection.
type TokenStore struct {
	client *redis.Client
}

// NewTokenStore creates a new token store with the given Redis client
func NewTokenStore(client *redis.Client) *TokenStore {
	return &TokenStore{client: client}
}

// StoreTokens stores a session's provider tokens in Redis
func (s *TokenStore) StoreTokens(ctx context.Context, sessionID string, token *TokenInfo) error {
	tokenJSON, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}

	key := fmt.Sprintf("token:%s", sessionID)
	if err := s.client.Set(ctx, key, tokenJSON, 0).Err(); err != nil { // 0 means no expiration
		return fmt.Errorf("failed to store token: %w", err)
	}

	return nil
}

// GetTokens retrieves a session's provider tokens from Redis
func (s *TokenStore) GetTokens(ctx context.Context, sessionID string) (*TokenInfo, error) {
	key := fmt.Sprintf("token:%s", sessionID)
	tokenJSON, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("token not found")
		}
		return nil, fmt.Errorf("failed to get token: %w", err)
	}

	var token TokenInfo
	if err := json.Unmarshal(tokenJSON, &token); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token: %w", err)
	}

	return &token, nil
}

// DeleteToken removes a session's tokens from Redis
func (s *TokenStore) DeleteToken(ctx context.Context, sessionID string) error {
	key := fmt.Sprintf("token:%s", sessionID)
	return s.client.Del(ctx, key).Err()
}

// RefreshToken updates the access token and its expiry in Redis
func (s *TokenStore) RefreshToken(ctx context.Context, sessionID string, newAccessToken string, newExpiresAt time.Time) error {
	token, err := s.GetTokens(ctx, sessionID)
	if err != nil {
		return err
	}

	token.AccessToken = newAccessToken
	token.ExpiresAt = newExpiresAt
	return s.StoreTokens(ctx, sessionID, token)
}
