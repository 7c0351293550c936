package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"convgateway/internal/gwerrors"
)

// RedisStore is the Conversation Store backed by a Redis-compatible cache,
// the same client/key-namespacing style as the teacher's
// internal/skills/redis_cache.go and internal/workspaces/redis_cache.go.
type RedisStore struct {
	client   redis.UniversalClient
	registry ModelRegistry
}

// NewRedisStore wraps an already-connected client.
func NewRedisStore(client redis.UniversalClient, registry ModelRegistry) *RedisStore {
	return &RedisStore{client: client, registry: registry}
}

type persistedProfile struct {
	Profile UserGptProfile `json:"profile"`
}

func (s *RedisStore) Read(ctx context.Context, userID, roomID string) (UserGptContext, error) {
	pipe := s.client.Pipeline()
	profileCmd := pipe.Get(ctx, keyFor(userID, roomID, fieldProfile))
	modelCmd := pipe.Get(ctx, keyFor(userID, roomID, fieldModel))
	userCmd := pipe.LRange(ctx, keyFor(userID, roomID, fieldUserLog), 0, -1)
	assistantCmd := pipe.LRange(ctx, keyFor(userID, roomID, fieldAssistantLog), 0, -1)
	systemCmd := pipe.LRange(ctx, keyFor(userID, roomID, fieldSystemLog), 0, -1)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return UserGptContext{}, fmt.Errorf("%w: read pipeline: %v", gwerrors.ErrConnectivity, err)
	}

	profileMissing := errors.Is(profileCmd.Err(), redis.Nil)
	modelMissing := errors.Is(modelCmd.Err(), redis.Nil)
	if profileMissing || modelMissing {
		fresh := Default(userID, roomID, s.registry.Default())
		if err := s.Create(ctx, fresh, OnlyIfAbsent); err != nil {
			return UserGptContext{}, err
		}
		log.Debug().Str("user_id", userID).Str("room_id", roomID).Msg("conversation_store_default_context_created")
		return fresh, nil
	}

	var pp persistedProfile
	if err := json.Unmarshal([]byte(profileCmd.Val()), &pp); err != nil {
		return UserGptContext{}, fmt.Errorf("%w: decode profile: %v", gwerrors.ErrInternal, err)
	}

	modelName := modelCmd.Val()
	model, ok := s.registry.Resolve(modelName)
	if !ok {
		model = s.registry.Default()
	}

	ctxVal := UserGptContext{Profile: pp.Profile, Model: model}
	var err error
	if ctxVal.UserLog, err = decodeLog(userCmd.Val()); err != nil {
		return UserGptContext{}, err
	}
	if ctxVal.AssistantLog, err = decodeLog(assistantCmd.Val()); err != nil {
		return UserGptContext{}, err
	}
	if ctxVal.SystemLog, err = decodeLog(systemCmd.Val()); err != nil {
		return UserGptContext{}, err
	}
	ctxVal.SumUserTokens = sumTokens(ctxVal.UserLog)
	ctxVal.SumAssistantTokens = sumTokens(ctxVal.AssistantLog)
	ctxVal.SumSystemTokens = sumTokens(ctxVal.SystemLog)
	return ctxVal, nil
}

func sumTokens(log []MessageHistory) int {
	total := 0
	for _, m := range log {
		total += m.Tokens
	}
	return total
}

func decodeLog(raw []string) ([]MessageHistory, error) {
	out := make([]MessageHistory, 0, len(raw))
	for _, r := range raw {
		var m MessageHistory
		if err := json.Unmarshal([]byte(r), &m); err != nil {
			return nil, fmt.Errorf("%w: decode history: %v", gwerrors.ErrInternal, err)
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *RedisStore) Create(ctx context.Context, c UserGptContext, mode PutMode) error {
	profileBytes, err := json.Marshal(persistedProfile{Profile: c.Profile})
	if err != nil {
		return fmt.Errorf("%w: encode profile: %v", gwerrors.ErrInternal, err)
	}
	pKey := keyFor(c.Profile.UserID, c.Profile.RoomID, fieldProfile)
	mKey := keyFor(c.Profile.UserID, c.Profile.RoomID, fieldModel)

	if err := s.conditionalSet(ctx, pKey, string(profileBytes), mode); err != nil {
		return err
	}
	if err := s.conditionalSet(ctx, mKey, c.Model.Name(), mode); err != nil {
		return err
	}

	if err := s.replaceLog(ctx, c.Profile.UserID, c.Profile.RoomID, RoleUser, c.UserLog); err != nil {
		return err
	}
	if err := s.replaceLog(ctx, c.Profile.UserID, c.Profile.RoomID, RoleAssistant, c.AssistantLog); err != nil {
		return err
	}
	if err := s.replaceLog(ctx, c.Profile.UserID, c.Profile.RoomID, RoleSystem, c.SystemLog); err != nil {
		return err
	}
	return nil
}

func (s *RedisStore) conditionalSet(ctx context.Context, key, val string, mode PutMode) error {
	var err error
	switch mode {
	case OnlyIfAbsent:
		err = s.client.SetNX(ctx, key, val, 0).Err()
	case OnlyIfPresent:
		err = s.client.SetXX(ctx, key, val, 0).Err()
	default:
		err = s.client.Set(ctx, key, val, 0).Err()
	}
	if err != nil {
		return fmt.Errorf("%w: conditional set %s: %v", gwerrors.ErrConnectivity, key, err)
	}
	return nil
}

func (s *RedisStore) replaceLog(ctx context.Context, userID, roomID string, role Role, log []MessageHistory) error {
	key := keyFor(userID, roomID, fieldForRole(role))
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: delete log %s: %v", gwerrors.ErrConnectivity, key, err)
	}
	if len(log) == 0 {
		return nil
	}
	items := make([]any, 0, len(log))
	for _, m := range log {
		b, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("%w: encode history: %v", gwerrors.ErrInternal, err)
		}
		items = append(items, string(b))
	}
	if err := s.client.RPush(ctx, key, items...).Err(); err != nil {
		return fmt.Errorf("%w: rpush log %s: %v", gwerrors.ErrConnectivity, key, err)
	}
	return nil
}

func (s *RedisStore) UpdateProfileAndModel(ctx context.Context, c UserGptContext) error {
	profileBytes, err := json.Marshal(persistedProfile{Profile: c.Profile})
	if err != nil {
		return fmt.Errorf("%w: encode profile: %v", gwerrors.ErrInternal, err)
	}
	pKey := keyFor(c.Profile.UserID, c.Profile.RoomID, fieldProfile)
	mKey := keyFor(c.Profile.UserID, c.Profile.RoomID, fieldModel)
	if err := s.conditionalSet(ctx, pKey, string(profileBytes), OnlyIfPresent); err != nil {
		return err
	}
	return s.conditionalSet(ctx, mKey, c.Model.Name(), OnlyIfPresent)
}

func (s *RedisStore) Append(ctx context.Context, userID, roomID string, role Role, h MessageHistory) error {
	b, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("%w: encode history: %v", gwerrors.ErrInternal, err)
	}
	key := keyFor(userID, roomID, fieldForRole(role))
	if err := s.client.RPush(ctx, key, string(b)).Err(); err != nil {
		return fmt.Errorf("%w: append %s: %v", gwerrors.ErrConnectivity, key, err)
	}
	return nil
}

func (s *RedisStore) PopLeft(ctx context.Context, userID, roomID string, role Role, n int) ([]MessageHistory, error) {
	return s.pop(ctx, userID, roomID, role, n, true)
}

func (s *RedisStore) PopRight(ctx context.Context, userID, roomID string, role Role, n int) ([]MessageHistory, error) {
	return s.pop(ctx, userID, roomID, role, n, false)
}

func (s *RedisStore) pop(ctx context.Context, userID, roomID string, role Role, n int, left bool) ([]MessageHistory, error) {
	if n <= 0 {
		n = 1
	}
	key := keyFor(userID, roomID, fieldForRole(role))
	var raw []string
	var err error
	if left {
		raw, err = s.client.LPopCount(ctx, key, n).Result()
	} else {
		raw, err = s.client.RPopCount(ctx, key, n).Result()
	}
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: pop %s: %v", gwerrors.ErrConnectivity, key, err)
	}
	return decodeLog(raw)
}

func (s *RedisStore) SetAt(ctx context.Context, userID, roomID string, role Role, index int, h MessageHistory) error {
	b, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("%w: encode history: %v", gwerrors.ErrInternal, err)
	}
	key := keyFor(userID, roomID, fieldForRole(role))
	if err := s.client.LSet(ctx, key, int64(index), string(b)).Err(); err != nil {
		return fmt.Errorf("%w: set-at %s[%d]: %v", gwerrors.ErrConnectivity, key, index, err)
	}
	return nil
}

func (s *RedisStore) ClearRole(ctx context.Context, userID, roomID string, role Role) error {
	key := keyFor(userID, roomID, fieldForRole(role))
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: clear %s: %v", gwerrors.ErrConnectivity, key, err)
	}
	return nil
}
