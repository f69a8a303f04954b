package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/redis/go-redis/v9"
)

// sessionData is the JSON the host application writes for each browser session.
type sessionData struct {
	UserID string `json:"user_id"`
	Login  string `json:"login"`
}

// RedisSessionResolver reads the host application's session record from Redis.
// The session id comes from a cookie; the record lives at {prefix}{sessionID}.
type RedisSessionResolver struct {
	client *redis.Client
	cookie string
	prefix string
}

// NewRedisSessionResolver constructs a resolver using cookie for the session id.
func NewRedisSessionResolver(client *redis.Client, cookie string) *RedisSessionResolver {
	if strings.TrimSpace(cookie) == "" {
		cookie = "_session_id"
	}
	return &RedisSessionResolver{client: client, cookie: cookie, prefix: "session:"}
}

func (s *RedisSessionResolver) key(sessionID string) string {
	return s.prefix + sessionID
}

// Resolve implements Resolver.
func (s *RedisSessionResolver) Resolve(r *http.Request) (Principal, bool, error) {
	c, err := r.Cookie(s.cookie)
	if err != nil || strings.TrimSpace(c.Value) == "" {
		return Principal{}, false, nil
	}

	raw, err := s.client.Get(r.Context(), s.key(c.Value)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Principal{}, false, nil
	}
	if err != nil {
		return Principal{}, false, fmt.Errorf("lookup session: %w", err)
	}

	var data sessionData
	if err := json.Unmarshal(raw, &data); err != nil {
		return Principal{}, false, fmt.Errorf("unmarshal session: %w", err)
	}
	if strings.TrimSpace(data.UserID) == "" {
		return Principal{}, false, nil
	}
	return Principal{ID: data.UserID, Login: data.Login}, true, nil
}
