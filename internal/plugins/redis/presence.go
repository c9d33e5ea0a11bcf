package redis

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/andrewmcl6081/cloudchat/internal/core/domain"

	"github.com/redis/go-redis/v9"
)

const presencePrefix = "presence:"

type RedisPresenceStore struct {
	rdb *redis.Client
}

func NewRedisPresenceStore(rdb *redis.Client) *RedisPresenceStore {
	return &RedisPresenceStore{
		rdb: rdb,
	}
}

func presenceKey(userID string) string {
	return presencePrefix + userID
}

// SetPresence writes presence:<userID>. The value records which server
// holds the socket so a teardown on one process cannot be confused
// with a fresh connect on another.
func (p *RedisPresenceStore) SetPresence(ctx context.Context, userID string, rec domain.PresenceRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return p.rdb.Set(ctx, presenceKey(userID), raw, 0).Err()
}

// clearPresenceScript deletes the key only if the stored record still
// names the departing socket. GET-compare-DEL must be atomic here: a
// reconnect on another server can overwrite the key between the two
// steps.
var clearPresenceScript = redis.NewScript(`
local raw = redis.call("GET", KEYS[1])
if not raw then
	return 0
end
local ok, rec = pcall(cjson.decode, raw)
if not ok or rec["socket_id"] ~= ARGV[1] then
	return 0
end
return redis.call("DEL", KEYS[1])
`)

func (p *RedisPresenceStore) ClearPresence(ctx context.Context, userID, socketID string) error {
	return clearPresenceScript.Run(ctx, p.rdb, []string{presenceKey(userID)}, socketID).Err()
}

// ListOnline scans presence:* and returns every record except the
// caller's own. SCAN, not KEYS: this runs on the connect hot path.
func (p *RedisPresenceStore) ListOnline(ctx context.Context, excludeUserID string) ([]domain.OnlineUser, error) {
	var users []domain.OnlineUser
	iter := p.rdb.Scan(ctx, 0, presencePrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		userID := strings.TrimPrefix(key, presencePrefix)
		if userID == excludeUserID {
			continue
		}
		raw, err := p.rdb.Get(ctx, key).Result()
		if err != nil {
			if err == redis.Nil {
				// Key expired between SCAN and GET.
				continue
			}
			return nil, err
		}
		var rec domain.PresenceRecord
		socketID := (*string)(nil)
		if err := json.Unmarshal([]byte(raw), &rec); err == nil && rec.SocketID != "" {
			sid := rec.SocketID
			socketID = &sid
		}
		users = append(users, domain.OnlineUser{UserID: userID, SocketID: socketID})
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return users, nil
}
