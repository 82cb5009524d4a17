package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisDirectory stores contacts in a Redis hash per principal. Contact
// lists are small, so name matching loads the whole hash and filters
// in-process.
type RedisDirectory struct {
	client *redis.Client
}

func NewRedisDirectory(client *redis.Client) *RedisDirectory {
	return &RedisDirectory{client: client}
}

func contactsKey(principalID string) string {
	return "valet:contacts:" + principalID
}

func (d *RedisDirectory) FindByName(ctx context.Context, principalID, name string) ([]Contact, error) {
	all, err := d.client.HGetAll(ctx, contactsKey(principalID)).Result()
	if err != nil {
		return nil, fmt.Errorf("loading contacts: %w", err)
	}

	var out []Contact
	for _, raw := range all {
		var c Contact
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			continue
		}
		if Matches(c, name) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (d *RedisDirectory) Get(ctx context.Context, principalID, contactID string) (Contact, bool, error) {
	raw, err := d.client.HGet(ctx, contactsKey(principalID), contactID).Result()
	if err == redis.Nil {
		return Contact{}, false, nil
	}
	if err != nil {
		return Contact{}, false, fmt.Errorf("loading contact: %w", err)
	}

	var c Contact
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return Contact{}, false, fmt.Errorf("decoding contact: %w", err)
	}
	return c, true, nil
}

func (d *RedisDirectory) Create(ctx context.Context, principalID, displayName string) (Contact, error) {
	c := Contact{
		ID:          uuid.NewString(),
		PrincipalID: principalID,
		DisplayName: strings.TrimSpace(displayName),
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return Contact{}, fmt.Errorf("encoding contact: %w", err)
	}
	if err := d.client.HSet(ctx, contactsKey(principalID), c.ID, raw).Err(); err != nil {
		return Contact{}, fmt.Errorf("storing contact: %w", err)
	}
	return c, nil
}
