package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"meetroom/pkg/distributed"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	schemaVersionKey     = "meetroom:schema:version"
	migrationLockKey     = "meetroom:lock:migrate"
	currentSchemaVersion = 1
)

type Migration struct {
	Version int
	Up      func(ctx context.Context, client *redis.Client) error
}

// Migrate runs every migration newer than the stored schema version.
// Instances starting together serialize on a Redis lock and the version
// is read only once it is held.
func Migrate(ctx context.Context, client *redis.Client, logger *zap.SugaredLogger) error {
	lock := distributed.NewLock(client, migrationLockKey, 30*time.Second)
	if err := lock.Lock(ctx, 5*time.Second); err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	defer func() {
		if err := lock.Unlock(context.WithoutCancel(ctx)); err != nil && logger != nil {
			logger.Warnw("failed to release migration lock", "error", err)
		}
	}()

	currentVersion, err := getSchemaVersion(ctx, client)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	if currentVersion >= currentSchemaVersion {
		if logger != nil {
			logger.Debugw("schema is up to date",
				"current_version", currentVersion,
				"target_version", currentSchemaVersion,
			)
		}
		return nil
	}

	for _, migration := range getMigrations() {
		if migration.Version <= currentVersion {
			continue
		}
		if logger != nil {
			logger.Infow("running migration", "version", migration.Version)
		}
		if err := migration.Up(ctx, client); err != nil {
			return fmt.Errorf("migration %d failed: %w", migration.Version, err)
		}
		if err := setSchemaVersion(ctx, client, migration.Version); err != nil {
			return fmt.Errorf("failed to update schema version: %w", err)
		}
	}

	if logger != nil {
		logger.Infow("all migrations completed", "final_version", currentSchemaVersion)
	}
	return nil
}

func getSchemaVersion(ctx context.Context, client *redis.Client) (int, error) {
	val, err := client.Get(ctx, schemaVersionKey).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}

func setSchemaVersion(ctx context.Context, client *redis.Client, version int) error {
	return client.Set(ctx, schemaVersionKey, version, 0).Err()
}

func getMigrations() []Migration {
	return []Migration{
		{
			// Version 1 rebuilds the link index from meetings written
			// before links were indexed.
			Version: 1,
			Up:      indexMeetingLinks,
		},
	}
}

func indexMeetingLinks(ctx context.Context, client *redis.Client) error {
	iter := client.Scan(ctx, 0, meetingKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if strings.Count(strings.TrimPrefix(key, meetingKeyPrefix), ":") > 0 {
			continue
		}
		data, err := client.Get(ctx, key).Bytes()
		if err != nil {
			return err
		}
		var meeting struct {
			ID   string `json:"id"`
			Link string `json:"link"`
		}
		if err := json.Unmarshal(data, &meeting); err != nil || meeting.Link == "" {
			continue
		}
		if err := client.HSetNX(ctx, meetingLinksKey, meeting.Link, meeting.ID).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}
