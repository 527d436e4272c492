// Package redisstore implements service.Collection on Redis. Each owner's
// tasks live in one hash of JSON records; every change is announced on a
// pub/sub channel that listeners follow.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"todosync/internal/config"
	"todosync/internal/service"
	"todosync/internal/task"
)

const keyPrefix = "todosync"

// NewClient builds a Redis client from settings.
func NewClient(cfg config.RedisSettings) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// Store implements service.Collection using Redis.
type Store struct {
	rdb *redis.Client
	log *zap.Logger
}

// New wraps rdb. A nil logger disables logging.
func New(rdb *redis.Client, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{rdb: rdb, log: logger.Named("redisstore")}
}

// Close closes the Redis client.
func (s *Store) Close() error {
	return s.rdb.Close()
}

func tasksKey(ownerID string) string {
	return fmt.Sprintf("%s:%s:tasks", keyPrefix, ownerID)
}

func eventsChannel(ownerID string) string {
	return fmt.Sprintf("%s:%s:events", keyPrefix, ownerID)
}

// Write implements service.Collection.
func (s *Store) Write(ctx context.Context, ownerID, taskID string, t task.Task) error {
	t.ID = taskID
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encoding task %s: %w", taskID, err)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, tasksKey(ownerID), taskID, data)
		pipe.Publish(ctx, eventsChannel(ownerID), taskID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("writing task %s: %w", taskID, err)
	}
	return nil
}

// Delete implements service.Collection.
func (s *Store) Delete(ctx context.Context, ownerID, taskID string) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, tasksKey(ownerID), taskID)
		pipe.Publish(ctx, eventsChannel(ownerID), taskID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("deleting task %s: %w", taskID, err)
	}
	return nil
}

// Listen implements service.Collection. The channel subscription is
// confirmed before the first read so no change between the two is lost.
func (s *Store) Listen(ctx context.Context, ownerID string, fn func(service.Snapshot)) (service.Subscription, error) {
	pubsub := s.rdb.Subscribe(ctx, eventsChannel(ownerID))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribing to %s: %w", eventsChannel(ownerID), err)
	}

	first, err := s.Snapshot(ctx, ownerID)
	if err != nil {
		pubsub.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn(first)
		read := func(ctx context.Context) (service.Snapshot, error) { return s.Snapshot(ctx, ownerID) }
		follow(ctx, pubsub.Channel(), read, fn, s.log.With(zap.String("owner_id", ownerID)))
	}()

	return service.SubscriptionFunc(func() {
		cancel()
		pubsub.Close()
		<-done
	}), nil
}

// follow rereads the collection after every event on msgs until ctx ends or
// msgs is closed. A burst of queued events costs one read.
func follow(ctx context.Context, msgs <-chan *redis.Message, read func(context.Context) (service.Snapshot, error), fn func(service.Snapshot), log *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-msgs:
			if !ok {
				return
			}
		}
		for drained := false; !drained; {
			select {
			case _, ok := <-msgs:
				if !ok {
					return
				}
			default:
				drained = true
			}
		}

		snap, err := read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Warn("reading tasks failed", zap.Error(err))
			}
			continue
		}
		fn(snap)
	}
}

// Snapshot reads the owner's collection ordered by title. Fields that fail
// to decode are reported individually.
func (s *Store) Snapshot(ctx context.Context, ownerID string) (service.Snapshot, error) {
	fields, err := s.rdb.HGetAll(ctx, tasksKey(ownerID)).Result()
	if err != nil {
		return service.Snapshot{}, fmt.Errorf("listing tasks: %w", err)
	}
	return decodeAll(fields), nil
}

func decodeAll(fields map[string]string) service.Snapshot {
	var snap service.Snapshot
	for id, raw := range fields {
		var t task.Task
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			snap.Skipped = append(snap.Skipped, &service.DecodeError{TaskID: id, Err: err})
			continue
		}
		if t.ID != id {
			snap.Skipped = append(snap.Skipped, &service.DecodeError{
				TaskID: id,
				Err:    fmt.Errorf("record id %q does not match key", t.ID),
			})
			continue
		}
		snap.Tasks = append(snap.Tasks, t)
	}
	task.SortByTitle(snap.Tasks)
	return snap
}
