package client

import (
	"context"
	"encoding/json"
	"fmt"
	"group_chat/internal/protocol/delivery"
	"group_chat/internal/service/redis"
	"group_chat/internal/utils/log"
	"sort"

	"go.uber.org/zap"
)

// RedisJournal keeps a client's unacknowledged packages in one redis hash
// per owner, field = correlation id.
type RedisJournal struct {
	rdb *redis.RedisService
}

var _ delivery.Journal = (*RedisJournal)(nil)

func NewRedisJournal(rdb *redis.RedisService) *RedisJournal {
	return &RedisJournal{rdb: rdb}
}

func journalKey(owner string) string {
	return fmt.Sprintf("journal:%s", owner)
}

func (j *RedisJournal) Append(ctx context.Context, owner string, rec delivery.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return j.rdb.HSet(ctx, journalKey(owner), rec.ID, data)
}

func (j *RedisJournal) Remove(ctx context.Context, owner string, id string) error {
	return j.rdb.HDel(ctx, journalKey(owner), id)
}

// Load returns the owner's records in their original enqueue order.
func (j *RedisJournal) Load(ctx context.Context, owner string) ([]delivery.Record, error) {
	vals, err := j.rdb.HGetAll(ctx, journalKey(owner))
	if err != nil {
		return nil, err
	}

	res := make([]delivery.Record, 0, len(vals))
	for id, v := range vals {
		var rec delivery.Record
		if err := json.Unmarshal([]byte(v), &rec); err != nil {
			log.Warn("skip corrupt journal entry", zap.String("owner", owner), zap.String("package_id", id), zap.Error(err))
			continue
		}
		res = append(res, rec)
	}
	sort.Slice(res, func(a, b int) bool { return res[a].Seq < res[b].Seq })
	return res, nil
}
