package mirrorq

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKey = "convohub:mirror:pending"

// Queue is the redis list holding mirror writes that failed at registration
// time. The API handler enqueues, the reconciler drains.
type Queue struct {
	rdb *redis.Client
	key string
}

func NewQueue(rdb *redis.Client) *Queue {
	return &Queue{
		rdb: rdb,
		key: defaultKey,
	}
}

func (q *Queue) Enqueue(ctx context.Context, p Payload) error {
	b, err := EncodePayload(p)

	if err != nil {
		return err
	}

	return q.rdb.RPush(ctx, q.key, b).Err()
}

// Dequeue blocks up to timeout for the next pending payload. The boolean is
// false when the wait timed out with nothing to do.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (Payload, bool, error) {
	res, err := q.rdb.BLPop(ctx, timeout, q.key).Result()

	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Payload{}, false, nil
		}

		return Payload{}, false, err
	}

	// BLPOP returns [key, value]
	if len(res) != 2 {
		return Payload{}, false, ErrInvalidPayload
	}

	p, err := DecodePayload([]byte(res[1]))

	if err != nil {
		return Payload{}, false, err
	}

	return p, true, nil
}

func (q *Queue) Depth(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.key).Result()
}
