package redisad

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"reviewsync/internal/domain"
)

type Client struct {
	c       *redis.Client
	lockTTL time.Duration
}

func New(addr, pass string, db int, lockTTL time.Duration) *Client {
	if lockTTL <= 0 {
		lockTTL = 5 * time.Minute
	}
	return &Client{
		c:       redis.NewClient(&redis.Options{Addr: addr, Password: pass, DB: db}),
		lockTTL: lockTTL,
	}
}

// Acquire takes the advisory per-connection sync lock. A false return means
// another sync for this connection is already in flight. The TTL bounds how
// long a crashed sync can hold the lock.
func (r *Client) Acquire(ctx context.Context, connectionID int64) (bool, error) {
	return r.c.SetNX(ctx, lockKey(connectionID), "1", r.lockTTL).Result()
}

func (r *Client) Release(ctx context.Context, connectionID int64) error {
	return r.c.Del(ctx, lockKey(connectionID)).Err()
}

func lockKey(id int64) string { return fmt.Sprintf("sync:conn:%d", id) }

// PendingConnection is the server-side record for an in-progress OAuth
// connect flow (e.g. Facebook page selection). It replaces handing the
// payload to the client in a cookie.
type PendingConnection struct {
	BusinessID int64           `json:"business_id"`
	Platform   domain.Platform `json:"platform"`
	Payload    json.RawMessage `json:"payload"`
}

const pendingTTL = 15 * time.Minute

// CreatePending stores p under a fresh single-use token.
func (r *Client) CreatePending(ctx context.Context, p PendingConnection) (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	token := hex.EncodeToString(buf[:])
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	if err := r.c.Set(ctx, pendingKey(token), b, pendingTTL).Err(); err != nil {
		return "", err
	}
	return token, nil
}

// TakePending consumes the record; a second take of the same token fails.
func (r *Client) TakePending(ctx context.Context, token string) (PendingConnection, error) {
	b, err := r.c.GetDel(ctx, pendingKey(token)).Bytes()
	if err == redis.Nil {
		return PendingConnection{}, domain.ErrNotFound
	}
	if err != nil {
		return PendingConnection{}, err
	}
	var p PendingConnection
	if err := json.Unmarshal(b, &p); err != nil {
		return PendingConnection{}, err
	}
	return p, nil
}

func pendingKey(token string) string { return "pending:conn:" + token }
