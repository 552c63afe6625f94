package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Pauser tracks tenant-level dispatch pauses raised by anti-bot
// challenges. A paused tenant's jobs stay pending until a human or the
// extension clears the challenge and the pause is lifted.
type Pauser interface {
	Pause(ctx context.Context, tenantID, marketplace string) error
	Resume(ctx context.Context, tenantID, marketplace string) error
	Paused(ctx context.Context, tenantID, marketplace string) (bool, error)
	PausedTenants(ctx context.Context, marketplace string) ([]string, error)
}

type redisPauser struct {
	client *redis.Client
	prefix string
}

func (p *redisPauser) key(marketplace string) string {
	return p.prefix + ":" + marketplace
}

func (p *redisPauser) Pause(ctx context.Context, tenantID, marketplace string) error {
	return p.client.SAdd(ctx, p.key(marketplace), tenantID).Err()
}

func (p *redisPauser) Resume(ctx context.Context, tenantID, marketplace string) error {
	return p.client.SRem(ctx, p.key(marketplace), tenantID).Err()
}

func (p *redisPauser) Paused(ctx context.Context, tenantID, marketplace string) (bool, error) {
	return p.client.SIsMember(ctx, p.key(marketplace), tenantID).Result()
}

func (p *redisPauser) PausedTenants(ctx context.Context, marketplace string) ([]string, error) {
	return p.client.SMembers(ctx, p.key(marketplace)).Result()
}

type memoryPauser struct {
	mu     sync.RWMutex
	paused map[string]map[string]bool
}

func newMemoryPauser() *memoryPauser {
	return &memoryPauser{paused: make(map[string]map[string]bool)}
}

func (p *memoryPauser) Pause(_ context.Context, tenantID, marketplace string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.paused[marketplace] == nil {
		p.paused[marketplace] = make(map[string]bool)
	}
	p.paused[marketplace][tenantID] = true
	return nil
}

func (p *memoryPauser) Resume(_ context.Context, tenantID, marketplace string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.paused[marketplace], tenantID)
	return nil
}

func (p *memoryPauser) Paused(_ context.Context, tenantID, marketplace string) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.paused[marketplace][tenantID], nil
}

func (p *memoryPauser) PausedTenants(_ context.Context, marketplace string) ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	tenants := make([]string, 0, len(p.paused[marketplace]))
	for tenantID := range p.paused[marketplace] {
		tenants = append(tenants, tenantID)
	}
	return tenants, nil
}

// NewPauser builds a Redis-backed pauser shared by all dispatcher workers
// and falls back to in-memory when Redis is unreachable.
func NewPauser(addr, pass string, db int) (Pauser, error) {
	if addr == "" {
		return newMemoryPauser(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: pass,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return newMemoryPauser(), err
	}

	return &redisPauser{client: client, prefix: "dispatch:paused"}, nil
}
