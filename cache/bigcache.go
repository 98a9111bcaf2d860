package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/wyfcoding/mcvol/metrics"
)

// BigCache 使用 `allegro/bigcache` 实现 `Cache` 接口，值以 JSON 存储。
// 所有条目共享构造时的 TTL。
type BigCache struct {
	cache  *bigcache.BigCache
	prefix string
	hits   prometheus.Counter
	misses prometheus.Counter
}

// NewBigCache 创建本地缓存。ttl 为全局过期时间，maxMB 为内存上限（0 表示不限）。
// m 为 nil 时不记录命中率指标。
func NewBigCache(prefix string, ttl time.Duration, maxMB int, m *metrics.Metrics) (*BigCache, error) {
	config := bigcache.DefaultConfig(ttl)
	config.HardMaxCacheSize = maxMB
	config.CleanWindow = min(ttl, 5*time.Minute)
	config.Verbose = false

	cache, err := bigcache.New(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("初始化 bigcache 失败: %w", err)
	}

	c := &BigCache{cache: cache, prefix: prefix}
	if m != nil {
		lookups := m.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_lookups_total",
			Help: "Local cache lookups by result",
		}, []string{"prefix", "result"})
		c.hits = lookups.WithLabelValues(prefix, "hit")
		c.misses = lookups.WithLabelValues(prefix, "miss")
	}
	return c, nil
}

func (c *BigCache) key(k string) string {
	if c.prefix == "" {
		return k
	}
	return c.prefix + ":" + k
}

// Get 读取并反序列化到 value（必须为指针），未命中返回 ErrCacheMiss。
func (c *BigCache) Get(_ context.Context, key string, value any) error {
	data, err := c.cache.Get(c.key(key))
	if err != nil {
		if errors.Is(err, bigcache.ErrEntryNotFound) {
			c.observe(c.misses)
			return ErrCacheMiss
		}
		return err
	}
	c.observe(c.hits)
	return json.Unmarshal(data, value)
}

// Set 序列化并写入。bigcache 不支持单键过期，expiration 被忽略。
func (c *BigCache) Set(_ context.Context, key string, value any, _ time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}
	return c.cache.Set(c.key(key), data)
}

// Delete 删除一个或多个键，键不存在不视为错误。
func (c *BigCache) Delete(_ context.Context, keys ...string) error {
	for _, key := range keys {
		if err := c.cache.Delete(c.key(key)); err != nil && !errors.Is(err, bigcache.ErrEntryNotFound) {
			return err
		}
	}
	return nil
}

// Exists 检查键是否存在。
func (c *BigCache) Exists(_ context.Context, key string) (bool, error) {
	_, err := c.cache.Get(c.key(key))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, bigcache.ErrEntryNotFound) {
		return false, nil
	}
	return false, err
}

// Len 返回当前条目数。
func (c *BigCache) Len() int {
	return c.cache.Len()
}

// Close 释放底层资源。
func (c *BigCache) Close() error {
	return c.cache.Close()
}

func (c *BigCache) observe(counter prometheus.Counter) {
	if counter != nil {
		counter.Inc()
	}
}
