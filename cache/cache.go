// Package cache 提供缓存抽象与基于 bigcache 的本地实现。
package cache

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"
)

// ErrCacheMiss 键不存在或已过期。
var ErrCacheMiss = errors.New("cache miss")

// Cache 定义缓存接口。
type Cache interface {
	Get(ctx context.Context, key string, value any) error
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	Close() error
}

// Key 以冒号拼接命名空间与各组成部分。浮点数使用最短往返表示，保证不同数值不会映射到同一个键。
func Key(namespace string, parts ...any) string {
	var b strings.Builder
	b.WriteString(namespace)
	for _, p := range parts {
		b.WriteByte(':')
		switch v := p.(type) {
		case string:
			b.WriteString(v)
		case float64:
			b.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
		case int:
			b.WriteString(strconv.Itoa(v))
		case uint64:
			b.WriteString(strconv.FormatUint(v, 10))
		case bool:
			b.WriteString(strconv.FormatBool(v))
		case interface{ String() string }:
			b.WriteString(v.String())
		default:
			b.WriteString("?")
		}
	}
	return b.String()
}
