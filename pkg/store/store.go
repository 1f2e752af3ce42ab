package store

import (
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Options 构造存储后端所需的参数，由调用方从自己的配置里填写
type Options struct {
	Backend string // file, etcd, redis

	FilePath string

	EtcdEndpoints   []string
	EtcdDialTimeout time.Duration
	EtcdPrefix      string

	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	RedisPoolSize    int
	RedisDialTimeout time.Duration
	RedisPrefix      string
}

// New 按 Backend 构造存储后端
func New(opts Options) (Store, error) {
	switch opts.Backend {
	case "", "file":
		return NewFileStore(opts.FilePath)
	case "etcd":
		return NewEtcdManager(opts.EtcdEndpoints, opts.EtcdDialTimeout, opts.EtcdPrefix)
	case "redis":
		return NewRedisStore(&redis.Options{
			Addr:        opts.RedisAddr,
			Password:    opts.RedisPassword,
			DB:          opts.RedisDB,
			PoolSize:    opts.RedisPoolSize,
			DialTimeout: opts.RedisDialTimeout,
		}, opts.RedisPrefix)
	default:
		return nil, fmt.Errorf("unknown registry backend %q", opts.Backend)
	}
}
