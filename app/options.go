package app

import "github.com/wyfcoding/mcvol/server"

// Option 配置 App 的函数式选项.
type Option func(*options)

type options struct {
	servers  []server.Server
	hooks    []Hook
	cleanups []func()
}

// WithServer 注册随应用启停的服务器.
func WithServer(servers ...server.Server) Option {
	return func(o *options) {
		o.servers = append(o.servers, servers...)
	}
}

// WithHook 注册生命周期钩子，在服务器启动前按序启动，关闭时逆序停止.
func WithHook(hook Hook) Option {
	return func(o *options) {
		o.hooks = append(o.hooks, hook)
	}
}

// WithCleanup 注册应用退出时执行的清理函数，按注册顺序执行.
func WithCleanup(cleanup func()) Option {
	return func(o *options) {
		if cleanup != nil {
			o.cleanups = append(o.cleanups, cleanup)
		}
	}
}
