// Package ratelimit 提供按客户端地址的请求限流。
//
// SlidingWindow 为进程内滑动日志实现；RedisWindow 以同样的语义
// 运行在 Redis 有序集合上，供多实例共享；BucketStore 是基于
// x/time/rate 的令牌桶，用于登录类接口。三者都实现 Limiter。
package ratelimit
