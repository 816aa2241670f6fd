package database

import (
	"context"
	"sync"
	"time"

	"church-recruit-backend/pkg/apperrors"
	"church-recruit-backend/pkg/models"
)

const (
	// 空闲超过该时长的连接在下次使用时重建
	poolIdleTimeout = 30 * time.Minute
	// 两次健康检查的最小间隔，避免每次调用都在全局锁内 ping
	poolHealthCheckEvery = 30 * time.Second
)

// DatabasePool 进程级数据库连接复用（无服务器环境一次冷启动一个实例）
type DatabasePool struct {
	instance DatabaseInterface
	config   DatabaseConfig
	mu        sync.RWMutex
	lastUsed  time.Time
	checkedAt time.Time
}

var (
	globalPool *DatabasePool
	poolMutex  sync.Mutex
)

// GetDatabase 获取数据库连接（单例模式 + 健康检查）
func GetDatabase(config DatabaseConfig) (DatabaseInterface, error) {
	poolMutex.Lock()
	defer poolMutex.Unlock()

	if globalPool != nil && !shouldRecreateConnection(globalPool, config) {
		globalPool.mu.Lock()
		globalPool.lastUsed = time.Now()
		globalPool.mu.Unlock()
		return globalPool.instance, nil
	}

	// 关闭旧连接（如果存在）
	if globalPool != nil && globalPool.instance != nil {
		_ = globalPool.instance.Close()
	}

	instance, err := NewDatabase(config)
	if err != nil {
		globalPool = nil
		return nil, err
	}
	now := time.Now()
	globalPool = &DatabasePool{
		instance:  instance,
		config:    config,
		lastUsed:  now,
		checkedAt: now,
	}
	if config.Logger != nil {
		config.Logger.Info("database connection created", map[string]interface{}{
			"use_local_db": config.UseLocalDB,
			"has_postgres": config.PostgresDSN != "",
		})
	}
	return instance, nil
}

// shouldRecreateConnection 判断是否需要重新创建连接
func shouldRecreateConnection(pool *DatabasePool, newConfig DatabaseConfig) bool {
	if pool == nil || pool.instance == nil {
		return true
	}

	if !configEquals(pool.config, newConfig) {
		return true
	}

	// 本地内存库重建会丢失数据
	if pool.config.UseLocalDB {
		return false
	}

	pool.mu.RLock()
	expired := time.Since(pool.lastUsed) > poolIdleTimeout
	fresh := time.Since(pool.checkedAt) < poolHealthCheckEvery
	pool.mu.RUnlock()
	if expired {
		return true
	}
	if fresh {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := pool.instance.HealthCheck(ctx); err != nil {
		return true
	}
	pool.mu.Lock()
	pool.checkedAt = time.Now()
	pool.mu.Unlock()
	return false
}

// configEquals 比较两个数据库配置是否相等
func configEquals(a, b DatabaseConfig) bool {
	return a.UseLocalDB == b.UseLocalDB &&
		a.PostgresDSN == b.PostgresDSN &&
		a.LocalDataDir == b.LocalDataDir
}

// GetConnectionStats 获取连接池统计信息
func GetConnectionStats() map[string]interface{} {
	poolMutex.Lock()
	defer poolMutex.Unlock()

	if globalPool == nil {
		return map[string]interface{}{
			"status":    "no_connection",
			"last_used": nil,
		}
	}

	globalPool.mu.RLock()
	lastUsed := globalPool.lastUsed
	globalPool.mu.RUnlock()

	return map[string]interface{}{
		"status":    "connected",
		"last_used": lastUsed.Format(time.RFC3339),
		"age":       time.Since(lastUsed).String(),
		"config": map[string]interface{}{
			"use_local_db": globalPool.config.UseLocalDB,
			"has_postgres": globalPool.config.PostgresDSN != "",
		},
	}
}

// ClosePool 关闭并丢弃当前连接
func ClosePool() error {
	poolMutex.Lock()
	defer poolMutex.Unlock()

	if globalPool == nil || globalPool.instance == nil {
		globalPool = nil
		return nil
	}
	err := globalPool.instance.Close()
	globalPool = nil
	return err
}

// resetPool 测试用
func resetPool() {
	poolMutex.Lock()
	defer poolMutex.Unlock()
	globalPool = nil
}

// PooledDatabase 每次调用都经由 GetDatabase 取实例。
// 长驻的路由因此也会经过健康检查与空闲重建，连接失效后下一次请求自动恢复。
type PooledDatabase struct {
	config DatabaseConfig
}

var _ DatabaseInterface = (*PooledDatabase)(nil)

// NewPooledDatabase 立即建立一次连接，配置错误在启动时暴露
func NewPooledDatabase(config DatabaseConfig) (*PooledDatabase, error) {
	if _, err := GetDatabase(config); err != nil {
		return nil, err
	}
	return &PooledDatabase{config: config}, nil
}

// Current 返回池中当前实例（必要时重建）
func (p *PooledDatabase) Current() (DatabaseInterface, error) {
	db, err := GetDatabase(p.config)
	if err != nil {
		return nil, apperrors.Storage("connect database", err)
	}
	return db, nil
}

func (p *PooledDatabase) CreateRecruitment(ctx context.Context, r *models.Recruitment) error {
	db, err := p.Current()
	if err != nil {
		return err
	}
	return db.CreateRecruitment(ctx, r)
}

func (p *PooledDatabase) GetRecruitment(ctx context.Context, id string) (*models.Recruitment, error) {
	db, err := p.Current()
	if err != nil {
		return nil, err
	}
	return db.GetRecruitment(ctx, id)
}

func (p *PooledDatabase) ListRecruitments(ctx context.Context, churchCode string) ([]models.Recruitment, error) {
	db, err := p.Current()
	if err != nil {
		return nil, err
	}
	return db.ListRecruitments(ctx, churchCode)
}

func (p *PooledDatabase) UpdateRecruitment(ctx context.Context, id string, patch models.RecruitmentPatch) (*models.Recruitment, error) {
	db, err := p.Current()
	if err != nil {
		return nil, err
	}
	return db.UpdateRecruitment(ctx, id, patch)
}

func (p *PooledDatabase) DeleteRecruitment(ctx context.Context, id string) error {
	db, err := p.Current()
	if err != nil {
		return err
	}
	return db.DeleteRecruitment(ctx, id)
}

func (p *PooledDatabase) PurgeRecruitments(ctx context.Context, ids []string) (int, int, error) {
	db, err := p.Current()
	if err != nil {
		return 0, 0, err
	}
	return db.PurgeRecruitments(ctx, ids)
}

func (p *PooledDatabase) SubmitApplication(ctx context.Context, app models.NewApplication) (*models.Application, *models.Recruitment, error) {
	db, err := p.Current()
	if err != nil {
		return nil, nil, err
	}
	return db.SubmitApplication(ctx, app)
}

func (p *PooledDatabase) GetApplication(ctx context.Context, id string) (*models.Application, error) {
	db, err := p.Current()
	if err != nil {
		return nil, err
	}
	return db.GetApplication(ctx, id)
}

func (p *PooledDatabase) FindApplication(ctx context.Context, recruitmentID, contactNormalized string) (*models.Application, error) {
	db, err := p.Current()
	if err != nil {
		return nil, err
	}
	return db.FindApplication(ctx, recruitmentID, contactNormalized)
}

func (p *PooledDatabase) ListApplicationsByContact(ctx context.Context, contactNormalized string) ([]models.ApplicationWithRecruitment, error) {
	db, err := p.Current()
	if err != nil {
		return nil, err
	}
	return db.ListApplicationsByContact(ctx, contactNormalized)
}

func (p *PooledDatabase) ListApplicationsByRecruitment(ctx context.Context, recruitmentID string) ([]models.Application, error) {
	db, err := p.Current()
	if err != nil {
		return nil, err
	}
	return db.ListApplicationsByRecruitment(ctx, recruitmentID)
}

func (p *PooledDatabase) UpdateApplication(ctx context.Context, id, contactNormalized string, patch models.ApplicationPatch) (*models.Application, error) {
	db, err := p.Current()
	if err != nil {
		return nil, err
	}
	return db.UpdateApplication(ctx, id, contactNormalized, patch)
}

func (p *PooledDatabase) WithdrawApplication(ctx context.Context, id, contactNormalized string) (*models.Recruitment, error) {
	db, err := p.Current()
	if err != nil {
		return nil, err
	}
	return db.WithdrawApplication(ctx, id, contactNormalized)
}

func (p *PooledDatabase) UpsertUser(ctx context.Context, u *models.User) error {
	db, err := p.Current()
	if err != nil {
		return err
	}
	return db.UpsertUser(ctx, u)
}

func (p *PooledDatabase) GetUser(ctx context.Context, id string) (*models.User, error) {
	db, err := p.Current()
	if err != nil {
		return nil, err
	}
	return db.GetUser(ctx, id)
}

func (p *PooledDatabase) HealthCheck(ctx context.Context) error {
	db, err := p.Current()
	if err != nil {
		return err
	}
	return db.HealthCheck(ctx)
}

// Close 关闭池中的连接；之后的调用会重新建立连接
func (p *PooledDatabase) Close() error {
	return ClosePool()
}
