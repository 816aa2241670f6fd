package database

import (
	"context"
	"fmt"
	"os"

	"church-recruit-backend/pkg/logger"
	"church-recruit-backend/pkg/models"
)

// DatabaseInterface 定义数据库访问接口
//
// 返回的错误均为 *apperrors.Error：业务结果（NotFound/Closed/CapacityFull/
// AlreadyApplied/Forbidden/HasApplications）或包装后的存储错误。
type DatabaseInterface interface {
	// 招募管理
	CreateRecruitment(ctx context.Context, r *models.Recruitment) error
	GetRecruitment(ctx context.Context, id string) (*models.Recruitment, error)
	// ListRecruitments 按创建时间倒序；churchCode 为空时返回全部
	ListRecruitments(ctx context.Context, churchCode string) ([]models.Recruitment, error)
	UpdateRecruitment(ctx context.Context, id string, patch models.RecruitmentPatch) (*models.Recruitment, error)
	// DeleteRecruitment 存在申请时返回 HasApplications
	DeleteRecruitment(ctx context.Context, id string) error
	// PurgeRecruitments 在一个事务内删除招募及其全部申请
	PurgeRecruitments(ctx context.Context, ids []string) (recruitments int, applications int, err error)

	// 申请（提交/撤回在同一事务内重算 applied_count）
	SubmitApplication(ctx context.Context, app models.NewApplication) (*models.Application, *models.Recruitment, error)
	GetApplication(ctx context.Context, id string) (*models.Application, error)
	// FindApplication 不存在时返回 (nil, nil)
	FindApplication(ctx context.Context, recruitmentID, contactNormalized string) (*models.Application, error)
	ListApplicationsByContact(ctx context.Context, contactNormalized string) ([]models.ApplicationWithRecruitment, error)
	ListApplicationsByRecruitment(ctx context.Context, recruitmentID string) ([]models.Application, error)
	// UpdateApplication 只修改 name/message；contactNormalized 不匹配时返回 Forbidden
	UpdateApplication(ctx context.Context, id, contactNormalized string, patch models.ApplicationPatch) (*models.Application, error)
	// WithdrawApplication 删除申请并返回更新后的招募
	WithdrawApplication(ctx context.Context, id, contactNormalized string) (*models.Recruitment, error)

	// 用户（仅用于展示）
	UpsertUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)

	// 健康检查
	HealthCheck(ctx context.Context) error

	// 关闭连接
	Close() error
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	UseLocalDB   bool
	PostgresDSN  string
	LocalDataDir string
	Debug        bool
	Logger       logger.Logger
}

// NewDatabase 根据配置选择数据库实现：PostgreSQL 优先，其次本地内存库
func NewDatabase(config DatabaseConfig) (DatabaseInterface, error) {
	if config.PostgresDSN != "" && !config.UseLocalDB {
		db, err := NewPostgresDatabase(config.PostgresDSN, config.Logger)
		if err != nil {
			return nil, err
		}
		return db, nil
	}

	if config.UseLocalDB {
		return NewLocalDatabase(config.LocalDataDir, config.Logger), nil
	}

	return nil, fmt.Errorf("no valid database configuration found: set POSTGRES_DSN or USE_LOCAL_DB=true")
}

// IsServerlessEnvironment 检查是否运行在 Vercel/Lambda 等无服务器环境
func IsServerlessEnvironment() bool {
	return os.Getenv("VERCEL_ENV") != "" ||
		os.Getenv("VERCEL_URL") != "" ||
		os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != ""
}
