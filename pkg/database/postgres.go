package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"church-recruit-backend/pkg/apperrors"
	"church-recruit-backend/pkg/logger"
	"church-recruit-backend/pkg/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const (
	recruitmentColumns = `id, church_code, title, content, capacity, applied_count, status, created_at, updated_at`
	applicationColumns = `id, recruitment_id, contact, contact_normalized, name, message, created_at, updated_at`
	userColumns        = `id, church_code, name, phone_last4, created_at`
)

// PostgreSQL error codes
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgInvalidText         = "22P02"
)

var (
	errRecruitmentNotFound = apperrors.NotFound("해당 모집글을 찾을 수 없습니다.")
	errApplicationNotFound = apperrors.NotFound("신청 내역을 찾을 수 없습니다.")
	errUserNotFound        = apperrors.NotFound("사용자를 찾을 수 없습니다.")
)

// PostgresDatabase PostgreSQL数据库实现
type PostgresDatabase struct {
	db  *sqlx.DB
	log logger.Logger
}

// NewPostgresDatabase 创建PostgreSQL数据库实例
func NewPostgresDatabase(dsn string, log logger.Logger) (*PostgresDatabase, error) {
	if log == nil {
		log = logger.NewNoOpLogger()
	}

	// Sanitize DSN to avoid stray CR/LF from env values
	dsn = strings.TrimSpace(dsn)
	strategies := []string{
		addConnectionParams(dsn, "connect_timeout=10"),
		dsn, // 最后尝试原始DSN
	}

	var lastErr error
	for i, strategy := range strategies {
		db, err := sqlx.Open("postgres", strategy)
		if err != nil {
			log.Warn("postgres open failed", map[string]interface{}{"strategy": i + 1, "error": err.Error()})
			lastErr = err
			continue
		}

		// 连接池参数，适合无服务器环境
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(5 * time.Minute)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = db.PingContext(ctx)
		cancel()
		if err != nil {
			log.Warn("postgres ping failed", map[string]interface{}{"strategy": i + 1, "error": err.Error()})
			_ = db.Close()
			lastErr = err
			continue
		}

		log.Info("postgres connection established", map[string]interface{}{"strategy": i + 1})
		return &PostgresDatabase{db: db, log: log}, nil
	}

	return nil, fmt.Errorf("failed to connect to PostgreSQL with all strategies: %w", lastErr)
}

// NewPostgresFromDB 基于已有连接构建（测试/迁移脚本使用）
func NewPostgresFromDB(db *sqlx.DB, log logger.Logger) *PostgresDatabase {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &PostgresDatabase{db: db, log: log}
}

// DB 暴露底层连接（迁移使用）
func (db *PostgresDatabase) DB() *sql.DB {
	return db.db.DB
}

// addConnectionParams 添加连接参数到DSN
func addConnectionParams(dsn, params string) string {
	if params == "" || strings.Contains(dsn, params) {
		return dsn
	}

	separator := "?"
	if strings.Contains(dsn, "?") {
		separator = "&"
	}

	return dsn + separator + params
}

// withTx 在事务中执行 fn；fn 返回错误时回滚
func (db *PostgresDatabase) withTx(ctx context.Context, op string, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperrors.Storage(op+": begin", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return apperrors.Storage(op+": commit", err)
	}
	return nil
}

func pgErrorCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// CreateRecruitment 创建招募
func (db *PostgresDatabase) CreateRecruitment(ctx context.Context, r *models.Recruitment) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.Status == "" {
		r.Status = models.StatusOpen
	}

	query := `
		INSERT INTO recruitments (id, church_code, title, content, capacity, applied_count, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6, NOW(), NOW())
		RETURNING ` + recruitmentColumns

	if err := db.db.GetContext(ctx, r, query, r.ID, r.ChurchCode, r.Title, r.Content, r.Capacity, string(r.Status)); err != nil {
		return apperrors.Storage("create recruitment", err)
	}
	return nil
}

// GetRecruitment 根据ID获取招募
func (db *PostgresDatabase) GetRecruitment(ctx context.Context, id string) (*models.Recruitment, error) {
	var r models.Recruitment
	err := db.db.GetContext(ctx, &r, `SELECT `+recruitmentColumns+` FROM recruitments WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || pgErrorCode(err) == pgInvalidText {
			return nil, errRecruitmentNotFound
		}
		return nil, apperrors.Storage("get recruitment", err)
	}
	return &r, nil
}

// ListRecruitments 列出招募
func (db *PostgresDatabase) ListRecruitments(ctx context.Context, churchCode string) ([]models.Recruitment, error) {
	query := `SELECT ` + recruitmentColumns + ` FROM recruitments WHERE ($1 = '' OR church_code = $1) ORDER BY created_at DESC`

	items := []models.Recruitment{}
	if err := db.db.SelectContext(ctx, &items, query, churchCode); err != nil {
		return nil, apperrors.Storage("list recruitments", err)
	}
	return items, nil
}

// UpdateRecruitment 部分更新招募
func (db *PostgresDatabase) UpdateRecruitment(ctx context.Context, id string, patch models.RecruitmentPatch) (*models.Recruitment, error) {
	if patch.IsEmpty() {
		return db.GetRecruitment(ctx, id)
	}

	args := []interface{}{id}
	sets := make([]string, 0, 5)
	add := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if patch.Title != nil {
		add("title", *patch.Title)
	}
	if patch.Content != nil {
		add("content", *patch.Content)
	}
	if patch.Capacity != nil {
		add("capacity", *patch.Capacity)
	}
	if patch.Status != nil {
		add("status", string(*patch.Status))
	}
	sets = append(sets, "updated_at = NOW()")

	query := fmt.Sprintf(`UPDATE recruitments SET %s WHERE id = $1 RETURNING %s`, strings.Join(sets, ", "), recruitmentColumns)

	var r models.Recruitment
	if err := db.db.GetContext(ctx, &r, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) || pgErrorCode(err) == pgInvalidText {
			return nil, errRecruitmentNotFound
		}
		return nil, apperrors.Storage("update recruitment", err)
	}
	return &r, nil
}

// DeleteRecruitment 删除招募（存在申请时拒绝）
func (db *PostgresDatabase) DeleteRecruitment(ctx context.Context, id string) error {
	return db.withTx(ctx, "delete recruitment", func(tx *sqlx.Tx) error {
		if _, err := lockRecruitment(ctx, tx, id); err != nil {
			return err
		}

		count, err := countApplications(ctx, tx, id)
		if err != nil {
			return err
		}
		if count > 0 {
			return apperrors.ErrHasApplications
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM recruitments WHERE id = $1`, id); err != nil {
			if pgErrorCode(err) == pgForeignKeyViolation {
				return apperrors.ErrHasApplications
			}
			return apperrors.Storage("delete recruitment", err)
		}
		return nil
	})
}

// PurgeRecruitments 删除招募及其申请
func (db *PostgresDatabase) PurgeRecruitments(ctx context.Context, ids []string) (int, int, error) {
	if len(ids) == 0 {
		return 0, 0, nil
	}

	var deletedRecruitments, deletedApplications int64
	err := db.withTx(ctx, "purge recruitments", func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM applications WHERE recruitment_id = ANY($1)`, pq.Array(ids))
		if err != nil {
			return apperrors.Storage("purge applications", err)
		}
		deletedApplications, _ = res.RowsAffected()

		res, err = tx.ExecContext(ctx, `DELETE FROM recruitments WHERE id = ANY($1)`, pq.Array(ids))
		if err != nil {
			return apperrors.Storage("purge recruitments", err)
		}
		deletedRecruitments, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return int(deletedRecruitments), int(deletedApplications), nil
}

// lockRecruitment 对招募行加锁（SELECT ... FOR UPDATE），同一招募的提交/撤回串行化
func lockRecruitment(ctx context.Context, tx *sqlx.Tx, id string) (*models.Recruitment, error) {
	var r models.Recruitment
	err := tx.GetContext(ctx, &r, `SELECT `+recruitmentColumns+` FROM recruitments WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || pgErrorCode(err) == pgInvalidText {
			return nil, errRecruitmentNotFound
		}
		return nil, apperrors.Storage("lock recruitment", err)
	}
	return &r, nil
}

func countApplications(ctx context.Context, tx *sqlx.Tx, recruitmentID string) (int, error) {
	var count int
	if err := tx.GetContext(ctx, &count, `SELECT COUNT(*) FROM applications WHERE recruitment_id = $1`, recruitmentID); err != nil {
		return 0, apperrors.Storage("count applications", err)
	}
	return count, nil
}

// syncAppliedCount 以真实行数重写 applied_count
func syncAppliedCount(ctx context.Context, tx *sqlx.Tx, recruitmentID string) (*models.Recruitment, error) {
	count, err := countApplications(ctx, tx, recruitmentID)
	if err != nil {
		return nil, err
	}
	if count < 0 {
		count = 0
	}

	var r models.Recruitment
	query := `UPDATE recruitments SET applied_count = $2, updated_at = NOW() WHERE id = $1 RETURNING ` + recruitmentColumns
	if err := tx.GetContext(ctx, &r, query, recruitmentID, count); err != nil {
		return nil, apperrors.Storage("sync applied count", err)
	}
	return &r, nil
}

// SubmitApplication 提交申请：锁定招募 -> 状态/名额检查 -> 插入 -> 重算 applied_count
func (db *PostgresDatabase) SubmitApplication(ctx context.Context, app models.NewApplication) (*models.Application, *models.Recruitment, error) {
	var created models.Application
	var updated *models.Recruitment

	err := db.withTx(ctx, "submit application", func(tx *sqlx.Tx) error {
		rec, err := lockRecruitment(ctx, tx, app.RecruitmentID)
		if err != nil {
			return err
		}
		if !rec.IsOpen() {
			return apperrors.ErrClosed
		}

		count, err := countApplications(ctx, tx, rec.ID)
		if err != nil {
			return err
		}
		if count >= rec.Capacity {
			return apperrors.ErrCapacityFull
		}

		query := `
			INSERT INTO applications (id, recruitment_id, contact, contact_normalized, name, message, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
			RETURNING ` + applicationColumns
		err = tx.GetContext(ctx, &created, query,
			uuid.New().String(), rec.ID, app.Contact, app.ContactNormalized, app.Name, app.Message)
		if err != nil {
			if pgErrorCode(err) == pgUniqueViolation {
				return apperrors.ErrAlreadyApplied
			}
			return apperrors.Storage("insert application", err)
		}

		updated, err = syncAppliedCount(ctx, tx, rec.ID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return &created, updated, nil
}

// GetApplication 根据ID获取申请
func (db *PostgresDatabase) GetApplication(ctx context.Context, id string) (*models.Application, error) {
	var a models.Application
	err := db.db.GetContext(ctx, &a, `SELECT `+applicationColumns+` FROM applications WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || pgErrorCode(err) == pgInvalidText {
			return nil, errApplicationNotFound
		}
		return nil, apperrors.Storage("get application", err)
	}
	return &a, nil
}

// FindApplication 按招募与联系方式查找申请
func (db *PostgresDatabase) FindApplication(ctx context.Context, recruitmentID, contactNormalized string) (*models.Application, error) {
	var a models.Application
	query := `SELECT ` + applicationColumns + ` FROM applications WHERE recruitment_id = $1 AND contact_normalized = $2`
	err := db.db.GetContext(ctx, &a, query, recruitmentID, contactNormalized)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || pgErrorCode(err) == pgInvalidText {
			return nil, nil
		}
		return nil, apperrors.Storage("find application", err)
	}
	return &a, nil
}

type contactApplicationRow struct {
	models.Application
	RecruitmentTitle  string                   `db:"recruitment_title"`
	RecruitmentStatus models.RecruitmentStatus `db:"recruitment_status"`
}

// ListApplicationsByContact 列出联系人的全部申请（新的在前）
func (db *PostgresDatabase) ListApplicationsByContact(ctx context.Context, contactNormalized string) ([]models.ApplicationWithRecruitment, error) {
	query := `
		SELECT a.id, a.recruitment_id, a.contact, a.contact_normalized, a.name, a.message, a.created_at, a.updated_at,
		       r.title AS recruitment_title, r.status AS recruitment_status
		FROM applications a
		JOIN recruitments r ON r.id = a.recruitment_id
		WHERE a.contact_normalized = $1
		ORDER BY a.created_at DESC`

	var rows []contactApplicationRow
	if err := db.db.SelectContext(ctx, &rows, query, contactNormalized); err != nil {
		return nil, apperrors.Storage("list applications by contact", err)
	}

	items := make([]models.ApplicationWithRecruitment, 0, len(rows))
	for _, row := range rows {
		items = append(items, models.ApplicationWithRecruitment{
			Application: row.Application,
			Recruitment: models.RecruitmentSummary{
				ID:     row.RecruitmentID,
				Title:  row.RecruitmentTitle,
				Status: row.RecruitmentStatus,
			},
		})
	}
	return items, nil
}

// ListApplicationsByRecruitment 列出招募的全部申请（按提交顺序）
func (db *PostgresDatabase) ListApplicationsByRecruitment(ctx context.Context, recruitmentID string) ([]models.Application, error) {
	items := []models.Application{}
	query := `SELECT ` + applicationColumns + ` FROM applications WHERE recruitment_id = $1 ORDER BY created_at ASC`
	if err := db.db.SelectContext(ctx, &items, query, recruitmentID); err != nil {
		return nil, apperrors.Storage("list applications by recruitment", err)
	}
	return items, nil
}

// lockApplication 锁定申请行并校验归属
func lockApplication(ctx context.Context, tx *sqlx.Tx, id, contactNormalized string) (*models.Application, error) {
	var a models.Application
	err := tx.GetContext(ctx, &a, `SELECT `+applicationColumns+` FROM applications WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || pgErrorCode(err) == pgInvalidText {
			return nil, errApplicationNotFound
		}
		return nil, apperrors.Storage("lock application", err)
	}
	if a.ContactNormalized != contactNormalized {
		return nil, apperrors.ErrForbidden
	}
	return &a, nil
}

// UpdateApplication 修改申请的 name/message
func (db *PostgresDatabase) UpdateApplication(ctx context.Context, id, contactNormalized string, patch models.ApplicationPatch) (*models.Application, error) {
	var updated models.Application

	err := db.withTx(ctx, "update application", func(tx *sqlx.Tx) error {
		current, err := lockApplication(ctx, tx, id, contactNormalized)
		if err != nil {
			return err
		}
		if patch.IsEmpty() {
			updated = *current
			return nil
		}

		args := []interface{}{id}
		sets := make([]string, 0, 3)
		if patch.Name != nil {
			args = append(args, nullIfEmpty(*patch.Name))
			sets = append(sets, fmt.Sprintf("name = $%d", len(args)))
		}
		if patch.Message != nil {
			args = append(args, nullIfEmpty(*patch.Message))
			sets = append(sets, fmt.Sprintf("message = $%d", len(args)))
		}
		sets = append(sets, "updated_at = NOW()")

		query := fmt.Sprintf(`UPDATE applications SET %s WHERE id = $1 RETURNING %s`, strings.Join(sets, ", "), applicationColumns)
		if err := tx.GetContext(ctx, &updated, query, args...); err != nil {
			return apperrors.Storage("update application", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// WithdrawApplication 撤回申请：校验归属 -> 锁定招募 -> 删除 -> 重算 applied_count
func (db *PostgresDatabase) WithdrawApplication(ctx context.Context, id, contactNormalized string) (*models.Recruitment, error) {
	var updated *models.Recruitment

	err := db.withTx(ctx, "withdraw application", func(tx *sqlx.Tx) error {
		var a models.Application
		err := tx.GetContext(ctx, &a, `SELECT `+applicationColumns+` FROM applications WHERE id = $1`, id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) || pgErrorCode(err) == pgInvalidText {
				return errApplicationNotFound
			}
			return apperrors.Storage("load application", err)
		}
		if a.ContactNormalized != contactNormalized {
			return apperrors.ErrForbidden
		}

		if _, err := lockRecruitment(ctx, tx, a.RecruitmentID); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `DELETE FROM applications WHERE id = $1`, id)
		if err != nil {
			return apperrors.Storage("delete application", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			// 并发撤回已先一步删除
			return errApplicationNotFound
		}

		updated, err = syncAppliedCount(ctx, tx, a.RecruitmentID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// UpsertUser 按 (church_code, name, phone_last4) 创建或复用用户
func (db *PostgresDatabase) UpsertUser(ctx context.Context, u *models.User) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}

	query := `
		INSERT INTO users (id, church_code, name, phone_last4, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (church_code, name, phone_last4) DO UPDATE SET name = EXCLUDED.name
		RETURNING ` + userColumns

	if err := db.db.GetContext(ctx, u, query, u.ID, u.ChurchCode, u.Name, u.PhoneLast4); err != nil {
		return apperrors.Storage("upsert user", err)
	}
	return nil
}

// GetUser 根据ID获取用户
func (db *PostgresDatabase) GetUser(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	err := db.db.GetContext(ctx, &u, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || pgErrorCode(err) == pgInvalidText {
			return nil, errUserNotFound
		}
		return nil, apperrors.Storage("get user", err)
	}
	return &u, nil
}

// HealthCheck 健康检查
func (db *PostgresDatabase) HealthCheck(ctx context.Context) error {
	return db.db.PingContext(ctx)
}

// Close 关闭数据库连接
func (db *PostgresDatabase) Close() error {
	return db.db.Close()
}
