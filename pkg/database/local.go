package database

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"church-recruit-backend/pkg/apperrors"
	"church-recruit-backend/pkg/contact"
	"church-recruit-backend/pkg/logger"
	"church-recruit-backend/pkg/models"

	"github.com/google/uuid"
)

const localDataFile = "recruit-data.json"

// LocalDatabase 本地内存数据库实现（开发/测试用）
//
// 所有操作持有同一把互斥锁，等价于串行化事务。dataDir 非空时，
// 每次写操作后把快照写入 JSON 文件，重启后恢复。
type LocalDatabase struct {
	mu      sync.Mutex
	dataDir string
	log     logger.Logger

	recruitments map[string]*models.Recruitment
	applications map[string]*models.Application
	users        map[string]*models.User
	// 申请插入顺序，用于稳定排序
	order []string
}

type localSnapshot struct {
	Recruitments []models.Recruitment `json:"recruitments"`
	Applications []models.Application `json:"applications"`
	Users        []models.User        `json:"users"`
}

// NewLocalDatabase 创建本地数据库实例
func NewLocalDatabase(dataDir string, log logger.Logger) *LocalDatabase {
	if log == nil {
		log = logger.NewNoOpLogger()
	}

	db := &LocalDatabase{
		dataDir:      dataDir,
		log:          log,
		recruitments: make(map[string]*models.Recruitment),
		applications: make(map[string]*models.Application),
		users:        make(map[string]*models.User),
	}

	if dataDir != "" {
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			// 只读文件系统（如 Vercel）退回纯内存
			log.Warn("local data dir unavailable, using memory only", map[string]interface{}{"dir": dataDir, "error": err.Error()})
			db.dataDir = ""
		} else if err := db.load(); err != nil {
			log.Warn("failed to load local data", map[string]interface{}{"error": err.Error()})
		}
	}

	return db
}

func (db *LocalDatabase) begin(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Storage(op, err)
	}
	db.mu.Lock()
	return nil
}

// CreateRecruitment 创建招募
func (db *LocalDatabase) CreateRecruitment(ctx context.Context, r *models.Recruitment) error {
	if err := db.begin(ctx, "create recruitment"); err != nil {
		return err
	}
	defer db.mu.Unlock()

	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.Status == "" {
		r.Status = models.StatusOpen
	}
	now := time.Now()
	r.AppliedCount = 0
	r.CreatedAt = now
	r.UpdatedAt = now

	stored := *r
	db.recruitments[r.ID] = &stored
	db.persist()
	return nil
}

// GetRecruitment 根据ID获取招募
func (db *LocalDatabase) GetRecruitment(ctx context.Context, id string) (*models.Recruitment, error) {
	if err := db.begin(ctx, "get recruitment"); err != nil {
		return nil, err
	}
	defer db.mu.Unlock()

	r, ok := db.recruitments[id]
	if !ok {
		return nil, errRecruitmentNotFound
	}
	out := *r
	return &out, nil
}

// ListRecruitments 列出招募
func (db *LocalDatabase) ListRecruitments(ctx context.Context, churchCode string) ([]models.Recruitment, error) {
	if err := db.begin(ctx, "list recruitments"); err != nil {
		return nil, err
	}
	defer db.mu.Unlock()

	items := []models.Recruitment{}
	for _, r := range db.recruitments {
		if churchCode == "" || r.ChurchCode == churchCode {
			items = append(items, *r)
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	return items, nil
}

// UpdateRecruitment 部分更新招募
func (db *LocalDatabase) UpdateRecruitment(ctx context.Context, id string, patch models.RecruitmentPatch) (*models.Recruitment, error) {
	if err := db.begin(ctx, "update recruitment"); err != nil {
		return nil, err
	}
	defer db.mu.Unlock()

	r, ok := db.recruitments[id]
	if !ok {
		return nil, errRecruitmentNotFound
	}

	if !patch.IsEmpty() {
		if patch.Title != nil {
			r.Title = *patch.Title
		}
		if patch.Content != nil {
			r.Content = *patch.Content
		}
		if patch.Capacity != nil {
			r.Capacity = *patch.Capacity
		}
		if patch.Status != nil {
			r.Status = *patch.Status
		}
		r.UpdatedAt = time.Now()
		db.persist()
	}

	out := *r
	return &out, nil
}

// DeleteRecruitment 删除招募（存在申请时拒绝）
func (db *LocalDatabase) DeleteRecruitment(ctx context.Context, id string) error {
	if err := db.begin(ctx, "delete recruitment"); err != nil {
		return err
	}
	defer db.mu.Unlock()

	if _, ok := db.recruitments[id]; !ok {
		return errRecruitmentNotFound
	}
	if db.countLocked(id) > 0 {
		return apperrors.ErrHasApplications
	}

	delete(db.recruitments, id)
	db.persist()
	return nil
}

// PurgeRecruitments 删除招募及其申请
func (db *LocalDatabase) PurgeRecruitments(ctx context.Context, ids []string) (int, int, error) {
	if err := db.begin(ctx, "purge recruitments"); err != nil {
		return 0, 0, err
	}
	defer db.mu.Unlock()

	targets := make(map[string]bool, len(ids))
	for _, id := range ids {
		targets[id] = true
	}

	deletedApplications := 0
	for appID, a := range db.applications {
		if targets[a.RecruitmentID] {
			db.removeApplicationLocked(appID)
			deletedApplications++
		}
	}

	deletedRecruitments := 0
	for id := range targets {
		if _, ok := db.recruitments[id]; ok {
			delete(db.recruitments, id)
			deletedRecruitments++
		}
	}

	if deletedRecruitments > 0 || deletedApplications > 0 {
		db.persist()
	}
	return deletedRecruitments, deletedApplications, nil
}

// SubmitApplication 提交申请
func (db *LocalDatabase) SubmitApplication(ctx context.Context, app models.NewApplication) (*models.Application, *models.Recruitment, error) {
	if err := db.begin(ctx, "submit application"); err != nil {
		return nil, nil, err
	}
	defer db.mu.Unlock()

	r, ok := db.recruitments[app.RecruitmentID]
	if !ok {
		return nil, nil, errRecruitmentNotFound
	}
	if !r.IsOpen() {
		return nil, nil, apperrors.ErrClosed
	}
	if db.countLocked(r.ID) >= r.Capacity {
		return nil, nil, apperrors.ErrCapacityFull
	}
	if db.findLocked(r.ID, app.ContactNormalized) != nil {
		return nil, nil, apperrors.ErrAlreadyApplied
	}

	now := time.Now()
	created := &models.Application{
		ID:                uuid.New().String(),
		RecruitmentID:     r.ID,
		Contact:           app.Contact,
		ContactNormalized: app.ContactNormalized,
		Name:              copyString(app.Name),
		Message:           copyString(app.Message),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	db.applications[created.ID] = created
	db.order = append(db.order, created.ID)

	r.AppliedCount = db.countLocked(r.ID)
	r.UpdatedAt = now
	db.persist()

	outApp := *created
	outRec := *r
	return &outApp, &outRec, nil
}

// GetApplication 根据ID获取申请
func (db *LocalDatabase) GetApplication(ctx context.Context, id string) (*models.Application, error) {
	if err := db.begin(ctx, "get application"); err != nil {
		return nil, err
	}
	defer db.mu.Unlock()

	a, ok := db.applications[id]
	if !ok {
		return nil, errApplicationNotFound
	}
	out := *a
	return &out, nil
}

// FindApplication 按招募与联系方式查找申请
func (db *LocalDatabase) FindApplication(ctx context.Context, recruitmentID, contactNormalized string) (*models.Application, error) {
	if err := db.begin(ctx, "find application"); err != nil {
		return nil, err
	}
	defer db.mu.Unlock()

	a := db.findLocked(recruitmentID, contactNormalized)
	if a == nil {
		return nil, nil
	}
	out := *a
	return &out, nil
}

// ListApplicationsByContact 列出联系人的全部申请（新的在前）
func (db *LocalDatabase) ListApplicationsByContact(ctx context.Context, contactNormalized string) ([]models.ApplicationWithRecruitment, error) {
	if err := db.begin(ctx, "list applications by contact"); err != nil {
		return nil, err
	}
	defer db.mu.Unlock()

	items := []models.ApplicationWithRecruitment{}
	for i := len(db.order) - 1; i >= 0; i-- {
		a := db.applications[db.order[i]]
		if a == nil || a.ContactNormalized != contactNormalized {
			continue
		}
		r, ok := db.recruitments[a.RecruitmentID]
		if !ok {
			continue
		}
		items = append(items, models.ApplicationWithRecruitment{
			Application: *a,
			Recruitment: r.Summary(),
		})
	}
	return items, nil
}

// ListApplicationsByRecruitment 列出招募的全部申请（按提交顺序）
func (db *LocalDatabase) ListApplicationsByRecruitment(ctx context.Context, recruitmentID string) ([]models.Application, error) {
	if err := db.begin(ctx, "list applications by recruitment"); err != nil {
		return nil, err
	}
	defer db.mu.Unlock()

	items := []models.Application{}
	for _, id := range db.order {
		if a := db.applications[id]; a != nil && a.RecruitmentID == recruitmentID {
			items = append(items, *a)
		}
	}
	return items, nil
}

// UpdateApplication 修改申请的 name/message
func (db *LocalDatabase) UpdateApplication(ctx context.Context, id, contactNormalized string, patch models.ApplicationPatch) (*models.Application, error) {
	if err := db.begin(ctx, "update application"); err != nil {
		return nil, err
	}
	defer db.mu.Unlock()

	a, ok := db.applications[id]
	if !ok {
		return nil, errApplicationNotFound
	}
	if a.ContactNormalized != contactNormalized {
		return nil, apperrors.ErrForbidden
	}

	if !patch.IsEmpty() {
		if patch.Name != nil {
			a.Name = emptyToNil(*patch.Name)
		}
		if patch.Message != nil {
			a.Message = emptyToNil(*patch.Message)
		}
		a.UpdatedAt = time.Now()
		db.persist()
	}

	out := *a
	return &out, nil
}

// WithdrawApplication 撤回申请
func (db *LocalDatabase) WithdrawApplication(ctx context.Context, id, contactNormalized string) (*models.Recruitment, error) {
	if err := db.begin(ctx, "withdraw application"); err != nil {
		return nil, err
	}
	defer db.mu.Unlock()

	a, ok := db.applications[id]
	if !ok {
		return nil, errApplicationNotFound
	}
	if a.ContactNormalized != contactNormalized {
		return nil, apperrors.ErrForbidden
	}

	// 与 Postgres 一致：先锁定招募，找不到则不做任何修改
	r, ok := db.recruitments[a.RecruitmentID]
	if !ok {
		return nil, errRecruitmentNotFound
	}

	db.removeApplicationLocked(id)
	r.AppliedCount = db.countLocked(r.ID)
	r.UpdatedAt = time.Now()
	db.persist()

	out := *r
	return &out, nil
}

// UpsertUser 按 (church_code, name, phone_last4) 创建或复用用户
func (db *LocalDatabase) UpsertUser(ctx context.Context, u *models.User) error {
	if err := db.begin(ctx, "upsert user"); err != nil {
		return err
	}
	defer db.mu.Unlock()

	for _, existing := range db.users {
		if existing.ChurchCode == u.ChurchCode && existing.Name == u.Name && existing.PhoneLast4 == u.PhoneLast4 {
			*u = *existing
			return nil
		}
	}

	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	u.CreatedAt = time.Now()
	stored := *u
	db.users[u.ID] = &stored
	db.persist()
	return nil
}

// GetUser 根据ID获取用户
func (db *LocalDatabase) GetUser(ctx context.Context, id string) (*models.User, error) {
	if err := db.begin(ctx, "get user"); err != nil {
		return nil, err
	}
	defer db.mu.Unlock()

	u, ok := db.users[id]
	if !ok {
		return nil, errUserNotFound
	}
	out := *u
	return &out, nil
}

// HealthCheck 健康检查
func (db *LocalDatabase) HealthCheck(ctx context.Context) error {
	return ctx.Err()
}

// Close 关闭数据库
func (db *LocalDatabase) Close() error {
	return nil
}

// 辅助函数（调用方持有锁）

func (db *LocalDatabase) countLocked(recruitmentID string) int {
	n := 0
	for _, a := range db.applications {
		if a.RecruitmentID == recruitmentID {
			n++
		}
	}
	return n
}

func (db *LocalDatabase) findLocked(recruitmentID, contactNormalized string) *models.Application {
	for _, a := range db.applications {
		if a.RecruitmentID == recruitmentID && a.ContactNormalized == contactNormalized {
			return a
		}
	}
	return nil
}

func (db *LocalDatabase) removeApplicationLocked(id string) {
	delete(db.applications, id)
	for i, oid := range db.order {
		if oid == id {
			db.order = append(db.order[:i], db.order[i+1:]...)
			break
		}
	}
}

func (db *LocalDatabase) dataFilePath() string {
	return filepath.Join(db.dataDir, localDataFile)
}

// persist 写入快照（尽力而为，失败只记录日志）
func (db *LocalDatabase) persist() {
	if db.dataDir == "" {
		return
	}

	snap := localSnapshot{
		Recruitments: make([]models.Recruitment, 0, len(db.recruitments)),
		Applications: make([]models.Application, 0, len(db.order)),
		Users:        make([]models.User, 0, len(db.users)),
	}
	for _, r := range db.recruitments {
		snap.Recruitments = append(snap.Recruitments, *r)
	}
	for _, id := range db.order {
		snap.Applications = append(snap.Applications, *db.applications[id])
	}
	for _, u := range db.users {
		snap.Users = append(snap.Users, *u)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err == nil {
		err = os.WriteFile(db.dataFilePath(), data, 0644)
	}
	if err != nil {
		db.log.Warn("failed to persist local data", map[string]interface{}{"error": err.Error()})
	}
}

func (db *LocalDatabase) load() error {
	data, err := os.ReadFile(db.dataFilePath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var snap localSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}

	for i := range snap.Recruitments {
		r := snap.Recruitments[i]
		db.recruitments[r.ID] = &r
	}
	// contact_normalized 不参与 JSON 序列化，从原始联系方式恢复
	for i := range snap.Applications {
		a := snap.Applications[i]
		a.ContactNormalized = contact.Normalize(a.Contact)
		db.applications[a.ID] = &a
		db.order = append(db.order, a.ID)
	}
	for i := range snap.Users {
		u := snap.Users[i]
		db.users[u.ID] = &u
	}
	return nil
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func emptyToNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
