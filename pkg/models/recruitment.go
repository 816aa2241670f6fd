package models

import "time"

// RecruitmentStatus 招募状态
type RecruitmentStatus string

const (
	StatusOpen   RecruitmentStatus = "open"
	StatusClosed RecruitmentStatus = "closed"
)

// Valid 是否为已知状态
func (s RecruitmentStatus) Valid() bool {
	return s == StatusOpen || s == StatusClosed
}

// Recruitment represents a posting that accepts applications up to Capacity
type Recruitment struct {
	ID           string            `json:"id" db:"id"`
	ChurchCode   string            `json:"churchCode" db:"church_code"`
	Title        string            `json:"title" db:"title"`
	Content      string            `json:"content" db:"content"`
	Capacity     int               `json:"capacity" db:"capacity"`
	AppliedCount int               `json:"appliedCount" db:"applied_count"`
	Status       RecruitmentStatus `json:"status" db:"status"`
	CreatedAt    time.Time         `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time         `json:"updatedAt" db:"updated_at"`
}

// IsOpen 是否接受申请
func (r *Recruitment) IsOpen() bool {
	return r.Status == StatusOpen
}

// Remaining 剩余名额（不小于 0）
func (r *Recruitment) Remaining() int {
	if n := r.Capacity - r.AppliedCount; n > 0 {
		return n
	}
	return 0
}

// Summary 列表中附带的简要信息
func (r *Recruitment) Summary() RecruitmentSummary {
	return RecruitmentSummary{ID: r.ID, Title: r.Title, Status: r.Status}
}

// RecruitmentSummary represents the posting fields shown next to an application
type RecruitmentSummary struct {
	ID     string            `json:"id" db:"id"`
	Title  string            `json:"title" db:"title"`
	Status RecruitmentStatus `json:"status" db:"status"`
}

// RecruitmentPatch 部分更新；nil 字段保持不变
type RecruitmentPatch struct {
	Title    *string
	Content  *string
	Capacity *int
	Status   *RecruitmentStatus
}

// IsEmpty 没有任何需要更新的字段
func (p RecruitmentPatch) IsEmpty() bool {
	return p.Title == nil && p.Content == nil && p.Capacity == nil && p.Status == nil
}

// CreateRecruitmentRequest represents the admin payload for a new posting.
// Description is accepted as an alias of Content.
type CreateRecruitmentRequest struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Content     string `json:"content,omitempty"`
	Capacity    int    `json:"capacity"`
}

// Body 返回正文（content 优先，其次 description）
func (r CreateRecruitmentRequest) Body() string {
	if r.Content != "" {
		return r.Content
	}
	return r.Description
}

// UpdateRecruitmentRequest represents the admin partial update payload
type UpdateRecruitmentRequest struct {
	Title    *string `json:"title,omitempty"`
	Content  *string `json:"content,omitempty"`
	Capacity *int    `json:"capacity,omitempty"`
	Status   *string `json:"status,omitempty"`
}

// UpdateStatusRequest represents the admin open/close toggle payload
type UpdateStatusRequest struct {
	Status string `json:"status"`
}
