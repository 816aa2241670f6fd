package models

import "time"

// Application represents one contact's sign-up for a recruitment.
// (RecruitmentID, ContactNormalized) is unique.
type Application struct {
	ID                string    `json:"id" db:"id"`
	RecruitmentID     string    `json:"recruitmentId" db:"recruitment_id"`
	Contact           string    `json:"contact" db:"contact"`
	ContactNormalized string    `json:"-" db:"contact_normalized"`
	Name              *string   `json:"name" db:"name"`
	Message           *string   `json:"message" db:"message"`
	CreatedAt         time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt         time.Time `json:"updatedAt" db:"updated_at"`
}

// ApplicationWithRecruitment 联系人的申请列表项
type ApplicationWithRecruitment struct {
	Application
	Recruitment RecruitmentSummary `json:"recruitment"`
}

// ApplicationPatch 申请人可修改的字段。nil 保持不变，指向 "" 表示清空。
type ApplicationPatch struct {
	Name    *string
	Message *string
}

// IsEmpty 没有任何需要更新的字段
func (p ApplicationPatch) IsEmpty() bool {
	return p.Name == nil && p.Message == nil
}

// NewApplication 待插入的申请（ID/时间戳由存储层填写）
type NewApplication struct {
	RecruitmentID     string
	Contact           string
	ContactNormalized string
	Name              *string
	Message           *string
}

// SubmitApplicationRequest represents the public apply payload
type SubmitApplicationRequest struct {
	RecruitmentID string  `json:"recruitmentId"`
	Contact       string  `json:"contact"`
	Name          *string `json:"name,omitempty"`
	Message       *string `json:"message,omitempty"`
}

// EditApplicationRequest represents the owner's edit payload
type EditApplicationRequest struct {
	Contact string  `json:"contact"`
	Name    *string `json:"name,omitempty"`
	Message *string `json:"message,omitempty"`
}

// WithdrawApplicationRequest represents the owner's withdraw payload
type WithdrawApplicationRequest struct {
	Contact string `json:"contact"`
}

// SubmitResult 提交成功后返回给客户端的内容
type SubmitResult struct {
	Application *Application `json:"application"`
	// 归一化后的联系方式，客户端据此查询自己的申请
	ContactNormalized string `json:"contactNormalized"`
	AppliedCount      int    `json:"appliedCount"`
	Capacity          int    `json:"capacity"`
}
