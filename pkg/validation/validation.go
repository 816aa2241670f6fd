// Package validation 用 JSON Schema 校验请求体，失败时返回带字段明细的 VALIDATION_ERROR
package validation

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"church-recruit-backend/pkg/apperrors"

	"github.com/xeipuuv/gojsonschema"
)

// Schema 已编译的请求体 schema
type Schema struct {
	name   string
	schema *gojsonschema.Schema
}

var (
	Apply             = mustCompile("apply", applySchema)
	EditApplication   = mustCompile("edit_application", editSchema)
	Withdraw          = mustCompile("withdraw", withdrawSchema)
	CreateRecruitment = mustCompile("create_recruitment", createRecruitmentSchema)
	UpdateRecruitment = mustCompile("update_recruitment", updateRecruitmentSchema)
	UpdateStatus      = mustCompile("update_status", statusSchema)
	AdminLogin        = mustCompile("admin_login", loginSchema)
	Identify          = mustCompile("identify", identifySchema)
)

const (
	msgInvalidJSON = "유효한 JSON 본문이 아닙니다."
	msgFailed      = "입력값 검증에 실패했습니다."
	rootField      = "(root)"
	bodyField      = "body"
)

func mustCompile(name, src string) *Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("compile %s schema: %v", name, err))
	}
	return &Schema{name: name, schema: s}
}

// Name schema 名称
func (s *Schema) Name() string {
	return s.name
}

// Validate 校验原始 JSON
func (s *Schema) Validate(raw []byte) error {
	if len(strings.TrimSpace(string(raw))) == 0 || !json.Valid(raw) {
		return apperrors.FieldValidation(msgInvalidJSON, bodyField, "invalid json")
	}

	result, err := s.schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return apperrors.FieldValidation(msgInvalidJSON, bodyField, err.Error())
	}
	if result.Valid() {
		return nil
	}

	return apperrors.Validation(msgFailed, collectFields(result.Errors()))
}

// Decode 校验后解码到 dst
func (s *Schema) Decode(raw []byte, dst interface{}) error {
	if err := s.Validate(raw); err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return apperrors.FieldValidation(msgInvalidJSON, bodyField, err.Error())
	}
	return nil
}

func collectFields(errs []gojsonschema.ResultError) map[string][]string {
	fields := make(map[string][]string)
	for _, e := range errs {
		field := e.Field()
		// required 错误挂在父对象上，取缺失的属性名
		if e.Type() == "required" {
			if p, ok := e.Details()["property"].(string); ok {
				field = p
			}
		}
		if field == rootField {
			field = bodyField
		}
		fields[field] = append(fields[field], e.Description())
	}
	for k := range fields {
		sort.Strings(fields[k])
	}
	return fields
}
