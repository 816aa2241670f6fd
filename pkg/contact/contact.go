// Package contact 处理申请人联系方式（邮箱或电话号码）的规范化与校验。
package contact

import (
	"regexp"
	"strings"
)

// MinPhoneDigits 电话号码最少位数（韩国号码）
const MinPhoneDigits = 10

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// IsEmail 含 "@" 即按邮箱处理
func IsEmail(s string) bool {
	return strings.Contains(s, "@")
}

// Normalize 去除首尾空白；邮箱整体转小写，电话只保留 0-9。
// Normalize(Normalize(x)) == Normalize(x)
func Normalize(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if IsEmail(trimmed) {
		return strings.ToLower(trimmed)
	}

	var b strings.Builder
	b.Grow(len(trimmed))
	for i := 0; i < len(trimmed); i++ {
		if c := trimmed[i]; c >= '0' && c <= '9' {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// IsValid 校验已规范化的联系方式
func IsValid(normalized string) bool {
	if IsEmail(normalized) {
		return emailPattern.MatchString(normalized)
	}
	return len(normalized) >= MinPhoneDigits
}

// Mask 日志用脱敏：只保留末 4 位
func Mask(normalized string) string {
	if len(normalized) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(normalized)-4) + normalized[len(normalized)-4:]
}
