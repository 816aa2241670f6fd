package utils

import (
	"strings"
	"unicode/utf8"
)

// IsCorrupted 判断文本是否像编码损坏：含 "???"，或 '?' 占比超过 30%
func IsCorrupted(text string) bool {
	if strings.Contains(text, "???") {
		return true
	}

	total := utf8.RuneCountInString(text)
	if total == 0 {
		return false
	}
	return float64(strings.Count(text, "?"))/float64(total) > 0.3
}

// TrimOptional 去除首尾空白；nil 保持 nil
func TrimOptional(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}
