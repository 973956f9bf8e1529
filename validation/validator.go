// Package validation 声明与配置字段校验
package validation

import (
	"fmt"
	"regexp"
	"strings"

	"linkrt/errors"
	"linkrt/transport"
)

var nameRegex = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.\-]*$`)

// ValidateRequired 验证必填字段
func ValidateRequired(value, fieldName string) error {
	if strings.TrimSpace(value) == "" {
		return errors.NewError(errors.ErrCodeValidation,
			fmt.Sprintf("%s不能为空", fieldName))
	}
	return nil
}

// ValidateName 验证逻辑名称：字母、数字、下划线、点、连字符
func ValidateName(value, fieldName string) error {
	if err := ValidateRequired(value, fieldName); err != nil {
		return err
	}
	if !nameRegex.MatchString(value) {
		return errors.NewError(errors.ErrCodeValidation,
			fmt.Sprintf("%s格式不正确: %q", fieldName, value))
	}
	return nil
}

// ValidateKey 验证路由键语法
func ValidateKey(value, fieldName string) error {
	if err := ValidateRequired(value, fieldName); err != nil {
		return err
	}
	if err := transport.ValidateKey(value); err != nil {
		return errors.WrapError(err, errors.ErrCodeValidation,
			fmt.Sprintf("%s不是合法的路由键: %q", fieldName, value))
	}
	return nil
}

// ValidatePositive 验证正数
func ValidatePositive(value int, fieldName string) error {
	if value <= 0 {
		return errors.NewError(errors.ErrCodeValidation,
			fmt.Sprintf("%s必须为正数（当前%d）", fieldName, value))
	}
	return nil
}

// ValidateIntRange 验证整数范围
func ValidateIntRange(value int, fieldName string, min, max int) error {
	if value < min {
		return errors.NewError(errors.ErrCodeValidation,
			fmt.Sprintf("%s不能小于%d（当前%d）", fieldName, min, value))
	}
	if value > max {
		return errors.NewError(errors.ErrCodeValidation,
			fmt.Sprintf("%s不能大于%d（当前%d）", fieldName, max, value))
	}
	return nil
}

// ValidateEnum 验证枚举值（忽略大小写）
func ValidateEnum(value, fieldName string, validValues []string) error {
	for _, valid := range validValues {
		if strings.EqualFold(value, valid) {
			return nil
		}
	}
	return errors.NewError(errors.ErrCodeValidation,
		fmt.Sprintf("%s的值无效，必须是以下之一: %v", fieldName, validValues))
}

// Unique 记录已出现的名称，用于检测重复声明
type Unique struct {
	kind string
	seen map[string]struct{}
}

// NewUnique 创建名称去重器，kind 用于错误信息
func NewUnique(kind string) *Unique {
	return &Unique{kind: kind, seen: make(map[string]struct{})}
}

// Add 加入名称，重复时返回校验错误
func (u *Unique) Add(name string) error {
	if _, ok := u.seen[name]; ok {
		return errors.NewError(errors.ErrCodeValidation,
			fmt.Sprintf("重复的%s名称: %q", u.kind, name))
	}
	u.seen[name] = struct{}{}
	return nil
}
