package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"linkrt/errors"
)

func TestValidateRequired(t *testing.T) {
	assert.NoError(t, ValidateRequired("x", "名称"))
	err := ValidateRequired("   ", "名称")
	assert.True(t, errors.IsErrorCode(err, errors.ErrCodeValidation))
}

func TestValidateName(t *testing.T) {
	for _, ok := range []string{"robot_status", "svc.echo", "a-1", "_private"} {
		assert.NoError(t, ValidateName(ok, "topic_name"), ok)
	}
	for _, bad := range []string{"", "has space", "-lead", "a/b"} {
		assert.Error(t, ValidateName(bad, "topic_name"), bad)
	}
}

func TestValidateKey(t *testing.T) {
	assert.NoError(t, ValidateKey("robot/*/status", "topic_key"))
	err := ValidateKey("robot//status", "topic_key")
	assert.True(t, errors.IsErrorCode(err, errors.ErrCodeValidation))
	assert.Contains(t, err.Error(), "topic_key")
	assert.Error(t, ValidateKey("", "topic_key"))
}

func TestValidatePositiveAndRange(t *testing.T) {
	assert.NoError(t, ValidatePositive(1, "capacity"))
	assert.Error(t, ValidatePositive(0, "capacity"))
	assert.Error(t, ValidatePositive(-3, "capacity"))

	assert.NoError(t, ValidateIntRange(4222, "port", 1, 65535))
	assert.Error(t, ValidateIntRange(0, "port", 1, 65535))
	assert.Error(t, ValidateIntRange(70000, "port", 1, 65535))
}

func TestValidateEnum(t *testing.T) {
	assert.NoError(t, ValidateEnum("NATS", "backend", []string{"nats", "redis", "memory"}))
	assert.Error(t, ValidateEnum("kafka", "backend", []string{"nats", "redis", "memory"}))
}

func TestUnique(t *testing.T) {
	u := NewUnique("topic")
	assert.NoError(t, u.Add("status"))
	assert.NoError(t, u.Add("pose"))
	err := u.Add("status")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), `"status"`)
}
