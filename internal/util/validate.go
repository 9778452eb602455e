package util

import (
	"github.com/go-playground/validator/v10"
)

var Validate = validator.New()

// ValidateStruct 校验服务层入参，失败时返回 ErrValidation
func ValidateStruct(s interface{}) error {
	if err := Validate.Struct(s); err != nil {
		return ValidationError(err)
	}
	return nil
}
