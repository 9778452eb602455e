package util

import (
	"errors"
	"fmt"
)

// 错误类别，具体错误通过 %w 归入其中之一，控制器按类别映射HTTP状态码
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrValidation   = errors.New("validation failed")
)

var (
	ErrCourseNotFound     = fmt.Errorf("course %w", ErrNotFound)
	ErrEnrollmentNotFound = fmt.Errorf("enrollment %w", ErrNotFound)
	ErrModuleNotFound     = fmt.Errorf("module %w", ErrNotFound)
	ErrLessonNotFound     = fmt.Errorf("lesson %w", ErrNotFound)

	ErrDuplicateEnrollment = fmt.Errorf("already enrolled in this course: %w", ErrConflict)
	ErrConcurrentUpdate    = fmt.Errorf("enrollment was modified concurrently, retry with fresh state: %w", ErrConflict)

	ErrCourseNotPublished     = fmt.Errorf("course is not published: %w", ErrInvalidState)
	ErrEnrollmentDropped      = fmt.Errorf("enrollment has been dropped: %w", ErrInvalidState)
	ErrEnrollmentCompleted    = fmt.Errorf("enrollment is already completed: %w", ErrInvalidState)
	ErrEnrollmentNotCompleted = fmt.Errorf("enrollment is not completed: %w", ErrInvalidState)
	ErrQuizLessonNeedsAttempt = fmt.Errorf("quiz lessons complete only through a passing attempt: %w", ErrInvalidState)
	ErrNotQuizLesson          = fmt.Errorf("lesson is not a quiz: %w", ErrInvalidState)

	ErrPaymentRequired = fmt.Errorf("payment info is required for paid courses: %w", ErrValidation)
)

// ValidationError 将输入校验失败包装为 ErrValidation
func ValidationError(err error) error {
	return fmt.Errorf("%w: %v", ErrValidation, err)
}
