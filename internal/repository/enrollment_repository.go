package repository

import (
	"context"

	"github.com/ArchismanDutta/OmazingPWA-sub001/internal/model"

	"gorm.io/gorm"
)

type EnrollmentRepository struct {
	DB *gorm.DB
}

func NewEnrollmentRepository(db *gorm.DB) *EnrollmentRepository {
	return &EnrollmentRepository{DB: db}
}

// Create 在同一事务中写入选课记录并累加课程选课人数
func (r *EnrollmentRepository) Create(ctx context.Context, enrollment *model.Enrollment, courses *CourseRepository) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(enrollment).Error; err != nil {
			return err
		}
		if courses == nil {
			return nil
		}
		return courses.IncrementEnrollmentCount(tx, enrollment.CourseID)
	})
}

func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*model.Enrollment, error) {
	var enrollment model.Enrollment
	err := r.DB.WithContext(ctx).First(&enrollment, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &enrollment, nil
}

func (r *EnrollmentRepository) FindByUserAndCourse(ctx context.Context, userID uint, courseID string) (*model.Enrollment, error) {
	var enrollment model.Enrollment
	err := r.DB.WithContext(ctx).
		Where("user_id = ? AND course_id = ?", userID, courseID).
		First(&enrollment).Error
	if err != nil {
		return nil, err
	}
	return &enrollment, nil
}

func (r *EnrollmentRepository) Exists(ctx context.Context, userID uint, courseID string) (bool, error) {
	var count int64
	err := r.DB.WithContext(ctx).Model(&model.Enrollment{}).
		Where("user_id = ? AND course_id = ?", userID, courseID).
		Count(&count).Error
	return count > 0, err
}

func (r *EnrollmentRepository) ListByUser(ctx context.Context, userID uint, status model.EnrollmentStatus, page, limit int) ([]model.Enrollment, int64, error) {
	query := r.DB.WithContext(ctx).Model(&model.Enrollment{}).Where("user_id = ?", userID)
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var enrollments []model.Enrollment
	offset := (page - 1) * limit
	err := query.Order("last_accessed_at desc").Offset(offset).Limit(limit).Find(&enrollments).Error
	return enrollments, total, err
}

// FindInBatches 分批遍历全部选课记录
func (r *EnrollmentRepository) FindInBatches(ctx context.Context, batchSize int, fn func(batch []model.Enrollment) error) error {
	var batch []model.Enrollment
	return r.DB.WithContext(ctx).FindInBatches(&batch, batchSize, func(tx *gorm.DB, _ int) error {
		return fn(batch)
	}).Error
}

// UpdateWithVersion 仅当数据库中的版本号与读取时一致才写入，成功后版本号加一。
// 返回 false 表示其他写入者已抢先修改，调用方需重新读取后重试。
func (r *EnrollmentRepository) UpdateWithVersion(ctx context.Context, enrollment *model.Enrollment) (bool, error) {
	expected := enrollment.Version
	enrollment.Version = expected + 1

	res := r.DB.WithContext(ctx).Model(enrollment).
		Where("version = ?", expected).
		Select("*").
		Omit("id", "created_at", "user_id", "course_id", "enrolled_at", "payment_info").
		Updates(enrollment)
	if res.Error != nil || res.RowsAffected == 0 {
		enrollment.Version = expected
		return false, res.Error
	}
	return true, nil
}
