package repository

import (
	"context"

	"github.com/ArchismanDutta/OmazingPWA-sub001/internal/model"

	"gorm.io/gorm"
)

type CourseRepository struct {
	DB *gorm.DB
}

func NewCourseRepository(db *gorm.DB) *CourseRepository {
	return &CourseRepository{DB: db}
}

func (r *CourseRepository) Create(ctx context.Context, course *model.Course) error {
	return r.DB.WithContext(ctx).Create(course).Error
}

func (r *CourseRepository) FindByID(ctx context.Context, id string) (*model.Course, error) {
	var course model.Course
	err := r.DB.WithContext(ctx).First(&course, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &course, nil
}

// FindWithCurriculum 按顺序加载课程的模块与课时
func (r *CourseRepository) FindWithCurriculum(ctx context.Context, id string) (*model.Course, error) {
	var course model.Course
	err := r.DB.WithContext(ctx).
		Preload("Modules", func(db *gorm.DB) *gorm.DB {
			return db.Order("`order` asc, created_at asc")
		}).
		Preload("Modules.Lessons", func(db *gorm.DB) *gorm.DB {
			return db.Order("`order` asc, created_at asc")
		}).
		First(&course, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &course, nil
}

func (r *CourseRepository) IncrementEnrollmentCount(tx *gorm.DB, courseID string) error {
	return tx.Model(&model.Course{}).
		Where("id = ?", courseID).
		UpdateColumn("enrollment_count", gorm.Expr("enrollment_count + ?", 1)).Error
}

// RefreshRatingStats 根据所有已评分的选课记录重新计算课程评分
func (r *CourseRepository) RefreshRatingStats(ctx context.Context, courseID string) error {
	var stats struct {
		Average float64
		Count   int
	}
	err := r.DB.WithContext(ctx).Model(&model.Enrollment{}).
		Select("COALESCE(AVG(rating_score), 0) AS average, COUNT(*) AS count").
		Where("course_id = ? AND rating_score > 0", courseID).
		Scan(&stats).Error
	if err != nil {
		return err
	}

	return r.DB.WithContext(ctx).Model(&model.Course{}).
		Where("id = ?", courseID).
		Updates(map[string]interface{}{
			"rating_average": stats.Average,
			"rating_count":   stats.Count,
		}).Error
}
