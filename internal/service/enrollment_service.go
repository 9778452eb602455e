package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ArchismanDutta/OmazingPWA-sub001/internal/config"
	"github.com/ArchismanDutta/OmazingPWA-sub001/internal/model"
	"github.com/ArchismanDutta/OmazingPWA-sub001/internal/progress"
	"github.com/ArchismanDutta/OmazingPWA-sub001/internal/repository"
	"github.com/ArchismanDutta/OmazingPWA-sub001/internal/util"
	"github.com/ArchismanDutta/OmazingPWA-sub001/pkg/logger"
	"github.com/ArchismanDutta/OmazingPWA-sub001/pkg/monitoring"
	"github.com/ArchismanDutta/OmazingPWA-sub001/pkg/tracing"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type EnrollmentService struct {
	EnrollmentRepo *repository.EnrollmentRepository
	CourseRepo     *repository.CourseRepository
	Cache          *ProgressCache
	Storage        *StorageService
	// Now 可在测试中替换
	Now func() time.Time

	maxRetries atomic.Int64
}

func NewEnrollmentService(
	enrollmentRepo *repository.EnrollmentRepository,
	courseRepo *repository.CourseRepository,
	cache *ProgressCache,
	storage *StorageService,
	cfg *config.EnrollmentConfig,
) *EnrollmentService {
	s := &EnrollmentService{
		EnrollmentRepo: enrollmentRepo,
		CourseRepo:     courseRepo,
		Cache:          cache,
		Storage:        storage,
		Now:            time.Now,
	}
	s.SetMaxRetries(cfg.MaxRetries)
	return s
}

// SetMaxRetries 配置热更新时调用，最小为1
func (s *EnrollmentService) SetMaxRetries(n int) {
	if n < 1 {
		n = 1
	}
	s.maxRetries.Store(int64(n))
}

func (s *EnrollmentService) MaxRetries() int {
	return int(s.maxRetries.Load())
}

func (s *EnrollmentService) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

type createInput struct {
	UserID   uint   `validate:"required"`
	CourseID string `validate:"required"`
}

type lessonInput struct {
	ModuleID  string `validate:"required"`
	LessonID  string `validate:"required"`
	Position  int64  `validate:"gte=0"`
	WatchTime int64  `validate:"gte=0"`
}

type quizInput struct {
	ModuleID string  `validate:"required"`
	LessonID string  `validate:"required"`
	Score    float64 `validate:"gte=0"`
}

type noteInput struct {
	ModuleID string `validate:"required"`
	LessonID string `validate:"required"`
	Content  string `validate:"required,max=5000"`
	Position int64  `validate:"gte=0"`
}

type ratingInput struct {
	Score  int    `validate:"min=1,max=5"`
	Review string `validate:"max=2000"`
}

// Create 按课程大纲快照创建选课记录，同一用户同一课程只能有一条
func (s *EnrollmentService) Create(ctx context.Context, userID uint, courseID string, snapshot model.CurriculumSnapshot, payment *model.PaymentInfo) (*model.Enrollment, error) {
	if err := util.ValidateStruct(createInput{UserID: userID, CourseID: courseID}); err != nil {
		return nil, err
	}

	exists, err := s.EnrollmentRepo.Exists(ctx, userID, courseID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, util.ErrDuplicateEnrollment
	}

	now := s.now()
	enrollment := model.NewEnrollment(userID, courseID, snapshot, payment, now)
	progress.Recompute(enrollment, now)

	if err := s.EnrollmentRepo.Create(ctx, enrollment, s.CourseRepo); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, util.ErrDuplicateEnrollment
		}
		return nil, err
	}

	logger.Log.Info("用户选课成功",
		zap.Uint("userId", userID),
		zap.String("courseId", courseID),
		zap.Int("totalLessons", enrollment.Progress.TotalLessons))
	return enrollment, nil
}

// Enroll 读取已发布课程的大纲后创建选课记录，付费课程必须带支付信息
func (s *EnrollmentService) Enroll(ctx context.Context, userID uint, courseID string, payment *model.PaymentInfo) (enrollment *model.Enrollment, err error) {
	ctx, span := tracing.StartSpan(ctx, "EnrollmentService.Enroll")
	start := time.Now()
	defer func() {
		tracing.EndSpan(span, err)
		monitoring.ObserveEnrollment("enroll", outcome(err), time.Since(start))
	}()

	course, err := s.CourseRepo.FindWithCurriculum(ctx, courseID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrCourseNotFound
		}
		return nil, err
	}
	if !course.IsPublished() {
		return nil, util.ErrCourseNotPublished
	}
	if !course.IsFree() && payment == nil {
		return nil, util.ErrPaymentRequired
	}

	return s.Create(ctx, userID, course.ID, course.Curriculum(), payment)
}

// MarkLessonComplete 标记非测验课时完成
func (s *EnrollmentService) MarkLessonComplete(ctx context.Context, userID uint, courseID, moduleID, lessonID string, watchTime int64) (*model.Enrollment, error) {
	if err := util.ValidateStruct(lessonInput{ModuleID: moduleID, LessonID: lessonID, WatchTime: watchTime}); err != nil {
		return nil, err
	}
	return s.mutate(ctx, "mark_lesson_complete", userID, courseID, func(e *model.Enrollment, now time.Time) error {
		lesson, err := findLesson(e, moduleID, lessonID)
		if err != nil {
			return err
		}
		if lesson.LessonType == model.LessonQuiz {
			return util.ErrQuizLessonNeedsAttempt
		}
		lesson.MarkComplete(watchTime, now)
		return nil
	})
}

// UpdateLessonProgress 更新播放位置与观看时长，并记录为当前课时
func (s *EnrollmentService) UpdateLessonProgress(ctx context.Context, userID uint, courseID, moduleID, lessonID string, position, watchTime int64) (*model.Enrollment, error) {
	if err := util.ValidateStruct(lessonInput{ModuleID: moduleID, LessonID: lessonID, Position: position, WatchTime: watchTime}); err != nil {
		return nil, err
	}
	return s.mutate(ctx, "update_lesson_progress", userID, courseID, func(e *model.Enrollment, now time.Time) error {
		lesson, err := findLesson(e, moduleID, lessonID)
		if err != nil {
			return err
		}
		lesson.UpdateProgress(position, watchTime)
		e.CurrentLesson = &model.CurrentLesson{ModuleID: moduleID, LessonID: lessonID, Position: position}
		return nil
	})
}

// SubmitQuizAttempt 记录一次测验，通过即完成该课时
func (s *EnrollmentService) SubmitQuizAttempt(ctx context.Context, userID uint, courseID, moduleID, lessonID string, score float64, answers datatypes.JSON, passed bool) (*model.Enrollment, error) {
	if err := util.ValidateStruct(quizInput{ModuleID: moduleID, LessonID: lessonID, Score: score}); err != nil {
		return nil, err
	}
	if len(answers) > 0 && !json.Valid(answers) {
		return nil, util.ValidationError(errors.New("answers must be valid JSON"))
	}
	return s.mutate(ctx, "submit_quiz_attempt", userID, courseID, func(e *model.Enrollment, now time.Time) error {
		lesson, err := findLesson(e, moduleID, lessonID)
		if err != nil {
			return err
		}
		if lesson.LessonType != model.LessonQuiz {
			return util.ErrNotQuizLesson
		}
		lesson.RecordQuizAttempt(score, answers, passed, now)
		return nil
	})
}

func (s *EnrollmentService) AddLessonNote(ctx context.Context, userID uint, courseID, moduleID, lessonID, content string, position int64) (*model.Enrollment, error) {
	content = strings.TrimSpace(content)
	if err := util.ValidateStruct(noteInput{ModuleID: moduleID, LessonID: lessonID, Content: content, Position: position}); err != nil {
		return nil, err
	}
	return s.mutate(ctx, "add_lesson_note", userID, courseID, func(e *model.Enrollment, now time.Time) error {
		lesson, err := findLesson(e, moduleID, lessonID)
		if err != nil {
			return err
		}
		lesson.AddNote(content, position, now)
		return nil
	})
}

// RateCourse 评分可覆盖，成功后刷新课程的评分统计
func (s *EnrollmentService) RateCourse(ctx context.Context, userID uint, courseID string, score int, review string) (*model.Enrollment, error) {
	review = strings.TrimSpace(review)
	if err := util.ValidateStruct(ratingInput{Score: score, Review: review}); err != nil {
		return nil, err
	}
	enrollment, err := s.mutate(ctx, "rate_course", userID, courseID, func(e *model.Enrollment, now time.Time) error {
		ratedAt := now
		e.Rating = model.Rating{Score: score, Review: review, RatedAt: &ratedAt}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.CourseRepo.RefreshRatingStats(ctx, courseID); err != nil {
		logger.Log.Warn("刷新课程评分失败", zap.String("courseId", courseID), zap.Error(err))
	}
	return enrollment, nil
}

// DropEnrollment 退课，已完成的选课不能退
func (s *EnrollmentService) DropEnrollment(ctx context.Context, userID uint, courseID string) (*model.Enrollment, error) {
	return s.mutate(ctx, "drop_enrollment", userID, courseID, func(e *model.Enrollment, now time.Time) error {
		if e.IsCompleted() {
			return util.ErrEnrollmentCompleted
		}
		droppedAt := now
		e.Status = model.EnrollmentDropped
		e.DroppedAt = &droppedAt
		return nil
	})
}

type certificateDocument struct {
	Number       string    `json:"number"`
	EnrollmentID string    `json:"enrollmentId"`
	UserID       uint      `json:"userId"`
	CourseID     string    `json:"courseId"`
	CompletedAt  time.Time `json:"completedAt"`
	IssuedAt     time.Time `json:"issuedAt"`
}

// IssueCertificate 为已完成的选课签发证书，重复调用返回已有证书
func (s *EnrollmentService) IssueCertificate(ctx context.Context, userID uint, courseID string) (*model.Enrollment, error) {
	current, err := s.load(ctx, userID, courseID)
	if err != nil {
		return nil, err
	}
	if current.Certificate.Issued {
		return current, nil
	}
	if current.IsDropped() {
		return nil, util.ErrEnrollmentDropped
	}
	if !current.IsCompleted() || current.CompletedAt == nil {
		return nil, util.ErrEnrollmentNotCompleted
	}

	issuedAt := s.now()
	number := fmt.Sprintf("CERT-%s-%s", issuedAt.Format("20060102"), strings.ToUpper(uuid.New().String()[:8]))
	doc, err := json.Marshal(certificateDocument{
		Number:       number,
		EnrollmentID: current.ID,
		UserID:       userID,
		CourseID:     courseID,
		CompletedAt:  *current.CompletedAt,
		IssuedAt:     issuedAt,
	})
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("certificates/%s/%s.json", courseID, number)
	url, err := s.Storage.PutBytes(ctx, key, doc, util.MimeJSON)
	if err != nil {
		return nil, fmt.Errorf("上传证书失败: %w", err)
	}

	enrollment, err := s.mutate(ctx, "issue_certificate", userID, courseID, func(e *model.Enrollment, now time.Time) error {
		if e.Certificate.Issued {
			return nil
		}
		if !e.IsCompleted() {
			return util.ErrEnrollmentNotCompleted
		}
		e.Certificate = model.Certificate{Issued: true, Number: number, URL: url, IssuedAt: &issuedAt}
		return nil
	})
	if err != nil || enrollment.Certificate.Number != number {
		if delErr := s.Storage.Delete(ctx, key); delErr != nil {
			logger.Log.Warn("删除多余的证书文件失败", zap.String("key", key), zap.Error(delErr))
		}
	}
	if err != nil {
		return nil, err
	}
	return enrollment, nil
}

func (s *EnrollmentService) GetEnrollment(ctx context.Context, userID uint, courseID string) (*model.Enrollment, error) {
	return s.load(ctx, userID, courseID)
}

// GetProgress 读取进度视图，优先走缓存
func (s *EnrollmentService) GetProgress(ctx context.Context, userID uint, courseID string) (*ProgressView, error) {
	if view := s.Cache.Get(ctx, userID, courseID); view != nil {
		return view, nil
	}
	enrollment, err := s.load(ctx, userID, courseID)
	if err != nil {
		return nil, err
	}
	view := NewProgressView(enrollment)
	s.Cache.Set(ctx, userID, courseID, view)
	return view, nil
}

func (s *EnrollmentService) ListEnrollments(ctx context.Context, userID uint, status model.EnrollmentStatus, page, limit int) ([]model.Enrollment, int64, error) {
	switch status {
	case "", model.EnrollmentEnrolled, model.EnrollmentInProgress, model.EnrollmentCompleted, model.EnrollmentDropped:
	default:
		return nil, 0, util.ValidationError(fmt.Errorf("unknown status %q", status))
	}
	return s.EnrollmentRepo.ListByUser(ctx, userID, status, page, limit)
}

// RecomputeAll 重新计算所有选课的派生进度，只写回有变化的记录，返回写回条数
func (s *EnrollmentService) RecomputeAll(ctx context.Context, batchSize int) (int, error) {
	updated := 0
	err := s.EnrollmentRepo.FindInBatches(ctx, batchSize, func(batch []model.Enrollment) error {
		for i := range batch {
			e := &batch[i]
			before, err := derivedState(e)
			if err != nil {
				return err
			}
			progress.Recompute(e, s.now())
			after, err := derivedState(e)
			if err != nil {
				return err
			}
			if before == after {
				continue
			}

			saved, err := s.EnrollmentRepo.UpdateWithVersion(ctx, e)
			if err != nil {
				return err
			}
			if !saved {
				logger.Log.Info("选课记录已被并发修改，跳过", zap.String("enrollmentId", e.ID))
				continue
			}
			s.Cache.Invalidate(ctx, e.UserID, e.CourseID, e.Version)
			updated++
		}
		return nil
	})
	return updated, err
}

type mutation func(e *model.Enrollment, now time.Time) error

// mutate 读取最新状态、应用修改、重新计算并按版本号保存，版本冲突时用新状态重放
func (s *EnrollmentService) mutate(ctx context.Context, op string, userID uint, courseID string, apply mutation) (enrollment *model.Enrollment, err error) {
	ctx, span := tracing.StartSpan(ctx, "EnrollmentService."+op)
	start := time.Now()
	defer func() {
		tracing.EndSpan(span, err)
		monitoring.ObserveEnrollment(op, outcome(err), time.Since(start))
	}()

	attempts := s.MaxRetries()
	for attempt := 1; attempt <= attempts; attempt++ {
		enrollment, err = s.load(ctx, userID, courseID)
		if err != nil {
			return nil, err
		}
		if enrollment.IsDropped() {
			return nil, util.ErrEnrollmentDropped
		}

		now := s.now()
		if err = apply(enrollment, now); err != nil {
			return nil, err
		}
		progress.Recompute(enrollment, now)
		enrollment.LastAccessedAt = now

		saved, saveErr := s.EnrollmentRepo.UpdateWithVersion(ctx, enrollment)
		if saveErr != nil {
			err = saveErr
			return nil, err
		}
		if saved {
			s.Cache.Invalidate(ctx, userID, courseID, enrollment.Version)
			return enrollment, nil
		}

		monitoring.IncEnrollmentConflict(op)
		logger.Log.Debug("选课记录版本冲突，重试",
			zap.String("operation", op),
			zap.String("enrollmentId", enrollment.ID),
			zap.Int("attempt", attempt))
	}

	logger.Log.Warn("选课记录版本冲突重试耗尽",
		zap.String("operation", op),
		zap.Uint("userId", userID),
		zap.String("courseId", courseID),
		zap.Int("attempts", attempts))
	err = util.ErrConcurrentUpdate
	return nil, err
}

func (s *EnrollmentService) load(ctx context.Context, userID uint, courseID string) (*model.Enrollment, error) {
	enrollment, err := s.EnrollmentRepo.FindByUserAndCourse(ctx, userID, courseID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrEnrollmentNotFound
		}
		return nil, err
	}
	return enrollment, nil
}

func findLesson(e *model.Enrollment, moduleID, lessonID string) (*model.LessonProgress, error) {
	module := e.Module(moduleID)
	if module == nil {
		return nil, util.ErrModuleNotFound
	}
	lesson := module.Lesson(lessonID)
	if lesson == nil {
		return nil, util.ErrLessonNotFound
	}
	return lesson, nil
}

func derivedState(e *model.Enrollment) (string, error) {
	data, err := json.Marshal(struct {
		Status      model.EnrollmentStatus
		Progress    model.ProgressSnapshot
		Modules     []model.ModuleProgress
		StartedAt   *time.Time
		CompletedAt *time.Time
	}{e.Status, e.Progress, e.ModulesProgress, e.StartedAt, e.CompletedAt})
	return string(data), err
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, util.ErrConflict):
		return "conflict"
	case errors.Is(err, util.ErrNotFound), errors.Is(err, util.ErrInvalidState), errors.Is(err, util.ErrValidation):
		return "rejected"
	default:
		return "error"
	}
}
