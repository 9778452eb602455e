package model

import (
	"time"

	"gorm.io/datatypes"
)

type EnrollmentStatus string

const (
	EnrollmentEnrolled   EnrollmentStatus = "enrolled"
	EnrollmentInProgress EnrollmentStatus = "in_progress"
	EnrollmentCompleted  EnrollmentStatus = "completed"
	EnrollmentDropped    EnrollmentStatus = "dropped"
)

// Enrollment 学员选课记录，进度树整体以JSON列存储，(user_id, course_id) 唯一
// swagger:model
type Enrollment struct {
	UUIDBase
	UserID          uint             `gorm:"uniqueIndex:idx_enrollment_user_course;not null" json:"userId"`
	CourseID        string           `gorm:"type:varchar(36);uniqueIndex:idx_enrollment_user_course;not null" json:"courseId"`
	Status          EnrollmentStatus `gorm:"size:20;default:'enrolled';index" json:"status"`
	ModulesProgress []ModuleProgress `gorm:"serializer:json;type:json" json:"modulesProgress"`
	Progress        ProgressSnapshot `gorm:"embedded;embeddedPrefix:progress_" json:"progress"`
	CurrentLesson   *CurrentLesson   `gorm:"serializer:json;type:json" json:"currentLesson,omitempty"`
	EnrolledAt      time.Time        `json:"enrolledAt"`
	StartedAt       *time.Time       `json:"startedAt,omitempty"`
	CompletedAt     *time.Time       `json:"completedAt,omitempty"`
	DroppedAt       *time.Time       `json:"droppedAt,omitempty"`
	LastAccessedAt  time.Time        `json:"lastAccessedAt"`
	Rating          Rating           `gorm:"embedded;embeddedPrefix:rating_" json:"rating"`
	PaymentInfo     *PaymentInfo     `gorm:"serializer:json;type:json" json:"paymentInfo,omitempty"`
	Certificate     Certificate      `gorm:"embedded;embeddedPrefix:certificate_" json:"certificate"`
	Version         int              `gorm:"not null;default:0" json:"version"`
}

func (Enrollment) TableName() string {
	return "enrollments"
}

// ProgressSnapshot 课程级别的汇总进度，只能由进度引擎重新计算
type ProgressSnapshot struct {
	Percentage       int   `gorm:"default:0" json:"percentage"`
	CompletedLessons int   `gorm:"default:0" json:"completedLessons"`
	TotalLessons     int   `gorm:"default:0" json:"totalLessons"`
	CompletedModules int   `gorm:"default:0" json:"completedModules"`
	TotalModules     int   `gorm:"default:0" json:"totalModules"`
	TotalWatchTime   int64 `gorm:"default:0" json:"totalWatchTime"`
}

type CurrentLesson struct {
	ModuleID string `json:"moduleId"`
	LessonID string `json:"lessonId"`
	Position int64  `json:"position"`
}

type Rating struct {
	Score   int        `gorm:"default:0" json:"score"`
	Review  string     `gorm:"type:text" json:"review"`
	RatedAt *time.Time `json:"ratedAt,omitempty"`
}

func (r Rating) IsSet() bool {
	return r.Score > 0
}

type PaymentInfo struct {
	Provider  string    `json:"provider"`
	OrderID   string    `json:"orderId"`
	PaymentID string    `json:"paymentId"`
	Amount    int64     `json:"amount"`
	Currency  string    `json:"currency"`
	PaidAt    time.Time `json:"paidAt"`
}

type Certificate struct {
	Issued   bool       `gorm:"default:false" json:"issued"`
	Number   string     `gorm:"size:64" json:"number,omitempty"`
	URL      string     `gorm:"size:512" json:"url,omitempty"`
	IssuedAt *time.Time `json:"issuedAt,omitempty"`
}

type ModuleProgress struct {
	ModuleID           string           `json:"moduleId"`
	LessonsProgress    []LessonProgress `json:"lessonsProgress"`
	ProgressPercentage int              `json:"progressPercentage"`
	Completed          bool             `json:"completed"`
	CompletedAt        *time.Time       `json:"completedAt,omitempty"`
}

type LessonProgress struct {
	LessonID     string        `json:"lessonId"`
	LessonType   LessonType    `json:"lessonType"`
	Completed    bool          `json:"completed"`
	CompletedAt  *time.Time    `json:"completedAt,omitempty"`
	WatchTime    int64         `json:"watchTime"`
	LastPosition int64         `json:"lastPosition"`
	Attempts     []QuizAttempt `json:"attempts"`
	Notes        []LessonNote  `json:"notes"`
}

type QuizAttempt struct {
	AttemptedAt time.Time      `json:"attemptedAt"`
	Score       float64        `json:"score"`
	Answers     datatypes.JSON `json:"answers,omitempty"`
	Passed      bool           `json:"passed"`
}

type LessonNote struct {
	Content   string    `json:"content"`
	Position  int64     `json:"position"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewEnrollment 按课程大纲快照一次性分配完整的进度树，之后不再增删
func NewEnrollment(userID uint, courseID string, snapshot CurriculumSnapshot, payment *PaymentInfo, now time.Time) *Enrollment {
	modules := make([]ModuleProgress, len(snapshot.Modules))
	for i, m := range snapshot.Modules {
		lessons := make([]LessonProgress, len(m.Lessons))
		for j, l := range m.Lessons {
			lessons[j] = LessonProgress{
				LessonID:   l.LessonID,
				LessonType: l.Type,
				Attempts:   []QuizAttempt{},
				Notes:      []LessonNote{},
			}
		}
		modules[i] = ModuleProgress{ModuleID: m.ModuleID, LessonsProgress: lessons}
	}

	var paymentCopy *PaymentInfo
	if payment != nil {
		p := *payment
		paymentCopy = &p
	}

	return &Enrollment{
		UserID:          userID,
		CourseID:        courseID,
		Status:          EnrollmentEnrolled,
		ModulesProgress: modules,
		EnrolledAt:      now,
		LastAccessedAt:  now,
		PaymentInfo:     paymentCopy,
	}
}

// Module 按ID查找模块进度，不存在返回 nil
func (e *Enrollment) Module(moduleID string) *ModuleProgress {
	for i := range e.ModulesProgress {
		if e.ModulesProgress[i].ModuleID == moduleID {
			return &e.ModulesProgress[i]
		}
	}
	return nil
}

// Lesson 在指定模块内查找课时进度，不存在返回 nil
func (m *ModuleProgress) Lesson(lessonID string) *LessonProgress {
	for i := range m.LessonsProgress {
		if m.LessonsProgress[i].LessonID == lessonID {
			return &m.LessonsProgress[i]
		}
	}
	return nil
}

func (e *Enrollment) IsDropped() bool {
	return e.Status == EnrollmentDropped
}

func (e *Enrollment) IsCompleted() bool {
	return e.Status == EnrollmentCompleted
}

// MarkComplete 标记课时完成，完成状态单调，观看时长取最大值
func (l *LessonProgress) MarkComplete(watchTime int64, now time.Time) {
	if !l.Completed {
		l.Completed = true
		l.CompletedAt = timePtr(now)
	}
	l.mergeWatchTime(watchTime)
}

// UpdateProgress 覆盖播放位置（允许回退），观看时长取最大值
func (l *LessonProgress) UpdateProgress(position, watchTime int64) {
	l.LastPosition = position
	l.mergeWatchTime(watchTime)
}

// RecordQuizAttempt 追加测验记录，通过时等同于完成课时
func (l *LessonProgress) RecordQuizAttempt(score float64, answers datatypes.JSON, passed bool, now time.Time) {
	l.Attempts = append(l.Attempts, QuizAttempt{
		AttemptedAt: now,
		Score:       score,
		Answers:     answers,
		Passed:      passed,
	})
	if passed {
		l.MarkComplete(0, now)
	}
}

func (l *LessonProgress) AddNote(content string, position int64, now time.Time) {
	l.Notes = append(l.Notes, LessonNote{
		Content:   content,
		Position:  position,
		CreatedAt: now,
	})
}

func (l *LessonProgress) mergeWatchTime(watchTime int64) {
	if watchTime > l.WatchTime {
		l.WatchTime = watchTime
	}
}

func timePtr(t time.Time) *time.Time {
	return &t
}
