package model

type CourseStatus string

const (
	CourseDraft     CourseStatus = "draft"
	CoursePublished CourseStatus = "published"
	CourseArchived  CourseStatus = "archived"
)

type LessonType string

const (
	LessonVideo LessonType = "video"
	LessonAudio LessonType = "audio"
	LessonText  LessonType = "text"
	LessonQuiz  LessonType = "quiz"
)

// Course 课程，课程大纲由模块和课时组成
// swagger:model
type Course struct {
	UUIDBase
	Title           string         `gorm:"size:255;not null" json:"title"`
	Description     string         `gorm:"type:text" json:"description"`
	Status          CourseStatus   `gorm:"size:20;default:'draft';index" json:"status"`
	Price           int64          `gorm:"default:0" json:"price"` // 最小货币单位，0 表示免费
	Currency        string         `gorm:"size:8;default:'INR'" json:"currency"`
	EnrollmentCount int            `gorm:"default:0" json:"enrollmentCount"`
	RatingAverage   float64        `gorm:"default:0" json:"ratingAverage"`
	RatingCount     int            `gorm:"default:0" json:"ratingCount"`
	Modules         []CourseModule `gorm:"foreignKey:CourseID" json:"modules"`
}

func (Course) TableName() string {
	return "courses"
}

func (c *Course) IsPublished() bool {
	return c.Status == CoursePublished
}

func (c *Course) IsFree() bool {
	return c.Price <= 0
}

// Curriculum 生成当前课程大纲的快照，用于选课时初始化进度树
func (c *Course) Curriculum() CurriculumSnapshot {
	snapshot := CurriculumSnapshot{Modules: make([]CurriculumModule, 0, len(c.Modules))}
	for _, m := range c.Modules {
		cm := CurriculumModule{ModuleID: m.ID, Lessons: make([]CurriculumLesson, 0, len(m.Lessons))}
		for _, l := range m.Lessons {
			cm.Lessons = append(cm.Lessons, CurriculumLesson{LessonID: l.ID, Type: l.Type})
		}
		snapshot.Modules = append(snapshot.Modules, cm)
	}
	return snapshot
}

// swagger:model
type CourseModule struct {
	UUIDBase
	CourseID string   `gorm:"type:varchar(36);index;not null" json:"courseId"`
	Title    string   `gorm:"size:255;not null" json:"title"`
	Order    int      `gorm:"default:0" json:"order"`
	Lessons  []Lesson `gorm:"foreignKey:ModuleID" json:"lessons"`
}

func (CourseModule) TableName() string {
	return "course_modules"
}

// swagger:model
type Lesson struct {
	UUIDBase
	ModuleID string     `gorm:"type:varchar(36);index;not null" json:"moduleId"`
	Title    string     `gorm:"size:255;not null" json:"title"`
	Type     LessonType `gorm:"size:20;default:'video'" json:"type"`
	Duration int        `gorm:"default:0" json:"duration"` // 秒
	Order    int        `gorm:"default:0" json:"order"`
}

func (Lesson) TableName() string {
	return "lessons"
}

// CurriculumSnapshot 选课时刻的课程结构（仅ID与课时类型）
type CurriculumSnapshot struct {
	Modules []CurriculumModule `json:"modules"`
}

type CurriculumModule struct {
	ModuleID string             `json:"moduleId"`
	Lessons  []CurriculumLesson `json:"lessons"`
}

type CurriculumLesson struct {
	LessonID string     `json:"lessonId"`
	Type     LessonType `json:"type"`
}
