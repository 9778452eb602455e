package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ArchismanDutta/OmazingPWA-sub001/internal/config"
	"github.com/ArchismanDutta/OmazingPWA-sub001/internal/model"
	"github.com/ArchismanDutta/OmazingPWA-sub001/internal/repository"
	"github.com/ArchismanDutta/OmazingPWA-sub001/internal/util"
	"github.com/ArchismanDutta/OmazingPWA-sub001/pkg/database"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	db      *gorm.DB
	svc     *EnrollmentService
	courses *repository.CourseRepository
	storage string
	clock   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	db, err := database.InitDB(&config.DatabaseConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(dir, "service.db"),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	f := &fixture{
		db:      db,
		courses: repository.NewCourseRepository(db),
		storage: filepath.Join(dir, "uploads"),
		clock:   t0,
	}
	f.svc = NewEnrollmentService(
		repository.NewEnrollmentRepository(db),
		f.courses,
		NewProgressCache(nil, time.Minute),
		NewStorageService(&config.StorageConfig{Type: util.StorageLocal, LocalPath: f.storage}),
		&config.EnrollmentConfig{MaxRetries: 10},
	)
	f.svc.Now = func() time.Time { return f.clock }
	return f
}

// seedCourse 每个参数是一个模块内各课时的类型
func (f *fixture) seedCourse(t *testing.T, status model.CourseStatus, price int64, modules ...[]model.LessonType) *model.Course {
	t.Helper()
	course := &model.Course{Title: "Course", Status: status, Price: price}
	for i, lessons := range modules {
		m := model.CourseModule{Title: "module", Order: i}
		for j, typ := range lessons {
			m.Lessons = append(m.Lessons, model.Lesson{Title: "lesson", Type: typ, Order: j})
		}
		course.Modules = append(course.Modules, m)
	}
	ctx := context.Background()
	if err := f.courses.Create(ctx, course); err != nil {
		t.Fatalf("create course: %v", err)
	}
	loaded, err := f.courses.FindWithCurriculum(ctx, course.ID)
	if err != nil {
		t.Fatalf("reload course: %v", err)
	}
	return loaded
}

func lessonIDs(c *model.Course, module int) (string, []string) {
	var ids []string
	for _, l := range c.Modules[module].Lessons {
		ids = append(ids, l.ID)
	}
	return c.Modules[module].ID, ids
}

func (f *fixture) stored(t *testing.T, userID uint, courseID string) *model.Enrollment {
	t.Helper()
	e, err := f.svc.GetEnrollment(context.Background(), userID, courseID)
	if err != nil {
		t.Fatalf("load enrollment: %v", err)
	}
	return e
}

func TestEnrollInitializesTree(t *testing.T) {
	f := newFixture(t)
	course := f.seedCourse(t, model.CoursePublished, 0,
		[]model.LessonType{model.LessonVideo, model.LessonText},
		[]model.LessonType{model.LessonQuiz})

	e, err := f.svc.Enroll(context.Background(), 1, course.ID, nil)
	if err != nil {
		t.Fatalf("enroll: %v", err)
	}
	if e.Status != model.EnrollmentEnrolled || e.Version != 0 {
		t.Fatalf("unexpected initial state: %s v%d", e.Status, e.Version)
	}
	if e.Progress.TotalLessons != 3 || e.Progress.TotalModules != 2 || e.Progress.Percentage != 0 {
		t.Fatalf("progress = %+v", e.Progress)
	}
	if !e.EnrolledAt.Equal(t0) || e.StartedAt != nil {
		t.Fatalf("timestamps: enrolledAt=%v startedAt=%v", e.EnrolledAt, e.StartedAt)
	}
	if got := e.ModulesProgress[1].LessonsProgress[0].LessonType; got != model.LessonQuiz {
		t.Fatalf("lesson type not copied: %s", got)
	}

	reloaded, _ := f.courses.FindByID(context.Background(), course.ID)
	if reloaded.EnrollmentCount != 1 {
		t.Fatalf("enrollmentCount = %d", reloaded.EnrollmentCount)
	}
}

func TestEnrollRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	published := f.seedCourse(t, model.CoursePublished, 0, []model.LessonType{model.LessonVideo})
	draft := f.seedCourse(t, model.CourseDraft, 0, []model.LessonType{model.LessonVideo})
	paid := f.seedCourse(t, model.CoursePublished, 49900, []model.LessonType{model.LessonVideo})

	if _, err := f.svc.Enroll(ctx, 1, published.ID, nil); err != nil {
		t.Fatalf("enroll: %v", err)
	}

	tests := []struct {
		name     string
		courseID string
		payment  *model.PaymentInfo
		want     error
		category error
	}{
		{"duplicate", published.ID, nil, util.ErrDuplicateEnrollment, util.ErrConflict},
		{"missing course", "missing", nil, util.ErrCourseNotFound, util.ErrNotFound},
		{"draft course", draft.ID, nil, util.ErrCourseNotPublished, util.ErrInvalidState},
		{"paid without payment", paid.ID, nil, util.ErrPaymentRequired, util.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Enroll(ctx, 1, tt.courseID, tt.payment)
			if !errors.Is(err, tt.want) || !errors.Is(err, tt.category) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}

	e, err := f.svc.Enroll(ctx, 1, paid.ID, &model.PaymentInfo{Provider: "razorpay", OrderID: "order_1", Amount: 49900, Currency: "INR", PaidAt: t0})
	if err != nil {
		t.Fatalf("paid enroll: %v", err)
	}
	if e.PaymentInfo == nil || e.PaymentInfo.OrderID != "order_1" {
		t.Fatalf("payment info = %+v", e.PaymentInfo)
	}
}

func TestTwoLessonCourseCompletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	course := f.seedCourse(t, model.CoursePublished, 0, []model.LessonType{model.LessonVideo, model.LessonVideo})
	moduleID, lessons := lessonIDs(course, 0)
	if _, err := f.svc.Enroll(ctx, 1, course.ID, nil); err != nil {
		t.Fatalf("enroll: %v", err)
	}

	f.clock = t0.Add(time.Minute)
	e, err := f.svc.MarkLessonComplete(ctx, 1, course.ID, moduleID, lessons[0], 30)
	if err != nil {
		t.Fatalf("complete first: %v", err)
	}
	if e.Progress.Percentage != 50 || e.Status != model.EnrollmentInProgress || e.Version != 1 {
		t.Fatalf("after first: %d%% %s v%d", e.Progress.Percentage, e.Status, e.Version)
	}

	f.clock = t0.Add(time.Hour)
	if _, err := f.svc.MarkLessonComplete(ctx, 1, course.ID, moduleID, lessons[1], 45); err != nil {
		t.Fatalf("complete second: %v", err)
	}

	e = f.stored(t, 1, course.ID)
	if e.Progress.Percentage != 100 || e.Status != model.EnrollmentCompleted {
		t.Fatalf("after second: %d%% %s", e.Progress.Percentage, e.Status)
	}
	if e.CompletedAt == nil || !e.CompletedAt.Equal(t0.Add(time.Hour)) {
		t.Fatalf("completedAt = %v", e.CompletedAt)
	}
	if e.StartedAt == nil || !e.StartedAt.Equal(t0.Add(time.Minute)) {
		t.Fatalf("startedAt = %v", e.StartedAt)
	}
	if !e.ModulesProgress[0].Completed || e.Progress.CompletedModules != 1 {
		t.Fatalf("module not completed: %+v", e.ModulesProgress[0])
	}
	if !e.LastAccessedAt.Equal(t0.Add(time.Hour)) {
		t.Fatalf("lastAccessedAt = %v", e.LastAccessedAt)
	}
}

func TestQuizLessonCompletesThroughPassingAttempt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	course := f.seedCourse(t, model.CoursePublished, 0, []model.LessonType{model.LessonVideo, model.LessonQuiz})
	moduleID, lessons := lessonIDs(course, 0)
	video, quiz := lessons[0], lessons[1]
	if _, err := f.svc.Enroll(ctx, 1, course.ID, nil); err != nil {
		t.Fatalf("enroll: %v", err)
	}

	if _, err := f.svc.MarkLessonComplete(ctx, 1, course.ID, moduleID, quiz, 0); !errors.Is(err, util.ErrQuizLessonNeedsAttempt) {
		t.Fatalf("complete quiz directly: err = %v", err)
	}
	if _, err := f.svc.SubmitQuizAttempt(ctx, 1, course.ID, moduleID, video, 90, nil, true); !errors.Is(err, util.ErrNotQuizLesson) {
		t.Fatalf("attempt on video: err = %v", err)
	}
	if _, err := f.svc.SubmitQuizAttempt(ctx, 1, course.ID, moduleID, quiz, 90, datatypes.JSON(`{"q1":`), true); !errors.Is(err, util.ErrValidation) {
		t.Fatalf("malformed answers: err = %v", err)
	}

	e, err := f.svc.SubmitQuizAttempt(ctx, 1, course.ID, moduleID, quiz, 40, datatypes.JSON(`{"q1":"b"}`), false)
	if err != nil {
		t.Fatalf("failed attempt: %v", err)
	}
	l := e.ModulesProgress[0].LessonsProgress[1]
	if l.Completed || len(l.Attempts) != 1 || e.Progress.Percentage != 0 {
		t.Fatalf("failed attempt state: %+v %d%%", l, e.Progress.Percentage)
	}

	f.clock = t0.Add(time.Minute)
	if _, err := f.svc.SubmitQuizAttempt(ctx, 1, course.ID, moduleID, quiz, 85, datatypes.JSON(`{"q1":"a"}`), true); err != nil {
		t.Fatalf("passing attempt: %v", err)
	}

	e = f.stored(t, 1, course.ID)
	l = e.ModulesProgress[0].LessonsProgress[1]
	if !l.Completed || l.CompletedAt == nil || len(l.Attempts) != 2 {
		t.Fatalf("passing attempt state: %+v", l)
	}
	if l.Attempts[0].Passed || l.Attempts[0].Score != 40 || string(l.Attempts[0].Answers) != `{"q1":"b"}` {
		t.Fatalf("earlier attempt mutated: %+v", l.Attempts[0])
	}
	if e.Progress.Percentage != 50 || e.Status != model.EnrollmentInProgress {
		t.Fatalf("progress = %d%% %s", e.Progress.Percentage, e.Status)
	}
}

func TestRewindKeepsWatchTimeHighWaterMark(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	course := f.seedCourse(t, model.CoursePublished, 0, []model.LessonType{model.LessonVideo})
	moduleID, lessons := lessonIDs(course, 0)
	if _, err := f.svc.Enroll(ctx, 1, course.ID, nil); err != nil {
		t.Fatalf("enroll: %v", err)
	}

	if _, err := f.svc.UpdateLessonProgress(ctx, 1, course.ID, moduleID, lessons[0], 300, 300); err != nil {
		t.Fatalf("first update: %v", err)
	}
	e, err := f.svc.UpdateLessonProgress(ctx, 1, course.ID, moduleID, lessons[0], 60, 100)
	if err != nil {
		t.Fatalf("rewind: %v", err)
	}

	l := e.ModulesProgress[0].LessonsProgress[0]
	if l.LastPosition != 60 || l.WatchTime != 300 || l.Completed {
		t.Fatalf("lesson = %+v", l)
	}
	if e.CurrentLesson == nil || e.CurrentLesson.LessonID != lessons[0] || e.CurrentLesson.Position != 60 {
		t.Fatalf("currentLesson = %+v", e.CurrentLesson)
	}
	if e.Progress.TotalWatchTime != 300 || e.Status != model.EnrollmentEnrolled {
		t.Fatalf("progress = %+v status %s", e.Progress, e.Status)
	}

	view, err := f.svc.GetProgress(ctx, 1, course.ID)
	if err != nil {
		t.Fatalf("progress view: %v", err)
	}
	if view.CurrentLesson == nil || view.CurrentLesson.Position != 60 || view.Version != 2 {
		t.Fatalf("view = %+v", view)
	}
}

func TestRejectedMutationsPersistNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	course := f.seedCourse(t, model.CoursePublished, 0, []model.LessonType{model.LessonVideo})
	moduleID, lessons := lessonIDs(course, 0)
	if _, err := f.svc.Enroll(ctx, 1, course.ID, nil); err != nil {
		t.Fatalf("enroll: %v", err)
	}

	tests := []struct {
		name string
		call func() error
		want error
	}{
		{"negative watch time", func() error {
			_, err := f.svc.MarkLessonComplete(ctx, 1, course.ID, moduleID, lessons[0], -1)
			return err
		}, util.ErrValidation},
		{"negative position", func() error {
			_, err := f.svc.UpdateLessonProgress(ctx, 1, course.ID, moduleID, lessons[0], -5, 10)
			return err
		}, util.ErrValidation},
		{"rating out of range", func() error {
			_, err := f.svc.RateCourse(ctx, 1, course.ID, 6, "")
			return err
		}, util.ErrValidation},
		{"empty note", func() error {
			_, err := f.svc.AddLessonNote(ctx, 1, course.ID, moduleID, lessons[0], "   ", 0)
			return err
		}, util.ErrValidation},
		{"unknown module", func() error {
			_, err := f.svc.MarkLessonComplete(ctx, 1, course.ID, "nope", lessons[0], 10)
			return err
		}, util.ErrModuleNotFound},
		{"unknown lesson", func() error {
			_, err := f.svc.MarkLessonComplete(ctx, 1, course.ID, moduleID, "nope", 10)
			return err
		}, util.ErrLessonNotFound},
		{"unknown enrollment", func() error {
			_, err := f.svc.MarkLessonComplete(ctx, 2, course.ID, moduleID, lessons[0], 10)
			return err
		}, util.ErrEnrollmentNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}

	e := f.stored(t, 1, course.ID)
	if e.Version != 0 || e.ModulesProgress[0].LessonsProgress[0].WatchTime != 0 || e.Rating.IsSet() {
		t.Fatalf("rejected mutation leaked: v%d %+v", e.Version, e.ModulesProgress[0].LessonsProgress[0])
	}
}

func TestDroppedEnrollmentRejectsMutations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	course := f.seedCourse(t, model.CoursePublished, 0, []model.LessonType{model.LessonVideo, model.LessonVideo})
	moduleID, lessons := lessonIDs(course, 0)
	if _, err := f.svc.Enroll(ctx, 1, course.ID, nil); err != nil {
		t.Fatalf("enroll: %v", err)
	}
	if _, err := f.svc.MarkLessonComplete(ctx, 1, course.ID, moduleID, lessons[0], 10); err != nil {
		t.Fatalf("complete: %v", err)
	}

	f.clock = t0.Add(time.Hour)
	e, err := f.svc.DropEnrollment(ctx, 1, course.ID)
	if err != nil {
		t.Fatalf("drop: %v", err)
	}
	if e.Status != model.EnrollmentDropped || e.DroppedAt == nil || !e.DroppedAt.Equal(t0.Add(time.Hour)) {
		t.Fatalf("drop state: %s %v", e.Status, e.DroppedAt)
	}

	if _, err := f.svc.MarkLessonComplete(ctx, 1, course.ID, moduleID, lessons[1], 10); !errors.Is(err, util.ErrEnrollmentDropped) {
		t.Fatalf("mutation on dropped: err = %v", err)
	}
	if _, err := f.svc.DropEnrollment(ctx, 1, course.ID); !errors.Is(err, util.ErrInvalidState) {
		t.Fatalf("second drop: err = %v", err)
	}
	if got := f.stored(t, 1, course.ID); got.Status != model.EnrollmentDropped || got.ModulesProgress[0].LessonsProgress[1].Completed {
		t.Fatalf("dropped enrollment changed: %+v", got)
	}
}

func TestCompletedEnrollmentCannotBeDropped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	course := f.seedCourse(t, model.CoursePublished, 0, []model.LessonType{model.LessonText})
	moduleID, lessons := lessonIDs(course, 0)
	if _, err := f.svc.Enroll(ctx, 1, course.ID, nil); err != nil {
		t.Fatalf("enroll: %v", err)
	}
	if _, err := f.svc.MarkLessonComplete(ctx, 1, course.ID, moduleID, lessons[0], 0); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := f.svc.DropEnrollment(ctx, 1, course.ID); !errors.Is(err, util.ErrEnrollmentCompleted) {
		t.Fatalf("err = %v, want ErrEnrollmentCompleted", err)
	}
}

func TestRateCourseOverwritesAndRefreshesStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	course := f.seedCourse(t, model.CoursePublished, 0, []model.LessonType{model.LessonVideo})
	for _, user := range []uint{1, 2} {
		if _, err := f.svc.Enroll(ctx, user, course.ID, nil); err != nil {
			t.Fatalf("enroll %d: %v", user, err)
		}
	}

	if _, err := f.svc.RateCourse(ctx, 1, course.ID, 4, "good"); err != nil {
		t.Fatalf("rate: %v", err)
	}
	f.clock = t0.Add(time.Hour)
	e, err := f.svc.RateCourse(ctx, 1, course.ID, 2, "  changed my mind  ")
	if err != nil {
		t.Fatalf("re-rate: %v", err)
	}
	if e.Rating.Score != 2 || e.Rating.Review != "changed my mind" || !e.Rating.RatedAt.Equal(t0.Add(time.Hour)) {
		t.Fatalf("rating = %+v", e.Rating)
	}
	if _, err := f.svc.RateCourse(ctx, 2, course.ID, 5, ""); err != nil {
		t.Fatalf("rate user 2: %v", err)
	}

	got, _ := f.courses.FindByID(ctx, course.ID)
	if got.RatingCount != 2 || got.RatingAverage != 3.5 {
		t.Fatalf("course rating = %v/%d, want 3.5/2", got.RatingAverage, got.RatingCount)
	}
}

func TestAddLessonNoteAppends(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	course := f.seedCourse(t, model.CoursePublished, 0, []model.LessonType{model.LessonVideo})
	moduleID, lessons := lessonIDs(course, 0)
	if _, err := f.svc.Enroll(ctx, 1, course.ID, nil); err != nil {
		t.Fatalf("enroll: %v", err)
	}

	for _, content := range []string{"first", "second"} {
		if _, err := f.svc.AddLessonNote(ctx, 1, course.ID, moduleID, lessons[0], content, 42); err != nil {
			t.Fatalf("note: %v", err)
		}
	}
	notes := f.stored(t, 1, course.ID).ModulesProgress[0].LessonsProgress[0].Notes
	if len(notes) != 2 || notes[0].Content != "first" || notes[1].Position != 42 {
		t.Fatalf("notes = %+v", notes)
	}
}

func TestIssueCertificate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	course := f.seedCourse(t, model.CoursePublished, 0, []model.LessonType{model.LessonVideo})
	moduleID, lessons := lessonIDs(course, 0)
	if _, err := f.svc.Enroll(ctx, 1, course.ID, nil); err != nil {
		t.Fatalf("enroll: %v", err)
	}

	if _, err := f.svc.IssueCertificate(ctx, 1, course.ID); !errors.Is(err, util.ErrEnrollmentNotCompleted) {
		t.Fatalf("issue before completion: err = %v", err)
	}
	if _, err := f.svc.MarkLessonComplete(ctx, 1, course.ID, moduleID, lessons[0], 60); err != nil {
		t.Fatalf("complete: %v", err)
	}

	e, err := f.svc.IssueCertificate(ctx, 1, course.ID)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	cert := e.Certificate
	if !cert.Issued || !strings.HasPrefix(cert.Number, "CERT-20260301-") || cert.IssuedAt == nil {
		t.Fatalf("certificate = %+v", cert)
	}
	key := "certificates/" + course.ID + "/" + cert.Number + ".json"
	if cert.URL != "/uploads/"+key {
		t.Fatalf("url = %s", cert.URL)
	}
	if _, err := os.Stat(filepath.Join(f.storage, key)); err != nil {
		t.Fatalf("certificate document missing: %v", err)
	}

	again, err := f.svc.IssueCertificate(ctx, 1, course.ID)
	if err != nil {
		t.Fatalf("reissue: %v", err)
	}
	if again.Certificate.Number != cert.Number || again.Version != e.Version {
		t.Fatalf("reissue changed certificate: %+v", again.Certificate)
	}
}

func TestConcurrentCompletionsAreAllRetained(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	types := []model.LessonType{model.LessonVideo, model.LessonVideo, model.LessonVideo, model.LessonText}
	course := f.seedCourse(t, model.CoursePublished, 0, types)
	moduleID, lessons := lessonIDs(course, 0)
	if _, err := f.svc.Enroll(ctx, 1, course.ID, nil); err != nil {
		t.Fatalf("enroll: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(lessons))
	for i, id := range lessons {
		wg.Add(1)
		go func(id string, watch int64) {
			defer wg.Done()
			if _, err := f.svc.MarkLessonComplete(ctx, 1, course.ID, moduleID, id, watch); err != nil {
				errs <- err
			}
		}(id, int64(10*(i+1)))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent completion failed: %v", err)
	}

	e := f.stored(t, 1, course.ID)
	for _, l := range e.ModulesProgress[0].LessonsProgress {
		if !l.Completed {
			t.Fatalf("lost completion of %s", l.LessonID)
		}
	}
	if e.Progress.Percentage != 100 || e.Status != model.EnrollmentCompleted || e.Version != len(lessons) {
		t.Fatalf("final state: %d%% %s v%d", e.Progress.Percentage, e.Status, e.Version)
	}
	if e.Progress.TotalWatchTime != 100 {
		t.Fatalf("totalWatchTime = %d, want 100", e.Progress.TotalWatchTime)
	}
}

func TestMutateRetriesThenGivesUp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	course := f.seedCourse(t, model.CoursePublished, 0, []model.LessonType{model.LessonVideo})
	if _, err := f.svc.Enroll(ctx, 1, course.ID, nil); err != nil {
		t.Fatalf("enroll: %v", err)
	}
	f.svc.SetMaxRetries(3)

	bumpVersion := func(e *model.Enrollment) {
		err := f.db.Model(&model.Enrollment{}).Where("id = ?", e.ID).
			UpdateColumn("version", gorm.Expr("version + 1")).Error
		if err != nil {
			t.Errorf("bump version: %v", err)
		}
	}

	calls := 0
	_, err := f.svc.mutate(ctx, "test", 1, course.ID, func(e *model.Enrollment, now time.Time) error {
		calls++
		bumpVersion(e)
		return nil
	})
	if !errors.Is(err, util.ErrConcurrentUpdate) || !errors.Is(err, util.ErrConflict) {
		t.Fatalf("err = %v, want ErrConcurrentUpdate", err)
	}
	if calls != 3 {
		t.Fatalf("attempts = %d, want 3", calls)
	}

	calls = 0
	e, err := f.svc.mutate(ctx, "test", 1, course.ID, func(e *model.Enrollment, now time.Time) error {
		calls++
		if calls == 1 {
			bumpVersion(e)
		}
		e.Rating.Review = "replayed"
		return nil
	})
	if err != nil {
		t.Fatalf("retry after one conflict: %v", err)
	}
	if calls != 2 || e.Rating.Review != "replayed" {
		t.Fatalf("calls=%d review=%q", calls, e.Rating.Review)
	}
}

func TestSetMaxRetriesClampsToOne(t *testing.T) {
	f := newFixture(t)
	f.svc.SetMaxRetries(0)
	if f.svc.MaxRetries() != 1 {
		t.Fatalf("MaxRetries = %d, want 1", f.svc.MaxRetries())
	}
}

func TestListEnrollments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		course := f.seedCourse(t, model.CoursePublished, 0, []model.LessonType{model.LessonVideo})
		if _, err := f.svc.Enroll(ctx, 5, course.ID, nil); err != nil {
			t.Fatalf("enroll: %v", err)
		}
	}

	list, total, err := f.svc.ListEnrollments(ctx, 5, "", 1, 10)
	if err != nil || total != 3 || len(list) != 3 {
		t.Fatalf("list: %d/%d err=%v", len(list), total, err)
	}
	if _, _, err := f.svc.ListEnrollments(ctx, 5, "paused", 1, 10); !errors.Is(err, util.ErrValidation) {
		t.Fatalf("unknown status: err = %v", err)
	}
}

func TestRecomputeAllRepairsDriftedAggregates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	course := f.seedCourse(t, model.CoursePublished, 0, []model.LessonType{model.LessonVideo, model.LessonVideo})
	moduleID, lessons := lessonIDs(course, 0)
	if _, err := f.svc.Enroll(ctx, 1, course.ID, nil); err != nil {
		t.Fatalf("enroll: %v", err)
	}
	if _, err := f.svc.Enroll(ctx, 2, course.ID, nil); err != nil {
		t.Fatalf("enroll: %v", err)
	}
	if _, err := f.svc.MarkLessonComplete(ctx, 1, course.ID, moduleID, lessons[0], 10); err != nil {
		t.Fatalf("complete: %v", err)
	}

	err := f.db.Model(&model.Enrollment{}).Where("user_id = ?", 1).
		UpdateColumn("progress_percentage", 99).Error
	if err != nil {
		t.Fatalf("tamper: %v", err)
	}

	n, err := f.svc.RecomputeAll(ctx, 1)
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if n != 1 {
		t.Fatalf("updated %d enrollments, want 1", n)
	}
	if got := f.stored(t, 1, course.ID).Progress.Percentage; got != 50 {
		t.Fatalf("percentage = %d, want 50", got)
	}

	n, err = f.svc.RecomputeAll(ctx, 10)
	if err != nil || n != 0 {
		t.Fatalf("second pass updated %d (err %v), want 0", n, err)
	}
}
