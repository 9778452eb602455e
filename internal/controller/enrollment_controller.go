package controller

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/ArchismanDutta/OmazingPWA-sub001/internal/model"
	"github.com/ArchismanDutta/OmazingPWA-sub001/internal/service"
	"github.com/ArchismanDutta/OmazingPWA-sub001/internal/util"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
)

type EnrollmentController struct {
	EnrollmentService *service.EnrollmentService
}

func NewEnrollmentController(enrollmentService *service.EnrollmentService) *EnrollmentController {
	return &EnrollmentController{EnrollmentService: enrollmentService}
}

type EnrollRequest struct {
	PaymentInfo *model.PaymentInfo `json:"paymentInfo"`
}

type CompleteLessonRequest struct {
	WatchTime int64 `json:"watchTime"`
}

type UpdateProgressRequest struct {
	Position  int64 `json:"position"`
	WatchTime int64 `json:"watchTime"`
}

type QuizAttemptRequest struct {
	Score   float64         `json:"score"`
	Answers json.RawMessage `json:"answers" swaggertype:"object"`
	Passed  bool            `json:"passed"`
}

type NoteRequest struct {
	Content  string `json:"content" binding:"required"`
	Position int64  `json:"position"`
}

type RatingRequest struct {
	Score  int    `json:"score" binding:"required"`
	Review string `json:"review"`
}

// @Summary 选课
// @Description 报名已发布的课程，付费课程需提供支付信息
// @Tags 选课
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param courseId path string true "课程ID"
// @Param body body EnrollRequest false "支付信息"
// @Success 201 {object} util.Response{data=model.Enrollment}
// @Failure 404 {object} util.Response
// @Failure 409 {object} util.Response
// @Router /api/courses/{courseId}/enroll [post]
func (c *EnrollmentController) Enroll(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	// 请求体可选，分块传输时 ContentLength 为 -1，只能以读到 EOF 判断为空
	var req EnrollRequest
	if ctx.Request.Body != nil && ctx.Request.Body != http.NoBody {
		if err := ctx.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			util.BadRequest(ctx, err.Error())
			return
		}
	}

	enrollment, err := c.EnrollmentService.Enroll(ctx.Request.Context(), user.UserID, ctx.Param("courseId"), req.PaymentInfo)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Created(ctx, enrollment)
}

// @Summary 我的选课列表
// @Tags 选课
// @Produce json
// @Security BearerAuth
// @Param status query string false "状态: enrolled/in_progress/completed/dropped"
// @Param page query int false "页码"
// @Param limit query int false "每页数量"
// @Success 200 {object} util.Response{data=util.PageResponse}
// @Router /api/enrollments [get]
func (c *EnrollmentController) ListEnrollments(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	page, limit := util.ParsePage(ctx.Query("page"), ctx.Query("limit"))
	status := model.EnrollmentStatus(ctx.Query("status"))

	list, total, err := c.EnrollmentService.ListEnrollments(ctx.Request.Context(), user.UserID, status, page, limit)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, util.PageResponse{List: list, Total: total, Page: page, Limit: limit})
}

// @Summary 获取选课详情
// @Description 返回完整的模块/课时进度树
// @Tags 选课
// @Produce json
// @Security BearerAuth
// @Param courseId path string true "课程ID"
// @Success 200 {object} util.Response{data=model.Enrollment}
// @Failure 404 {object} util.Response
// @Router /api/courses/{courseId}/enrollment [get]
func (c *EnrollmentController) GetEnrollment(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	enrollment, err := c.EnrollmentService.GetEnrollment(ctx.Request.Context(), user.UserID, ctx.Param("courseId"))
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, enrollment)
}

// @Summary 获取学习进度
// @Description 返回状态、汇总进度和当前课时
// @Tags 选课
// @Produce json
// @Security BearerAuth
// @Param courseId path string true "课程ID"
// @Success 200 {object} util.Response{data=service.ProgressView}
// @Failure 404 {object} util.Response
// @Router /api/courses/{courseId}/enrollment/progress [get]
func (c *EnrollmentController) GetProgress(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	view, err := c.EnrollmentService.GetProgress(ctx.Request.Context(), user.UserID, ctx.Param("courseId"))
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, view)
}

// @Summary 完成课时
// @Description 标记非测验课时为已完成，测验课时需通过测验完成
// @Tags 学习进度
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param courseId path string true "课程ID"
// @Param moduleId path string true "模块ID"
// @Param lessonId path string true "课时ID"
// @Param body body CompleteLessonRequest false "观看时长（秒）"
// @Success 200 {object} util.Response{data=service.ProgressView}
// @Failure 409 {object} util.Response
// @Failure 422 {object} util.Response
// @Router /api/courses/{courseId}/enrollment/modules/{moduleId}/lessons/{lessonId}/complete [post]
func (c *EnrollmentController) CompleteLesson(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	var req CompleteLessonRequest
	if ctx.Request.ContentLength > 0 {
		if err := ctx.ShouldBindJSON(&req); err != nil {
			util.BadRequest(ctx, err.Error())
			return
		}
	}

	enrollment, err := c.EnrollmentService.MarkLessonComplete(ctx.Request.Context(), user.UserID,
		ctx.Param("courseId"), ctx.Param("moduleId"), ctx.Param("lessonId"), req.WatchTime)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, service.NewProgressView(enrollment))
}

// @Summary 更新课时进度
// @Description 记录播放位置（允许回退）和观看时长（取最大值）
// @Tags 学习进度
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param courseId path string true "课程ID"
// @Param moduleId path string true "模块ID"
// @Param lessonId path string true "课时ID"
// @Param body body UpdateProgressRequest true "播放进度"
// @Success 200 {object} util.Response{data=service.ProgressView}
// @Router /api/courses/{courseId}/enrollment/modules/{moduleId}/lessons/{lessonId}/progress [put]
func (c *EnrollmentController) UpdateLessonProgress(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	var req UpdateProgressRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	enrollment, err := c.EnrollmentService.UpdateLessonProgress(ctx.Request.Context(), user.UserID,
		ctx.Param("courseId"), ctx.Param("moduleId"), ctx.Param("lessonId"), req.Position, req.WatchTime)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, service.NewProgressView(enrollment))
}

// @Summary 提交测验
// @Description 追加一次测验记录，通过时课时完成
// @Tags 学习进度
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param courseId path string true "课程ID"
// @Param moduleId path string true "模块ID"
// @Param lessonId path string true "课时ID"
// @Param body body QuizAttemptRequest true "测验结果"
// @Success 200 {object} util.Response{data=service.ProgressView}
// @Router /api/courses/{courseId}/enrollment/modules/{moduleId}/lessons/{lessonId}/quiz-attempts [post]
func (c *EnrollmentController) SubmitQuizAttempt(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	var req QuizAttemptRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	enrollment, err := c.EnrollmentService.SubmitQuizAttempt(ctx.Request.Context(), user.UserID,
		ctx.Param("courseId"), ctx.Param("moduleId"), ctx.Param("lessonId"),
		req.Score, datatypes.JSON(req.Answers), req.Passed)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, service.NewProgressView(enrollment))
}

// @Summary 添加课时笔记
// @Tags 学习进度
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param courseId path string true "课程ID"
// @Param moduleId path string true "模块ID"
// @Param lessonId path string true "课时ID"
// @Param body body NoteRequest true "笔记"
// @Success 200 {object} util.Response
// @Router /api/courses/{courseId}/enrollment/modules/{moduleId}/lessons/{lessonId}/notes [post]
func (c *EnrollmentController) AddNote(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	var req NoteRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	moduleID, lessonID := ctx.Param("moduleId"), ctx.Param("lessonId")
	enrollment, err := c.EnrollmentService.AddLessonNote(ctx.Request.Context(), user.UserID,
		ctx.Param("courseId"), moduleID, lessonID, req.Content, req.Position)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, enrollment.Module(moduleID).Lesson(lessonID).Notes)
}

// @Summary 课程评分
// @Description 评分1-5分，重复提交会覆盖之前的评分
// @Tags 选课
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param courseId path string true "课程ID"
// @Param body body RatingRequest true "评分"
// @Success 200 {object} util.Response{data=model.Rating}
// @Router /api/courses/{courseId}/enrollment/rating [post]
func (c *EnrollmentController) RateCourse(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	var req RatingRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	enrollment, err := c.EnrollmentService.RateCourse(ctx.Request.Context(), user.UserID, ctx.Param("courseId"), req.Score, req.Review)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, enrollment.Rating)
}

// @Summary 退课
// @Tags 选课
// @Produce json
// @Security BearerAuth
// @Param courseId path string true "课程ID"
// @Success 200 {object} util.Response{data=service.ProgressView}
// @Failure 422 {object} util.Response
// @Router /api/courses/{courseId}/enrollment/drop [post]
func (c *EnrollmentController) Drop(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	enrollment, err := c.EnrollmentService.DropEnrollment(ctx.Request.Context(), user.UserID, ctx.Param("courseId"))
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, service.NewProgressView(enrollment))
}

// @Summary 管理员为学员退课
// @Tags 管理
// @Produce json
// @Security BearerAuth
// @Param courseId path string true "课程ID"
// @Param userId path int true "学员ID"
// @Success 200 {object} util.Response{data=service.ProgressView}
// @Router /api/admin/courses/{courseId}/enrollments/{userId}/drop [post]
func (c *EnrollmentController) AdminDrop(ctx *gin.Context) {
	userID, err := strconv.ParseUint(ctx.Param("userId"), 10, 64)
	if err != nil || userID == 0 {
		util.BadRequest(ctx, "invalid user id")
		return
	}

	enrollment, err := c.EnrollmentService.DropEnrollment(ctx.Request.Context(), uint(userID), ctx.Param("courseId"))
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, service.NewProgressView(enrollment))
}

// @Summary 领取结业证书
// @Description 课程完成后签发证书，重复调用返回同一证书
// @Tags 选课
// @Produce json
// @Security BearerAuth
// @Param courseId path string true "课程ID"
// @Success 200 {object} util.Response{data=model.Certificate}
// @Failure 422 {object} util.Response
// @Router /api/courses/{courseId}/enrollment/certificate [post]
func (c *EnrollmentController) IssueCertificate(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	enrollment, err := c.EnrollmentService.IssueCertificate(ctx.Request.Context(), user.UserID, ctx.Param("courseId"))
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, enrollment.Certificate)
}
