package controller

import (
	"errors"

	"github.com/ArchismanDutta/OmazingPWA-sub001/internal/repository"
	"github.com/ArchismanDutta/OmazingPWA-sub001/internal/util"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type CourseController struct {
	CourseRepo *repository.CourseRepository
}

func NewCourseController(courseRepo *repository.CourseRepository) *CourseController {
	return &CourseController{CourseRepo: courseRepo}
}

// @Summary 获取课程大纲
// @Description 返回已发布课程的模块与课时
// @Tags 课程
// @Produce json
// @Param courseId path string true "课程ID"
// @Success 200 {object} util.Response{data=model.Course}
// @Failure 404 {object} util.Response
// @Router /api/courses/{courseId} [get]
func (c *CourseController) GetCourse(ctx *gin.Context) {
	course, err := c.CourseRepo.FindWithCurriculum(ctx.Request.Context(), ctx.Param("courseId"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			util.HandleError(ctx, util.ErrCourseNotFound)
			return
		}
		util.LogInternalError(ctx, err)
		return
	}
	// 未发布的课程对学员不可见
	if !course.IsPublished() {
		util.HandleError(ctx, util.ErrCourseNotFound)
		return
	}
	util.Success(ctx, course)
}
