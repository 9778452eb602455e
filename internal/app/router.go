package app

import (
	"github.com/ArchismanDutta/OmazingPWA-sub001/docs"
	"github.com/ArchismanDutta/OmazingPWA-sub001/internal/config"
	"github.com/ArchismanDutta/OmazingPWA-sub001/internal/middleware"
	"github.com/ArchismanDutta/OmazingPWA-sub001/internal/model"
	"github.com/ArchismanDutta/OmazingPWA-sub001/pkg/monitoring"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func (a *App) registerRoutes(router *gin.Engine, c *controllers, cfg *config.Config) {
	docs.SwaggerInfo.BasePath = "/"
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/swagger/doc.json")))

	router.GET("/metrics", monitoring.PrometheusHandler())

	// 1. 公共路由(无需登录)
	a.registerPublicRoutes(router, c)

	// 2. 需要授权的路由
	authGroup := router.Group("/api")
	authGroup.Use(middleware.AuthMiddleware(cfg))
	{
		a.registerStudentRoutes(authGroup, c)
	}

	// 3. 管理员相关接口
	a.registerAdminRoutes(router, c, cfg)
}

func (a *App) registerPublicRoutes(router *gin.Engine, c *controllers) {
	public := router.Group("/api")
	{
		public.GET("/health", c.health.HealthCheck)
		public.GET("/courses/:courseId", c.course.GetCourse)
	}
}

func (a *App) registerStudentRoutes(group *gin.RouterGroup, c *controllers) {
	group.GET("/enrollments", c.enrollment.ListEnrollments)
	group.POST("/courses/:courseId/enroll", c.enrollment.Enroll)

	enrollment := group.Group("/courses/:courseId/enrollment")
	{
		enrollment.GET("", c.enrollment.GetEnrollment)
		enrollment.GET("/progress", c.enrollment.GetProgress)
		enrollment.POST("/rating", c.enrollment.RateCourse)
		enrollment.POST("/drop", c.enrollment.Drop)
		enrollment.POST("/certificate", c.enrollment.IssueCertificate)

		lesson := enrollment.Group("/modules/:moduleId/lessons/:lessonId")
		lesson.POST("/complete", c.enrollment.CompleteLesson)
		lesson.PUT("/progress", c.enrollment.UpdateLessonProgress)
		lesson.POST("/quiz-attempts", c.enrollment.SubmitQuizAttempt)
		lesson.POST("/notes", c.enrollment.AddNote)
	}
}

func (a *App) registerAdminRoutes(router *gin.Engine, c *controllers, cfg *config.Config) {
	admin := router.Group("/api/admin")
	admin.Use(middleware.AuthMiddleware(cfg), middleware.RoleMiddleware(model.Admin))
	{
		admin.POST("/courses/:courseId/enrollments/:userId/drop", c.enrollment.AdminDrop)
	}
}
