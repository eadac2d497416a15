package app

import (
	"geosewa_exam/docs"
	"geosewa_exam/internal/middleware"
	"geosewa_exam/pkg/monitoring"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func (a *App) registerRoutes(router *gin.Engine, c *controllers, s *services) {
	docs.SwaggerInfo.BasePath = "/api"
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/swagger/doc.json")))

	router.GET("/metrics", monitoring.PrometheusHandler())

	// 1. Public: login and the exam catalogue
	a.registerPublicRoutes(router, c)

	// 2. Everything tied to the signed-in user
	authGroup := router.Group("/api")
	authGroup.Use(middleware.SessionRequired(s.session))
	{
		a.registerAttemptRoutes(authGroup, c)
		authGroup.GET("/results", c.result.History)
	}
}

func (a *App) registerPublicRoutes(router *gin.Engine, c *controllers) {
	public := router.Group("/api")
	{
		public.GET("/health", c.health.HealthCheck)

		public.POST("/auth/login", c.auth.Login)
		public.POST("/auth/logout", c.auth.Logout)
		public.GET("/auth/session", c.auth.Session)

		public.GET("/exam-sets", c.exam.ListExamSets)
		public.GET("/exam-sets/:id", c.exam.GetExamSet)
	}
}

func (a *App) registerAttemptRoutes(group *gin.RouterGroup, c *controllers) {
	group.POST("/exam-sets/:id/start", c.exam.StartAttempt)

	attempts := group.Group("/attempts")
	{
		attempts.POST("/:id/open", c.attempt.OpenAttempt)
		attempts.GET("/:id", c.attempt.GetAttempt)
		attempts.DELETE("/:id", c.attempt.AbandonAttempt)
		attempts.PUT("/:id/answers", c.attempt.SelectAnswer)
		attempts.POST("/:id/page", c.attempt.ChangePage)
		attempts.POST("/:id/submit", c.attempt.SubmitAttempt)
		attempts.GET("/:id/result", c.attempt.GetResult)
		attempts.GET("/:id/report", c.attempt.GetReport)
	}
}
