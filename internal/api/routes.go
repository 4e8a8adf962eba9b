package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes sets up the API endpoints and groups them logically.
func RegisterRoutes(router *gin.Engine, h *APIHandler) {

	// --- Raw provider streams ---
	aiGroup := router.Group("/api/ai")
	{
		aiGroup.POST("/generate", h.GenerateStream)
		aiGroup.POST("/groq", h.GenerateWith("groq"))
		aiGroup.POST("/deepseek", h.GenerateWith("deepseek"))
		aiGroup.POST("/chimera", h.GenerateWith("chimera"))
		aiGroup.POST("/gemini", h.GenerateWith("gemini"))
	}

	// --- Project Lifecycle ---
	projectGroup := router.Group("/project")
	{
		projectGroup.POST("/generate", h.GenerateProject)
		projectGroup.POST("/cancel", h.CancelGeneration)
		projectGroup.GET("/:id", h.GetProject)
		projectGroup.GET("/:id/preview", h.PreviewProject)
		projectGroup.GET("/:id/files/*path", h.ProjectFile)
		projectGroup.POST("/:id/deploy", h.DeployProject)
	}
	router.GET("/projects", h.ListProjects)

	router.GET("/health", h.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
