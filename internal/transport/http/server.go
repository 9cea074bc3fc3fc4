package http

import (
	"time"

	"github.com/gin-gonic/gin"

	appsvc "paperquote/internal/app"
	"paperquote/internal/bootstrap"
	"paperquote/internal/repository"
	"paperquote/internal/transport/http/handler"
	"paperquote/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	healthHandler := handler.NewHealthHandler(app)
	router.GET("/healthz", healthHandler.Check)

	userRepo := repository.NewUserRepository(app.MySQL)
	authService := appsvc.NewAuthService(
		userRepo,
		app.Config.Auth.JWTSecret,
		time.Duration(app.Config.Auth.JWTExpireMinute)*time.Minute,
	)
	authHandler := handler.NewAuthHandler(authService)
	documentHandler := handler.NewDocumentHandler(app.IngestService, app.Config.Ingest.MaxPDFSizeMB)
	queryHandler := handler.NewQueryHandler(app.Pipeline)

	v1 := router.Group("/api/v1")
	authGroup := v1.Group("/auth")
	authGroup.POST("/register", authHandler.Register)
	authGroup.POST("/login", authHandler.Login)
	authGroup.GET("/me", middleware.AuthJWT(app.Config.Auth.JWTSecret), authHandler.Me)

	authed := v1.Group("")
	authed.Use(middleware.AuthJWT(app.Config.Auth.JWTSecret))
	authed.POST("/documents", documentHandler.Upload)
	authed.GET("/documents", documentHandler.List)
	authed.POST("/documents/:id/resubmit", documentHandler.Resubmit)
	authed.GET("/jobs", documentHandler.ListJobs)
	authed.GET("/jobs/:id", documentHandler.GetJob)
	authed.POST("/query/retrieve", queryHandler.Retrieve)
	authed.POST("/query/ask", queryHandler.Ask)

	return router
}
