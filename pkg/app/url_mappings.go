package app

import (
	"github.com/osvaldoandrade/captionq/internal/controllers"
	"github.com/osvaldoandrade/captionq/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupMappings(app *Application) {
	app.Engine.GET("/healthz", app.healthz)
	app.Engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := app.Engine.Group("/v1/captionq")
	v1.POST("/sessions", controllers.NewCreateSessionController(app.Sessions).Handle)

	session := v1.Group("/sessions/:id", middleware.SessionAuthMiddleware(app.Validator))
	{
		session.GET("", controllers.NewGetSessionController(app.Sessions).Handle)
		session.DELETE("", controllers.NewResetSessionController(app.Sessions).Handle)
		session.POST("/images",
			middleware.RateLimitUploads(app.RateLimiter, app.Config),
			controllers.NewUploadImageController(app.Pipeline, app.Config.MaxFileSizeBytes).Handle,
		)
		session.GET("/results", controllers.NewListResultsController(app.Sessions).Handle)
		session.GET("/export.csv", controllers.NewExportCSVController(app.Export).Handle)
		session.GET("/predictions/:predictionId", controllers.NewGetPredictionController(app.Pipeline).Handle)
	}
}
