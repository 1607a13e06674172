package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/zaqqye/seb_monitor/internal/config"
	"github.com/zaqqye/seb_monitor/internal/controllers"
	"github.com/zaqqye/seb_monitor/internal/middleware"
	"github.com/zaqqye/seb_monitor/internal/service"
	"github.com/zaqqye/seb_monitor/internal/ws"
)

func Register(r *gin.Engine, cfg *config.Config, svc *service.Service, hubs *ws.Hubs, db controllers.Pinger, log logrus.FieldLogger) {
	// Controllers
	clientCtrl := &controllers.ClientController{Service: svc, Log: log}
	monitorCtrl := &controllers.MonitoringController{Service: svc, Hubs: hubs, Log: log}
	healthCtrl := &controllers.HealthController{DB: db}

	r.GET("/healthz", healthCtrl.Health)

	// SEB clients; the connection id handed out on the first ping is the credential
	r.POST("/api/v1/exams/:exam_id/ping", clientCtrl.Ping)
	client := r.Group("/api/v1/connections/:connection_id")
	{
		client.POST("/handshake", clientCtrl.Handshake)
		client.POST("/events", clientCtrl.Events)
		client.POST("/quit", clientCtrl.Quit)
		client.GET("/notifications", clientCtrl.PendingNotifications)
		client.POST("/notifications/:notification_id/ack", clientCtrl.AcknowledgeNotification)
	}
	r.GET("/ws/client/:connection_id", ws.ClientHandler(hubs.Client, svc))

	// Protected
	authMW := middleware.AuthMiddleware(middleware.AuthConfig{JWTSecret: cfg.JWTSecret})
	proctor := r.Group("/api/v1/monitoring", authMW, middleware.RequireRoles(controllers.RoleProctor))
	{
		proctor.GET("/stats", monitorCtrl.Stats)
		proctor.GET("/exams/:exam_id/connections", monitorCtrl.ListConnections)
		proctor.POST("/exams/:exam_id/quit", monitorCtrl.QuitExam)
		proctor.GET("/connections/:connection_id", monitorCtrl.GetConnection)
		proctor.POST("/connections/:connection_id/disable", monitorCtrl.DisableConnection)
		proctor.POST("/connections/:connection_id/close", monitorCtrl.CloseConnection)
		proctor.POST("/connections/:connection_id/notifications", monitorCtrl.RaiseNotification)
		proctor.POST("/notifications/:notification_id/ack", monitorCtrl.AcknowledgeNotification)
	}

	// Admin-only
	admin := r.Group("/api/v1/admin", authMW, middleware.RequireRoles(controllers.RoleAdmin))
	{
		admin.DELETE("/exams/:exam_id/connections", monitorCtrl.ArchiveExam)
	}

	r.GET("/ws/monitoring/exams/:exam_id", authMW, middleware.RequireRoles(controllers.RoleProctor), ws.MonitoringHandler(hubs.Monitoring))
}
