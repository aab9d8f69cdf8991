package modules

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sakuapp/saku/internal/container"
	handlers "github.com/sakuapp/saku/internal/interface/http"
	"github.com/sakuapp/saku/internal/interface/middleware"
	"github.com/sakuapp/saku/pkg/helpers"
)

// AccountModule wires the identity endpoints.
// Public: POST /api/register, POST /api/login, POST /api/refresh
// Protected: POST /api/logout, POST /api/profile/avatar
type AccountModule struct {
	Handler *handlers.AccountHandler
	JWT     *helpers.JWTManager
}

func NewAccountModule(h *handlers.AccountHandler, jwt *helpers.JWTManager) *AccountModule {
	return &AccountModule{Handler: h, JWT: jwt}
}

func (m *AccountModule) Register(rg *gin.RouterGroup) {
	registerLimiter := middleware.RateLimit(container.GetRedis(), 5, time.Minute, middleware.KeyByIPAndPath(), nil)
	loginLimiter := middleware.RateLimit(container.GetRedis(), 10, time.Minute, middleware.KeyByIP(), nil)
	refreshLimiter := middleware.RateLimit(container.GetRedis(), 60, time.Minute, middleware.KeyByIP(), nil)

	rg.POST("/register", registerLimiter, m.Handler.Register)
	rg.POST("/login", loginLimiter, m.Handler.Login)
	rg.POST("/refresh", refreshLimiter, m.Handler.Refresh)

	auth := rg.Group("/")
	auth.Use(middleware.Auth(container.GetRedis(), m.JWT))
	auth.Use(middleware.RateLimit(container.GetRedis(), 120, time.Minute, middleware.KeyByUserID(), nil))
	{
		auth.POST("/logout", m.Handler.Logout)
		auth.POST("/profile/avatar", m.Handler.UploadAvatar)
	}
}
