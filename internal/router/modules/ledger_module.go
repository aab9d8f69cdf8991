package modules

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sakuapp/saku/internal/container"
	handlers "github.com/sakuapp/saku/internal/interface/http"
	"github.com/sakuapp/saku/internal/interface/middleware"
	"github.com/sakuapp/saku/pkg/helpers"
)

// LedgerModule wires the ledger mutators and the derivation read endpoints.
// Everything here requires an authenticated session.
type LedgerModule struct {
	Handler *handlers.LedgerHandler
	JWT     *helpers.JWTManager
}

func NewLedgerModule(h *handlers.LedgerHandler, jwt *helpers.JWTManager) *LedgerModule {
	return &LedgerModule{Handler: h, JWT: jwt}
}

func (m *LedgerModule) Register(rg *gin.RouterGroup) {
	auth := rg.Group("/")
	auth.Use(middleware.Auth(container.GetRedis(), m.JWT))
	auth.Use(
		middleware.RateLimit(container.GetRedis(), 300, time.Minute, middleware.KeyByIP(), middleware.AllowPrivateIP()),
		middleware.RateLimit(container.GetRedis(), 120, time.Minute, middleware.KeyByUserID(), nil),
	)
	{
		auth.GET("/ledger", m.Handler.GetLedger)

		auth.POST("/transactions", m.Handler.AddTransaction)
		auth.GET("/transactions/search", m.Handler.SearchTransactions)

		auth.POST("/fixed-expenses", m.Handler.AddFixedExpense)
		auth.DELETE("/fixed-expenses/:index", m.Handler.RemoveFixedExpense)

		auth.POST("/goals", m.Handler.AddGoal)
		auth.DELETE("/goals/:id", m.Handler.RemoveGoal)

		auth.POST("/loans", m.Handler.AddLoan)

		auth.PUT("/budget/limit", m.Handler.SetMonthlyLimit)
		auth.PUT("/profile", m.Handler.UpdateProfile)

		auth.POST("/groups", m.Handler.CreateGroup)
		auth.POST("/groups/:group/messages", m.Handler.PostMessage)

		auth.GET("/budget/safe-spend", m.Handler.SafeSpend)
		auth.GET("/budget/heatmap", m.Handler.Heatmap)
		auth.GET("/budget/sentiment", m.Handler.Sentiment)
	}
}
