package router

import (
	"matchlink-service/controller"
	"matchlink-service/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
)

func Rest(app *fiber.App) {
	api := app.Group("/v1", logger.New())

	// Coins
	coins := api.Group("/coins", middleware.JWT())
	coins.Get("/balance", controller.CoinBalance)
	coins.Get("/transactions", controller.CoinTransactions)
	coins.Get("/costs", controller.CoinCosts)
	coins.Get("/statistics", controller.CoinStatistics)
	coins.Get("/packages", controller.CoinPackages)
	coins.Post("/purchase/confirm", controller.ConfirmPurchase)
	coins.Post("/daily-reward", controller.ClaimDailyReward)

	// Matching
	matching := api.Group("/matching", middleware.JWT())
	matching.Get("/discover", controller.DiscoverMatches)
	matching.Post("/action", controller.MatchAction)
	matching.Get("/matches", controller.ListMatches)
	matching.Get("/likes-received", controller.LikesReceived)
	matching.Get("/statistics", controller.MatchStatistics)
	matching.Delete("/matches/:id", controller.Unmatch)
	matching.Post("/block", controller.BlockUser)

	// Chat
	chat := api.Group("/chat", middleware.JWT())
	chat.Get("/conversations", controller.ListConversations)
	chat.Get("/conversations/:id/messages", controller.ListMessages)
	chat.Post("/conversations/:id/messages", controller.SendMessage)
	chat.Post("/conversations/:id/read", controller.MarkMessagesRead)
	chat.Put("/conversations/:id/mute", controller.MuteConversation)
	chat.Put("/conversations/:id/archive", controller.ArchiveConversation)
	chat.Get("/unread-count", controller.UnreadCount)
	chat.Put("/messages/:id", controller.EditMessage)
	chat.Delete("/messages/:id", controller.DeleteMessage)
	chat.Post("/messages/:id/reactions", controller.ReactToMessage)

	// Calls
	calls := api.Group("/calls", middleware.JWT())
	calls.Get("/:id", controller.CallStatus)

	// Admin
	admin := api.Group("/admin", middleware.JWT(), middleware.RBAC())
	admin.Post("/coins/adjust", controller.AdminAdjustCoins)
}
