package controller

import (
	"matchlink-service/coin"
	"matchlink-service/model"

	"github.com/gofiber/fiber/v2"
)

// CoinPackage is one purchasable coin bundle. Prices are display hints only;
// the payment provider is the source of truth for billing.
type CoinPackage struct {
	ID       string  `json:"id"`
	Coins    int64   `json:"coins"`
	Bonus    int64   `json:"bonus"`
	PriceUSD float64 `json:"price_usd"`
}

var coinPackages = []CoinPackage{
	{ID: "small", Coins: 100, Bonus: 0, PriceUSD: 0.99},
	{ID: "medium", Coins: 500, Bonus: 50, PriceUSD: 4.99},
	{ID: "large", Coins: 1200, Bonus: 200, PriceUSD: 9.99},
	{ID: "mega", Coins: 2500, Bonus: 500, PriceUSD: 19.99},
}

func CoinBalance(c *fiber.Ctx) error {
	balance, err := ledger.Balance(c.Context(), currentUserID(c))
	if err != nil {
		return fail(c, err)
	}
	return success(c, fiber.Map{"balance": balance})
}

func CoinTransactions(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	offset := c.QueryInt("offset", 0)

	transactions, err := ledger.History(c.Context(), currentUserID(c), c.Query("type"), limit, offset)
	if err != nil {
		return fail(c, err)
	}
	return success(c, fiber.Map{"transactions": transactions})
}

func CoinCosts(c *fiber.Ctx) error {
	costs := coin.ActionCosts()
	return success(c, fiber.Map{
		"message":       costs.Message,
		"video_call":    costs.VideoCall,
		"voice_call":    costs.VoiceCall,
		"super_match":   costs.SuperMatch,
		"profile_boost": costs.ProfileBoost,
		"gift":          costs.Gift,
	})
}

func CoinStatistics(c *fiber.Ctx) error {
	stats, err := ledger.Statistics(c.Context(), currentUserID(c))
	if err != nil {
		return fail(c, err)
	}
	return success(c, stats)
}

func CoinPackages(c *fiber.Ctx) error {
	return success(c, fiber.Map{"packages": coinPackages})
}

type confirmPurchaseInput struct {
	PackageID            string  `json:"package_id"`
	PaymentProvider      string  `json:"payment_provider"`
	PaymentTransactionID string  `json:"payment_transaction_id"`
	PaymentAmount        float64 `json:"payment_amount"`
	PaymentCurrency      string  `json:"payment_currency"`
}

// ConfirmPurchase credits a completed store purchase. Replays of the same
// payment transaction id return 409 without crediting twice.
func ConfirmPurchase(c *fiber.Ctx) error {
	input := new(confirmPurchaseInput)
	if err := c.BodyParser(input); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if input.PaymentTransactionID == "" {
		return badRequest(c, "payment_transaction_id is required")
	}

	var pack *CoinPackage
	for i := range coinPackages {
		if coinPackages[i].ID == input.PackageID {
			pack = &coinPackages[i]
			break
		}
	}
	if pack == nil {
		return badRequest(c, "Unknown package")
	}

	balance, err := ledger.ProcessPurchase(c.Context(), currentUserID(c), pack.Coins+pack.Bonus, coin.PaymentInfo{
		Provider:      input.PaymentProvider,
		TransactionID: input.PaymentTransactionID,
		Status:        "completed",
		Amount:        input.PaymentAmount,
		Currency:      input.PaymentCurrency,
	})
	if err != nil {
		return fail(c, err)
	}
	return success(c, fiber.Map{
		"coins_added": pack.Coins + pack.Bonus,
		"new_balance": balance,
	})
}

func ClaimDailyReward(c *fiber.Ctx) error {
	reward, err := ledger.ClaimDailyReward(c.Context(), currentUserID(c))
	if err != nil {
		return fail(c, err)
	}
	return success(c, reward)
}

type adminAdjustInput struct {
	UserID uint   `json:"user_id"`
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

// AdminAdjustCoins credits or debits an arbitrary user. Reached only through
// the RBAC-guarded admin group.
func AdminAdjustCoins(c *fiber.Ctx) error {
	input := new(adminAdjustInput)
	if err := c.BodyParser(input); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if input.UserID == 0 || input.Amount == 0 {
		return badRequest(c, "user_id and a non-zero amount are required")
	}

	adminID := currentUserID(c)
	meta := coin.Metadata{
		ProcessedBy: &adminID,
		Extra:       map[string]any{"reason": input.Reason},
	}

	var balance int64
	var err error
	if input.Amount > 0 {
		balance, err = ledger.Credit(c.Context(), input.UserID, input.Amount, model.TxAdminAdjustment, meta)
	} else {
		balance, err = ledger.Debit(c.Context(), input.UserID, -input.Amount, model.TxAdminAdjustment, meta)
	}
	if err != nil {
		return fail(c, err)
	}
	return success(c, fiber.Map{"new_balance": balance})
}
