package listener

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"matchlink-service/apperr"
	"matchlink-service/coin"
	"matchlink-service/event"
)

var (
	PaymentsChannel = make(chan event.EventChannelData)
)

// PaymentEvent is published by the payment provider integration once a
// purchase is confirmed on its side.
type PaymentEvent struct {
	UserID        uint    `json:"user_id"`
	Coins         int64   `json:"coins"`
	Provider      string  `json:"provider"`
	TransactionID string  `json:"transaction_id"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
}

// Payments consumes confirmed payments from the payments queue and credits
// the ledger. The ledger deduplicates by provider transaction id, so queue
// redeliveries and replays are safe.
func Payments(ledger *coin.Ledger) {
	for ev := range PaymentsChannel {
		if ev.Action != "payment_completed" {
			log.Printf("payments: ignoring action %s", ev.Action)
			continue
		}

		payment := PaymentEvent{}
		if err := json.Unmarshal(ev.Data, &payment); err != nil {
			log.Printf("payments: malformed event: %v", err)
			continue
		}

		_, err := ledger.ProcessPurchase(context.Background(), payment.UserID, payment.Coins, coin.PaymentInfo{
			Provider:      payment.Provider,
			TransactionID: payment.TransactionID,
			Amount:        payment.Amount,
			Currency:      payment.Currency,
		})
		switch {
		case errors.Is(err, apperr.ErrConflict):
			log.Printf("payments: transaction %s already processed", payment.TransactionID)
		case err != nil:
			log.Printf("payments: failed to credit transaction %s: %v", payment.TransactionID, err)
		}
	}
}
