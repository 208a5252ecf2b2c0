package controller

import (
	"errors"
	"log"
	"strconv"

	"matchlink-service/apperr"
	"matchlink-service/call"
	"matchlink-service/chat"
	"matchlink-service/coin"
	"matchlink-service/match"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

var (
	ledger  *coin.Ledger
	engine  *match.Engine
	channel *chat.Channel
	relay   *call.Relay
)

// Init hands the domain components to the HTTP handlers. Call once before
// registering routes.
func Init(l *coin.Ledger, e *match.Engine, ch *chat.Channel, r *call.Relay) {
	ledger = l
	engine = e
	channel = ch
	relay = r
}

// currentUserID extracts the authenticated user's id from the JWT claims set
// by the middleware.
func currentUserID(c *fiber.Ctx) uint {
	user, ok := c.Locals("user").(*jwt.Token)
	if !ok {
		return 0
	}
	claims, ok := user.Claims.(jwt.MapClaims)
	if !ok {
		return 0
	}

	switch id := claims["id"].(type) {
	case string:
		parsed, err := strconv.ParseUint(id, 10, 64)
		if err != nil {
			return 0
		}
		return uint(parsed)
	case float64:
		return uint(id)
	}
	return 0
}

func fail(c *fiber.Ctx, err error) error {
	if funds, ok := apperr.IsInsufficientFunds(err); ok {
		return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{
			"status":  "error",
			"message": "Insufficient coins",
			"data": fiber.Map{
				"required": funds.Required,
				"current":  funds.Current,
			},
		})
	}

	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"status":  "error",
			"message": "Not found",
			"data":    nil,
		})
	case errors.Is(err, apperr.ErrDenied):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"status":  "error",
			"message": "Access denied",
			"data":    nil,
		})
	case errors.Is(err, apperr.ErrConflict):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"status":  "error",
			"message": "Already processed",
			"data":    nil,
		})
	}

	log.Printf("handler error: %v", err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"status":  "error",
		"message": "Internal server error",
		"data":    nil,
	})
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"status":  "error",
		"message": message,
		"data":    nil,
	})
}

func success(c *fiber.Ctx, data interface{}) error {
	return c.JSON(fiber.Map{
		"status":  "success",
		"message": nil,
		"data":    data,
	})
}

func paramUint(c *fiber.Ctx, name string) uint {
	id, err := strconv.ParseUint(c.Params(name), 10, 64)
	if err != nil {
		return 0
	}
	return uint(id)
}
