package controller

import (
	"errors"

	"matchlink-service/apperr"
	"matchlink-service/match"

	"github.com/gofiber/fiber/v2"
)

func DiscoverMatches(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 20)
	offset := c.QueryInt("offset", 0)

	candidates, err := engine.Discover(c.Context(), currentUserID(c), limit, offset)
	if err != nil {
		return fail(c, err)
	}
	return success(c, fiber.Map{"candidates": candidates})
}

type matchActionInput struct {
	TargetUserID uint   `json:"target_user_id"`
	Action       string `json:"action"`
}

func MatchAction(c *fiber.Ctx) error {
	input := new(matchActionInput)
	if err := c.BodyParser(input); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if input.TargetUserID == 0 {
		return badRequest(c, "target_user_id is required")
	}

	result, err := engine.Act(c.Context(), currentUserID(c), input.TargetUserID, match.Action(input.Action))
	if err != nil {
		// A repeated action still reports the pair's current state.
		if errors.Is(err, apperr.ErrConflict) && result != nil {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"status":  "error",
				"message": "Already acted on this user",
				"data":    result,
			})
		}
		return fail(c, err)
	}
	return success(c, result)
}

func ListMatches(c *fiber.Ctx) error {
	entries, err := engine.Matches(c.Context(), currentUserID(c))
	if err != nil {
		return fail(c, err)
	}
	return success(c, fiber.Map{"matches": entries})
}

func LikesReceived(c *fiber.Ctx) error {
	entries, err := engine.LikesReceived(c.Context(), currentUserID(c))
	if err != nil {
		return fail(c, err)
	}
	return success(c, fiber.Map{"likes": entries})
}

func MatchStatistics(c *fiber.Ctx) error {
	stats, err := engine.StatsFor(c.Context(), currentUserID(c))
	if err != nil {
		return fail(c, err)
	}
	return success(c, stats)
}

func Unmatch(c *fiber.Ctx) error {
	matchID := paramUint(c, "id")
	if matchID == 0 {
		return badRequest(c, "Invalid match id")
	}
	if err := engine.Unmatch(c.Context(), currentUserID(c), matchID); err != nil {
		return fail(c, err)
	}
	return success(c, nil)
}

type blockInput struct {
	TargetUserID uint `json:"target_user_id"`
}

func BlockUser(c *fiber.Ctx) error {
	input := new(blockInput)
	if err := c.BodyParser(input); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if input.TargetUserID == 0 {
		return badRequest(c, "target_user_id is required")
	}
	if err := engine.Block(c.Context(), currentUserID(c), input.TargetUserID); err != nil {
		return fail(c, err)
	}
	return success(c, nil)
}
