package controller

import (
	"matchlink-service/apperr"

	"github.com/gofiber/fiber/v2"
)

// CallStatus reports the live state of a call the user participates in.
// Sessions are ephemeral; a finished call is simply gone.
func CallStatus(c *fiber.Ctx) error {
	callID := c.Params("id")
	if callID == "" {
		return badRequest(c, "Invalid call id")
	}

	session, ok := relay.Lookup(callID)
	if !ok {
		return fail(c, apperr.ErrNotFound)
	}
	if session.CallerID != currentUserID(c) && session.CalleeID != currentUserID(c) {
		return fail(c, apperr.ErrDenied)
	}

	return success(c, fiber.Map{
		"call_id":   session.ID,
		"call_type": session.Type,
		"state":     session.State,
		"caller_id": session.CallerID,
		"callee_id": session.CalleeID,
	})
}
