package controller

import (
	"matchlink-service/chat"

	"github.com/gofiber/fiber/v2"
)

func ListConversations(c *fiber.Ctx) error {
	entries, err := channel.Conversations(c.Context(), currentUserID(c))
	if err != nil {
		return fail(c, err)
	}
	return success(c, fiber.Map{"conversations": entries})
}

func ListMessages(c *fiber.Ctx) error {
	conversationID := paramUint(c, "id")
	if conversationID == 0 {
		return badRequest(c, "Invalid conversation id")
	}

	limit := c.QueryInt("limit", 50)
	before := uint(c.QueryInt("before", 0))

	messages, err := channel.Messages(c.Context(), currentUserID(c), conversationID, limit, before)
	if err != nil {
		return fail(c, err)
	}
	return success(c, fiber.Map{"messages": messages})
}

// SendMessage is the REST variant of the socket send_message event; both run
// through the same pipeline.
func SendMessage(c *fiber.Ctx) error {
	input := new(chat.SendMessageInput)
	if err := c.BodyParser(input); err != nil {
		return badRequest(c, "Invalid request body")
	}
	input.ConversationID = paramUint(c, "id")
	if input.ConversationID == 0 {
		return badRequest(c, "Invalid conversation id")
	}

	message, err := channel.SendMessage(c.Context(), currentUserID(c), *input)
	if err != nil {
		return fail(c, err)
	}
	return success(c, message)
}

type markReadInput struct {
	MessageIDs []uint `json:"message_ids"`
}

func MarkMessagesRead(c *fiber.Ctx) error {
	conversationID := paramUint(c, "id")
	if conversationID == 0 {
		return badRequest(c, "Invalid conversation id")
	}

	input := new(markReadInput)
	if err := c.BodyParser(input); err != nil {
		return badRequest(c, "Invalid request body")
	}

	if err := channel.MarkRead(c.Context(), currentUserID(c), conversationID, input.MessageIDs); err != nil {
		return fail(c, err)
	}
	return success(c, nil)
}

type muteInput struct {
	Muted bool `json:"muted"`
}

func MuteConversation(c *fiber.Ctx) error {
	conversationID := paramUint(c, "id")
	if conversationID == 0 {
		return badRequest(c, "Invalid conversation id")
	}

	input := new(muteInput)
	if err := c.BodyParser(input); err != nil {
		return badRequest(c, "Invalid request body")
	}

	if err := channel.SetMuted(c.Context(), currentUserID(c), conversationID, input.Muted); err != nil {
		return fail(c, err)
	}
	return success(c, fiber.Map{"muted": input.Muted})
}

func ArchiveConversation(c *fiber.Ctx) error {
	conversationID := paramUint(c, "id")
	if conversationID == 0 {
		return badRequest(c, "Invalid conversation id")
	}
	if err := channel.Archive(c.Context(), currentUserID(c), conversationID); err != nil {
		return fail(c, err)
	}
	return success(c, nil)
}

func UnreadCount(c *fiber.Ctx) error {
	total, err := channel.UnreadTotal(c.Context(), currentUserID(c))
	if err != nil {
		return fail(c, err)
	}
	return success(c, fiber.Map{"unread_count": total})
}

type editMessageInput struct {
	Content string `json:"content"`
}

func EditMessage(c *fiber.Ctx) error {
	messageID := paramUint(c, "id")
	if messageID == 0 {
		return badRequest(c, "Invalid message id")
	}

	input := new(editMessageInput)
	if err := c.BodyParser(input); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if input.Content == "" {
		return badRequest(c, "content is required")
	}

	message, err := channel.EditMessage(c.Context(), currentUserID(c), messageID, input.Content)
	if err != nil {
		return fail(c, err)
	}
	return success(c, message)
}

func DeleteMessage(c *fiber.Ctx) error {
	messageID := paramUint(c, "id")
	if messageID == 0 {
		return badRequest(c, "Invalid message id")
	}
	if err := channel.DeleteMessage(c.Context(), currentUserID(c), messageID); err != nil {
		return fail(c, err)
	}
	return success(c, nil)
}

type reactionInput struct {
	Emoji string `json:"emoji"`
}

func ReactToMessage(c *fiber.Ctx) error {
	messageID := paramUint(c, "id")
	if messageID == 0 {
		return badRequest(c, "Invalid message id")
	}

	input := new(reactionInput)
	if err := c.BodyParser(input); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if input.Emoji == "" {
		return badRequest(c, "emoji is required")
	}

	reactions, err := channel.React(c.Context(), currentUserID(c), messageID, input.Emoji)
	if err != nil {
		return fail(c, err)
	}
	return success(c, fiber.Map{"reactions": reactions})
}
