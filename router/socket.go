package router

import (
	"context"
	"errors"
	"log"
	"strconv"

	"matchlink-service/apperr"
	"matchlink-service/call"
	"matchlink-service/chat"
	"matchlink-service/presence"
	"matchlink-service/utils"

	"github.com/zishang520/socket.io/v2/socket"
)

// SocketDeps carries the real-time components into the event dispatch.
type SocketDeps struct {
	Registry *presence.Registry
	Channel  *chat.Channel
	Relay    *call.Relay
}

// Socket wires one handler per inbound event. Handlers are safe to run
// concurrently across users; per-entity serialization happens in the store.
func Socket(server *socket.Server, deps SocketDeps) {
	server.On("connection", func(clients ...interface{}) {
		client := clients[0].(*socket.Socket)

		claims, ok := client.Data().(*utils.TokenMetadata)
		if !ok {
			client.Disconnect(true)
			return
		}
		id, err := strconv.ParseUint(claims.Id, 10, 64)
		if err != nil {
			client.Disconnect(true)
			return
		}
		userID := uint(id)
		ctx := context.Background()

		if err := deps.Registry.SetOnline(ctx, userID, string(client.Id())); err != nil {
			log.Printf("presence: failed to set user %d online: %v", userID, err)
		}
		log.Printf("user %d connected with socket %s", userID, client.Id())

		client.On("join_conversations", func(args ...interface{}) {
			entries, err := deps.Channel.Conversations(ctx, userID)
			if err != nil {
				socketError(client, err)
				return
			}

			for _, entry := range entries {
				client.Join(socket.Room(presence.ConversationRoom(entry.Conversation.ID)))
				deps.Registry.JoinRoom(ctx, userID, entry.Conversation.ID)
			}
			client.Emit("conversations_joined", map[string]any{"count": len(entries)})
		})

		client.On("join_conversation", func(args ...interface{}) {
			data := payload(args)
			conversationID := payloadUint(data, "conversation_id")

			if _, err := deps.Channel.Conversation(ctx, userID, conversationID); err != nil {
				socketError(client, err)
				return
			}

			client.Join(socket.Room(presence.ConversationRoom(conversationID)))
			deps.Registry.JoinRoom(ctx, userID, conversationID)
			client.Emit("conversation_joined", map[string]any{"conversation_id": conversationID})
		})

		client.On("leave_conversation", func(args ...interface{}) {
			data := payload(args)
			conversationID := payloadUint(data, "conversation_id")

			client.Leave(socket.Room(presence.ConversationRoom(conversationID)))
			deps.Registry.LeaveRoom(ctx, userID, conversationID)
			client.Emit("conversation_left", map[string]any{"conversation_id": conversationID})
		})

		client.On("send_message", func(args ...interface{}) {
			data := payload(args)

			message, err := deps.Channel.SendMessage(ctx, userID, chat.SendMessageInput{
				ConversationID: payloadUint(data, "conversation_id"),
				Content:        payloadString(data, "content"),
				Type:           payloadString(data, "type"),
			})
			if err != nil {
				socketError(client, err)
				return
			}
			client.Emit("message_sent", map[string]any{
				"message_id": message.ID,
				"status":     message.Status,
			})
		})

		client.On("mark_messages_read", func(args ...interface{}) {
			data := payload(args)
			conversationID := payloadUint(data, "conversation_id")
			messageIDs := payloadUintSlice(data, "message_ids")

			if err := deps.Channel.MarkRead(ctx, userID, conversationID, messageIDs); err != nil {
				socketError(client, err)
				return
			}
			client.Emit("messages_marked_read", map[string]any{
				"conversation_id": conversationID,
				"message_ids":     messageIDs,
			})
		})

		client.On("start_typing", func(args ...interface{}) {
			data := payload(args)
			conversationID := payloadUint(data, "conversation_id")

			if _, err := deps.Channel.Conversation(ctx, userID, conversationID); err != nil {
				return
			}

			// Transient, never persisted.
			client.To(socket.Room(presence.ConversationRoom(conversationID))).Emit("user_typing", map[string]any{
				"user_id":         userID,
				"conversation_id": conversationID,
			})
		})

		client.On("stop_typing", func(args ...interface{}) {
			data := payload(args)
			conversationID := payloadUint(data, "conversation_id")

			client.To(socket.Room(presence.ConversationRoom(conversationID))).Emit("user_stopped_typing", map[string]any{
				"user_id":         userID,
				"conversation_id": conversationID,
			})
		})

		client.On("initiate_call", func(args ...interface{}) {
			data := payload(args)
			callType := payloadString(data, "call_type")
			if callType == "" {
				callType = call.TypeVideo
			}

			session, err := deps.Relay.Initiate(ctx, userID, payloadUint(data, "conversation_id"), callType)
			if err != nil {
				socketError(client, err)
				return
			}

			client.Join(socket.Room(call.Room(session.ID)))
			client.Emit("call_initiated", map[string]any{
				"call_id":   session.ID,
				"call_type": session.Type,
			})
		})

		client.On("accept_call", func(args ...interface{}) {
			data := payload(args)
			callID := payloadString(data, "call_id")

			session, err := deps.Relay.Accept(ctx, userID, callID)
			if err != nil {
				if _, ok := apperr.IsInsufficientFunds(err); ok {
					client.Emit("call_ended", map[string]any{
						"call_id": callID,
						"reason":  "Caller has insufficient coins",
					})
					return
				}
				socketError(client, err)
				return
			}
			client.Join(socket.Room(call.Room(session.ID)))
		})

		client.On("reject_call", func(args ...interface{}) {
			data := payload(args)
			if err := deps.Relay.Reject(userID, payloadString(data, "call_id"), payloadString(data, "reason")); err != nil {
				socketError(client, err)
			}
		})

		client.On("end_call", func(args ...interface{}) {
			data := payload(args)
			callID := payloadString(data, "call_id")

			if err := deps.Relay.End(userID, callID, ""); err != nil {
				socketError(client, err)
				return
			}
			client.Leave(socket.Room(call.Room(callID)))
		})

		for _, signal := range []string{"webrtc_offer", "webrtc_answer", "webrtc_ice_candidate"} {
			signal := signal
			client.On(signal, func(args ...interface{}) {
				data := payload(args)
				if err := deps.Relay.Signal(userID, payloadString(data, "call_id"), signal, data["payload"]); err != nil {
					socketError(client, err)
				}
			})
		}

		client.On("get_user_status", func(args ...interface{}) {
			data := payload(args)
			statuses := map[string]bool{}
			for _, id := range payloadUintSlice(data, "user_ids") {
				online, err := deps.Registry.IsOnline(ctx, id)
				if err != nil {
					online = false
				}
				statuses[strconv.FormatUint(uint64(id), 10)] = online
			}
			client.Emit("user_statuses", statuses)
		})

		client.On("disconnect", func(args ...interface{}) {
			log.Printf("user %d disconnected", userID)
			if err := deps.Registry.SetOffline(ctx, userID); err != nil {
				log.Printf("presence: failed to set user %d offline: %v", userID, err)
			}
			deps.Relay.DisconnectCleanup(userID)
		})
	})
}

// socketError reports a failure back to the originating connection without
// touching anyone else's session.
func socketError(client *socket.Socket, err error) {
	if funds, ok := apperr.IsInsufficientFunds(err); ok {
		client.Emit("error", map[string]any{
			"message":  "Insufficient coins",
			"required": funds.Required,
			"current":  funds.Current,
			"type":     "insufficient_coins",
		})
		return
	}

	switch {
	case errors.Is(err, apperr.ErrNotFound):
		client.Emit("error", map[string]any{"message": "Not found"})
	case errors.Is(err, apperr.ErrDenied):
		client.Emit("error", map[string]any{"message": "Access denied"})
	case errors.Is(err, apperr.ErrConflict):
		client.Emit("error", map[string]any{"message": "Already processed"})
	default:
		log.Printf("socket handler error: %v", err)
		client.Emit("error", map[string]any{"message": "Request failed, try again"})
	}
}

// payload returns the first argument as an object, tolerating malformed
// shapes.
func payload(args []interface{}) map[string]any {
	if len(args) == 0 {
		return map[string]any{}
	}
	if data, ok := args[0].(map[string]any); ok {
		return data
	}
	return map[string]any{}
}

func payloadString(data map[string]any, key string) string {
	if value, ok := data[key].(string); ok {
		return value
	}
	return ""
}

func payloadUint(data map[string]any, key string) uint {
	switch value := data[key].(type) {
	case float64:
		if value > 0 {
			return uint(value)
		}
	case string:
		if id, err := strconv.ParseUint(value, 10, 64); err == nil {
			return uint(id)
		}
	}
	return 0
}

func payloadUintSlice(data map[string]any, key string) []uint {
	raw, ok := data[key].([]interface{})
	if !ok {
		return nil
	}
	ids := make([]uint, 0, len(raw))
	for _, item := range raw {
		switch value := item.(type) {
		case float64:
			if value > 0 {
				ids = append(ids, uint(value))
			}
		case string:
			if id, err := strconv.ParseUint(value, 10, 64); err == nil {
				ids = append(ids, uint(id))
			}
		}
	}
	return ids
}
