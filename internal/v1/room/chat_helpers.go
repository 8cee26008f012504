package room

import (
	"context"
	"fmt"
	"time"

	"github.com/nimeshas/conclave-sub002/internal/v1/types"
)

const maxChatContentLength = 1000

type sendChatPayload struct {
	Content string `json:"content"`
}

// handleSendChat appends a message to the Room's chat history and broadcasts
// it, gated by the chat-lock toggle and the content-length bound enforced by
// types.ChatInfo.ValidateChat.
func (r *Room) handleSendChat(ctx context.Context, p *Participant, msg Message) Ack {
	if r.isChatLocked && !HasPermission(p.Role, HasHostPermission()) {
		return errAck(msg.RequestId, forbidden())
	}

	var payload sendChatPayload
	if !decodePayload(msg.Payload, &payload) {
		return errAck(msg.RequestId, notReady())
	}

	chat := types.ChatInfo{
		ClientInfo: types.ClientInfo{
			ConnectionId: p.ConnectionId,
			DisplayName:  p.DisplayName,
		},
		ChatID:      types.ChatID(fmt.Sprintf("%s-%d", p.ConnectionId, r.chatHistory.Len())),
		Timestamp:   types.Timestamp(time.Now().UnixMilli()),
		ChatContent: types.ChatContent(payload.Content),
	}
	if err := chat.ValidateChat(); err != nil {
		return errAck(msg.RequestId, apperrFromValidation(err))
	}

	r.chatHistory.PushBack(chat)
	for r.maxChatHistoryLength > 0 && r.chatHistory.Len() > r.maxChatHistoryLength {
		r.chatHistory.Remove(r.chatHistory.Front())
	}

	r.broadcast(ctx, EventChatMessage, H{
		"chatId":       chat.ChatID,
		"connectionId": chat.ConnectionId,
		"displayName":  chat.DisplayName,
		"content":      chat.ChatContent,
		"timestamp":    chat.Timestamp,
	}, nil)

	return okAck(msg.RequestId, H{"message": chat})
}
