package dispatcher

import (
	"group_chat/internal/model"
	"group_chat/internal/protocol/envelope"
	"group_chat/internal/repository"
)

func toChatMessage(m *model.Message) envelope.ChatMessage {
	return envelope.ChatMessage{
		ID:        m.ID.Hex(),
		ChatID:    m.ChatID.Hex(),
		UserID:    m.UserID.Hex(),
		Content:   m.Content,
		Pinned:    m.Pinned,
		CreatedAt: m.CreatedAt.UnixMilli(),
	}
}

func toChatMessages(chat *model.Chat, msgs []*model.Message) envelope.ChatMessages {
	out := envelope.ChatMessages{
		Chat: envelope.ChatInfo{
			ID:      chat.ID.Hex(),
			Name:    chat.Name,
			Members: repository.Hex(chat.Members),
		},
		Messages: make([]envelope.ChatMessage, 0, len(msgs)),
	}
	for _, m := range msgs {
		out.Messages = append(out.Messages, toChatMessage(m))
	}
	return out
}
