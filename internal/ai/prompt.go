package ai

import (
	"fmt"
	"strings"

	"chatmind/internal/message"
	st "chatmind/internal/storagetypes"
)

// Prompt sections reference the last messages only; full chat history never
// goes to the model.
const promptHistoryLimit = 10

var speechStyleDesc = map[string]string{
	"ироничный":   "ироничный, с сарказмом, но дружелюбный",
	"формальный":  "формальный, вежливый, профессиональный",
	"дружелюбный": "дружелюбный, открытый, теплый",
}

var messageLengthDesc = map[string]string{
	"короткий":    "1-2 предложения, кратко",
	"средний":     "2-4 предложения, развернуто",
	"развернутый": "4+ предложений, подробно",
}

var emojiUsageDesc = map[string]string{
	"никогда": "не используй эмодзи",
	"редко":   "используй эмодзи очень редко, только когда уместно",
	"часто":   "используй эмодзи часто, для выражения эмоций",
}

// BuildPrompt assembles the generation prompt: persona, memory, dialogue
// context and reply instructions.
func BuildPrompt(profile *st.PersonalityProfile, ctx message.Context, history []st.ChatMessage, user *st.UserProfile, topics []st.TopicMemory) string {
	var b strings.Builder

	b.WriteString(buildSystemPrompt(profile))
	b.WriteString("\n\n")

	if mem := buildMemoryContext(user, topics); mem != "" {
		b.WriteString(mem)
		b.WriteString("\n\n")
	}

	b.WriteString(buildDialogueContext(history, ctx))
	b.WriteString("\n\n")

	b.WriteString("Ответь на текущее сообщение в своем стиле. Только текст ответа, без пояснений.")

	return b.String()
}

func buildSystemPrompt(profile *st.PersonalityProfile) string {
	base := profile.Base

	// A custom prompt replaces the generated persona block entirely.
	if base.CustomPrompt != "" {
		return base.CustomPrompt
	}

	style := descOr(speechStyleDesc, base.SpeechStyle)
	length := descOr(messageLengthDesc, base.MessageLength)
	emoji := descOr(emojiUsageDesc, base.EmojiUsage)

	interests := "разные темы"
	if len(base.Interests) > 0 {
		interests = strings.Join(base.Interests, ", ")
	}

	return fmt.Sprintf(`Ты — человек со следующими характеристиками:
- Стиль общения: %s
- Длина сообщений: %s
- Использование эмодзи: %s
- Интересы: %s

Веди себя естественно, как живой человек. Не повторяй предыдущие мысли. Будь контекстным и уместным.`,
		style, length, emoji, interests)
}

func buildMemoryContext(user *st.UserProfile, topics []st.TopicMemory) string {
	var parts []string

	if user != nil && user.InteractionCount > 0 {
		name := user.Username
		if name == "" {
			name = "пользователь"
		}
		relationship := "нейтральные"
		switch {
		case user.RelationshipScore > 0.6:
			relationship = "хорошие"
		case user.RelationshipScore <= 0.4:
			relationship = "напряженные"
		}
		parts = append(parts, fmt.Sprintf("Ты общался с %s %d раз(а). У вас %s отношения.",
			name, user.InteractionCount, relationship))
	}

	for _, t := range topics {
		if t.Position != "" {
			parts = append(parts, fmt.Sprintf("По теме '%s' ты ранее высказывал позицию: %s", t.TopicKeyword, t.Position))
		}
	}

	if len(parts) == 0 {
		return ""
	}
	return "Память:\n" + strings.Join(parts, "\n")
}

func buildDialogueContext(history []st.ChatMessage, ctx message.Context) string {
	sender := ctx.Username
	if sender == "" {
		sender = ctx.UserID
	}

	if len(history) == 0 {
		return fmt.Sprintf("Новое сообщение в чате:\n%s: %s", sender, ctx.Text)
	}

	if len(history) > promptHistoryLimit {
		history = history[len(history)-promptHistoryLimit:]
	}

	var lines []string
	for _, msg := range history {
		name := msg.Username
		if name == "" {
			name = msg.UserID
		}
		lines = append(lines, name+": "+msg.Text)
	}

	return fmt.Sprintf("Контекст диалога (последние сообщения):\n%s\n\nТекущее сообщение:\n%s: %s",
		strings.Join(lines, "\n"), sender, ctx.Text)
}

func descOr(m map[string]string, key string) string {
	if d, ok := m[key]; ok {
		return d
	}
	return key
}
