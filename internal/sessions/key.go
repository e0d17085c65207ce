package sessions

import (
	"fmt"
	"strings"
)

// Key builds the canonical session key for a conversation:
// bot:{botName}:{channel}:{chatID}. One session per (channel, chat_id)
// pair per bot.
func Key(botName, channel, chatID string) string {
	return fmt.Sprintf("bot:%s:%s:%s", botName, channel, chatID)
}

// InvocationKey builds the session key for a background specialist
// invocation. Results re-enter the origin conversation, so the key
// embeds the invocation id rather than the origin chat.
func InvocationKey(botName, invocationID string) string {
	return fmt.Sprintf("bot:%s:invoke:%s", botName, invocationID)
}

// CronKey builds the session key for a cron-triggered run.
func CronKey(botName, jobID string) string {
	return fmt.Sprintf("bot:%s:cron:%s", botName, jobID)
}

// Split breaks a canonical key into (bot, channel, chatID). The chat
// id may itself contain colons; channel may not.
func Split(key string) (bot, channel, chatID string, ok bool) {
	parts := strings.SplitN(key, ":", 4)
	if len(parts) != 4 || parts[0] != "bot" {
		return "", "", "", false
	}
	return parts[1], parts[2], parts[3], true
}
