package sender

import (
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/napryag/salon_bot/pkg/utils/errs"
)

const (
	defaultAttempts = 3
	defaultBackoff  = time.Second
)

// ProcessorConfig is filled from TG_CHANNEL_ID.
type ProcessorConfig struct {
	ChannelID string
	Attempts  int
	Backoff   time.Duration // first retry delay, doubled each time
}

func (c *ProcessorConfig) validate() error {
	if c.ChannelID == "" {
		return errs.New("empty channel id")
	}
	if c.Attempts <= 0 {
		c.Attempts = defaultAttempts
	}
	if c.Backoff <= 0 {
		c.Backoff = defaultBackoff
	}
	return nil
}

// message addresses either a numeric chat id or an @channel username.
func (c ProcessorConfig) message(text string) tgbotapi.MessageConfig {
	if id, err := strconv.ParseInt(c.ChannelID, 10, 64); err == nil {
		return tgbotapi.NewMessage(id, text)
	}
	return tgbotapi.NewMessageToChannel(strings.TrimSpace(c.ChannelID), text)
}
