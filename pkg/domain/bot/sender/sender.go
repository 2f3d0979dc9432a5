// Package sender posts booking summaries to the staff channel.
package sender

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/napryag/salon_bot/pkg/domain/catalog"
	"github.com/napryag/salon_bot/pkg/repository/model"
	"github.com/napryag/salon_bot/pkg/utils/errs"
)

// Bot is the part of tgbotapi.BotAPI the processor needs.
type Bot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Processor struct {
	config ProcessorConfig
	logger zerolog.Logger

	bot Bot
}

func New(config ProcessorConfig, logger zerolog.Logger, bot Bot) (*Processor, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	return &Processor{
		config: config,
		logger: logger.With().Str("component", "sender").Logger(),
		bot:    bot,
	}, nil
}

// Send posts text to the channel, retrying with exponential back-off.
func (p *Processor) Send(ctx context.Context, text string) (int, error) {
	p.logger.Trace().Msg("In")
	defer p.logger.Trace().Msg("Out")

	msgToSend := p.config.message(text)

	var err error
	var msg tgbotapi.Message

	delay := p.config.Backoff
	for i := 0; i < p.config.Attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return 0, errs.New("send cancelled").Wrap(ctx.Err())
			case <-time.After(delay):
			}
			delay *= 2
		}

		msg, err = p.bot.Send(msgToSend)
		if err == nil {
			return msg.MessageID, nil
		}
		p.logger.Warn().Err(err).Int("retry", i+1).Msg("send failed, retrying")
	}
	p.logger.Error().Err(err).Msg("send permanently failed")

	return 0, errs.New("failed to send message").Arg("attempts", p.config.Attempts).Wrap(err)
}

// NotifyAppointment posts a one-line summary of a new booking.
func (p *Processor) NotifyAppointment(ctx context.Context, n Notice) error {
	_, err := p.Send(ctx, n.String())
	return err
}

// Notice describes a booking for the staff channel.
type Notice struct {
	Customer    string
	Store       string
	Staff       string
	Date        string
	Time        string
	Services    []catalog.ServiceType
	Appointment *model.Appointment
}

func (n Notice) String() string {
	names := ""
	for i, t := range n.Services {
		if i > 0 {
			names += " + "
		}
		names += t.Title()
	}
	id := int64(0)
	if n.Appointment != nil {
		id = n.Appointment.ID
	}
	return fmt.Sprintf("🆕 Запись #%d: %s, %s %s, %s, мастер %s (%s)", id, n.Customer, n.Date, n.Time, n.Store, n.Staff, names)
}
