package rabbitmq

import (
	"context"
	"encoding/json"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/kelly-nie213/rallycoachAIDemo/config"
	"github.com/kelly-nie213/rallycoachAIDemo/dto"
)

const (
	defaultExchangeName = "analysis_events"
	routingKeyPrefix    = "analysis.job."
)

// Publisher emits job lifecycle events on a fanout/topic exchange so
// downstream consumers (UI refresh, notifications) get a push signal
// without the pipeline depending on them.
type Publisher interface {
	PublishJobEvent(ctx context.Context, event dto.JobEvent) error
}

type publisher struct {
	conn     *amqp.Connection
	cfg      *config.RabbitMQ
	exchange string
}

func NewPublisher(ctx context.Context, conn *amqp.Connection, cfg *config.RabbitMQ) (Publisher, error) {
	exchange := cfg.ExchangeName
	if exchange == "" {
		exchange = defaultExchangeName
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	defer ch.Close()

	err = ch.ExchangeDeclare(exchange, cfg.Kind, true, false, false, false, nil)
	if err != nil {
		zerolog.Ctx(ctx).Error().Str("exchange", exchange).Msg("failed to declare exchange")
		return nil, err
	}

	return &publisher{
		conn:     conn,
		cfg:      cfg,
		exchange: exchange,
	}, nil
}

func (p *publisher) PublishJobEvent(ctx context.Context, event dto.JobEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	routingKey := routingKeyPrefix + string(event.Status)
	err = ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Uint("job_id", event.JobID).Msg("failed to publish job event")
		return err
	}

	zerolog.Ctx(ctx).Debug().
		Uint("job_id", event.JobID).
		Str("routing_key", routingKey).
		Msg("published job event")
	return nil
}
