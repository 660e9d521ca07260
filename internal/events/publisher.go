/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	RoutingKeyConfirmed = "settlement.confirmed"
	RoutingKeyFailed    = "settlement.failed"
	RoutingKeyReversed  = "settlement.reversed"
)

// SettlementEvent is the payload published when a transfer reaches a
// terminal state. Downstream services (notifications, reporting) consume it.
type SettlementEvent struct {
	TransactionId string          `json:"transaction_id"`
	TxHash        string          `json:"tx_hash,omitempty"`
	Network       string          `json:"network"`
	Currency      string          `json:"currency"`
	Amount        decimal.Decimal `json:"amount"`
	Status        string          `json:"status"`
	Confirmations int64           `json:"confirmations,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
}

// Publisher emits settlement events. Implementations must tolerate broker
// outages without blocking settlement itself.
type Publisher interface {
	PublishSettlement(ctx context.Context, event SettlementEvent) error
	Close()
}

// AMQPPublisher publishes settlement events to a durable topic exchange.
type AMQPPublisher struct {
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	exchange string
}

var _ Publisher = (*AMQPPublisher)(nil)

// NewAMQPPublisher dials the broker with a bounded timeout so startup does
// not hang when the broker is down.
func NewAMQPPublisher(amqpURL, exchange string) (*AMQPPublisher, error) {
	conn, err := amqp091.DialConfig(amqpURL, amqp091.Config{
		Dial: amqp091.DefaultDial(10 * time.Second),
	})
	if err != nil {
		return nil, fmt.Errorf("unable to connect to message broker: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("unable to open broker channel: %w", err)
	}

	if err := channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("unable to declare exchange %s: %w", exchange, err)
	}

	return &AMQPPublisher{conn: conn, channel: channel, exchange: exchange}, nil
}

func (p *AMQPPublisher) PublishSettlement(ctx context.Context, event SettlementEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("unable to marshal settlement event: %w", err)
	}

	routingKey := routingKeyFor(event.Status)
	err = p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp091.Publishing{
		ContentType: "application/json",
		Timestamp:   event.Timestamp,
		Body:        body,
	})
	if err != nil {
		return fmt.Errorf("unable to publish settlement event: %w", err)
	}

	zap.L().Debug("Published settlement event",
		zap.String("transaction_id", event.TransactionId),
		zap.String("routing_key", routingKey))
	return nil
}

func (p *AMQPPublisher) Close() {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}

func routingKeyFor(status string) string {
	switch status {
	case "CONFIRMED":
		return RoutingKeyConfirmed
	case "REVERSED":
		return RoutingKeyReversed
	default:
		return RoutingKeyFailed
	}
}

// NopPublisher drops events. Used when no broker is configured so the
// settlement flow runs unchanged.
type NopPublisher struct{}

var _ Publisher = (*NopPublisher)(nil)

func (NopPublisher) PublishSettlement(ctx context.Context, event SettlementEvent) error {
	zap.L().Debug("Settlement event publishing disabled, dropping event",
		zap.String("transaction_id", event.TransactionId),
		zap.String("status", event.Status))
	return nil
}

func (NopPublisher) Close() {}
