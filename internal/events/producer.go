// Package events publishes order/payment/ticket lifecycle events for
// downstream consumers (analytics, organiser dashboards). Publication is
// best-effort: a broker outage never affects a committed payment transition.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"jersey-events/internal/config"
	"jersey-events/internal/models"
)

type Producer struct {
	writer *kafka.Writer
	topics config.TopicConfig
}

func NewProducer(brokers []string, topics config.TopicConfig) *Producer {
	writer := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Balancer: &kafka.LeastBytes{},
	}
	return &Producer{writer: writer, topics: topics}
}

type paymentConfirmedEvent struct {
	OrderNumber string    `json:"order_number"`
	Total       string    `json:"total"`
	Currency    string    `json:"currency"`
	PaidAt      time.Time `json:"paid_at"`
}

func (p *Producer) PublishPaymentConfirmed(order models.Order) error {
	value, err := json.Marshal(paymentConfirmedEvent{
		OrderNumber: order.OrderNumber,
		Total:       order.Total.String(),
		Currency:    order.Currency,
		PaidAt:      order.PaidAt,
	})
	if err != nil {
		return err
	}
	return p.publish(p.topics.PaymentConfirmed, order.OrderNumber, value)
}

type ticketsIssuedEvent struct {
	OrderNumber   string    `json:"order_number"`
	TicketNumbers []string  `json:"ticket_numbers"`
	IssuedAt      time.Time `json:"issued_at"`
}

func (p *Producer) PublishTicketsIssued(order models.Order, tickets []models.Ticket) error {
	numbers := make([]string, len(tickets))
	for i, t := range tickets {
		numbers[i] = t.TicketNumber
	}
	value, err := json.Marshal(ticketsIssuedEvent{
		OrderNumber:   order.OrderNumber,
		TicketNumbers: numbers,
		IssuedAt:      time.Now(),
	})
	if err != nil {
		return err
	}
	return p.publish(p.topics.TicketsIssued, order.OrderNumber, value)
}

func (p *Producer) PublishOrderCancelled(order models.Order) error {
	value, err := json.Marshal(map[string]string{
		"order_number": order.OrderNumber,
		"status":       string(models.OrderCancelled),
	})
	if err != nil {
		return err
	}
	return p.publish(p.topics.OrderCancelled, order.OrderNumber, value)
}

func (p *Producer) publish(topic, key string, value []byte) error {
	return p.writer.WriteMessages(context.Background(), kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	})
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
