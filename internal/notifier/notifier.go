package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"tariff-auth/internal/model"
	"tariff-auth/internal/ports"

	"github.com/nats-io/nats.go"
)

// LogNotifier : пишет события аудита в стандартный лог
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, event model.AuditEvent) error {
	log.Printf("[AUDIT] %s user=%s actor=%s reason=%q details=%v",
		event.Action, event.UserID, event.ActorID, event.Reason, event.Details)
	return nil
}

// NATSNotifier : публикует события аудита в NATS в виде JSON
type NATSNotifier struct {
	conn    *nats.Conn
	subject string
}

func NewNATSNotifier(url, subject string, opts ...nats.Option) (*NATSNotifier, error) {
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к NATS: %w", err)
	}
	return &NATSNotifier{conn: nc, subject: subject}, nil
}

func (n *NATSNotifier) Notify(_ context.Context, event model.AuditEvent) error {
	if n == nil || n.conn == nil {
		return errors.New("NATS не подключен")
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("ошибка сериализации события аудита: %w", err)
	}

	if err := n.conn.Publish(n.subject, data); err != nil {
		return fmt.Errorf("ошибка публикации события аудита: %w", err)
	}
	return nil
}

// Close : дожидается отправки буфера, при ошибке закрывает соединение сразу
func (n *NATSNotifier) Close() {
	if n == nil || n.conn == nil {
		return
	}
	if err := n.conn.Drain(); err != nil {
		n.conn.Close()
	}
}

// MultiNotifier : рассылает событие всем получателям, ошибки объединяются
type MultiNotifier []ports.AuditNotifier

func (m MultiNotifier) Notify(ctx context.Context, event model.AuditEvent) error {
	var errs []error
	for _, notifier := range m {
		if err := notifier.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
