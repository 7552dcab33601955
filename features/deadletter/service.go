package deadletter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"offload/apps/backend/internal/config"
)

const publishTimeout = 5 * time.Second

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

type Service struct {
	repo   Repository
	pub    EventPublisher
	retain int
	logger *slog.Logger
}

func NewService(repo Repository, pub EventPublisher, retain int, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, pub: pub, retain: retain, logger: logger}
}

// Save records msg and trims the table to the retention limit. Prune
// failures are logged; the message itself is already stored.
func (s *Service) Save(ctx context.Context, msg *Message) error {
	if err := s.repo.Save(ctx, msg); err != nil {
		return fmt.Errorf("save dead letter: %w", err)
	}
	if s.retain > 0 {
		if n, err := s.repo.Prune(ctx, s.retain); err != nil {
			s.logger.WarnContext(ctx, "failed to prune dead letters", "error", err)
		} else if n > 0 {
			s.logger.DebugContext(ctx, "pruned dead letters", "count", n)
		}
	}
	return nil
}

func (s *Service) List(ctx context.Context) ([]Message, error) {
	return s.repo.List(ctx)
}

func (s *Service) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}

func (s *Service) Retry(ctx context.Context, id string) error {
	// 1. Get message
	msg, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}

	topic := msg.Topic
	if topic == "" {
		topic = config.TopicOffloadResult
	}

	// 2. Republish, bounded by publishTimeout
	if err := s.publish(ctx, topic, msg.Body); err != nil {
		return fmt.Errorf("republish dead letter %s: %w", id, err)
	}

	// 3. Delete message
	return s.repo.Delete(ctx, id)
}

func (s *Service) publish(ctx context.Context, topic string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- s.pub.Publish(topic, body)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
