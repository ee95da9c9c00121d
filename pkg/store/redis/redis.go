package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/rmax-ai/sensorsim/pkg/simulation"
)

// Publisher fans harness statistics out over Redis pub/sub so dashboards on
// other hosts can follow a run. Snapshots go to <prefix>:stats:<name> and
// finished results to <prefix>:results. Nothing is stored. It satisfies
// simulation.StatsSink.
type Publisher struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

func NewPublisher(client *redis.Client, prefix string, logger *slog.Logger) *Publisher {
	if prefix == "" {
		prefix = "sensorsim"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{client: client, prefix: prefix, logger: logger}
}

// Dial connects to addr and checks the server answers.
func Dial(ctx context.Context, addr, password string, db int, prefix string, logger *slog.Logger) (*Publisher, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return NewPublisher(client, prefix, logger), nil
}

func (p *Publisher) StatsChannel(name string) string {
	return fmt.Sprintf("%s:stats:%s", p.prefix, name)
}

func (p *Publisher) ResultsChannel() string {
	return p.prefix + ":results"
}

func (p *Publisher) PublishStats(ctx context.Context, snap simulation.StatsSnapshot) error {
	return p.publish(ctx, p.StatsChannel(snap.Name), snap)
}

func (p *Publisher) PublishResult(ctx context.Context, res simulation.TestResult) error {
	return p.publish(ctx, p.ResultsChannel(), res)
}

func (p *Publisher) publish(ctx context.Context, channel string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", channel, err)
	}
	if err := p.client.Publish(ctx, channel, data).Err(); err != nil {
		p.logger.Warn("redis publish failed", "channel", channel, "error", err)
		return err
	}
	return nil
}

// Watch subscribes to the stats channel of name and decodes snapshots until
// ctx is done. The returned channel is closed when the subscription ends.
func (p *Publisher) Watch(ctx context.Context, name string) (<-chan simulation.StatsSnapshot, error) {
	sub := p.client.Subscribe(ctx, p.StatsChannel(name))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", p.StatsChannel(name), err)
	}

	out := make(chan simulation.StatsSnapshot)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var snap simulation.StatsSnapshot
				if err := json.Unmarshal([]byte(msg.Payload), &snap); err != nil {
					p.logger.Warn("skipping undecodable snapshot", "channel", msg.Channel, "error", err)
					continue
				}
				select {
				case out <- snap:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (p *Publisher) Close() error {
	return p.client.Close()
}
