package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/agentforge/buildpipeline/internal/domain"
	"github.com/agentforge/buildpipeline/internal/platform/logger"
)

// ProjectEvent is the payload Notifier.Publish sends for a project
// transition: enough for a waiting console (or a worker idle-polling a
// different queue) to know a dashboard re-fetch is worthwhile, without
// shipping the whole Snapshot over the wire.
type ProjectEvent struct {
	ProjectID string `json:"project_id"`
	Status    string `json:"status"`
	Stage     string `json:"current_stage,omitempty"`
	Progress  int    `json:"progress"`
}

// Notifier pushes project-changed events over Redis pub/sub so a
// dashboard subscriber (or a cross-process worker-pool wake-up, spec
// §4.4's gate wake-up) learns about a committed transition without
// polling C1. Grounded on the teacher's redis.SSEBus: same
// NewClient/Ping-on-construct/Publish(channel, json) shape, generalized
// from forwarding chat SSE messages to forwarding build-pipeline project
// events.
type Notifier interface {
	Publish(ctx context.Context, evt ProjectEvent) error
	StartForwarder(ctx context.Context, onEvent func(ProjectEvent)) error
	Close() error
}

type redisNotifier struct {
	log     *logger.Logger
	rdb     *goredis.Client
	channel string
}

// NewRedisNotifier dials addr and pings it once before returning, the same
// fail-fast-at-construction behavior as the teacher's NewSSEBus.
func NewRedisNotifier(addr, channel string, baseLog *logger.Logger) (Notifier, error) {
	if addr == "" {
		return nil, fmt.Errorf("dashboard: redis addr required")
	}
	if channel == "" {
		channel = "build_pipeline_dashboard"
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("dashboard: redis ping: %w", err)
	}
	return &redisNotifier{
		log:     baseLog.With("component", "dashboard.Notifier"),
		rdb:     rdb,
		channel: channel,
	}, nil
}

func (n *redisNotifier) Publish(ctx context.Context, evt ProjectEvent) error {
	if n == nil || n.rdb == nil {
		return fmt.Errorf("dashboard: notifier not initialized")
	}
	raw, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return n.rdb.Publish(ctx, n.channel, raw).Err()
}

// StartForwarder subscribes once and delivers decoded events to onEvent
// on their own goroutine until ctx is cancelled, same shape as the
// teacher's SSEBus.StartForwarder.
func (n *redisNotifier) StartForwarder(ctx context.Context, onEvent func(ProjectEvent)) error {
	if n == nil || n.rdb == nil {
		return fmt.Errorf("dashboard: notifier not initialized")
	}
	if onEvent == nil {
		return fmt.Errorf("dashboard: onEvent callback required")
	}
	sub := n.rdb.Subscribe(ctx, n.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("dashboard: redis subscribe: %w", err)
	}
	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					_ = sub.Close()
					return
				}
				var evt ProjectEvent
				if err := json.Unmarshal([]byte(m.Payload), &evt); err != nil {
					n.log.Warn("bad dashboard event payload", "error", err.Error())
					continue
				}
				onEvent(evt)
			}
		}
	}()
	return nil
}

func (n *redisNotifier) Close() error {
	if n == nil || n.rdb == nil {
		return nil
	}
	return n.rdb.Close()
}

// EventFromProject builds the notification payload for a just-committed
// project row. Nothing in this module calls it or Publish: the worker pool
// (C7) does not publish events after Driver.Advance.
func EventFromProject(p *domain.Project) ProjectEvent {
	return ProjectEvent{
		ProjectID: p.ID.String(),
		Status:    string(p.Status),
		Stage:     p.CurrentStage,
		Progress:  p.Progress,
	}
}
