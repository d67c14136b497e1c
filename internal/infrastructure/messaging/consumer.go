package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"timeline-rag-api/pkg/logger"
	"timeline-rag-api/pkg/metrics"
)

// MessageHandler 返回 nil 即确认；返回错误则留在 PEL 等待重投
type MessageHandler func(ctx context.Context, msg *Message) error

// DeadLetterHandler 消息进入死信流后调用，用于把业务状态标记为失败
type DeadLetterHandler func(ctx context.Context, msg *Message, cause error)

// ErrDeferred 处理器暂时无法处理消息（例如租户正忙）。
// 返回包装了它的错误时消息继续等待重投，不消耗重试次数。
var ErrDeferred = errors.New("message deferred")

// Defer 把 err 标记为延后处理
func Defer(err error) error {
	return fmt.Errorf("%w: %w", ErrDeferred, err)
}

type ConsumerConfig struct {
	Stream        Stream
	Group         ConsumerGroup
	ConsumerName  string
	BlockTimeout  time.Duration
	ClaimInterval time.Duration
	RetryLimit    int
	Backoff       BackoffConfig
}

const (
	readBatch    = 10
	pendingBatch = 20
	minReclaim   = 5 * time.Minute
)

// Consumer 消费者组成员。
// 处理失败的条目按退避重投，投递次数达到 RetryLimit 后写入死信流并确认；
// 其它消费者长时间未确认的条目会被接管。
type Consumer struct {
	client *redis.Client
	cfg    ConsumerConfig
	// reclaimIdle 接管他人条目前要求的最短空闲时间
	reclaimIdle time.Duration

	mu          sync.RWMutex
	handlers    map[string]MessageHandler
	deadLetters map[string]DeadLetterHandler
	running     bool
	stopCh      chan struct{}
	done        chan struct{}
}

func NewConsumer(client *redis.Client, cfg ConsumerConfig) *Consumer {
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = 5 * time.Second
	}
	if cfg.ClaimInterval <= 0 {
		cfg.ClaimInterval = 30 * time.Second
	}
	if cfg.RetryLimit <= 0 {
		cfg.RetryLimit = 3
	}
	if cfg.Backoff.Initial <= 0 {
		cfg.Backoff = DefaultBackoffConfig()
	}
	if cfg.Backoff.Multiplier < 1 {
		cfg.Backoff.Multiplier = 2
	}

	return &Consumer{
		client:      client,
		cfg:         cfg,
		reclaimIdle: max(minReclaim, 2*cfg.Backoff.Max),
		handlers:    make(map[string]MessageHandler),
		deadLetters: make(map[string]DeadLetterHandler),
		stopCh:      make(chan struct{}),
		done:        make(chan struct{}),
	}
}

func (c *Consumer) RegisterHandler(msgType string, handler MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[msgType] = handler
}

func (c *Consumer) RegisterDeadLetterHandler(msgType string, handler DeadLetterHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deadLetters[msgType] = handler
}

// Start 确保消费者组存在后在后台消费，ctx 取消或 Stop 后退出
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return errors.New("consumer already running")
	}

	err := c.client.XGroupCreateMkStream(ctx, string(c.cfg.Stream), string(c.cfg.Group), "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group %s: %w", c.cfg.Group, err)
	}

	c.running = true
	go c.run(ctx)
	return nil
}

func (c *Consumer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		close(c.stopCh)
		c.running = false
	}
}

// Wait 阻塞到消费循环退出
func (c *Consumer) Wait() {
	<-c.done
}

func (c *Consumer) stopped(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-c.stopCh:
		return true
	default:
		return false
	}
}

func (c *Consumer) run(ctx context.Context) {
	defer close(c.done)

	log := logger.FromContext(ctx).With("stream", c.cfg.Stream, "group", c.cfg.Group, "consumer", c.cfg.ConsumerName)
	log.Info("consumer started")
	defer log.Info("consumer stopped")

	var lastSweep time.Time
	for !c.stopped(ctx) {
		c.retryOwnPending(ctx)
		if time.Since(lastSweep) >= c.cfg.ClaimInterval {
			c.reclaimStale(ctx)
			c.reportLag(ctx)
			lastSweep = time.Now()
		}

		streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    string(c.cfg.Group),
			Consumer: c.cfg.ConsumerName,
			Streams:  []string{string(c.cfg.Stream), ">"},
			Count:    readBatch,
			Block:    c.cfg.BlockTimeout,
		}).Result()
		switch {
		case err == nil:
		case errors.Is(err, redis.Nil), ctx.Err() != nil:
			continue
		default:
			log.Error("read stream failed", "error", err)
			select {
			case <-ctx.Done():
			case <-c.stopCh:
			case <-time.After(time.Second):
			}
			continue
		}

		for _, s := range streams {
			for _, xmsg := range s.Messages {
				c.process(ctx, xmsg)
			}
		}
	}
}

// messageContext 把消息携带的租户、任务、请求与 trace ID 放入日志上下文
func messageContext(ctx context.Context, msg *Message) context.Context {
	if msg.TenantID != "" {
		ctx = logger.WithContext(ctx, logger.TenantIDKey, msg.TenantID)
	}
	ctx = logger.WithContext(ctx, logger.JobIDKey, msg.ID)
	if v := msg.GetMetadata(MetaRequestID); v != "" {
		ctx = logger.WithContext(ctx, logger.RequestIDKey, v)
	}
	if v := msg.GetMetadata(MetaTraceID); v != "" {
		ctx = logger.WithContext(ctx, logger.TraceIDKey, v)
	}
	return ctx
}

func (c *Consumer) process(ctx context.Context, xmsg redis.XMessage) {
	stream := string(c.cfg.Stream)
	ctx, span := tracer.Start(ctx, "consumer.process",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.destination", stream),
			attribute.String("messaging.message_id", xmsg.ID),
		))
	defer span.End()

	msg, ok := decodeMessage(xmsg)
	if !ok {
		logger.FromContext(ctx).Error("drop undecodable stream entry", "entry_id", xmsg.ID)
		c.ack(ctx, xmsg.ID)
		metrics.RedisStreamProcessed.WithLabelValues(stream, "invalid").Inc()
		return
	}
	ctx = messageContext(ctx, msg)
	span.SetAttributes(
		attribute.String("messaging.message_type", msg.Type),
		attribute.String("tenant_id", msg.TenantID),
	)

	c.mu.RLock()
	handler, ok := c.handlers[msg.Type]
	c.mu.RUnlock()
	if !ok {
		logger.Warn(ctx, "no handler registered", "type", msg.Type)
		c.ack(ctx, xmsg.ID)
		metrics.RedisStreamProcessed.WithLabelValues(stream, "unhandled").Inc()
		return
	}

	if err := handler(ctx, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "handler failed")
		metrics.RedisStreamProcessed.WithLabelValues(stream, "error").Inc()
		c.onFailure(ctx, xmsg.ID, msg, err)
		return
	}
	c.ack(ctx, xmsg.ID)
	metrics.RedisStreamProcessed.WithLabelValues(stream, "ok").Inc()
}

// ack 确认条目并清除它的延后计数
func (c *Consumer) ack(ctx context.Context, id string) {
	_, err := c.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.XAck(ctx, string(c.cfg.Stream), string(c.cfg.Group), id)
		p.HDel(ctx, c.cfg.Stream.DeferredKey(), id)
		return nil
	})
	if err != nil {
		logger.Error(ctx, "ack failed", err, "entry_id", id)
	}
}

// onFailure 未达上限时保持 pending，由 retryOwnPending 在退避到期后重投。
// 延后的投递只记入延后计数，不算失败次数。
func (c *Consumer) onFailure(ctx context.Context, entryID string, msg *Message, err error) {
	if errors.Is(err, ErrDeferred) {
		if herr := c.client.HIncrBy(ctx, c.cfg.Stream.DeferredKey(), entryID, 1).Err(); herr != nil {
			logger.Error(ctx, "record deferral failed", herr, "entry_id", entryID)
		}
		logger.Info(ctx, "message deferred", "entry_id", entryID, "reason", err.Error())
		metrics.RedisStreamProcessed.WithLabelValues(string(c.cfg.Stream), "deferred").Inc()
		return
	}

	attempts := c.attempts(ctx, entryID, c.deliveries(ctx, entryID))
	if attempts < c.cfg.RetryLimit {
		logger.Error(ctx, "handler failed, will retry", err, "entry_id", entryID, "attempts", attempts)
		return
	}
	logger.Error(ctx, "handler failed, dead-lettering", err, "entry_id", entryID, "attempts", attempts)
	c.deadLetter(ctx, msg, err)
	c.ack(ctx, entryID)
}

// deliveries 条目的投递次数，查询失败按 0 计
func (c *Consumer) deliveries(ctx context.Context, entryID string) int {
	pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: string(c.cfg.Stream),
		Group:  string(c.cfg.Group),
		Start:  entryID,
		End:    entryID,
		Count:  1,
	}).Result()
	if err != nil || len(pending) == 0 {
		return 0
	}
	return int(pending[0].RetryCount)
}

// attempts 扣除延后次数后的失败投递次数
func (c *Consumer) attempts(ctx context.Context, entryID string, deliveries int) int {
	deferred, err := c.client.HGet(ctx, c.cfg.Stream.DeferredKey(), entryID).Int()
	if err != nil {
		return deliveries
	}
	return max(deliveries-deferred, 0)
}

func (c *Consumer) deadLetter(ctx context.Context, msg *Message, cause error) {
	data, err := json.Marshal(map[string]any{
		"original_stream": string(c.cfg.Stream),
		"message":         msg,
		"error":           cause.Error(),
		"failed_at":       time.Now().Unix(),
	})
	if err == nil {
		err = c.client.XAdd(ctx, &redis.XAddArgs{
			Stream: c.cfg.Stream.DLQStream(),
			Values: map[string]any{streamField: string(data)},
		}).Err()
	}
	if err != nil {
		logger.Error(ctx, "write dead letter failed", err, "message_id", msg.ID)
		return
	}
	metrics.RedisStreamProcessed.WithLabelValues(string(c.cfg.Stream), "dead_letter").Inc()

	c.mu.RLock()
	onDead, ok := c.deadLetters[msg.Type]
	c.mu.RUnlock()
	if ok {
		onDead(messageContext(ctx, msg), msg, cause)
	}
}

// claim 把条目转到本消费者名下；minIdle 防止与仍在处理的消费者抢占
func (c *Consumer) claim(ctx context.Context, id string, minIdle time.Duration) []redis.XMessage {
	claimed, err := c.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   string(c.cfg.Stream),
		Group:    string(c.cfg.Group),
		Consumer: c.cfg.ConsumerName,
		MinIdle:  minIdle,
		Messages: []string{id},
	}).Result()
	if err != nil {
		logger.Error(ctx, "claim pending entry failed", err, "entry_id", id)
		return nil
	}
	return claimed
}

// redeliver 失败次数已达上限的直接进死信流，否则重新处理
func (c *Consumer) redeliver(ctx context.Context, p redis.XPendingExt, minIdle time.Duration) {
	exhausted := c.attempts(ctx, p.ID, int(p.RetryCount)) >= c.cfg.RetryLimit
	for _, xmsg := range c.claim(ctx, p.ID, minIdle) {
		if !exhausted {
			c.process(ctx, xmsg)
			continue
		}
		if msg, ok := decodeMessage(xmsg); ok {
			c.deadLetter(ctx, msg, errors.New("message exceeded max retries"))
		}
		c.ack(ctx, xmsg.ID)
	}
}

func (c *Consumer) pending(ctx context.Context, consumer string) []redis.XPendingExt {
	pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream:   string(c.cfg.Stream),
		Group:    string(c.cfg.Group),
		Start:    "-",
		End:      "+",
		Count:    pendingBatch,
		Consumer: consumer,
	}).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			logger.Error(ctx, "query pending entries failed", err)
		}
		return nil
	}
	return pending
}

// retryOwnPending 重投本消费者名下退避已到期的条目。
// 等待时间按总投递次数增长，延后的条目因此以不超过 Backoff.Max 的间隔轮询。
func (c *Consumer) retryOwnPending(ctx context.Context) {
	for _, p := range c.pending(ctx, c.cfg.ConsumerName) {
		if c.attempts(ctx, p.ID, int(p.RetryCount)) >= c.cfg.RetryLimit {
			c.redeliver(ctx, p, 0)
			continue
		}
		wait := c.cfg.Backoff.CalculateBackoff(int(p.RetryCount))
		if p.Idle >= wait {
			c.redeliver(ctx, p, wait)
		}
	}
}

// reclaimStale 接管其它消费者空闲超过 reclaimIdle 的条目
func (c *Consumer) reclaimStale(ctx context.Context) {
	for _, p := range c.pending(ctx, "") {
		if p.Consumer != c.cfg.ConsumerName && p.Idle >= c.reclaimIdle {
			c.redeliver(ctx, p, c.reclaimIdle)
		}
	}
}

func (c *Consumer) reportLag(ctx context.Context) {
	groups, err := c.client.XInfoGroups(ctx, string(c.cfg.Stream)).Result()
	if err != nil {
		return
	}
	for _, g := range groups {
		if g.Name == string(c.cfg.Group) {
			metrics.RedisStreamLag.WithLabelValues(string(c.cfg.Stream), g.Name).Set(float64(g.Lag))
		}
	}
}
