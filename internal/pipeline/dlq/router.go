// Package dlq quarantines change messages that cannot be applied.
package dlq

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/syntrixbase/searchsync/internal/core/pubsub"
	"github.com/syntrixbase/searchsync/internal/events"
	"github.com/syntrixbase/searchsync/internal/metrics"
)

const unknownSubject = "unknown"

// Router publishes dead letters to the dead-letter stream. Publisher
// subjects are relative to events.DeadLetterSubjectPrefix.
type Router struct {
	pub     pubsub.Publisher
	logger  *slog.Logger
	timeout time.Duration
	now     func() time.Time
}

// New creates a Router. A zero timeout means 5s per send.
func New(pub pubsub.Publisher, timeout time.Duration, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Router{
		pub:     pub,
		logger:  logger.With("component", "dlq"),
		timeout: timeout,
		now:     time.Now,
	}
}

// Send quarantines msg. It returns false if the dead letter could not be
// published; the failure is logged.
func (r *Router) Send(ctx context.Context, msg *events.DataChangeMessage, cause error, retryable bool) bool {
	dl := events.NewDeadLetter(msg, cause, retryable, r.now())
	return r.publish(ctx, msg.Subject(), dl)
}

// SendRaw quarantines a payload that could not be decoded. subject is the
// change subject the payload arrived on, with or without the change prefix.
func (r *Router) SendRaw(ctx context.Context, subject string, payload []byte, cause error) bool {
	dl := &events.DeadLetterMessage{
		CapturedAt: r.now().UnixMilli(),
		Raw:        payload,
	}
	if cause != nil {
		dl.Error = cause.Error()
	}
	return r.publish(ctx, rawSubject(subject), dl)
}

func (r *Router) publish(ctx context.Context, subject string, dl *events.DeadLetterMessage) bool {
	retryable := strconv.FormatBool(dl.Retryable)

	data, err := dl.Encode()
	if err != nil {
		r.logger.Error("Failed to encode dead letter", "message_id", dl.MessageID, "error", err)
		metrics.DeadLetters.WithLabelValues(retryable, "error").Inc()
		return false
	}

	sendCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var opts []pubsub.PublishOption
	if dl.MessageID != "" {
		opts = append(opts, pubsub.WithMsgID(dl.MessageID))
	}
	if err := r.pub.Publish(sendCtx, subject, data, opts...); err != nil {
		r.logger.Error("Failed to publish dead letter",
			"message_id", dl.MessageID,
			"subject", subject,
			"error", err,
		)
		metrics.DeadLetters.WithLabelValues(retryable, "error").Inc()
		return false
	}

	r.logger.Warn("Message sent to dead letter stream",
		"message_id", dl.MessageID,
		"subject", subject,
		"retryable", dl.Retryable,
		"cause", dl.Error,
	)
	metrics.DeadLetters.WithLabelValues(retryable, "ok").Inc()
	return true
}

func rawSubject(subject string) string {
	subject = strings.TrimPrefix(subject, events.ChangeSubjectPrefix+".")
	if subject == "" {
		return unknownSubject
	}
	return subject
}
