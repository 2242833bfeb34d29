package queue

import (
	"context"
	"encoding/json"
	"errors"

	"floodwatch/internal/client"
	"floodwatch/internal/model"

	"go.uber.org/zap"
)

// Connectivity reports the current online state
type Connectivity interface {
	Online() bool
}

// WriteResult is either a delivered response or a queued mutation
type WriteResult struct {
	Queued   bool                  `json:"queued"`
	Mutation *model.QueuedMutation `json:"mutation,omitempty"`
	Response *client.Response      `json:"response,omitempty"`
}

// Writer sends writes directly while online and queues them otherwise
type Writer struct {
	queue  *Queue
	sender Sender
	conn   Connectivity
	logger *zap.Logger
}

func NewWriter(queue *Queue, sender Sender, conn Connectivity, logger *zap.Logger) *Writer {
	return &Writer{queue: queue, sender: sender, conn: conn, logger: logger.Named("writer")}
}

// Write delivers the request or, when offline or the backend cannot be
// reached, enqueues it. Server rejections are returned as errors and not queued.
func (w *Writer) Write(ctx context.Context, method, target string, payload json.RawMessage, headers map[string]string) (WriteResult, error) {
	if w.conn == nil || w.conn.Online() {
		resp, err := w.sender.Send(ctx, client.Request{Method: method, Target: target, Body: payload, Headers: headers})
		if err == nil {
			return WriteResult{Response: resp}, nil
		}
		if !Unreachable(err) {
			return WriteResult{}, err
		}
		w.logger.Debug("Backend unreachable, queueing write", zap.String("target", target), zap.Error(err))
	}

	m, err := w.queue.Enqueue(ctx, method, target, payload, headers)
	if err != nil {
		return WriteResult{}, err
	}
	return WriteResult{Queued: true, Mutation: &m}, nil
}

// Unreachable reports whether err means the request never got an answer
func Unreachable(err error) bool {
	return errors.Is(err, model.ErrOffline) || errors.Is(err, model.ErrNetworkTimeout)
}
