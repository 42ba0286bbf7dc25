package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"
)

// queueAPI is the subset of *azqueue.QueueClient used for board cleanup.
type queueAPI interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
	DequeueMessage(ctx context.Context, o *azqueue.DequeueMessageOptions) (azqueue.DequeueMessagesResponse, error)
	DeleteMessage(ctx context.Context, messageID string, popReceipt string, o *azqueue.DeleteMessageOptions) (azqueue.DeleteMessageResponse, error)
}

// CleanupJob is a dequeued request to delete the columns and tasks of a board.
type CleanupJob struct {
	BoardID      string
	MessageID    string
	PopReceipt   string
	DequeueCount int64
}

type cleanupMessage struct {
	BoardID string `json:"boardId"`
}

// CleanupQueue carries board deletions to the cleanup worker.
type CleanupQueue struct {
	queue queueAPI
}

// NewCleanupQueue connects to the named queue.
func NewCleanupQueue(connStr, name string) (*CleanupQueue, error) {
	opts := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, name, &opts)
	if err != nil {
		return nil, err
	}
	return &CleanupQueue{queue: q}, nil
}

// EnqueueBoardCleanup schedules removal of everything the board contained.
func (q *CleanupQueue) EnqueueBoardCleanup(ctx context.Context, boardID string) error {
	data, err := sonic.Marshal(cleanupMessage{BoardID: boardID})
	if err != nil {
		return err
	}
	_, err = q.queue.EnqueueMessage(ctx, string(data), nil)
	return err
}

// Dequeue returns the next job, or nil when the queue is empty.
func (q *CleanupQueue) Dequeue(ctx context.Context) (*CleanupJob, error) {
	resp, err := q.queue.DequeueMessage(ctx, nil)
	if err != nil {
		return nil, err
	}
	if len(resp.Messages) == 0 {
		return nil, nil
	}
	msg := resp.Messages[0]
	if msg.MessageID == nil || msg.PopReceipt == nil {
		return nil, errors.New("dequeued message without id or pop receipt")
	}
	job := &CleanupJob{MessageID: *msg.MessageID, PopReceipt: *msg.PopReceipt}
	if msg.DequeueCount != nil {
		job.DequeueCount = *msg.DequeueCount
	}
	if msg.MessageText != nil {
		var body cleanupMessage
		if err := sonic.UnmarshalString(*msg.MessageText, &body); err == nil {
			job.BoardID = body.BoardID
		}
	}
	return job, nil
}

// Delete removes a processed job from the queue.
func (q *CleanupQueue) Delete(ctx context.Context, job CleanupJob) error {
	_, err := q.queue.DeleteMessage(ctx, job.MessageID, job.PopReceipt, nil)
	return err
}

type cleanupSource interface {
	Dequeue(ctx context.Context) (*CleanupJob, error)
	Delete(ctx context.Context, job CleanupJob) error
}

type contentsDeleter interface {
	DeleteBoardContents(ctx context.Context, boardID string) (int, error)
}

// CleanupWorker drains the cleanup queue and deletes board contents.
type CleanupWorker struct {
	source      cleanupSource
	store       contentsDeleter
	log         *log.Logger
	idle        time.Duration
	maxAttempts int64
}

func NewCleanupWorker(source cleanupSource, store contentsDeleter, logger *log.Logger) *CleanupWorker {
	if logger == nil {
		panic("Logger is not initialized")
	}
	return &CleanupWorker{source: source, store: store, log: logger, idle: time.Second, maxAttempts: 5}
}

// Run polls until ctx is cancelled.
func (w *CleanupWorker) Run(ctx context.Context) {
	w.log.Info("board cleanup worker started")
	for {
		if ctx.Err() != nil {
			w.log.Info("board cleanup worker stopped")
			return
		}
		job, err := w.source.Dequeue(ctx)
		if err != nil {
			if ctx.Err() == nil {
				w.log.WithError(err).Error("dequeue cleanup job")
			}
			w.sleep(ctx)
			continue
		}
		if job == nil {
			w.sleep(ctx)
			continue
		}
		w.process(ctx, *job)
	}
}

func (w *CleanupWorker) process(ctx context.Context, job CleanupJob) {
	entry := w.log.WithFields(log.Fields{"board": job.BoardID, "message": job.MessageID, "attempt": job.DequeueCount})
	if job.BoardID == "" {
		entry.Warn("dropping malformed cleanup job")
		w.delete(ctx, job, entry)
		return
	}
	n, err := w.store.DeleteBoardContents(ctx, job.BoardID)
	if err != nil {
		if w.maxAttempts > 0 && job.DequeueCount >= w.maxAttempts {
			entry.WithError(err).Error("giving up on board cleanup")
			w.delete(ctx, job, entry)
			return
		}
		// Left on the queue; it becomes visible again after the visibility timeout.
		entry.WithError(err).Warn("board cleanup failed")
		return
	}
	entry.WithField("deleted", n).Info("board contents deleted")
	w.delete(ctx, job, entry)
}

func (w *CleanupWorker) delete(ctx context.Context, job CleanupJob, entry *log.Entry) {
	if err := w.source.Delete(ctx, job); err != nil {
		entry.WithError(fmt.Errorf("delete cleanup message: %w", err)).Error("cleanup job not acknowledged")
	}
}

func (w *CleanupWorker) sleep(ctx context.Context) {
	t := time.NewTimer(w.idle)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
