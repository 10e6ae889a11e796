package services

import (
	"context"
	"errors"
	"sync"

	"github.com/labstack/gommon/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Software-Engineering-Group-Bazaar/bazaar-mobile-react-native-sub001/models"
)

var ErrArchiverClosed = errors.New("archiver closed")

var archiveConflictColumns = []clause.Column{{Name: "conversation_id"}, {Name: "owner_id"}, {Name: "message_id"}}

const (
	archiveQueueSize = 1000
	archiveWorkers   = 4
)

// Archiver writes every message seen by a session to the transcript table.
// Writes are queued and done by a fixed set of workers; a full queue drops
// the batch instead of blocking the connection.
type Archiver struct {
	db      *gorm.DB
	queue   chan []*models.ArchivedMessage
	workers int
	logger  *log.Logger

	wg        sync.WaitGroup
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

func NewArchiver(db *gorm.DB) *Archiver {
	a := &Archiver{
		db:      db,
		queue:   make(chan []*models.ArchivedMessage, archiveQueueSize),
		workers: archiveWorkers,
		logger:  log.New("archive"),
	}
	for i := 0; i < a.workers; i++ {
		a.wg.Add(1)
		go a.worker()
	}
	return a
}

func (a *Archiver) worker() {
	defer a.wg.Done()
	for rows := range a.queue {
		err := a.db.Clauses(clause.OnConflict{
			Columns:   archiveConflictColumns,
			DoNothing: true,
		}).Create(rows).Error
		if err != nil {
			a.logger.Errorf("failed to archive %d messages: %v", len(rows), err)
		}
	}
}

// HandleMessages queues msgs for archiving under the session owner.
func (a *Archiver) HandleMessages(ctx context.Context, auth models.AuthContext, msgs []models.ChatMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	rows := make([]*models.ArchivedMessage, 0, len(msgs))
	for _, m := range msgs {
		rows = append(rows, models.NewArchivedMessage(auth.UserID, m))
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrArchiverClosed
	}
	select {
	case a.queue <- rows:
	default:
		a.logger.Warn("archive queue full, dropping messages")
	}
	return nil
}

// Transcript returns the archived messages of a conversation, newest first.
func (a *Archiver) Transcript(ctx context.Context, ownerID string, conversationID int64, limit int) ([]models.ArchivedMessage, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	var rows []models.ArchivedMessage
	err := a.db.WithContext(ctx).
		Where("conversation_id = ? AND owner_id = ?", conversationID, ownerID).
		Order("sent_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// Close stops accepting messages and waits for queued writes.
func (a *Archiver) Close() {
	a.closeOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		close(a.queue)
		a.mu.Unlock()
		a.wg.Wait()
	})
}
