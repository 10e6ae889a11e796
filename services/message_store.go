package services

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/gommon/log"

	"github.com/Software-Engineering-Group-Bazaar/bazaar-mobile-react-native-sub001/models"
)

var (
	ErrHistoryBusy = errors.New("history page already loading")
	ErrStaleResult = errors.New("history result discarded")
)

const DefaultPageSize = 20

// HistoryLoader fetches one page of a conversation's history, page 1 newest.
type HistoryLoader interface {
	ListMessages(ctx context.Context, conversationID int64, page, pageSize int) ([]models.MessageDTO, error)
}

type StoreChangeKind string

const (
	StoreHydrated  StoreChangeKind = "hydrate"
	StorePrepended StoreChangeKind = "prepend"
	StoreAppended  StoreChangeKind = "append"
)

type StoreChange struct {
	Kind    StoreChangeKind
	Added   []models.ChatMessage
	HasMore bool
}

// MessageStore is the in-memory log of the open conversation. Entries are kept
// newest first and no two share an id.
type MessageStore struct {
	loader         HistoryLoader
	conversationID int64
	pageSize       int
	timeout        time.Duration
	now            func() time.Time
	logger         *log.Logger

	mu         sync.RWMutex
	messages   []models.ChatMessage
	ids        map[string]struct{}
	page       int
	hasMore    bool
	olderBusy  bool
	generation uint64
	onChange   func(StoreChange)
}

func NewMessageStore(loader HistoryLoader, conversationID int64, pageSize int, timeout time.Duration) *MessageStore {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &MessageStore{
		loader:         loader,
		conversationID: conversationID,
		pageSize:       pageSize,
		timeout:        timeout,
		now:            time.Now,
		logger:         log.New("store"),
		ids:            make(map[string]struct{}),
		hasMore:        true,
	}
}

// OnChange registers the single change listener; it is called outside the lock.
func (s *MessageStore) OnChange(fn func(StoreChange)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

func (s *MessageStore) ConversationID() int64 { return s.conversationID }

// Hydrate replaces the log with the first history page. Live or local entries
// that arrived while the page was in flight are kept.
func (s *MessageStore) Hydrate(ctx context.Context) error {
	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.mu.Unlock()

	dtos, err := s.fetch(ctx, 1)
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	page := s.normalizePage(dtos)

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return ErrStaleResult
	}
	ids := make(map[string]struct{}, len(page)+len(s.messages))
	merged := make([]models.ChatMessage, 0, len(page)+len(s.messages))
	for _, m := range page {
		if _, dup := ids[m.ID]; dup {
			continue
		}
		ids[m.ID] = struct{}{}
		merged = append(merged, m)
	}
	for _, m := range s.messages {
		if m.Source == models.SourceHistory {
			continue
		}
		if _, dup := ids[m.ID]; dup {
			continue
		}
		ids[m.ID] = struct{}{}
		merged = append(merged, m)
	}
	sortNewestFirst(merged)
	s.messages = merged
	s.ids = ids
	s.page = 1
	s.hasMore = len(dtos) >= s.pageSize
	change := StoreChange{Kind: StoreHydrated, Added: page, HasMore: s.hasMore}
	fn := s.onChange
	s.mu.Unlock()

	if fn != nil {
		fn(change)
	}
	return nil
}

// LoadOlder fetches the next page and merges it behind the displayed entries.
// It returns how many new entries were added; a store at the end of history
// is a no-op.
func (s *MessageStore) LoadOlder(ctx context.Context) (int, error) {
	s.mu.Lock()
	if !s.hasMore {
		s.mu.Unlock()
		return 0, nil
	}
	if s.olderBusy {
		s.mu.Unlock()
		return 0, ErrHistoryBusy
	}
	s.olderBusy = true
	gen := s.generation
	next := s.page + 1
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.olderBusy = false
		s.mu.Unlock()
	}()

	dtos, err := s.fetch(ctx, next)
	if err != nil {
		return 0, err
	}
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}
	page := s.normalizePage(dtos)

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return 0, ErrStaleResult
	}
	added := make([]models.ChatMessage, 0, len(page))
	for _, m := range page {
		if _, dup := s.ids[m.ID]; dup {
			continue
		}
		s.ids[m.ID] = struct{}{}
		s.messages = append(s.messages, m)
		added = append(added, m)
	}
	sortNewestFirst(s.messages)
	s.page = next
	s.hasMore = len(dtos) >= s.pageSize
	change := StoreChange{Kind: StorePrepended, Added: added, HasMore: s.hasMore}
	fn := s.onChange
	s.mu.Unlock()

	if fn != nil {
		fn(change)
	}
	return len(added), nil
}

// AppendLive inserts a message pushed by the hub. Messages for another
// conversation and already known ids are ignored.
func (s *MessageStore) AppendLive(msg models.ChatMessage) bool {
	if msg.ConversationID != s.conversationID {
		s.logger.Debugf("dropping live message %s for conversation %d, open is %d", msg.ID, msg.ConversationID, s.conversationID)
		return false
	}
	return s.insert(msg)
}

// AppendLocal inserts a client-authored message before any server ack.
func (s *MessageStore) AppendLocal(msg models.ChatMessage) bool {
	if msg.ConversationID == 0 {
		msg.ConversationID = s.conversationID
	}
	if msg.ConversationID != s.conversationID {
		return false
	}
	return s.insert(msg)
}

func (s *MessageStore) insert(msg models.ChatMessage) bool {
	s.mu.Lock()
	if _, dup := s.ids[msg.ID]; dup {
		s.mu.Unlock()
		return false
	}
	s.ids[msg.ID] = struct{}{}
	// first index whose entry is not newer than msg
	i := sort.Search(len(s.messages), func(i int) bool {
		return !s.messages[i].CreatedAt.After(msg.CreatedAt)
	})
	s.messages = append(s.messages, models.ChatMessage{})
	copy(s.messages[i+1:], s.messages[i:])
	s.messages[i] = msg
	change := StoreChange{Kind: StoreAppended, Added: []models.ChatMessage{msg}, HasMore: s.hasMore}
	fn := s.onChange
	s.mu.Unlock()

	if fn != nil {
		fn(change)
	}
	return true
}

// Messages returns a copy of the log, newest first.
func (s *MessageStore) Messages() []models.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ChatMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *MessageStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

func (s *MessageStore) HasMore() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hasMore
}

func (s *MessageStore) Page() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.page
}

func (s *MessageStore) fetch(ctx context.Context, page int) ([]models.MessageDTO, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	return s.loader.ListMessages(ctx, s.conversationID, page, s.pageSize)
}

func (s *MessageStore) normalizePage(dtos []models.MessageDTO) []models.ChatMessage {
	now := s.now()
	out := make([]models.ChatMessage, 0, len(dtos))
	for _, dto := range dtos {
		if dto.ConversationID == "" {
			dto.ConversationID = models.FlexID(strconv.FormatInt(s.conversationID, 10))
		}
		out = append(out, NormalizeMessage(dto, models.SourceHistory, now))
	}
	return out
}

func sortNewestFirst(msgs []models.ChatMessage) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.After(msgs[j].CreatedAt)
	})
}
