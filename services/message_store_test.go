package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Software-Engineering-Group-Bazaar/bazaar-mobile-react-native-sub001/models"
)

func assertNewestFirst(t *testing.T, msgs []models.ChatMessage) {
	t.Helper()
	for i := 1; i < len(msgs); i++ {
		if msgs[i].CreatedAt.After(msgs[i-1].CreatedAt) {
			t.Fatalf("entry %d (%v) is newer than entry %d (%v)", i, msgs[i].CreatedAt, i-1, msgs[i-1].CreatedAt)
		}
	}
}

func liveMessage(conversationID int64, id string, at time.Time) models.ChatMessage {
	return models.ChatMessage{
		ID:             id,
		ConversationID: conversationID,
		Text:           "live " + id,
		CreatedAt:      at,
		Author:         models.Author{ID: "seller-1", Name: "seller"},
		Source:         models.SourceLive,
	}
}

func TestHasMoreFollowsPageSize(t *testing.T) {
	api := &fakeBackend{pages: map[int][]models.MessageDTO{
		1: historyPage(9, 0, 20),
		2: historyPage(9, 20, 5),
	}}
	store := NewMessageStore(api, 9, 20, time.Second)

	if err := store.Hydrate(context.Background()); err != nil {
		t.Fatalf("Hydrate: %v", err)
	}
	if !store.HasMore() {
		t.Error("hasMore should be true after a full first page")
	}

	n, err := store.LoadOlder(context.Background())
	if err != nil {
		t.Fatalf("LoadOlder: %v", err)
	}
	if n != 5 {
		t.Errorf("added = %d, want 5", n)
	}
	if store.HasMore() {
		t.Error("hasMore should be false after a short page")
	}
	if store.Len() != 25 {
		t.Errorf("len = %d, want 25", store.Len())
	}

	calls := api.historyCallCount()
	if n, err := store.LoadOlder(context.Background()); err != nil || n != 0 {
		t.Errorf("LoadOlder at end = %d, %v", n, err)
	}
	if api.historyCallCount() != calls {
		t.Error("LoadOlder fetched past the end of history")
	}
}

func TestMergedPagesStayOrdered(t *testing.T) {
	page1 := historyPage(9, 0, 3)
	// second page arrives shuffled and overlaps the first by one entry
	page2 := historyPage(9, 2, 4)
	page2[0], page2[3] = page2[3], page2[0]
	api := &fakeBackend{pages: map[int][]models.MessageDTO{1: page1, 2: page2}}
	store := NewMessageStore(api, 9, 3, 0)

	if err := store.Hydrate(context.Background()); err != nil {
		t.Fatalf("Hydrate: %v", err)
	}
	n, err := store.LoadOlder(context.Background())
	if err != nil {
		t.Fatalf("LoadOlder: %v", err)
	}
	if n != 3 {
		t.Errorf("added = %d, want 3", n)
	}
	msgs := store.Messages()
	if len(msgs) != 6 {
		t.Fatalf("len = %d, want 6", len(msgs))
	}
	assertNewestFirst(t, msgs)
	if msgs[0].ID != "0" || msgs[5].ID != "5" {
		t.Errorf("first/last = %s/%s, want 0/5", msgs[0].ID, msgs[5].ID)
	}
}

func TestAppendKnownIDIsNoop(t *testing.T) {
	api := &fakeBackend{pages: map[int][]models.MessageDTO{1: historyPage(9, 0, 3)}}
	store := NewMessageStore(api, 9, 20, 0)
	if err := store.Hydrate(context.Background()); err != nil {
		t.Fatalf("Hydrate: %v", err)
	}

	var changes int
	store.OnChange(func(StoreChange) { changes++ })

	if store.AppendLive(liveMessage(9, "1", baseTime)) {
		t.Error("AppendLive accepted an id already in the store")
	}
	if store.AppendLocal(liveMessage(9, "2", baseTime)) {
		t.Error("AppendLocal accepted an id already in the store")
	}
	if store.Len() != 3 {
		t.Errorf("len = %d, want 3", store.Len())
	}
	if changes != 0 {
		t.Errorf("duplicate appends fired %d change notifications", changes)
	}

	if !store.AppendLive(liveMessage(9, "new", baseTime.Add(time.Minute))) {
		t.Fatal("AppendLive rejected a new message")
	}
	if store.AppendLive(liveMessage(9, "new", baseTime.Add(time.Minute))) {
		t.Error("second delivery of the same live message was accepted")
	}
	if got := store.Messages()[0].ID; got != "new" {
		t.Errorf("newest = %s, want new", got)
	}
}

func TestLiveMessageForOtherConversationIgnored(t *testing.T) {
	store := NewMessageStore(&fakeBackend{}, 9, 20, 0)
	if store.AppendLive(liveMessage(10, "x", baseTime)) {
		t.Fatal("message for conversation 10 entered the store of conversation 9")
	}
	if store.Len() != 0 {
		t.Errorf("len = %d, want 0", store.Len())
	}
}

func TestLiveInsertKeepsOrder(t *testing.T) {
	api := &fakeBackend{pages: map[int][]models.MessageDTO{1: historyPage(9, 0, 5)}}
	store := NewMessageStore(api, 9, 20, 0)
	if err := store.Hydrate(context.Background()); err != nil {
		t.Fatalf("Hydrate: %v", err)
	}
	// lands between history entries 2 and 3
	store.AppendLive(liveMessage(9, "late", baseTime.Add(-150*time.Second)))
	msgs := store.Messages()
	assertNewestFirst(t, msgs)
	if msgs[3].ID != "late" {
		t.Errorf("late arrival at wrong position: %v", msgs[3].ID)
	}
}

func TestHydrateKeepsMessagesArrivingDuringFetch(t *testing.T) {
	var store *MessageStore
	loader := loaderFunc(func(ctx context.Context, conversationID int64, page, pageSize int) ([]models.MessageDTO, error) {
		// a push and a duplicate of a history entry land while the page is in flight
		store.AppendLive(liveMessage(9, "pushed", baseTime.Add(time.Minute)))
		store.AppendLive(liveMessage(9, "0", baseTime))
		return historyPage(9, 0, 3), nil
	})
	store = NewMessageStore(loader, 9, 20, 0)

	if err := store.Hydrate(context.Background()); err != nil {
		t.Fatalf("Hydrate: %v", err)
	}
	msgs := store.Messages()
	if len(msgs) != 4 {
		t.Fatalf("len = %d, want 4: %+v", len(msgs), msgs)
	}
	if msgs[0].ID != "pushed" {
		t.Errorf("newest = %s, want pushed", msgs[0].ID)
	}
	assertNewestFirst(t, msgs)
}

func TestLoadOlderRejectsOverlap(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	loader := loaderFunc(func(ctx context.Context, conversationID int64, page, pageSize int) ([]models.MessageDTO, error) {
		if page == 2 {
			close(started)
			<-release
		}
		return historyPage(9, (page-1)*2, 2), nil
	})
	store := NewMessageStore(loader, 9, 2, 0)
	if err := store.Hydrate(context.Background()); err != nil {
		t.Fatalf("Hydrate: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	var firstErr error
	go func() {
		defer wg.Done()
		_, firstErr = store.LoadOlder(context.Background())
	}()
	<-started

	if _, err := store.LoadOlder(context.Background()); !errors.Is(err, ErrHistoryBusy) {
		t.Errorf("overlapping LoadOlder err = %v, want ErrHistoryBusy", err)
	}
	close(release)
	wg.Wait()
	if firstErr != nil {
		t.Fatalf("first LoadOlder: %v", firstErr)
	}
	if store.Page() != 2 {
		t.Errorf("page = %d, want 2", store.Page())
	}
}

func TestRehydrateDiscardsInFlightOlderPage(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	loader := loaderFunc(func(ctx context.Context, conversationID int64, page, pageSize int) ([]models.MessageDTO, error) {
		if page == 2 {
			close(started)
			<-release
		}
		return historyPage(9, (page-1)*2, 2), nil
	})
	store := NewMessageStore(loader, 9, 2, 0)
	if err := store.Hydrate(context.Background()); err != nil {
		t.Fatalf("Hydrate: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := store.LoadOlder(context.Background())
		done <- err
	}()
	<-started
	if err := store.Hydrate(context.Background()); err != nil {
		t.Fatalf("second Hydrate: %v", err)
	}
	close(release)

	if err := <-done; !errors.Is(err, ErrStaleResult) {
		t.Errorf("LoadOlder err = %v, want ErrStaleResult", err)
	}
	if store.Len() != 2 {
		t.Errorf("len = %d, want 2", store.Len())
	}
}

func TestHydrateErrorLeavesStoreUntouched(t *testing.T) {
	api := &fakeBackend{historyErr: errors.New("boom")}
	store := NewMessageStore(api, 9, 20, 0)
	store.AppendLive(liveMessage(9, "kept", baseTime))

	if err := store.Hydrate(context.Background()); err == nil {
		t.Fatal("expected an error")
	}
	if store.Len() != 1 {
		t.Errorf("len = %d, want 1", store.Len())
	}
}
