package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Software-Engineering-Group-Bazaar/bazaar-mobile-react-native-sub001/models"
)

type capturedSQL struct {
	mu   sync.Mutex
	sql  []string
	vars [][]interface{}
}

// dryRunDB builds statements without a server and records them.
func dryRunDB(t *testing.T) (*gorm.DB, *capturedSQL) {
	t.Helper()
	db, err := gorm.Open(postgres.New(postgres.Config{DSN: "host=localhost user=bazaar dbname=bazaar sslmode=disable"}), &gorm.Config{
		DryRun:               true,
		DisableAutomaticPing: true,
		Logger:               logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	captured := &capturedSQL{}
	record := func(db *gorm.DB) {
		captured.mu.Lock()
		captured.sql = append(captured.sql, db.Statement.SQL.String())
		captured.vars = append(captured.vars, db.Statement.Vars)
		captured.mu.Unlock()
	}
	if err := db.Callback().Create().After("gorm:create").Register("test:capture_create", record); err != nil {
		t.Fatal(err)
	}
	if err := db.Callback().Query().After("gorm:query").Register("test:capture_query", record); err != nil {
		t.Fatal(err)
	}
	return db, captured
}

func TestArchiverWritesIdempotently(t *testing.T) {
	db, captured := dryRunDB(t)
	a := NewArchiver(db)

	msgs := []models.ChatMessage{
		{ID: "1", ConversationID: 9, Text: "a", Source: models.SourceHistory},
		{ID: "2", ConversationID: 9, Text: "b", Source: models.SourceLive},
	}
	if err := a.HandleMessages(context.Background(), buyer, msgs); err != nil {
		t.Fatalf("HandleMessages: %v", err)
	}
	if err := a.HandleMessages(context.Background(), buyer, nil); err != nil {
		t.Fatalf("empty batch: %v", err)
	}
	a.Close()

	captured.mu.Lock()
	defer captured.mu.Unlock()
	if len(captured.sql) != 1 {
		t.Fatalf("statements = %v", captured.sql)
	}
	stmt := captured.sql[0]
	if !strings.Contains(stmt, `INSERT INTO "archived_messages"`) {
		t.Errorf("statement = %s", stmt)
	}
	if !strings.Contains(stmt, `ON CONFLICT ("conversation_id","owner_id","message_id") DO NOTHING`) {
		t.Errorf("conflict target is not per owner: %s", stmt)
	}
}

func TestArchiverKeepsRowPerOwner(t *testing.T) {
	db, captured := dryRunDB(t)
	a := NewArchiver(db)

	msg := []models.ChatMessage{{ID: "m1", ConversationID: 9, Text: "hi", Source: models.SourceLive}}
	seller := models.AuthContext{Token: "t2", UserID: "u-2"}
	if err := a.HandleMessages(context.Background(), buyer, msg); err != nil {
		t.Fatal(err)
	}
	if err := a.HandleMessages(context.Background(), seller, msg); err != nil {
		t.Fatal(err)
	}
	a.Close()

	captured.mu.Lock()
	defer captured.mu.Unlock()
	if len(captured.sql) != 2 {
		t.Fatalf("statements = %v", captured.sql)
	}
	owners := map[interface{}]bool{}
	for i, stmt := range captured.sql {
		if !strings.Contains(stmt, `"owner_id"`) {
			t.Errorf("statement %d = %s", i, stmt)
		}
		for _, v := range captured.vars[i] {
			if v == "u-1" || v == "u-2" {
				owners[v] = true
			}
		}
	}
	if len(owners) != 2 {
		t.Errorf("owners written = %v", owners)
	}
}

func TestArchiverClosed(t *testing.T) {
	db, _ := dryRunDB(t)
	a := NewArchiver(db)
	a.Close()
	a.Close()

	err := a.HandleMessages(context.Background(), buyer, []models.ChatMessage{{ID: "1", ConversationID: 9}})
	if !errors.Is(err, ErrArchiverClosed) {
		t.Errorf("err = %v, want ErrArchiverClosed", err)
	}
}

func TestArchiverTranscriptQuery(t *testing.T) {
	db, captured := dryRunDB(t)
	a := NewArchiver(db)
	defer a.Close()

	if _, err := a.Transcript(context.Background(), "u-1", 9, 5); err != nil {
		t.Fatalf("Transcript: %v", err)
	}
	captured.mu.Lock()
	defer captured.mu.Unlock()
	if len(captured.sql) != 1 {
		t.Fatalf("statements = %v", captured.sql)
	}
	stmt, vars := captured.sql[0], captured.vars[0]
	if !strings.Contains(stmt, "conversation_id = $1 AND owner_id = $2") || !strings.Contains(stmt, "ORDER BY sent_at DESC") {
		t.Errorf("statement = %s", stmt)
	}
	if len(vars) != 3 || vars[0] != int64(9) || vars[1] != "u-1" || vars[2] != 5 {
		t.Errorf("vars = %v", vars)
	}
}
