package opslog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/config"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/models"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/repository"
)

type memLogs struct {
	items []models.OperationLog
}

func (m *memLogs) InsertOperationLog(_ context.Context, item *models.OperationLog) error {
	item.ID = uint64(len(m.items) + 1)
	m.items = append(m.items, *item)
	return nil
}

func (m *memLogs) ListOperationLogs(context.Context, repository.ListOperationLogsParams) ([]models.OperationLog, error) {
	return m.items, nil
}

func TestRecordPersistsAndMirrors(t *testing.T) {
	var mu sync.Mutex
	var got CreateLogRequest
	logins := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/auth/login":
			logins++
			_ = json.NewEncoder(w).Encode(map[string]string{
				"token":      "tok",
				"expires_at": time.Now().Add(time.Hour).Format(time.RFC3339),
			})
		case "/api/v1/logs":
			if r.Header.Get("Authorization") != "Bearer tok" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			mu.Lock()
			_ = json.NewDecoder(r.Body).Decode(&got)
			mu.Unlock()
			w.WriteHeader(http.StatusCreated)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	repo := &memLogs{}
	rec := &Recorder{Repo: repo, Remote: &Client{BaseURL: srv.URL, APIKey: "k", Agent: "orchestrator"}}
	item := &models.OperationLog{CycleID: "c1", Operation: models.OperationOrchestratorCycle, Status: models.OperationStatusPartial, TradesFailed: 2}
	if err := rec.Record(context.Background(), item); err != nil {
		t.Fatalf("record: %v", err)
	}
	_ = rec.Record(context.Background(), &models.OperationLog{CycleID: "c2", Operation: models.OperationSafetyCheck, Status: models.OperationStatusOK})

	if len(repo.items) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(repo.items))
	}
	if repo.items[0].FinishedAt.IsZero() || repo.items[0].StartedAt.IsZero() {
		t.Fatalf("timestamps should be filled")
	}
	if logins != 1 {
		t.Fatalf("token should be reused, logins=%d", logins)
	}
	mu.Lock()
	defer mu.Unlock()
	if got.Agent != "orchestrator" || got.SessionKey != "c2" || got.Level != "info" {
		t.Fatalf("unexpected mirrored log %+v", got)
	}
}

func TestRecordWithoutRemote(t *testing.T) {
	repo := &memLogs{}
	rec := New(configWithoutRemote(), repo, nil)
	if rec.Remote != nil {
		t.Fatalf("remote should be disabled without credentials")
	}
	if err := rec.Record(context.Background(), &models.OperationLog{Operation: models.OperationAutoPause, Status: models.OperationStatusOK}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if len(repo.items) != 1 {
		t.Fatalf("row not persisted")
	}
	if levelFor(models.OperationStatusFailed) != "error" {
		t.Fatalf("failed maps to error level")
	}
}

func configWithoutRemote() config.OpsLogConfig {
	return config.OpsLogConfig{BaseURL: "http://example.invalid"}
}
