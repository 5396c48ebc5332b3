package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"gorm.io/datatypes"

	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/models"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/repository"
)

type memSettings struct {
	items   map[string]models.SystemSetting
	listErr error
}

func newMemSettings() *memSettings {
	return &memSettings{items: map[string]models.SystemSetting{}}
}

func (m *memSettings) UpsertSystemSetting(_ context.Context, item *models.SystemSetting) error {
	m.items[item.Key] = *item
	return nil
}

func (m *memSettings) GetSystemSettingByKey(_ context.Context, key string) (*models.SystemSetting, error) {
	item, ok := m.items[key]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

func (m *memSettings) ListSystemSettings(_ context.Context, params repository.ListSystemSettingsParams) ([]models.SystemSetting, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := []models.SystemSetting{}
	for k, v := range m.items {
		if params.Prefix != nil && !strings.HasPrefix(k, *params.Prefix) {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

func (m *memSettings) CountSystemSettings(ctx context.Context, params repository.ListSystemSettingsParams) (int64, error) {
	items, err := m.ListSystemSettings(ctx, params)
	return int64(len(items)), err
}

func TestEnsureDefaultSwitchesKeepsOperatorValues(t *testing.T) {
	repo := newMemSettings()
	svc := &SystemSettingsService{Repo: repo}
	if err := svc.SetEnabled(context.Background(), FeatureTrading, false); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := svc.EnsureDefaultSwitches(context.Background()); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if svc.IsEnabled(context.Background(), FeatureTrading, true) {
		t.Fatalf("kill switch must survive defaults")
	}
	if !svc.IsEnabled(context.Background(), FeatureSafetyMonitor, false) {
		t.Fatalf("missing switch should be seeded on")
	}
}

func TestSnapshot(t *testing.T) {
	repo := newMemSettings()
	svc := &SystemSettingsService{Repo: repo}
	ctx := context.Background()
	_ = svc.SetEnabled(ctx, FeatureModelLifecycle, false)
	_ = svc.SetExecutorMode(ctx, "PAPER")

	snap := svc.Snapshot(ctx)
	if !snap.TradingEnabled() {
		t.Fatalf("trading defaults on")
	}
	if snap.Enabled(FeatureModelLifecycle) {
		t.Fatalf("lifecycle switch should be off")
	}
	if got := snap.ModeFor("live"); got != models.ExecutionModePaper {
		t.Fatalf("executor mode paper must force paper, got %s", got)
	}

	_ = svc.SetExecutorMode(ctx, "preference")
	snap = svc.Snapshot(ctx)
	if got := snap.ModeFor("LIVE"); got != models.ExecutionModeLive {
		t.Fatalf("expected live, got %s", got)
	}
	if got := snap.ModeFor(""); got != models.ExecutionModePaper {
		t.Fatalf("unknown preference should be paper, got %s", got)
	}
}

func TestSnapshotFailsClosedOnReadError(t *testing.T) {
	repo := newMemSettings()
	repo.listErr = errors.New("db down")
	snap := (&SystemSettingsService{Repo: repo}).Snapshot(context.Background())
	if snap.TradingEnabled() {
		t.Fatalf("unreadable settings must disable trading")
	}
}

func TestCredentialVaultRoundTripAndRotation(t *testing.T) {
	oldKey := []byte("0123456789abcdef0123456789abcdef")
	newKey := []byte("fedcba9876543210fedcba9876543210")
	plain := []byte(`{"api_key":"k","api_secret":"s"}`)

	sealed, err := (&CredentialVault{Keys: [][]byte{oldKey}}).Seal(plain)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if strings.Contains(string(sealed), "api_secret") {
		t.Fatalf("sealed value leaks plaintext")
	}

	rotated := &CredentialVault{Keys: [][]byte{newKey, oldKey}}
	got, err := rotated.OpenCredentials(sealed)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	var m map[string]string
	if err := json.Unmarshal(got, &m); err != nil || m["api_secret"] != "s" {
		t.Fatalf("unexpected plaintext %s", got)
	}

	_, err = (&CredentialVault{Keys: [][]byte{newKey}}).OpenCredentials(sealed)
	if !errors.Is(err, ErrCredentialsSealed) {
		t.Fatalf("expected ErrCredentialsSealed, got %v", err)
	}
}

func TestCredentialVaultPassthrough(t *testing.T) {
	raw := datatypes.JSON(`{"api_key":"plain"}`)
	got, err := (&CredentialVault{}).OpenCredentials(raw)
	if err != nil || string(got) != string(raw) {
		t.Fatalf("plain credentials should pass through: %s %v", got, err)
	}
}

func TestCredentialVaultFromEnv(t *testing.T) {
	t.Setenv(secretsKeyEnv, "short")
	t.Setenv(secretsPrevKeyEnv, "0123456789abcde!")
	v := CredentialVaultFromEnv()
	if len(v.Keys) != 1 || len(v.Keys[0]) != 16 {
		t.Fatalf("expected one 16 byte key, got %d", len(v.Keys))
	}
}
