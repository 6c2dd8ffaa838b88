package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-ems/internal/infrastructure/database"
	_ "github.com/nerrad567/gray-logic-ems/migrations"
)

func setupRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, database.Config{Path: filepath.Join(t.TempDir(), "audit.db"), BusyTimeout: 1})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewSQLiteRepository(db.DB)
}

func TestCreate_GeneratesIDAndTime(t *testing.T) {
	repo := setupRepo(t)

	e := &Entry{DeviceID: "boiler", Key: "hc1/setpoint", Value: "21.5", Source: SourceAPI, State: "submitted", Telegram: "0B 08 B9 02 08 2B 00"}
	if err := repo.Create(context.Background(), e); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if len(e.ID) != len("wr-")+8 || e.ID[:3] != "wr-" {
		t.Errorf("ID = %q, want wr- prefix and 8 characters", e.ID)
	}
	if e.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}

	res, err := repo.List(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Total != 1 || len(res.Entries) != 1 {
		t.Fatalf("List() = %d of %d, want 1 of 1", len(res.Entries), res.Total)
	}
	got := res.Entries[0]
	if got.ID != e.ID || got.Key != "hc1/setpoint" || got.Telegram != e.Telegram || got.Error != "" {
		t.Errorf("entry = %+v", got)
	}
	if !got.CreatedAt.Equal(e.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, e.CreatedAt)
	}
}

func TestList_Filters(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	seed := []Entry{
		{DeviceID: "boiler", Key: "device/wwOn", Value: "on", Source: SourceMQTT, State: "submitted"},
		{DeviceID: "boiler", Key: "hc1/setpoint", Value: "40", Source: SourceAPI, State: "rejected", Error: "value out of range"},
		{DeviceID: "extension", Key: "device/minV", Value: "1.5", Source: SourceAPI, State: "submitted"},
	}
	for i := range seed {
		seed[i].CreatedAt = base.Add(time.Duration(i) * 500 * time.Millisecond)
		if err := repo.Create(ctx, &seed[i]); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	tests := []struct {
		name      string
		filter    Filter
		wantTotal int
		wantFirst string
	}{
		{"all, newest first", Filter{}, 3, "device/minV"},
		{"by device", Filter{DeviceID: "boiler"}, 2, "hc1/setpoint"},
		{"by state", Filter{State: "rejected"}, 1, "hc1/setpoint"},
		{"device and state", Filter{DeviceID: "boiler", State: "submitted"}, 1, "device/wwOn"},
		{"offset", Filter{Offset: 2}, 3, "device/wwOn"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := repo.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if res.Total != tt.wantTotal {
				t.Errorf("Total = %d, want %d", res.Total, tt.wantTotal)
			}
			if len(res.Entries) == 0 || res.Entries[0].Key != tt.wantFirst {
				t.Errorf("first entry = %+v, want key %s", res.Entries, tt.wantFirst)
			}
		})
	}
}

func TestList_LimitClamp(t *testing.T) {
	repo := setupRepo(t)

	tests := []struct {
		limit int
		want  int
	}{
		{0, 50},
		{-3, 50},
		{10, 10},
		{1000, 200},
	}
	for _, tt := range tests {
		res, err := repo.List(context.Background(), Filter{Limit: tt.limit})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if res.Limit != tt.want {
			t.Errorf("Limit %d clamped to %d, want %d", tt.limit, res.Limit, tt.want)
		}
		if res.Entries == nil {
			t.Error("Entries is nil, want empty slice")
		}
	}
}
