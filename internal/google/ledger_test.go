package google

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"safarbook/internal/models"

	"github.com/shopspring/decimal"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

func setupMockServer(ctx context.Context, t *testing.T) (*http.ServeMux, *LedgerService) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	srv, err := sheets.NewService(ctx, option.WithEndpoint(server.URL), option.WithoutAuthentication())
	if err != nil {
		t.Fatalf("sheets client: %v", err)
	}
	return mux, NewLedgerServiceWith(srv, "ledger_tid")
}

func testBooking(id int64) *models.Booking {
	uid := int64(42)
	return &models.Booking{
		ID:           id,
		UserID:       &uid,
		PackageID:    1,
		Status:       models.StatusConfirmed,
		TotalPrice:   decimal.RequireFromString("1800"),
		NumTravelers: 2,
		CreatedAt:    time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		UpdatedAt:    time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC),
	}
}

func TestLedgerService_TestConnection(t *testing.T) {
	ctx := context.Background()
	mux, s := setupMockServer(ctx, t)
	mux.HandleFunc("/v4/spreadsheets/ledger_tid/values/Ledger!A1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sheets.ValueRange{Values: [][]interface{}{{"ID"}}})
	})
	if err := s.TestConnection(ctx); err != nil {
		t.Errorf("TestConnection failed: %v", err)
	}
}

func TestLedgerService_WarmUpCache(t *testing.T) {
	ctx := context.Background()
	mux, s := setupMockServer(ctx, t)
	mux.HandleFunc("/v4/spreadsheets/ledger_tid/values/Ledger!A:A", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sheets.ValueRange{
			Values: [][]interface{}{{"ID"}, {"123"}, {"456"}},
		})
	})
	if err := s.WarmUpCache(ctx); err != nil {
		t.Fatalf("WarmUpCache failed: %v", err)
	}
	if row, ok := s.getCachedRow(123); !ok || row != 2 {
		t.Errorf("Expected row 2 for ID 123, got %d", row)
	}
	if row, ok := s.getCachedRow(456); !ok || row != 3 {
		t.Errorf("Expected row 3 for ID 456, got %d", row)
	}
}

func TestLedgerService_UpsertBooking_Append(t *testing.T) {
	ctx := context.Background()
	mux, s := setupMockServer(ctx, t)
	mux.HandleFunc("/v4/spreadsheets/ledger_tid/values/Ledger!A:A", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sheets.ValueRange{Values: [][]interface{}{{"ID"}}})
	})
	var appended sheets.ValueRange
	mux.HandleFunc("/v4/spreadsheets/ledger_tid/values/Ledger!A:A:append", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&appended)
		_ = json.NewEncoder(w).Encode(sheets.AppendValuesResponse{
			Updates: &sheets.UpdateValuesResponse{UpdatedRange: "Ledger!A10:J10"},
		})
	})

	if err := s.UpsertBooking(ctx, testBooking(789)); err != nil {
		t.Fatalf("UpsertBooking failed: %v", err)
	}
	if row, _ := s.getCachedRow(789); row != 10 {
		t.Errorf("Expected cached row 10, got %d", row)
	}
	if len(appended.Values) != 1 || appended.Values[0][4] != "CONFIRMED" || appended.Values[0][5] != "1800.00" {
		t.Errorf("unexpected appended row %v", appended.Values)
	}
}

func TestLedgerService_UpsertBooking_Update(t *testing.T) {
	ctx := context.Background()
	mux, s := setupMockServer(ctx, t)
	s.setCachedRow(123, 2)
	called := false
	mux.HandleFunc("/v4/spreadsheets/ledger_tid/values/Ledger!A2:J2", func(w http.ResponseWriter, r *http.Request) {
		called = true
		_ = json.NewEncoder(w).Encode(sheets.UpdateValuesResponse{})
	})
	if err := s.UpsertBooking(ctx, testBooking(123)); err != nil {
		t.Errorf("UpsertBooking failed: %v", err)
	}
	if !called {
		t.Error("expected row update")
	}
	if err := s.UpsertBooking(ctx, nil); err == nil {
		t.Error("expected error for nil booking")
	}
}

func TestLedgerService_FindBookingRow_FullScan(t *testing.T) {
	ctx := context.Background()
	mux, s := setupMockServer(ctx, t)
	mux.HandleFunc("/v4/spreadsheets/ledger_tid/values/Ledger!A:A", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sheets.ValueRange{
			Values: [][]interface{}{{"ID"}, {"999"}},
		})
	})
	row, err := s.FindBookingRow(ctx, 999)
	if err != nil {
		t.Fatalf("FindBookingRow failed: %v", err)
	}
	if row != 2 {
		t.Errorf("Expected row 2, got %d", row)
	}
	if _, err := s.FindBookingRow(ctx, 1000); err != errRowNotFound {
		t.Errorf("Expected errRowNotFound, got %v", err)
	}
	if _, err := s.FindBookingRow(ctx, 0); err == nil {
		t.Error("Expected error for zero id")
	}
}

func TestServiceAccountEmail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.json")
	if err := os.WriteFile(path, []byte(`{"client_email":"ledger@example.iam.gserviceaccount.com"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	email, err := ServiceAccountEmail(path)
	if err != nil {
		t.Fatalf("ServiceAccountEmail failed: %v", err)
	}
	if email != "ledger@example.iam.gserviceaccount.com" {
		t.Errorf("unexpected email %s", email)
	}
}

func TestFirstRow(t *testing.T) {
	cases := map[string]int{
		"Ledger!A10:J10": 10,
		"Ledger!A2":      2,
		"garbage":        0,
	}
	for in, want := range cases {
		if got := firstRow(in); got != want {
			t.Errorf("firstRow(%q) = %d, want %d", in, got, want)
		}
	}
}
