package model

import (
	"encoding/json"
	"math"
	"testing"
	"time"
)

func TestNormalizeAsset(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"bitcoin", "bitcoin"},
		{"Bitcoin", "bitcoin"},
		{"  ETHEREUM ", "ethereum"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := NormalizeAsset(tt.in); got != tt.want {
				t.Errorf("NormalizeAsset(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestPriceRecord_Apply(t *testing.T) {
	at := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

	t.Run("first observation", func(t *testing.T) {
		r := PriceRecord{AssetID: "bitcoin"}.Apply(100, at)

		if r.Current != 100 {
			t.Errorf("Current = %v, want 100", r.Current)
		}
		if r.HasChange {
			t.Error("expected HasChange to be false on first observation")
		}
		if r.AbsoluteChange != 0 || r.PercentChange != 0 {
			t.Errorf("change = (%v, %v), want zero", r.AbsoluteChange, r.PercentChange)
		}
	})

	t.Run("increase", func(t *testing.T) {
		r := PriceRecord{AssetID: "bitcoin", Current: 100}.Apply(110, at)

		if r.Prior != 100 {
			t.Errorf("Prior = %v, want 100", r.Prior)
		}
		if r.AbsoluteChange != 10 {
			t.Errorf("AbsoluteChange = %v, want 10", r.AbsoluteChange)
		}
		if math.Abs(r.PercentChange-10.0) > 1e-9 {
			t.Errorf("PercentChange = %v, want 10.0", r.PercentChange)
		}
		if !r.UpdatedAt.Equal(at) {
			t.Errorf("UpdatedAt = %v, want %v", r.UpdatedAt, at)
		}
	})

	t.Run("decrease", func(t *testing.T) {
		r := PriceRecord{AssetID: "solana", Current: 200}.Apply(150, at)

		if r.AbsoluteChange != -50 {
			t.Errorf("AbsoluteChange = %v, want -50", r.AbsoluteChange)
		}
		if math.Abs(r.PercentChange+25.0) > 1e-9 {
			t.Errorf("PercentChange = %v, want -25.0", r.PercentChange)
		}
	})
}

func TestConnState_String(t *testing.T) {
	tests := []struct {
		state ConnState
		want  string
	}{
		{StateDisconnected, "disconnected"},
		{StateConnecting, "connecting"},
		{StateConnected, "connected"},
		{StateReconnecting, "reconnecting"},
		{StateFailed, "failed"},
		{ConnState(42), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("ConnState(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestStatus_JSON(t *testing.T) {
	s := Status{
		State:     StateReconnecting,
		Connected: false,
		Error:     "WebSocket connection error",
		Attempts:  2,
		Assets:    []string{"bitcoin"},
	}

	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if parsed["state"] != "reconnecting" {
		t.Errorf("state = %v, want reconnecting", parsed["state"])
	}
	if parsed["connected"] != false {
		t.Errorf("connected = %v, want false", parsed["connected"])
	}
	if _, ok := parsed["last_reconnect_time"]; ok {
		t.Error("expected last_reconnect_time to be omitted when nil")
	}
}
