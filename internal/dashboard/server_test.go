package dashboard

import (
	"testing"

	"derivmm/internal/config"
	"derivmm/internal/guardrail"
)

func TestIsOriginAllowed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		origin  string
		cfg     config.DashboardConfig
		reqHost string
		want    bool
	}{
		{
			name:    "empty origin is allowed",
			origin:  "",
			cfg:     config.DashboardConfig{},
			reqHost: "localhost:8080",
			want:    true,
		},
		{
			name:    "localhost origin allowed by default",
			origin:  "http://localhost:8080",
			cfg:     config.DashboardConfig{},
			reqHost: "localhost:8080",
			want:    true,
		},
		{
			name:    "non-local origin denied by default",
			origin:  "https://evil.example",
			cfg:     config.DashboardConfig{},
			reqHost: "localhost:8080",
			want:    false,
		},
		{
			name:    "allowlist permits exact origin",
			origin:  "https://dash.example.com",
			cfg:     config.DashboardConfig{AllowedOrigins: []string{"https://dash.example.com"}},
			reqHost: "0.0.0.0:8080",
			want:    true,
		},
		{
			name:    "allowlist denies everything else",
			origin:  "https://evil.example",
			cfg:     config.DashboardConfig{AllowedOrigins: []string{"https://dash.example.com"}},
			reqHost: "0.0.0.0:8080",
			want:    false,
		},
		{
			name:    "same host allowed when no allowlist",
			origin:  "https://mm.internal:8080",
			cfg:     config.DashboardConfig{},
			reqHost: "mm.internal:8080",
			want:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := isOriginAllowed(tt.origin, tt.cfg, tt.reqHost)
			if got != tt.want {
				t.Errorf("isOriginAllowed(%q, %+v, %q) = %v, want %v", tt.origin, tt.cfg, tt.reqHost, got, tt.want)
			}
		})
	}
}

type fakeProvider struct {
	statuses []SymbolStatus
}

func (p *fakeProvider) SymbolStatuses() []SymbolStatus { return p.statuses }
func (p *fakeProvider) GuardrailSnapshot() guardrail.Snapshot {
	return guardrail.Snapshot{TotalExposure: 100, MaxExposure: 1000}
}

func TestBuildSnapshotAggregatesProvider(t *testing.T) {
	t.Parallel()
	provider := &fakeProvider{statuses: []SymbolStatus{{Symbol: "BTCUSDT", MidPrice: 100}}}

	snap := BuildSnapshot(provider)

	if len(snap.Symbols) != 1 || snap.Symbols[0].Symbol != "BTCUSDT" {
		t.Errorf("symbols = %+v", snap.Symbols)
	}
	if snap.Guardrail.TotalExposure != 100 {
		t.Errorf("guardrail exposure = %v, want 100", snap.Guardrail.TotalExposure)
	}
}
