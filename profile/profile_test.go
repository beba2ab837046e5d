package profile

import (
	"errors"
	"testing"
)

func TestBundledDefaultLoads(t *testing.T) {
	s := NewStore(t.TempDir())
	p, err := s.Info(DefaultProfileName)
	if err != nil {
		t.Fatalf("unexpected error loading bundled default: %v", err)
	}
	if p.Modbus == nil || len(p.Modbus.HoldingRegisters) == 0 {
		t.Errorf("water_treatment profile has no holding registers")
	}
}

func TestUnknownNameNotFound(t *testing.T) {
	s := NewStore(t.TempDir())
	_, err := s.Info("does_not_exist")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("got err %v, want ErrNotFound", err)
	}
}

func TestCacheReturnsSameParseAndReloadClears(t *testing.T) {
	s := NewStore(t.TempDir())
	p1, err := s.Info(DefaultProfileName)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p2, err := s.Info(DefaultProfileName)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p1 != p2 {
		t.Errorf("expected cached pointer to be reused")
	}
	s.Reload()
	p3, err := s.Info(DefaultProfileName)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p3 == p1 {
		t.Errorf("expected Reload to clear the cache and reparse")
	}
}

func TestPowerMeterHasPostHook(t *testing.T) {
	s := NewStore(t.TempDir())
	p, err := s.Info("power_meter")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.PostHook != "pm5300_command" {
		t.Errorf("got post_hook %q, want pm5300_command", p.PostHook)
	}
}

func TestListIncludesBundledNames(t *testing.T) {
	s := NewStore(t.TempDir())
	names := s.List()
	want := map[string]bool{
		"water_treatment": false, "manufacturing_cell": false,
		"power_meter": false, "circuit_breaker": false,
	}
	for _, n := range names {
		if _, ok := want[n]; ok {
			want[n] = true
		}
	}
	for n, found := range want {
		if !found {
			t.Errorf("expected List() to include %q", n)
		}
	}
}
