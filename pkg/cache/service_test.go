package cache

import (
	"testing"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	s, err := New(Config{ConfigDir: t.TempDir()})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return s
}

func TestBadgingCacheRoundtrip(t *testing.T) {
	s := newTestService(t)

	key := "/opt/apks/launcher.apk|123456|1700000000"
	if _, ok := s.GetBadging(key); ok {
		t.Fatal("unexpected cache hit on empty cache")
	}

	entry := Badging{
		Package:     "com.hmdm.launcher",
		VersionName: "5.30.1",
		VersionCode: "5301",
		SizeBytes:   123456,
		ModTime:     1700000000,
	}
	s.SetBadging(key, entry)

	got, ok := s.GetBadging(key)
	if !ok {
		t.Fatal("expected cache hit after SetBadging")
	}
	if got.Package != entry.Package || got.VersionName != entry.VersionName {
		t.Errorf("cached entry mismatch: %+v", got)
	}

	if err := s.SaveCache(); err != nil {
		t.Fatalf("SaveCache failed: %v", err)
	}

	// A fresh service over the same directory must see the saved entry.
	reloaded, err := New(Config{ConfigDir: s.ConfigDir()})
	if err != nil {
		t.Fatalf("failed to reload service: %v", err)
	}
	got, ok = reloaded.GetBadging(key)
	if !ok || got.VersionCode != "5301" {
		t.Errorf("reloaded entry mismatch: ok=%v entry=%+v", ok, got)
	}
}

func TestClearBadgingCache(t *testing.T) {
	s := newTestService(t)
	s.SetBadging("k", Badging{Package: "com.example"})
	s.ClearBadgingCache()
	if _, ok := s.GetBadging("k"); ok {
		t.Error("expected empty cache after clear")
	}
}

func TestSettingsRoundtrip(t *testing.T) {
	s := newTestService(t)

	s.SetDefaultProfile("hmdm")
	s.SetLastProvisioned("R58M123ABC", 1700000123)

	if err := s.SaveSettings(); err != nil {
		t.Fatalf("SaveSettings failed: %v", err)
	}

	reloaded, err := New(Config{ConfigDir: s.ConfigDir()})
	if err != nil {
		t.Fatalf("failed to reload service: %v", err)
	}
	if got := reloaded.GetDefaultProfile(); got != "hmdm" {
		t.Errorf("default profile = %q, want %q", got, "hmdm")
	}
	if got := reloaded.GetLastProvisioned("R58M123ABC"); got != 1700000123 {
		t.Errorf("last provisioned = %d, want %d", got, 1700000123)
	}
	if got := reloaded.GetLastProvisioned("unknown"); got != 0 {
		t.Errorf("unknown serial should be 0, got %d", got)
	}
}

func TestGetAllLastProvisionedCopies(t *testing.T) {
	s := newTestService(t)
	s.SetLastProvisioned("a", 1)

	all := s.GetAllLastProvisioned()
	all["a"] = 999

	if got := s.GetLastProvisioned("a"); got != 1 {
		t.Errorf("internal map mutated through copy: %d", got)
	}
}
