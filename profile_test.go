package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"Drover/pkg/cache"
)

// newProfileTestApp returns an App whose profile directory lives under a
// temp dir.
func newProfileTestApp(t *testing.T) *App {
	t.Helper()
	svc, err := cache.New(cache.Config{ConfigDir: t.TempDir()})
	if err != nil {
		t.Fatalf("failed to create cache service: %v", err)
	}
	return &App{cacheService: svc}
}

func TestValidateProfileManifest(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr string
	}{
		{
			name: "valid manifest",
			data: `{"name":"hmdm","package":"com.hmdm.launcher","ownerComponent":"com.hmdm.launcher/.AdminReceiver"}`,
		},
		{
			name:    "not json",
			data:    `{"name": "broken"`,
			wantErr: "not valid JSON",
		},
		{
			name:    "missing name",
			data:    `{"package":"com.hmdm.launcher","ownerComponent":"com.hmdm.launcher/.AdminReceiver"}`,
			wantErr: "missing required field: name",
		},
		{
			name:    "missing package",
			data:    `{"name":"hmdm","ownerComponent":"com.hmdm.launcher/.AdminReceiver"}`,
			wantErr: "missing required field: package",
		},
		{
			name:    "empty owner component",
			data:    `{"name":"hmdm","package":"com.hmdm.launcher","ownerComponent":""}`,
			wantErr: "missing required field: ownerComponent",
		},
		{
			name:    "owner component without receiver",
			data:    `{"name":"hmdm","package":"com.hmdm.launcher","ownerComponent":"com.hmdm.launcher"}`,
			wantErr: "must be package/receiver",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateProfileManifest([]byte(tt.data))
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestDefaultProfileConstants(t *testing.T) {
	p := DefaultProfile()
	if p.Package != "com.hmdm.launcher" {
		t.Errorf("package = %q", p.Package)
	}
	if p.OwnerComponent != "com.hmdm.launcher/.AdminReceiver" {
		t.Errorf("ownerComponent = %q", p.OwnerComponent)
	}
	if p.Name != "default" {
		t.Errorf("name = %q", p.Name)
	}
}

func TestProfileSaveLoadDelete(t *testing.T) {
	app := newProfileTestApp(t)

	profile := Profile{
		Name:           "floor-3",
		Package:        "com.hmdm.launcher",
		OwnerComponent: "com.hmdm.launcher/.AdminReceiver",
		APKDir:         "/opt/apks",
	}
	if err := app.SaveProfile(profile); err != nil {
		t.Fatalf("SaveProfile failed: %v", err)
	}

	profiles, err := app.LoadProfiles()
	if err != nil {
		t.Fatalf("LoadProfiles failed: %v", err)
	}
	// Built-in default plus the saved one.
	if len(profiles) != 2 {
		t.Fatalf("expected 2 profiles, got %d", len(profiles))
	}
	if profiles[0].Name != "default" {
		t.Errorf("first profile should be the built-in default, got %q", profiles[0].Name)
	}

	got, err := app.GetProfile("floor-3")
	if err != nil {
		t.Fatalf("GetProfile failed: %v", err)
	}
	if got.APKDir != "/opt/apks" {
		t.Errorf("APKDir = %q", got.APKDir)
	}

	if err := app.DeleteProfile("floor-3"); err != nil {
		t.Fatalf("DeleteProfile failed: %v", err)
	}
	if _, err := app.GetProfile("floor-3"); err == nil {
		t.Error("expected error for deleted profile")
	}
}

func TestSetDefaultProfileName(t *testing.T) {
	app := newProfileTestApp(t)

	profile := Profile{
		Name:           "kiosk",
		Package:        "com.hmdm.launcher",
		OwnerComponent: "com.hmdm.launcher/.AdminReceiver",
	}
	if err := app.SaveProfile(profile); err != nil {
		t.Fatalf("SaveProfile failed: %v", err)
	}

	if err := app.SetDefaultProfileName("kiosk"); err != nil {
		t.Fatalf("SetDefaultProfileName failed: %v", err)
	}

	// An empty name now resolves to the chosen profile.
	got, err := app.GetProfile("")
	if err != nil {
		t.Fatalf("GetProfile failed: %v", err)
	}
	if got.Name != "kiosk" {
		t.Errorf("default resolved to %q, want kiosk", got.Name)
	}

	if err := app.SetDefaultProfileName("missing"); err == nil {
		t.Error("expected error for unknown profile")
	}
}

func TestSaveProfileRejectsInvalid(t *testing.T) {
	app := newProfileTestApp(t)

	if err := app.SaveProfile(Profile{Package: "com.x", OwnerComponent: "com.x/.R"}); err == nil {
		t.Error("expected error for missing name")
	}
	if err := app.SaveProfile(Profile{Name: "x", OwnerComponent: "com.x/.R"}); err == nil {
		t.Error("expected error for missing package")
	}
	if err := app.SaveProfile(Profile{Name: "x", Package: "com.x", OwnerComponent: "no-slash"}); err == nil {
		t.Error("expected error for bad component")
	}
}

func TestLoadProfilesSkipsInvalidManifest(t *testing.T) {
	app := newProfileTestApp(t)

	dir := app.profilesPath()
	if err := os.WriteFile(filepath.Join(dir, "broken.json"), []byte(`{"name":"broken"}`), 0644); err != nil {
		t.Fatal(err)
	}

	profiles, err := app.LoadProfiles()
	if err != nil {
		t.Fatalf("LoadProfiles failed: %v", err)
	}
	for _, p := range profiles {
		if p.Name == "broken" {
			t.Error("invalid manifest should have been skipped")
		}
	}
}

func TestSavedDefaultShadowsBuiltin(t *testing.T) {
	app := newProfileTestApp(t)

	custom := Profile{
		Name:           "default",
		Package:        "com.custom.launcher",
		OwnerComponent: "com.custom.launcher/.Admin",
	}
	if err := app.SaveProfile(custom); err != nil {
		t.Fatalf("SaveProfile failed: %v", err)
	}

	got, err := app.GetProfile("")
	if err != nil {
		t.Fatalf("GetProfile failed: %v", err)
	}
	if got.Package != "com.custom.launcher" {
		t.Errorf("expected saved default to shadow built-in, got package %q", got.Package)
	}
}
