package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "deploy.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const validConfig = `{
	"app": {
		"max_processes": 2,
		"queue_host": "agg.local",
		"queue_port": 9001,
		"queue_auth_key": "s3cret",
		"dedup_threshold": 0.98,
		"max_track_frame": 5,
		"tick_interval": "2s"
	},
	"sources": [
		{
			"id": "cam-entrance",
			"name": "Entrance",
			"dist_method": "CenterPointsDistance",
			"cm_per_pixel": 2.5,
			"dist_threshold_cm": 150,
			"violation_secs": 60
		},
		{"id": "cam-hall"}
	],
	"areas": [
		{
			"id": "lobby",
			"cameras": ["cam-entrance", "cam-hall"],
			"occupancy_threshold": 300,
			"occupancy_alert_min_secs": 180,
			"notify_every_minutes": 30,
			"daily_report": true,
			"daily_report_time": "06:30"
		}
	]
}`

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got := cfg.App.GetMaxProcesses(); got != 2 {
		t.Errorf("GetMaxProcesses = %d, want 2", got)
	}
	if got := cfg.App.GetQueueHost(); got != "agg.local" {
		t.Errorf("GetQueueHost = %q", got)
	}
	if got := cfg.App.GetTickInterval(); got != 2*time.Second {
		t.Errorf("GetTickInterval = %v, want 2s", got)
	}

	src := cfg.Source("cam-entrance")
	if src == nil {
		t.Fatal("Source(cam-entrance) = nil")
	}
	if got := src.GetCmPerPixel(); got != 2.5 {
		t.Errorf("GetCmPerPixel = %v, want 2.5", got)
	}

	area := cfg.Area("cam-hall")
	if area == nil || area.ID != "lobby" {
		t.Fatalf("Area(cam-hall) = %+v, want lobby", area)
	}
	if got := area.GetOccupancyThreshold(); got != 300 {
		t.Errorf("GetOccupancyThreshold = %d, want 300", got)
	}
	if got := area.GetDailyReportTime(); got != "06:30" {
		t.Errorf("GetDailyReportTime = %q", got)
	}
}

func TestDefaultsForOmittedFields(t *testing.T) {
	cfg, err := Load(writeConfig(t, `{"sources":[{"id":"c1"}],"areas":[{"id":"a1","cameras":["c1"]}]}`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	src := cfg.Source("c1")
	if got := src.GetDistMethod(); got != "" {
		t.Errorf("GetDistMethod = %q, want empty (fallback to default)", got)
	}
	if got := src.GetMinScore(); got != 0.25 {
		t.Errorf("GetMinScore = %v, want 0.25", got)
	}
	if got := cfg.App.GetDedupThreshold(); got != 0.98 {
		t.Errorf("GetDedupThreshold = %v, want 0.98", got)
	}
	if got := cfg.App.GetDefaultDistMethod(); got != MethodCenterPoints {
		t.Errorf("GetDefaultDistMethod = %q", got)
	}
	if got := cfg.Areas[0].GetOccupancyAlertMinSecs(); got != 180 {
		t.Errorf("GetOccupancyAlertMinSecs = %d, want 180", got)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"duplicate source", `{"sources":[{"id":"c1"},{"id":"c1"}],"areas":[{"id":"a","cameras":["c1"]}]}`},
		{"unknown camera", `{"sources":[{"id":"c1"}],"areas":[{"id":"a","cameras":["ghost"]}]}`},
		{"camera in two areas", `{"sources":[{"id":"c1"}],"areas":[{"id":"a","cameras":["c1"]},{"id":"b","cameras":["c1"]}]}`},
		{"bad dist method", `{"sources":[{"id":"c1","dist_method":"Teleport"}],"areas":[{"id":"a","cameras":["c1"]}]}`},
		{"bad report time", `{"sources":[{"id":"c1"}],"areas":[{"id":"a","cameras":["c1"],"daily_report_time":"25:99"}]}`},
		{"empty area", `{"sources":[{"id":"c1"}],"areas":[{"id":"a","cameras":[]}]}`},
		{"bad dedup threshold", `{"app":{"dedup_threshold":1.5},"sources":[{"id":"c1"}],"areas":[{"id":"a","cameras":["c1"]}]}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tc.content)); err == nil {
				t.Error("Load accepted invalid config")
			}
		})
	}
}

func TestLoadRejectsNonJSONExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deploy.yaml")
	if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load accepted non-.json file")
	}
}

func TestParseTimeOfDay(t *testing.T) {
	h, m, err := ParseTimeOfDay("18:45")
	if err != nil {
		t.Fatalf("ParseTimeOfDay: %v", err)
	}
	if h != 18 || m != 45 {
		t.Errorf("got %d:%d, want 18:45", h, m)
	}

	if _, _, err := ParseTimeOfDay("6am"); err == nil {
		t.Error("ParseTimeOfDay accepted 6am")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("QUEUE_HOST", "env-host")
	t.Setenv("QUEUE_PORT", "9999")
	t.Setenv("QUEUE_AUTH_KEY", "env-secret")

	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.ApplyEnv()

	if got := cfg.App.GetQueueHost(); got != "env-host" {
		t.Errorf("GetQueueHost = %q, want env-host", got)
	}
	if got := cfg.App.GetQueuePort(); got != 9999 {
		t.Errorf("GetQueuePort = %d, want 9999", got)
	}
	if got := cfg.App.GetQueueAuthKey(); got != "env-secret" {
		t.Errorf("GetQueueAuthKey = %q", got)
	}
}
