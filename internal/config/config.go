// Package config loads the deployment configuration: the monitored camera
// sources, the areas grouping them, and the app-wide processing settings.
// Fields are pointers so partial config files are safe; the Get* methods
// supply defaults for anything omitted.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Distance method names accepted in source configs.
const (
	MethodCenterPoints     = "CenterPointsDistance"
	MethodFourCornerPoints = "FourCornerPointsDistance"
	MethodCalibrated       = "CalibratedDistance"
)

// Config is the root deployment configuration.
type Config struct {
	App     AppConfig      `json:"app"`
	Sources []SourceConfig `json:"sources"`
	Areas   []AreaConfig   `json:"areas"`
}

// AppConfig holds processing settings shared by all sources plus the
// aggregator queue address.
type AppConfig struct {
	MaxProcesses       *int     `json:"max_processes,omitempty"`
	QueueHost          *string  `json:"queue_host,omitempty"`
	QueuePort          *int     `json:"queue_port,omitempty"`
	QueueAuthKey       *string  `json:"queue_auth_key,omitempty"`
	ListenAddr         *string  `json:"listen_addr,omitempty"`
	DBPath             *string  `json:"db_path,omitempty"`
	DedupThreshold     *float64 `json:"dedup_threshold,omitempty"`
	MaxTrackFrame      *int     `json:"max_track_frame,omitempty"`
	MatchRadiusPx      *float64 `json:"match_radius_px,omitempty"`
	DefaultDistMethod  *string  `json:"default_dist_method,omitempty"`
	TickInterval       *string  `json:"tick_interval,omitempty"`        // duration string like "5s"
	SilenceTimeout     *string  `json:"silence_timeout,omitempty"`      // duration string like "30s"
	OccupancySampleAge *string  `json:"occupancy_sample_age,omitempty"` // window size, duration string
}

// SourceConfig describes one camera source.
type SourceConfig struct {
	ID                 string      `json:"id"`
	Name               string      `json:"name,omitempty"`
	VideoPath          string      `json:"video_path,omitempty"`
	Detector           *string     `json:"detector,omitempty"`
	MinScore           *float64    `json:"min_score,omitempty"`
	DistMethod         *string     `json:"dist_method,omitempty"`
	CalibrationMatrix  *[9]float64 `json:"calibration_matrix,omitempty"` // row-major 3x3
	CmPerPixel         *float64    `json:"cm_per_pixel,omitempty"`
	DistThresholdCm    *float64    `json:"dist_threshold_cm,omitempty"`
	ViolationSecs      *float64    `json:"violation_secs,omitempty"` // minimum sustained duration
	NotifyEveryMinutes *int        `json:"notify_every_minutes,omitempty"`
	Emails             []string    `json:"emails,omitempty"`
	DailyReport        *bool       `json:"daily_report,omitempty"`
	DailyReportTime    *string     `json:"daily_report_time,omitempty"` // "HH:MM"
}

// AreaConfig groups sources under one occupancy/violation policy.
type AreaConfig struct {
	ID                    string   `json:"id"`
	Name                  string   `json:"name,omitempty"`
	Cameras               []string `json:"cameras"`
	OccupancyThreshold    *int     `json:"occupancy_threshold,omitempty"`
	ViolationSecs         *float64 `json:"violation_secs,omitempty"` // accumulated violation-seconds in window
	OccupancyAlertMinSecs *int     `json:"occupancy_alert_min_secs,omitempty"`
	NotifyEveryMinutes    *int     `json:"notify_every_minutes,omitempty"`
	Emails                []string `json:"emails,omitempty"`
	DailyReport           *bool    `json:"daily_report,omitempty"`
	DailyReportTime       *string  `json:"daily_report_time,omitempty"`
}

// Load reads and validates a deployment config from a JSON file.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks cross-references and value ranges. Each camera must belong
// to exactly one area; IDs must be unique; distance methods must be known.
func (c *Config) Validate() error {
	sourceIDs := make(map[string]bool, len(c.Sources))
	for _, s := range c.Sources {
		if s.ID == "" {
			return fmt.Errorf("source with empty id")
		}
		if sourceIDs[s.ID] {
			return fmt.Errorf("duplicate source id %q", s.ID)
		}
		sourceIDs[s.ID] = true

		if s.DistMethod != nil {
			if err := validDistMethod(*s.DistMethod); err != nil {
				return fmt.Errorf("source %q: %w", s.ID, err)
			}
		}
		if s.MinScore != nil && (*s.MinScore < 0 || *s.MinScore > 1) {
			return fmt.Errorf("source %q: min_score must be in [0,1], got %f", s.ID, *s.MinScore)
		}
		if s.DailyReportTime != nil {
			if _, _, err := ParseTimeOfDay(*s.DailyReportTime); err != nil {
				return fmt.Errorf("source %q: %w", s.ID, err)
			}
		}
	}

	areaIDs := make(map[string]bool, len(c.Areas))
	owner := make(map[string]string) // source -> owning area
	for _, a := range c.Areas {
		if a.ID == "" {
			return fmt.Errorf("area with empty id")
		}
		if areaIDs[a.ID] {
			return fmt.Errorf("duplicate area id %q", a.ID)
		}
		areaIDs[a.ID] = true

		if len(a.Cameras) == 0 {
			return fmt.Errorf("area %q has no cameras", a.ID)
		}
		for _, cam := range a.Cameras {
			if !sourceIDs[cam] {
				return fmt.Errorf("area %q references unknown camera %q", a.ID, cam)
			}
			if prev, ok := owner[cam]; ok {
				return fmt.Errorf("camera %q belongs to both area %q and area %q", cam, prev, a.ID)
			}
			owner[cam] = a.ID
		}
		if a.DailyReportTime != nil {
			if _, _, err := ParseTimeOfDay(*a.DailyReportTime); err != nil {
				return fmt.Errorf("area %q: %w", a.ID, err)
			}
		}
	}

	if c.App.DedupThreshold != nil && (*c.App.DedupThreshold <= 0 || *c.App.DedupThreshold > 1) {
		return fmt.Errorf("dedup_threshold must be in (0,1], got %f", *c.App.DedupThreshold)
	}
	if c.App.MaxTrackFrame != nil && *c.App.MaxTrackFrame < 0 {
		return fmt.Errorf("max_track_frame must be non-negative, got %d", *c.App.MaxTrackFrame)
	}
	if c.App.DefaultDistMethod != nil {
		if err := validDistMethod(*c.App.DefaultDistMethod); err != nil {
			return err
		}
	}
	for _, field := range []struct {
		name string
		val  *string
	}{
		{"tick_interval", c.App.TickInterval},
		{"silence_timeout", c.App.SilenceTimeout},
		{"occupancy_sample_age", c.App.OccupancySampleAge},
	} {
		if field.val != nil && *field.val != "" {
			if _, err := time.ParseDuration(*field.val); err != nil {
				return fmt.Errorf("invalid %s %q: %w", field.name, *field.val, err)
			}
		}
	}

	return nil
}

func validDistMethod(m string) error {
	switch m {
	case MethodCenterPoints, MethodFourCornerPoints, MethodCalibrated:
		return nil
	}
	return fmt.Errorf("unknown dist_method %q", m)
}

// ParseTimeOfDay parses an "HH:MM" daily report time.
func ParseTimeOfDay(s string) (hour, minute int, err error) {
	if _, err := time.Parse("15:04", s); err != nil {
		return 0, 0, fmt.Errorf("invalid time of day %q (want HH:MM): %w", s, err)
	}
	t, _ := time.Parse("15:04", s)
	return t.Hour(), t.Minute(), nil
}

// Area returns the area owning the given source, or nil when the source is
// not a member of any area.
func (c *Config) Area(sourceID string) *AreaConfig {
	for i := range c.Areas {
		for _, cam := range c.Areas[i].Cameras {
			if cam == sourceID {
				return &c.Areas[i]
			}
		}
	}
	return nil
}

// Source returns the source config for the given id, or nil.
func (c *Config) Source(id string) *SourceConfig {
	for i := range c.Sources {
		if c.Sources[i].ID == id {
			return &c.Sources[i]
		}
	}
	return nil
}
