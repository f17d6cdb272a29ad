package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// GetMaxProcesses returns the worker pool bound or the default.
func (a *AppConfig) GetMaxProcesses() int {
	if a.MaxProcesses == nil {
		return 4
	}
	return *a.MaxProcesses
}

// GetQueueHost returns the aggregator queue host or the default.
func (a *AppConfig) GetQueueHost() string {
	if a.QueueHost == nil {
		return "localhost"
	}
	return *a.QueueHost
}

// GetQueuePort returns the aggregator queue port or the default.
func (a *AppConfig) GetQueuePort() int {
	if a.QueuePort == nil {
		return 8765
	}
	return *a.QueuePort
}

// GetQueueAuthKey returns the shared queue secret. There is no usable
// default; deployments must set it in the file or via QUEUE_AUTH_KEY.
func (a *AppConfig) GetQueueAuthKey() string {
	if a.QueueAuthKey == nil {
		return ""
	}
	return *a.QueueAuthKey
}

// GetListenAddr returns the aggregator HTTP listen address or the default.
func (a *AppConfig) GetListenAddr() string {
	if a.ListenAddr == nil {
		return ":8080"
	}
	return *a.ListenAddr
}

// GetDBPath returns the sqlite database path or the default.
func (a *AppConfig) GetDBPath() string {
	if a.DBPath == nil {
		return "proximity_data.db"
	}
	return *a.DBPath
}

// GetDedupThreshold returns the duplicate-suppression IoU threshold or the
// default. 0.98 is a near-duplicate filter, not a sparsifying NMS.
func (a *AppConfig) GetDedupThreshold() float64 {
	if a.DedupThreshold == nil {
		return 0.98
	}
	return *a.DedupThreshold
}

// GetMaxTrackFrame returns the track memory in frames or the default.
func (a *AppConfig) GetMaxTrackFrame() int {
	if a.MaxTrackFrame == nil {
		return 5
	}
	return *a.MaxTrackFrame
}

// GetMatchRadiusPx returns the track association radius in pixels or the default.
func (a *AppConfig) GetMatchRadiusPx() float64 {
	if a.MatchRadiusPx == nil {
		return 100
	}
	return *a.MatchRadiusPx
}

// GetDefaultDistMethod returns the fallback distance method.
func (a *AppConfig) GetDefaultDistMethod() string {
	if a.DefaultDistMethod == nil {
		return MethodCenterPoints
	}
	return *a.DefaultDistMethod
}

// GetTickInterval returns the aggregator evaluation tick period.
func (a *AppConfig) GetTickInterval() time.Duration {
	return durationOr(a.TickInterval, 5*time.Second)
}

// GetSilenceTimeout returns how long a silent source keeps contributing
// occupancy before eviction.
func (a *AppConfig) GetSilenceTimeout() time.Duration {
	return durationOr(a.SilenceTimeout, 30*time.Second)
}

// GetOccupancySampleAge returns the sliding window size for occupancy samples.
func (a *AppConfig) GetOccupancySampleAge() time.Duration {
	return durationOr(a.OccupancySampleAge, 10*time.Minute)
}

func durationOr(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return def
	}
	return d
}

// GetDetector returns the detector backend name for the source.
func (s *SourceConfig) GetDetector() string {
	if s.Detector == nil {
		return "remote"
	}
	return *s.Detector
}

// GetMinScore returns the minimum detection confidence for the source.
func (s *SourceConfig) GetMinScore() float64 {
	if s.MinScore == nil {
		return 0.25
	}
	return *s.MinScore
}

// GetDistMethod returns the configured distance method, or empty when unset
// (the evaluator then falls back to the app default).
func (s *SourceConfig) GetDistMethod() string {
	if s.DistMethod == nil {
		return ""
	}
	return *s.DistMethod
}

// GetCmPerPixel returns the pixel-to-centimetre scale for the source.
func (s *SourceConfig) GetCmPerPixel() float64 {
	if s.CmPerPixel == nil {
		return 1.0
	}
	return *s.CmPerPixel
}

// GetDistThresholdCm returns the violation distance threshold in centimetres.
func (s *SourceConfig) GetDistThresholdCm() float64 {
	if s.DistThresholdCm == nil {
		return 150
	}
	return *s.DistThresholdCm
}

// GetViolationSecs returns the minimum sustained duration before a close
// pair counts as a violation.
func (s *SourceConfig) GetViolationSecs() float64 {
	if s.ViolationSecs == nil {
		return 10
	}
	return *s.ViolationSecs
}

// GetNotifyEveryMinutes returns the per-source alert cadence.
func (s *SourceConfig) GetNotifyEveryMinutes() int {
	if s.NotifyEveryMinutes == nil {
		return 15
	}
	return *s.NotifyEveryMinutes
}

// GetDailyReport reports whether the source emits a daily summary.
func (s *SourceConfig) GetDailyReport() bool {
	if s.DailyReport == nil {
		return false
	}
	return *s.DailyReport
}

// GetDailyReportTime returns the "HH:MM" time of day for the daily summary.
func (s *SourceConfig) GetDailyReportTime() string {
	if s.DailyReportTime == nil {
		return "06:00"
	}
	return *s.DailyReportTime
}

// GetOccupancyThreshold returns the area occupancy alert threshold.
// Zero disables occupancy alerting.
func (a *AreaConfig) GetOccupancyThreshold() int {
	if a.OccupancyThreshold == nil {
		return 0
	}
	return *a.OccupancyThreshold
}

// GetViolationSecs returns the accumulated violation-seconds threshold for
// the area's rolling window.
func (a *AreaConfig) GetViolationSecs() float64 {
	if a.ViolationSecs == nil {
		return 60
	}
	return *a.ViolationSecs
}

// GetOccupancyAlertMinSecs returns how long occupancy must stay above
// threshold before an alert fires. Negative disables occupancy alerts.
func (a *AreaConfig) GetOccupancyAlertMinSecs() int {
	if a.OccupancyAlertMinSecs == nil {
		return 180
	}
	return *a.OccupancyAlertMinSecs
}

// GetNotifyEveryMinutes returns the per-area alert cadence.
func (a *AreaConfig) GetNotifyEveryMinutes() int {
	if a.NotifyEveryMinutes == nil {
		return 15
	}
	return *a.NotifyEveryMinutes
}

// GetDailyReport reports whether the area emits a daily summary.
func (a *AreaConfig) GetDailyReport() bool {
	if a.DailyReport == nil {
		return false
	}
	return *a.DailyReport
}

// GetDailyReportTime returns the "HH:MM" time of day for the daily summary.
func (a *AreaConfig) GetDailyReportTime() string {
	if a.DailyReportTime == nil {
		return "06:00"
	}
	return *a.DailyReportTime
}

// ApplyEnv overlays environment variables onto the loaded config. A .env
// file in the working directory is honoured when present; real environment
// variables win over it.
func (c *Config) ApplyEnv() {
	_ = godotenv.Load()

	if v := os.Getenv("QUEUE_HOST"); v != "" {
		c.App.QueueHost = &v
	}
	if v := os.Getenv("QUEUE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.App.QueuePort = &port
		}
	}
	if v := os.Getenv("QUEUE_AUTH_KEY"); v != "" {
		c.App.QueueAuthKey = &v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.App.ListenAddr = &v
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		c.App.DBPath = &v
	}
}
