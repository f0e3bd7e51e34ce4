package regengine

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"uptrend-engine/internal/session"
)

// Config holds all env-parsed configuration for the regime engine service.
type Config struct {
	// Schedule is a six-field cron spec (seconds first).
	Schedule string
	Workers  int

	// Bars fed to the snapshot builder per position.
	SnapshotBars int
	// Bars loaded before the regime start so EDX windows see settled EMAs.
	WarmupBars int
	// Upper bound on bars loaded for a regime history.
	MaxHistoryBars int

	ReadRetries    uint64
	ReadMaxElapsed time.Duration

	// Redis circuit breaker
	BreakerFailures uint32
	BreakerOpen     time.Duration

	JournalKeep    int
	ThresholdsPath string
	ReplayPerChan  int

	// Session gate
	SessionGate     bool
	SessionTZ       string
	SessionOpen     string
	SessionClose    string
	SessionGrace    time.Duration
	SessionHolidays []string
}

// LoadConfig reads all environment variables and returns a Config.
func LoadConfig() Config {
	return Config{
		Schedule:       getEnv("SWEEP_SCHEDULE", "5 */15 * * * *"),
		Workers:        getEnvInt("SWEEP_WORKERS", 8),
		SnapshotBars:   getEnvInt("SNAPSHOT_BARS", 700),
		WarmupBars:     getEnvInt("HISTORY_WARMUP_BARS", 350),
		MaxHistoryBars: getEnvInt("HISTORY_MAX_BARS", 3000),

		ReadRetries:    uint64(getEnvInt("READ_RETRIES", 3)),
		ReadMaxElapsed: time.Duration(getEnvInt("READ_MAX_ELAPSED_MS", 2000)) * time.Millisecond,

		BreakerFailures: uint32(getEnvInt("REDIS_BREAKER_FAILURES", 5)),
		BreakerOpen:     time.Duration(getEnvInt("REDIS_BREAKER_OPEN_SEC", 10)) * time.Second,

		JournalKeep:    getEnvInt("JOURNAL_KEEP", 500),
		ThresholdsPath: getEnv("THRESHOLDS_PATH", ""),
		ReplayPerChan:  getEnvInt("WS_REPLAY_PER_CHANNEL", 100),

		SessionGate:     getEnvBool("SESSION_GATE", false),
		SessionTZ:       getEnv("SESSION_TZ", "IST"),
		SessionOpen:     getEnv("SESSION_OPEN", "09:15"),
		SessionClose:    getEnv("SESSION_CLOSE", "15:30"),
		SessionGrace:    time.Duration(getEnvInt("SESSION_GRACE_SEC", 300)) * time.Second,
		SessionHolidays: splitList(getEnv("SESSION_HOLIDAYS", "")),
	}
}

// Calendar builds the session calendar. It returns nil when the gate is off.
func (c Config) Calendar() (*session.Calendar, error) {
	if !c.SessionGate {
		return nil, nil
	}
	cal := session.NSE()
	if c.SessionTZ != "" && c.SessionTZ != "IST" {
		loc, err := time.LoadLocation(c.SessionTZ)
		if err != nil {
			return nil, err
		}
		cal.Location = loc
	}
	var err error
	if cal.Open, err = session.ParseClock(c.SessionOpen); err != nil {
		return nil, err
	}
	if cal.Close, err = session.ParseClock(c.SessionClose); err != nil {
		return nil, err
	}
	cal.Grace = c.SessionGrace
	if err := cal.AddHolidays(c.SessionHolidays); err != nil {
		return nil, err
	}
	return cal, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		log.Warn().Str("key", key).Str("value", v).Msg("[regengine] invalid integer, using default")
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
