package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// DunningLevelConfig configures one reminder level: how many days overdue an
// invoice must be before the level applies, and the flat fee charged for it.
type DunningLevelConfig struct {
	Level        string `mapstructure:"level"`
	DaysOverdue  int    `mapstructure:"daysOverdue"`
	FeeCents     int64  `mapstructure:"feeCents"`
	SendDocument bool   `mapstructure:"sendDocument"`
}

// DunningConfig is the reminder schedule, fee table and interest settings.
// It is an external read-only input to the escalation engine.
type DunningConfig struct {
	Levels []DunningLevelConfig `mapstructure:"levels"`

	InterestEnabled bool `mapstructure:"interestEnabled"`
	// Annual interest rate in basis points (900 = 9.00% p.a.).
	InterestRateBps int64 `mapstructure:"interestRateBps"`
	// Level name from which interest accrues.
	InterestFromLevel string `mapstructure:"interestFromLevel"`

	AutoSendEnabled bool `mapstructure:"autoSendEnabled"`
}

func DefaultDunningConfig() DunningConfig {
	return DunningConfig{
		Levels: []DunningLevelConfig{
			{Level: "FRIENDLY", DaysOverdue: 7, FeeCents: 0, SendDocument: true},
			{Level: "FIRST", DaysOverdue: 14, FeeCents: 500, SendDocument: true},
			{Level: "SECOND", DaysOverdue: 21, FeeCents: 1000, SendDocument: true},
			{Level: "FINAL", DaysOverdue: 35, FeeCents: 1500, SendDocument: true},
			{Level: "LEGAL", DaysOverdue: 49, FeeCents: 2500, SendDocument: false},
		},
		InterestEnabled:   true,
		InterestRateBps:   900,
		InterestFromLevel: "FIRST",
		AutoSendEnabled:   true,
	}
}

// DunningConfigHolder serves the current schedule and hot-reloads it when the
// config file changes. Readers always see a complete, validated snapshot.
type DunningConfigHolder struct {
	current atomic.Value // holds DunningConfig
}

func NewDunningConfigHolder() (*DunningConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("dunning")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/fakturo/config")
	v.AddConfigPath("/etc/fakturo")
	v.AddConfigPath(".")

	v.SetEnvPrefix("FAKTURO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := DefaultDunningConfig()
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	} else {
		if err := v.UnmarshalKey("dunning", &cfg); err != nil {
			return nil, err
		}
	}
	if err := validateDunningConfig(cfg); err != nil {
		return nil, err
	}

	holder := &DunningConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated DunningConfig
		if err := v.UnmarshalKey("dunning", &updated); err != nil {
			log.Printf("[dunning-config] reload failed: %v", err)
			return
		}
		if err := validateDunningConfig(updated); err != nil {
			log.Printf("[dunning-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[dunning-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *DunningConfigHolder) Get() DunningConfig {
	return h.current.Load().(DunningConfig)
}

// NewStaticDunningConfigHolder wraps a fixed config, for tests and embedding.
func NewStaticDunningConfigHolder(cfg DunningConfig) *DunningConfigHolder {
	holder := &DunningConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func validateDunningConfig(cfg DunningConfig) error {
	if len(cfg.Levels) == 0 {
		return errors.New("dunning.levels cannot be empty")
	}
	prev := 0
	for _, level := range cfg.Levels {
		if level.DaysOverdue <= prev {
			return errors.New("dunning.levels daysOverdue must be strictly increasing")
		}
		if level.FeeCents < 0 {
			return errors.New("dunning.levels feeCents cannot be negative")
		}
		prev = level.DaysOverdue
	}
	if cfg.InterestRateBps < 0 {
		return errors.New("dunning.interestRateBps cannot be negative")
	}
	return nil
}
