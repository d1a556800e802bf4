package config

import (
	"errors"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const maxFeeBps = 10_000

// MarketPolicy is the hot-reloadable marketplace policy.
type MarketPolicy struct {
	PlatformFeeBps  int64     `mapstructure:"platformFeeBps"`
	PlatformAccount string    `mapstructure:"platformAccount"`
	AdminAddresses  []string  `mapstructure:"adminAddresses"`
	UsageRateLimit  RateLimit `mapstructure:"usageRateLimit"`
}

// RateLimit bounds RecordUsage calls per compute provider.
type RateLimit struct {
	Capacity     int64   `mapstructure:"capacity"`
	RefillPerSec float64 `mapstructure:"refillPerSec"`
}

func DefaultMarketPolicy() MarketPolicy {
	return MarketPolicy{
		PlatformFeeBps:  250,
		PlatformAccount: "platform",
		UsageRateLimit: RateLimit{
			Capacity:     60,
			RefillPerSec: 1,
		},
	}
}

// Fee returns the platform share of a released amount, rounded down.
func (p MarketPolicy) Fee(amount int64) int64 {
	if amount <= 0 || p.PlatformFeeBps <= 0 {
		return 0
	}
	// amount*bps may overflow for very large escrows; split the multiplication.
	whole := (amount / maxFeeBps) * p.PlatformFeeBps
	rest := (amount % maxFeeBps) * p.PlatformFeeBps / maxFeeBps
	return whole + rest
}

func (p MarketPolicy) IsAdmin(address string) bool {
	address = strings.ToLower(strings.TrimSpace(address))
	for _, admin := range p.AdminAddresses {
		if strings.ToLower(strings.TrimSpace(admin)) == address {
			return true
		}
	}
	return false
}

type PolicyHolder struct {
	current atomic.Value // holds MarketPolicy
}

// NewStaticPolicyHolder returns a holder that never reloads.
func NewStaticPolicyHolder(policy MarketPolicy) *PolicyHolder {
	holder := &PolicyHolder{}
	holder.current.Store(policy)
	return holder
}

func NewPolicyHolder(cfg Config, log *zap.Logger) (*PolicyHolder, error) {
	v := viper.New()

	if cfg.PolicyPath != "" {
		v.SetConfigFile(cfg.PolicyPath)
	} else {
		v.SetConfigName("market")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/agentmarket")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("AGENTMARKET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultMarketPolicy()
	v.SetDefault("market.platformFeeBps", defaults.PlatformFeeBps)
	v.SetDefault("market.platformAccount", defaults.PlatformAccount)
	v.SetDefault("market.adminAddresses", defaults.AdminAddresses)
	v.SetDefault("market.usageRateLimit.capacity", defaults.UsageRateLimit.Capacity)
	v.SetDefault("market.usageRateLimit.refillPerSec", defaults.UsageRateLimit.RefillPerSec)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileLoaded = false
	}

	policy := readMarketPolicy(v)
	if err := validateMarketPolicy(policy); err != nil {
		return nil, err
	}

	holder := NewStaticPolicyHolder(policy)
	if !fileLoaded {
		return holder, nil
	}

	logger := log.Named("config.policy")
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated := readMarketPolicy(v)
		if err := validateMarketPolicy(updated); err != nil {
			logger.Warn("invalid policy ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		logger.Info("policy reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

// readMarketPolicy reads key by key so defaults fill whatever the file omits.
func readMarketPolicy(v *viper.Viper) MarketPolicy {
	return MarketPolicy{
		PlatformFeeBps:  v.GetInt64("market.platformFeeBps"),
		PlatformAccount: strings.TrimSpace(v.GetString("market.platformAccount")),
		AdminAddresses:  v.GetStringSlice("market.adminAddresses"),
		UsageRateLimit: RateLimit{
			Capacity:     v.GetInt64("market.usageRateLimit.capacity"),
			RefillPerSec: v.GetFloat64("market.usageRateLimit.refillPerSec"),
		},
	}
}

func (h *PolicyHolder) Get() MarketPolicy {
	return h.current.Load().(MarketPolicy)
}

func validateMarketPolicy(p MarketPolicy) error {
	if p.PlatformFeeBps < 0 || p.PlatformFeeBps > maxFeeBps {
		return errors.New("market.platformFeeBps must be within [0, 10000]")
	}
	if strings.TrimSpace(p.PlatformAccount) == "" {
		return errors.New("market.platformAccount cannot be empty")
	}
	if p.UsageRateLimit.Capacity < 0 || p.UsageRateLimit.RefillPerSec < 0 {
		return errors.New("market.usageRateLimit cannot be negative")
	}
	return nil
}
