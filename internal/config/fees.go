package config

import (
	"errors"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// FeeSchedule is the platform fee charged on every online payment:
// amount*BasisPoints/10000 + Fixed, raised to Minimum.
type FeeSchedule struct {
	BasisPoints int64 `mapstructure:"basisPoints"`
	Fixed       int64 `mapstructure:"fixed"`
	Minimum     int64 `mapstructure:"minimum"`
}

func (f FeeSchedule) Validate() error {
	if f.BasisPoints < 0 || f.BasisPoints > 10000 {
		return errors.New("fees.basisPoints must be between 0 and 10000")
	}
	if f.Fixed < 0 {
		return errors.New("fees.fixed cannot be negative")
	}
	if f.Minimum < 0 {
		return errors.New("fees.minimum cannot be negative")
	}
	return nil
}

// FeeScheduleHolder serves the current fee schedule. A fees.yml file, when
// present, overrides the environment defaults and is reloaded on change.
type FeeScheduleHolder struct {
	current atomic.Value // holds FeeSchedule
}

func NewStaticFeeSchedule(schedule FeeSchedule) *FeeScheduleHolder {
	holder := &FeeScheduleHolder{}
	holder.current.Store(schedule)
	return holder
}

func NewFeeScheduleHolder(cfg Config, log *zap.Logger) (*FeeScheduleHolder, error) {
	log = log.Named("config.fees")

	v := viper.New()
	v.SetConfigName("fees")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/eventpay")
	v.AddConfigPath(".")

	v.SetEnvPrefix("EVENTPAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("fees.basisPoints", cfg.PlatformFee.BasisPoints)
	v.SetDefault("fees.fixed", cfg.PlatformFee.Fixed)
	v.SetDefault("fees.minimum", cfg.PlatformFee.Minimum)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileFound = false
	}

	var schedule FeeSchedule
	if err := v.UnmarshalKey("fees", &schedule); err != nil {
		return nil, err
	}
	if err := schedule.Validate(); err != nil {
		return nil, err
	}

	holder := NewStaticFeeSchedule(schedule)
	log.Info("platform fee schedule loaded",
		zap.Int64("basis_points", schedule.BasisPoints),
		zap.Int64("fixed", schedule.Fixed),
		zap.Int64("minimum", schedule.Minimum),
		zap.Bool("from_file", fileFound),
	)

	if fileFound {
		v.OnConfigChange(func(e fsnotify.Event) {
			var updated FeeSchedule
			if err := v.UnmarshalKey("fees", &updated); err != nil {
				log.Warn("fee schedule reload failed", zap.Error(err))
				return
			}
			if err := updated.Validate(); err != nil {
				log.Warn("invalid fee schedule ignored", zap.Error(err))
				return
			}
			holder.current.Store(updated)
			log.Info("fee schedule reloaded", zap.String("file", e.Name))
		})
		v.WatchConfig()
	}

	return holder, nil
}

func (h *FeeScheduleHolder) Get() FeeSchedule {
	if h == nil {
		return FeeSchedule{}
	}
	schedule, _ := h.current.Load().(FeeSchedule)
	return schedule
}
