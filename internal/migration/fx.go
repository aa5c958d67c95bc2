package migration

import (
	"fmt"

	"github.com/smallbiznis/eventpay/internal/config"
	"github.com/smallbiznis/eventpay/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		switch db.Type(cfg.DBType) {
		case "postgres":
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			return RunMigrations(sqlDB)
		case "sqlite":
			log.Info("applying embedded schema", zap.String("type", cfg.DBType))
			return ApplySchema(conn)
		default:
			return fmt.Errorf("%w %q", db.ErrUnsupportedType, cfg.DBType)
		}
	}),
)
