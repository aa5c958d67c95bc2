package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/eventpay/internal/clock"
	"github.com/smallbiznis/eventpay/internal/config"
	"github.com/smallbiznis/eventpay/internal/logger"
	"github.com/smallbiznis/eventpay/internal/migration"
	"github.com/smallbiznis/eventpay/internal/observability"
	"github.com/smallbiznis/eventpay/internal/scheduler"
	"github.com/smallbiznis/eventpay/internal/server"
	"github.com/smallbiznis/eventpay/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		server.Module,
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}
