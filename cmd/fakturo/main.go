// fakturo is the monolith binary: HTTP API, migrations and the daily
// invoice lifecycle scheduler in one process.
package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/fakturo/fakturo/internal/audit"
	"github.com/fakturo/fakturo/internal/clock"
	"github.com/fakturo/fakturo/internal/config"
	"github.com/fakturo/fakturo/internal/dunning"
	"github.com/fakturo/fakturo/internal/invoice"
	"github.com/fakturo/fakturo/internal/logger"
	"github.com/fakturo/fakturo/internal/migration"
	"github.com/fakturo/fakturo/internal/notification"
	"github.com/fakturo/fakturo/internal/payment"
	"github.com/fakturo/fakturo/internal/project"
	"github.com/fakturo/fakturo/internal/reversal"
	"github.com/fakturo/fakturo/internal/scheduler"
	"github.com/fakturo/fakturo/internal/server"
	"github.com/fakturo/fakturo/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		audit.Module,
		notification.Module,
		invoice.Module,
		payment.Module,
		reversal.Module,
		dunning.Module,
		project.Module,

		scheduler.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
