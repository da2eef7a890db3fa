// scheduler runs the batch jobs only: status projection refresh and the
// daily dunning scan. Deploy it next to API-only replicas of fakturo.
package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/fakturo/fakturo/internal/audit"
	"github.com/fakturo/fakturo/internal/clock"
	"github.com/fakturo/fakturo/internal/config"
	"github.com/fakturo/fakturo/internal/dunning"
	"github.com/fakturo/fakturo/internal/invoice"
	"github.com/fakturo/fakturo/internal/logger"
	"github.com/fakturo/fakturo/internal/notification"
	"github.com/fakturo/fakturo/internal/scheduler"
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

		audit.Module,
		notification.Module,
		invoice.Module,
		dunning.Module,

		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(2)
	if err != nil {
		panic(err)
	}
	return node
}
