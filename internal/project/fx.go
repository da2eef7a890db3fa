package project

import (
	"github.com/fakturo/fakturo/internal/project/rollup"
	"go.uber.org/fx"
)

var Module = fx.Module("project",
	fx.Provide(
		rollup.NewService,
	),
)
