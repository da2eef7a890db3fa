package reversal

import (
	"github.com/fakturo/fakturo/internal/reversal/service"
	"go.uber.org/fx"
)

var Module = fx.Module("reversal",
	fx.Provide(
		service.NewService,
	),
)
