package dunning

import (
	"github.com/fakturo/fakturo/internal/dunning/service"
	"go.uber.org/fx"
)

var Module = fx.Module("dunning",
	fx.Provide(
		service.NewService,
	),
)
