package event

import (
	"github.com/smallbiznis/eventpay/internal/event/cancellation"
	"github.com/smallbiznis/eventpay/internal/event/repository"
	"github.com/smallbiznis/eventpay/internal/event/service"
	"go.uber.org/fx"
)

var Module = fx.Module("event.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	fx.Provide(cancellation.New),
)
