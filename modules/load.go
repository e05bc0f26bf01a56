package modules

import (
	"github.com/repairhq/workshop/modules/repairs"
	"github.com/repairhq/workshop/pkg/application"
)

var BuiltInModules = []application.Module{
	repairs.NewModule(),
}

func Load(app application.Application, externalModules ...application.Module) error {
	for _, module := range externalModules {
		if err := module.Register(app); err != nil {
			return err
		}
	}
	return nil
}
