package repairs

import (
	"embed"

	"github.com/jonboulle/clockwork"

	"github.com/repairhq/workshop/modules/repairs/domain/repairjob"
	"github.com/repairhq/workshop/modules/repairs/infrastructure/persistence"
	"github.com/repairhq/workshop/modules/repairs/presentation/controllers"
	"github.com/repairhq/workshop/modules/repairs/services"
	"github.com/repairhq/workshop/pkg/application"
	"github.com/repairhq/workshop/pkg/configuration"
)

//go:embed infrastructure/persistence/schema/repairs-schema.sql
var MigrationFiles embed.FS

func NewModule() application.Module {
	return &Module{}
}

type Module struct {
}

// Register wires the repair core into the application. A misconfigured
// state table fails here and halts startup.
func (m *Module) Register(app application.Application) error {
	registry, err := repairjob.NewRegistry(repairjob.DefaultStateConfigs())
	if err != nil {
		return err
	}

	conf := configuration.Use()
	clock := clockwork.NewRealClock()

	jobRepo := persistence.NewJobRepository(conf.JobNumbers.Prefix)
	technicianRepo := persistence.NewTechnicianRepository()

	jobService := services.NewJobService(registry, jobRepo, clock)
	assignmentService := services.NewAssignmentService(registry, technicianRepo, jobRepo)

	app.Migrations().RegisterSchema(&MigrationFiles)
	app.RegisterServices(
		jobService,
		assignmentService,
		services.NewTechnicianService(technicianRepo, clock),
		services.NewAnalyticsService(persistence.NewAnalyticsRepository()),
		services.NewSweepService(
			registry,
			jobRepo,
			jobService,
			assignmentService,
			app.EventPublisher(),
			clock,
			services.SweepOptions{
				Interval:     conf.Scheduler.SweepInterval,
				BatchSize:    conf.Scheduler.BatchSize,
				SingleActive: conf.Scheduler.SingleActive,
				Logger:       conf.Logger(),
			},
		),
	)
	app.RegisterControllers(
		controllers.NewJobAPIController(app),
	)
	return nil
}

func (m *Module) Name() string {
	return "repairs"
}
