package workflow

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/stageflow_backend/models"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("stageflow")

// Dependencies are the collaborators of the engine. DB and Auth are required.
type Dependencies struct {
	DB        *gorm.DB
	Config    models.WorkflowConfig
	Auth      AuthorizationPort
	Directory ApproverDirectory
	Notifier  Notifier
	Locker    DecisionLocker
	Logger    *logrus.Logger
	Clock     func() time.Time
}

type core struct {
	db        *gorm.DB
	cfg       models.WorkflowConfig
	auth      AuthorizationPort
	directory ApproverDirectory
	notifier  Notifier
	locker    DecisionLocker
	logger    *logrus.Logger
	clock     func() time.Time
}

// Engine bundles the workflow components over one set of dependencies.
type Engine struct {
	Ledger    *StockLedger
	Selector  *MaterialSelector
	Processor *SortingProcessor
	Transfers *ApprovalCoordinator
	Stages    *StageMachine
}

func NewEngine(deps Dependencies) (*Engine, error) {
	if deps.DB == nil {
		return nil, errors.New("workflow: DB is required")
	}
	if deps.Auth == nil {
		return nil, errors.New("workflow: authorization port is required")
	}
	if err := deps.Config.Validate(); err != nil {
		return nil, err
	}
	c := &core{
		db:        deps.DB,
		cfg:       deps.Config,
		auth:      deps.Auth,
		directory: deps.Directory,
		notifier:  deps.Notifier,
		locker:    deps.Locker,
		logger:    deps.Logger,
		clock:     deps.Clock,
	}
	if c.logger == nil {
		c.logger = logrus.New()
	}
	if c.notifier == nil {
		c.notifier = LogNotifier{Logger: c.logger}
	}
	if c.clock == nil {
		c.clock = func() time.Time { return time.Now().UTC() }
	}

	ledger := &StockLedger{c: c}
	selector := &MaterialSelector{c: c, ledger: ledger}
	processor := &SortingProcessor{c: c, ledger: ledger}
	transfers := &ApprovalCoordinator{c: c, ledger: ledger}
	stages := &StageMachine{c: c, ledger: ledger, selector: selector, processor: processor, transfers: transfers}
	return &Engine{
		Ledger:    ledger,
		Selector:  selector,
		Processor: processor,
		Transfers: transfers,
		Stages:    stages,
	}, nil
}

func (c *core) now() time.Time {
	return c.clock()
}

// transaction runs fn atomically and sends the events it queued only after commit.
func (c *core) transaction(ctx context.Context, fn func(tx *gorm.DB, ob *outbox) error) error {
	ob := &outbox{}
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(tx, ob)
	})
	if err != nil {
		return err
	}
	ob.flush(ctx, c.notifier)
	return nil
}

func (c *core) lockDecision(ctx context.Context, key string) func() {
	if c.locker == nil {
		return func() {}
	}
	release, err := c.locker.Lock(ctx, key)
	if err != nil || release == nil {
		return func() {}
	}
	return release
}

func (c *core) hasRole(ctx context.Context, userId int, role string) bool {
	return role != "" && userId > 0 && c.auth.HasRole(ctx, userId, role)
}

func (c *core) hasPermission(ctx context.Context, userId int, permission string) bool {
	return userId > 0 && c.auth.HasPermission(ctx, userId, permission)
}

// logRejected records a business rule rejection. Storage failures go through config.LogError instead.
func (c *core) logRejected(funcName string, err error, fields logrus.Fields) {
	if fields == nil {
		fields = logrus.Fields{}
	}
	fields["field"] = funcName
	fields["error_code"] = CodeOf(err)
	c.logger.WithFields(fields).Info(err.Error())
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(CodeOf(err)))
	}
	span.End()
}
