package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/gorm/schema"

	"gitlab.com/timkado/api/daisi-crm-engine/internal/apperrors"
	"gitlab.com/timkado/api/daisi-crm-engine/internal/model"
	"gitlab.com/timkado/api/daisi-crm-engine/internal/observer"
	"gitlab.com/timkado/api/daisi-crm-engine/internal/tenant"
	"gitlab.com/timkado/api/daisi-crm-engine/pkg/logger"
	"gitlab.com/timkado/api/daisi-crm-engine/pkg/utils"
)

// --- Retry Logic Configuration ---
const (
	defaultRetryInitialInterval = 50 * time.Millisecond
	defaultRetryMaxInterval     = 2 * time.Second
	readRetryMaxElapsedTime     = 5 * time.Second  // More aggressive for reads
	commitRetryMaxElapsedTime   = 15 * time.Second // More tolerant for commits
)

// newRetryPolicy creates a new exponential backoff policy with context awareness.
func newRetryPolicy(ctx context.Context, maxElapsedTime time.Duration) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = defaultRetryInitialInterval
	b.MaxInterval = defaultRetryMaxInterval
	b.MaxElapsedTime = maxElapsedTime
	b.Reset()
	return backoff.WithContext(b, ctx)
}

// retryableOperation wraps a database operation with retry logic. Only
// transient driver errors are retried.
func retryableOperation(ctx context.Context, policy backoff.BackOffContext, opName string, operation func() error) error {
	notify := func(err error, d time.Duration) {
		logger.FromContext(ctx).Warn("Retrying DB operation",
			zap.String("operation", opName),
			zap.Error(err),
			zap.Duration("after", d),
		)
	}

	return backoff.RetryNotify(func() error {
		err := operation()
		if err == nil {
			return nil
		}
		if errors.Is(err, gorm.ErrRecordNotFound) ||
			errors.Is(err, gorm.ErrInvalidTransaction) ||
			errors.Is(err, gorm.ErrDuplicatedKey) ||
			errors.Is(err, gorm.ErrForeignKeyViolated) ||
			errors.Is(err, apperrors.ErrConflict) ||
			errors.Is(err, apperrors.ErrNotFound) {
			return backoff.Permanent(err)
		}
		if isTransientError(err) {
			return err
		}
		return backoff.Permanent(err)
	}, policy, notify)
}

// isTransientError checks if the error suggests a temporary issue like a network problem.
func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08 connection exception, class 53 insufficient resources,
		// deadlock and serialization failure.
		if strings.HasPrefix(pgErr.Code, "08") ||
			strings.HasPrefix(pgErr.Code, "53") ||
			pgErr.Code == "40P01" ||
			pgErr.Code == "40001" {
			return true
		}
	}

	errStr := strings.ToLower(err.Error())
	transientIndicators := []string{
		"connection refused",
		"network is unreachable",
		"i/o timeout",
		"broken pipe",
		"connection reset",
		"could not translate host name",
		"no route to host",
		"database system is starting up",
		"connection timed out",
		"database is locked",
	}
	for _, indicator := range transientIndicators {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}

	return false
}

// PostgresRepo implements every repository interface of the CRM engine.
type PostgresRepo struct {
	db *gorm.DB
}

// tenantNamer implements gorm schema.Namer interface for multi-tenant schemas
// It embeds the default NamingStrategy and overrides TableName.
type tenantNamer struct {
	schema.NamingStrategy
	schemaName string
}

// TableName qualifies the base table name with the tenant schema.
func (tn tenantNamer) TableName(table string) string {
	return fmt.Sprintf("%q.%s", tn.schemaName, table)
}

// SchemaName returns the postgres schema that holds a company's tables.
func SchemaName(companyID string) string {
	return fmt.Sprintf("daisi_%s", companyID)
}

// NewPostgresRepo connects to postgres, ensures the tenant schema exists and
// optionally bootstraps the tables.
func NewPostgresRepo(dsn string, autoMigrate bool, companyID string) (*PostgresRepo, error) {
	schemaName := SchemaName(companyID)

	connect := func(cfg *gorm.Config) func() (*gorm.DB, error) {
		return func() (*gorm.DB, error) {
			db, err := gorm.Open(postgres.Open(dsn), cfg)
			if err != nil {
				if isTransientError(err) {
					logger.Log.Warn("Failed to connect to postgres (transient), retrying...", zap.Error(err))
					return nil, err
				}
				return nil, backoff.Permanent(fmt.Errorf("failed to connect to postgres: %w", err))
			}
			return db, nil
		}
	}
	notify := func(err error, d time.Duration) {
		logger.Log.Warn("Retrying DB connection", zap.String("schema", schemaName), zap.Error(err), zap.Duration("after", d))
	}
	newConnectBackoff := func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 1 * time.Second
		b.MaxInterval = 15 * time.Second
		b.MaxElapsedTime = 1 * time.Minute
		return b
	}

	bootstrap, err := backoff.RetryNotifyWithData(connect(&gorm.Config{}), newConnectBackoff(), notify)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to default postgres after retries: %w", err)
	}

	logger.Log.Info("Ensuring PostgreSQL schema exists", zap.String("schema", schemaName))
	schemaErr := bootstrap.Exec(fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %q", schemaName)).Error
	if sqlDB, dbErr := bootstrap.DB(); dbErr == nil {
		_ = sqlDB.Close()
	}
	if schemaErr != nil {
		return nil, fmt.Errorf("failed to create schema %s: %w", schemaName, schemaErr)
	}

	tenantCfg := &gorm.Config{
		NamingStrategy: tenantNamer{schemaName: schemaName},
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
	}
	db, err := backoff.RetryNotifyWithData(connect(tenantCfg), newConnectBackoff(), notify)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres tenant db %s after retries: %w", schemaName, err)
	}

	repo := NewRepoFromDB(db)

	if autoMigrate {
		logger.Log.Info("Running auto-migration for schema", zap.String("schema", schemaName))
		if err := repo.Migrate(context.Background()); err != nil {
			_ = repo.Close(context.Background())
			return nil, err
		}
	} else {
		logger.Log.Info("Auto-migration disabled")
	}

	return repo, nil
}

// NewRepoFromDB wraps an already opened gorm handle. The handle's naming
// strategy decides table qualification.
func NewRepoFromDB(db *gorm.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

// Migrate creates the tables and the partial unique indexes the engine relies on.
func (r *PostgresRepo) Migrate(ctx context.Context) error {
	db := r.db.WithContext(ctx)
	if err := db.AutoMigrate(
		&model.Contact{},
		&model.ContactTelephone{},
		&model.Channel{},
		&model.Message{},
		&model.Opportunity{},
		&model.OpportunityStateLog{},
		&model.Event{},
		&model.WebhookLog{},
		&model.Property{},
		&model.TenantSettings{},
		&model.ParkedStatus{},
	); err != nil {
		return fmt.Errorf("auto-migration failed: %w", err)
	}

	indexes := map[string]string{
		"idx_opportunities_one_active": fmt.Sprintf(
			"CREATE UNIQUE INDEX IF NOT EXISTS idx_opportunities_one_active ON %s (contact_id) WHERE active = true AND deleted_at IS NULL",
			r.table("opportunities")),
		"idx_contacts_live_email": fmt.Sprintf(
			"CREATE UNIQUE INDEX IF NOT EXISTS idx_contacts_live_email ON %s (email) WHERE email IS NOT NULL AND deleted_at IS NULL",
			r.table("contacts")),
		"idx_messages_latest_inbound": fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS idx_messages_latest_inbound ON %s (contact_id, channel_id, direction, message_time)",
			r.table("messages")),
	}
	for indexName, indexSQL := range indexes {
		if err := db.Exec(indexSQL).Error; err != nil {
			return fmt.Errorf("failed to create index %s: %w", indexName, err)
		}
	}
	return nil
}

// table resolves a base table name through the handle's naming strategy.
func (r *PostgresRepo) table(name string) string {
	return r.db.NamingStrategy.TableName(name)
}

// Ping checks database connectivity for the readiness probe.
func (r *PostgresRepo) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrDatabase, err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: ping failed: %w", apperrors.ErrDatabase, err)
	}
	return nil
}

func (r *PostgresRepo) Close(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		logger.FromContext(ctx).Warn("Failed to get underlying SQL DB for closing", zap.Error(err))
		return nil
	}

	if closeErr := sqlDB.Close(); closeErr != nil {
		logger.FromContext(ctx).Error("Failed to close database connection", zap.Error(closeErr))
		return fmt.Errorf("failed to close SQL DB: %w", closeErr)
	}

	logger.FromContext(ctx).Info("Database connection closed successfully")
	return nil
}

// companyID returns the tenant bound to ctx, used for metrics labels and as an
// authorization guard on every repository call.
func companyID(ctx context.Context) (string, error) {
	id, err := tenant.FromContext(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: failed to get tenant ID: %w", apperrors.ErrUnauthorized, err)
	}
	return id, nil
}

// run executes operation under the retry policy and records its duration.
func run(ctx context.Context, operation, entity string, maxElapsed time.Duration, fn func() error) error {
	company, err := companyID(ctx)
	if err != nil {
		return err
	}
	policy := newRetryPolicy(ctx, maxElapsed)
	start := utils.Now()
	opErr := retryableOperation(ctx, policy, operation+" "+entity, fn)
	observer.ObserveDbOperationDuration(operation, entity, company, time.Since(start), opErr)
	return opErr
}

// transaction runs fn inside a database transaction, rolling back on error or panic.
func (r *PostgresRepo) transaction(ctx context.Context, fn func(tx *gorm.DB) error) (txErr error) {
	tx := r.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return fmt.Errorf("%w: failed to begin transaction: %w", apperrors.ErrDatabase, tx.Error)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
		if txErr != nil {
			if rbErr := tx.Rollback().Error; rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				logger.FromContext(ctx).Error("Failed to rollback transaction after error",
					zap.Error(rbErr), zap.NamedError("originalTxError", txErr))
			}
		}
	}()

	if txErr = fn(tx); txErr != nil {
		return txErr
	}
	if err := tx.Commit().Error; err != nil {
		txErr = checkConstraintViolation(err)
		return txErr
	}
	return nil
}

// updateVersioned applies updates to the row id only if it still carries
// version, bumping the version. Zero matched rows yields ErrConflict.
func updateVersioned(tx *gorm.DB, value interface{}, id string, version int64, updates map[string]interface{}) error {
	updates["version"] = version + 1
	updates["updated_at"] = utils.Now()
	result := tx.Model(value).Where("id = ? AND version = ?", id, version).Updates(updates)
	if result.Error != nil {
		return checkConstraintViolation(result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: row %s changed since version %d", apperrors.ErrConflict, id, version)
	}
	return nil
}

func checkConstraintViolation(err error) error {
	if err == nil {
		return nil
	}

	// Already classified further down the stack.
	for _, sentinel := range []error{
		apperrors.ErrNotFound, apperrors.ErrConflict, apperrors.ErrDuplicate, apperrors.ErrUnauthorized,
		apperrors.ErrValidation, apperrors.ErrBadRequest, apperrors.ErrDatabase, apperrors.ErrInvalidState,
	} {
		if errors.Is(err, sentinel) {
			return err
		}
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %w", apperrors.ErrNotFound, err)
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %w", apperrors.ErrDuplicate, err)
	}
	if errors.Is(err, gorm.ErrForeignKeyViolated) || errors.Is(err, gorm.ErrCheckConstraintViolated) {
		return fmt.Errorf("%w: %w", apperrors.ErrBadRequest, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%w: constraint %s: %w", apperrors.ErrDuplicate, pgErr.ConstraintName, err)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%w: constraint %s: %w", apperrors.ErrBadRequest, pgErr.ConstraintName, err)
		case "23502": // not_null_violation
			return fmt.Errorf("%w: null value in column %s: %w", apperrors.ErrBadRequest, pgErr.ColumnName, err)
		case "23514": // check_violation
			return fmt.Errorf("%w: constraint %s: %w", apperrors.ErrBadRequest, pgErr.ConstraintName, err)
		case "22001": // string_data_right_truncation
			return fmt.Errorf("%w: value too long for column %s: %w", apperrors.ErrBadRequest, pgErr.ColumnName, err)
		case "22P02": // invalid_text_representation
			return fmt.Errorf("%w: invalid input syntax for type %s: %w", apperrors.ErrBadRequest, pgErr.DataTypeName, err)
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return fmt.Errorf("%w: transaction rollback (%s): %w", apperrors.ErrDatabase, pgErr.Code, err)
		default:
			if strings.HasPrefix(pgErr.Code, "53") {
				return fmt.Errorf("%w: insufficient resources (%s): %w", apperrors.ErrDatabase, pgErr.Code, err)
			}
			if strings.HasPrefix(pgErr.Code, "08") {
				return fmt.Errorf("%w: connection error (%s): %w", apperrors.ErrDatabase, pgErr.Code, err)
			}
			return fmt.Errorf("%w: unhandled pgcode %s: %w", apperrors.ErrDatabase, pgErr.Code, err)
		}
	}

	// Drivers without error translation report uniqueness only in the message.
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %w", apperrors.ErrDuplicate, err)
	}

	return fmt.Errorf("%w: %w", apperrors.ErrDatabase, err)
}
