package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/gatekeeper/pkg/observability"
)

// Config holds RBAC configuration
type Config struct {
	// CacheEnabled turns on caching of per-user permission sets
	CacheEnabled bool

	// CacheSize is the number of users kept in the in-process cache
	CacheSize int

	// CacheTTL is how long a cached permission set stays valid
	CacheTTL time.Duration

	// RedisPrefix namespaces the shared cache keys
	RedisPrefix string

	// SeedDefaults creates the built-in roles during Initialize
	SeedDefaults bool

	// RequireAuthorization guards the management API with VIEW_ROLES/MANAGE_ROLES
	RequireAuthorization bool
}

// DefaultConfig returns default RBAC configuration
func DefaultConfig() Config {
	return Config{
		CacheEnabled:         true,
		CacheSize:            10000,
		CacheTTL:             5 * time.Minute,
		RedisPrefix:          "gatekeeper:",
		SeedDefaults:         true,
		RequireAuthorization: true,
	}
}

// Manager manages all RBAC components
type Manager struct {
	db         *sql.DB
	config     Config
	log        logrus.FieldLogger
	bus        *EventBus
	store      *Store
	service    *Service
	checker    *Checker
	handlers   *Handlers
	middleware *PermissionMiddleware

	redis       *redis.Client
	metrics     *observability.Metrics
	otelMetrics *observability.OTelMetrics
	tracer      trace.Tracer
	now         func() time.Time

	unsubscribe []func()
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithLogger sets the logger shared by every component
func WithLogger(log logrus.FieldLogger) ManagerOption {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

// WithRedis adds a shared redis tier behind the in-process cache
func WithRedis(client *redis.Client) ManagerOption {
	return func(m *Manager) {
		m.redis = client
	}
}

// WithMetrics reports operations, checks and events to Prometheus
func WithMetrics(metrics *observability.Metrics) ManagerOption {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithOTelMetrics reports operations, checks and events to OpenTelemetry
func WithOTelMetrics(metrics *observability.OTelMetrics) ManagerOption {
	return func(m *Manager) {
		m.otelMetrics = metrics
	}
}

// WithManagerTracer sets the tracer used by the service
func WithManagerTracer(tracer trace.Tracer) ManagerOption {
	return func(m *Manager) {
		m.tracer = tracer
	}
}

// WithManagerClock sets the time source shared by the store, service and checker
func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager creates a new RBAC manager
func NewManager(db *sql.DB, config Config, opts ...ManagerOption) *Manager {
	m := &Manager{
		db:     db,
		config: config,
		log:    logrus.New(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	m.bus = NewEventBus(WithBusLogger(m.log), WithPanicHook(m.observePanic))
	m.unsubscribe = append(m.unsubscribe, m.bus.Subscribe(m.observeEvent))

	m.store = NewStore(db, m.bus, WithStoreLogger(m.log), WithClock(m.now))

	serviceOpts := []ServiceOption{
		WithServiceLogger(m.log),
		WithOperationObserver(m.observeOperation),
		WithServiceClock(m.now),
	}
	if m.tracer != nil {
		serviceOpts = append(serviceOpts, WithTracer(m.tracer))
	}
	m.service = NewService(m.store, m.bus, serviceOpts...)

	m.checker = NewChecker(m.store, m.newCache(),
		WithCheckerLogger(m.log),
		WithCheckObserver(m.observeCheck),
		WithCheckerClock(m.now),
	)
	m.unsubscribe = append(m.unsubscribe, m.checker.Attach(m.bus))

	m.handlers = NewHandlers(m.service, m.checker, m.log)
	m.middleware = NewPermissionMiddleware(m.checker, m.log)

	return m
}

func (m *Manager) newCache() PermissionCache {
	if !m.config.CacheEnabled {
		return nil
	}
	local := NewLRUCache(m.config.CacheSize, m.config.CacheTTL)
	if m.redis == nil {
		return local
	}
	return NewTieredCache(local, NewRedisCache(m.redis, m.config.RedisPrefix, m.config.CacheTTL, m.log))
}

func (m *Manager) observeOperation(op string, d time.Duration, err error) {
	if m.metrics != nil {
		m.metrics.ObserveOperation(op, d, err)
	}
	if m.otelMetrics != nil {
		m.otelMetrics.RecordOperation(context.Background(), op, d, err)
	}
}

func (m *Manager) observeCheck(channel string, allowed, cached bool) {
	if m.metrics != nil {
		m.metrics.ObserveCheck(channel, allowed, cached)
	}
	if m.otelMetrics != nil {
		m.otelMetrics.RecordCheck(context.Background(), channel, allowed, cached)
	}
}

func (m *Manager) observeEvent(ctx context.Context, event Event) {
	if m.metrics != nil {
		m.metrics.ObserveEvent(string(event.Type))
	}
	if m.otelMetrics != nil {
		m.otelMetrics.RecordEvent(ctx, string(event.Type))
	}
}

func (m *Manager) observePanic(eventType EventType) {
	if m.metrics != nil {
		m.metrics.ObservePanic(string(eventType))
	}
}

// Initialize sets up RBAC system
func (m *Manager) Initialize(ctx context.Context) error {
	if err := RunMigrations(ctx, m.db, m.log); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	if !m.service.SyncRolePermissions(ctx) {
		return fmt.Errorf("failed to sync permission catalog")
	}

	if m.config.SeedDefaults {
		result, err := Seed(ctx, m.store)
		if err != nil {
			return fmt.Errorf("failed to seed built-in roles: %w", err)
		}
		m.log.WithFields(logrus.Fields{
			"roles_created":     result.RolesCreated,
			"permissions_added": result.PermissionsAdded,
		}).Info("built-in roles seeded")
	}

	return nil
}

// RegisterRoutes registers RBAC routes with a router
func (m *Manager) RegisterRoutes(router *mux.Router) {
	var pm *PermissionMiddleware
	if m.config.RequireAuthorization {
		pm = m.middleware
	}
	m.handlers.RegisterRoutes(router, pm)
}

// Service returns the permission service
func (m *Manager) Service() *Service {
	return m.service
}

// Checker returns the cached permission checker
func (m *Manager) Checker() *Checker {
	return m.checker
}

// Bus returns the event bus
func (m *Manager) Bus() *EventBus {
	return m.bus
}

// Middleware returns the permission middleware
func (m *Manager) Middleware() *PermissionMiddleware {
	return m.middleware
}

// Stats summarizes the permission data
type Stats struct {
	Roles               int `json:"roles"`
	SystemRoles         int `json:"system_roles"`
	UserRoles           int `json:"user_roles"`
	ResourcePermissions int `json:"resource_permissions"`
}

// Stats counts roles, assignments and resource grants
func (m *Manager) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	counts := []struct {
		dest  *int
		query string
		args  []interface{}
	}{
		{&stats.Roles, "SELECT COUNT(*) FROM roles", nil},
		{&stats.SystemRoles, "SELECT COUNT(*) FROM roles WHERE is_system_role = $1", []interface{}{true}},
		{&stats.UserRoles, "SELECT COUNT(*) FROM user_roles", nil},
		{&stats.ResourcePermissions, "SELECT COUNT(*) FROM resource_permissions", nil},
	}
	for _, c := range counts {
		n, err := countRows(ctx, m.db, c.query, c.args...)
		if err != nil {
			return nil, &ProviderError{Op: "count rows", Err: err}
		}
		*c.dest = n
	}
	return stats, nil
}

// PurgeExpired removes expired role assignments
func (m *Manager) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := m.service.PurgeExpiredAssignments(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		if m.metrics != nil {
			m.metrics.ExpiredAssignmentsPurged.Add(float64(n))
		}
		m.log.WithField("count", n).Info("purged expired role assignments")
	}
	return n, nil
}

// Close detaches the manager's subscribers from the bus
func (m *Manager) Close() {
	for _, fn := range m.unsubscribe {
		fn()
	}
	m.unsubscribe = nil
}
