package health

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/google/uuid"

	"github.com/goliatone/go-hmrc/core"
)

// Monitored service names.
const (
	ServiceHMRCAPI      = "hmrc-api"
	ServiceStorage      = "storage"
	ServiceAuth         = "auth-service"
	ServiceTaxCalc      = "tax-calculator"
	ServiceNotification = "notification-service"
)

// FallbackStrategy names how a service degrades when it is down.
type FallbackStrategy string

const (
	FallbackCache      FallbackStrategy = "cache"
	FallbackLocal      FallbackStrategy = "local"
	FallbackOffline    FallbackStrategy = "offline"
	FallbackQueue      FallbackStrategy = "queue"
	FallbackSimplified FallbackStrategy = "simplified"
)

type ServiceStatus string

const (
	StatusAvailable   ServiceStatus = "available"
	StatusUnavailable ServiceStatus = "unavailable"
)

// SystemStatus is the aggregate across all monitored services.
type SystemStatus string

const (
	SystemHealthy  SystemStatus = "healthy"
	SystemDegraded SystemStatus = "degraded"
	SystemCritical SystemStatus = "critical"
)

// Checker probes one service. A nil error means the service answered.
type Checker interface {
	Check(ctx context.Context) error
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context) error

func (f CheckerFunc) Check(ctx context.Context) error { return f(ctx) }

// HTTPChecker probes an endpoint and treats any 2xx as healthy.
type HTTPChecker struct {
	URL    string
	Client core.HTTPDoer
}

func (c HTTPChecker) Check(ctx context.Context) error {
	if strings.TrimSpace(c.URL) == "" {
		return fmt.Errorf("health: check url is required")
	}
	client := c.Client
	if client == nil {
		return fmt.Errorf("health: http client is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := newHealthRequest(ctx, c.URL)
	if err != nil {
		return err
	}
	response, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("health: probe failed: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("health: probe returned status %d", response.StatusCode)
}

func newHealthRequest(ctx context.Context, url string) (*http.Request, error) {
	return http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSpace(url), nil)
}

// Definition declares a monitored service.
type Definition struct {
	Name        string
	Description string
	Critical    bool
	Fallback    FallbackStrategy
	Limitations []string
	Checker     Checker
}

// State is the live view of one monitored service.
type State struct {
	Definition
	Status         ServiceStatus
	ErrorCount     int
	FallbackActive bool
	LastChecked    time.Time
	LastError      string
	QueuedOps      int
}

// QueuedOp runs once the owning service recovers.
type QueuedOp func(ctx context.Context) error

type serviceEntry struct {
	def            Definition
	status         ServiceStatus
	errorCount     int
	fallbackActive bool
	lastChecked    time.Time
	lastError      string
	queue          []QueuedOp
}

// Service tracks availability of the system's dependencies and drives
// fallback activation and recovery.
type Service struct {
	cfg     core.HealthConfig
	logger  core.Logger
	metrics core.MetricsRecorder
	bus     core.EventBus
	nowFn   func() time.Time
	idFn    func() string

	mu       sync.Mutex
	services map[string]*serviceEntry
}

type Option func(*Service)

func WithLogger(logger core.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(recorder core.MetricsRecorder) Option {
	return func(s *Service) {
		if recorder != nil {
			s.metrics = recorder
		}
	}
}

func WithEventBus(bus core.EventBus) Option {
	return func(s *Service) {
		s.bus = bus
	}
}

func WithNow(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.nowFn = now
		}
	}
}

// WithService registers an additional or replacement definition.
func WithService(def Definition) Option {
	return func(s *Service) {
		s.register(def)
	}
}

func New(cfg core.HealthConfig, options ...Option) *Service {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 5 * time.Second
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 30 * time.Second
	}
	if cfg.FallbackTimeout <= 0 {
		cfg.FallbackTimeout = 10 * time.Second
	}

	_, logger := glog.Resolve("hmrc-health", nil, nil)
	service := &Service{
		cfg:      cfg,
		logger:   logger,
		metrics:  core.NopMetricsRecorder{},
		nowFn:    func() time.Time { return time.Now().UTC() },
		idFn:     uuid.NewString,
		services: map[string]*serviceEntry{},
	}
	for _, def := range DefaultDefinitions() {
		service.register(def)
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service
}

// DefaultDefinitions lists the services this system depends on.
func DefaultDefinitions() []Definition {
	return []Definition{
		{
			Name:        ServiceHMRCAPI,
			Description: "HMRC self assessment API",
			Critical:    true,
			Fallback:    FallbackQueue,
			Limitations: []string{
				"submissions are queued locally",
				"tax data may be stale",
			},
		},
		{
			Name:        ServiceStorage,
			Description: "token and submission storage",
			Critical:    true,
			Fallback:    FallbackLocal,
			Limitations: []string{
				"changes are held in memory until storage returns",
			},
		},
		{
			Name:        ServiceAuth,
			Description: "OAuth token lifecycle",
			Critical:    true,
			Fallback:    FallbackOffline,
			Limitations: []string{
				"existing sessions continue, new sign-ins are unavailable",
			},
		},
		{
			Name:        ServiceTaxCalc,
			Description: "tax calculation engine",
			Critical:    false,
			Fallback:    FallbackLocal,
			Limitations: []string{
				"estimates use local rules and may differ from HMRC",
			},
		},
		{
			Name:        ServiceNotification,
			Description: "user notification delivery",
			Critical:    false,
			Fallback:    FallbackSimplified,
			Limitations: []string{
				"notifications are reduced to in-app banners",
			},
		},
	}
}

func (s *Service) register(def Definition) {
	def.Name = strings.TrimSpace(def.Name)
	if def.Name == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.services[def.Name]
	if ok {
		existing.def = def
		return
	}
	s.services[def.Name] = &serviceEntry{
		def:    def,
		status: StatusAvailable,
	}
}

// Register adds or replaces a monitored service at runtime.
func (s *Service) Register(def Definition) {
	if s == nil {
		return
	}
	s.register(def)
}

// CheckHealth probes one service and updates its state. A passing probe
// resets the error count and, if the service was down, restores it.
func (s *Service) CheckHealth(ctx context.Context, name string) (State, error) {
	if s == nil {
		return State{}, fmt.Errorf("health: service is not configured")
	}
	entry, err := s.entry(name)
	if err != nil {
		return State{}, err
	}

	var probeErr error
	if entry.def.Checker != nil {
		probeErr = entry.def.Checker.Check(ctx)
	}

	now := s.nowFn().UTC()
	s.mu.Lock()
	entry.lastChecked = now
	if probeErr != nil {
		entry.lastError = probeErr.Error()
		s.mu.Unlock()
		return s.HandleServiceError(ctx, name, probeErr)
	}
	wasDown := entry.status == StatusUnavailable || entry.fallbackActive
	entry.status = StatusAvailable
	entry.errorCount = 0
	entry.lastError = ""
	entry.fallbackActive = false
	queued := entry.queue
	entry.queue = nil
	state := s.stateLocked(entry)
	s.mu.Unlock()

	if wasDown {
		s.drainQueue(ctx, name, queued)
		s.publish(ctx, core.EventServiceRecovered, name, map[string]any{
			"drained_ops": len(queued),
		})
		s.logInfo(ctx, "service recovered", map[string]any{
			"service":     name,
			"drained_ops": len(queued),
		})
	}
	s.metrics.IncCounter(ctx, "hmrc.health_check.total", 1, map[string]string{
		"service": name,
		"status":  "success",
	})
	return state, nil
}

// CheckAll probes every registered service.
func (s *Service) CheckAll(ctx context.Context) map[string]State {
	if s == nil {
		return map[string]State{}
	}
	out := map[string]State{}
	for _, name := range s.names() {
		state, err := s.CheckHealth(ctx, name)
		if err != nil {
			continue
		}
		out[name] = state
	}
	return out
}

// HandleServiceError records a failure. Crossing the retry threshold
// marks the service unavailable and activates its fallback.
func (s *Service) HandleServiceError(ctx context.Context, name string, cause error) (State, error) {
	if s == nil {
		return State{}, fmt.Errorf("health: service is not configured")
	}
	entry, err := s.entry(name)
	if err != nil {
		return State{}, err
	}

	now := s.nowFn().UTC()
	s.mu.Lock()
	entry.errorCount++
	entry.lastChecked = now
	if cause != nil {
		entry.lastError = cause.Error()
	}
	crossed := entry.errorCount >= s.cfg.MaxRetries && entry.status == StatusAvailable
	if crossed {
		entry.status = StatusUnavailable
		entry.fallbackActive = true
	}
	state := s.stateLocked(entry)
	s.mu.Unlock()

	s.metrics.IncCounter(ctx, "hmrc.health_check.total", 1, map[string]string{
		"service": name,
		"status":  "failure",
	})

	if crossed {
		s.publish(ctx, core.EventServiceDegraded, name, map[string]any{
			"fallback":    string(state.Fallback),
			"critical":    state.Critical,
			"limitations": state.Limitations,
		})
		s.logError(ctx, "service degraded, fallback active", map[string]any{
			"service":  name,
			"fallback": string(state.Fallback),
			"errors":   state.ErrorCount,
		})
	}
	return state, nil
}

// TriggerFallback forces a service into fallback mode.
func (s *Service) TriggerFallback(ctx context.Context, name string) (State, error) {
	if s == nil {
		return State{}, fmt.Errorf("health: service is not configured")
	}
	entry, err := s.entry(name)
	if err != nil {
		return State{}, err
	}
	s.mu.Lock()
	already := entry.fallbackActive
	entry.status = StatusUnavailable
	entry.fallbackActive = true
	state := s.stateLocked(entry)
	s.mu.Unlock()

	if !already {
		s.publish(ctx, core.EventServiceDegraded, name, map[string]any{
			"fallback": string(state.Fallback),
			"manual":   true,
		})
	}
	return state, nil
}

// RestoreService clears fallback mode and drains the queue.
func (s *Service) RestoreService(ctx context.Context, name string) (State, error) {
	if s == nil {
		return State{}, fmt.Errorf("health: service is not configured")
	}
	entry, err := s.entry(name)
	if err != nil {
		return State{}, err
	}
	s.mu.Lock()
	wasDown := entry.status == StatusUnavailable || entry.fallbackActive
	entry.status = StatusAvailable
	entry.errorCount = 0
	entry.lastError = ""
	entry.fallbackActive = false
	queued := entry.queue
	entry.queue = nil
	state := s.stateLocked(entry)
	s.mu.Unlock()

	if wasDown {
		s.drainQueue(ctx, name, queued)
		s.publish(ctx, core.EventServiceRecovered, name, map[string]any{
			"drained_ops": len(queued),
			"manual":      true,
		})
	}
	return state, nil
}

// QueueOperation defers work until the named service recovers. When the
// service is available the operation runs immediately.
func (s *Service) QueueOperation(ctx context.Context, name string, op QueuedOp) error {
	if s == nil {
		return fmt.Errorf("health: service is not configured")
	}
	if op == nil {
		return fmt.Errorf("health: operation is required")
	}
	entry, err := s.entry(name)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if entry.status == StatusUnavailable {
		entry.queue = append(entry.queue, op)
		depth := len(entry.queue)
		s.mu.Unlock()
		s.logInfo(ctx, "operation queued until recovery", map[string]any{
			"service":     name,
			"queue_depth": depth,
		})
		return nil
	}
	s.mu.Unlock()
	return op(ctx)
}

// IsAvailable reports whether the named service is currently up.
func (s *Service) IsAvailable(name string) bool {
	if s == nil {
		return false
	}
	entry, err := s.entry(name)
	if err != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return entry.status == StatusAvailable
}

// ServiceState returns the live state of one monitored service.
func (s *Service) ServiceState(name string) (State, error) {
	if s == nil {
		return State{}, fmt.Errorf("health: service is not configured")
	}
	entry, err := s.entry(name)
	if err != nil {
		return State{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked(entry), nil
}

// SystemHealth aggregates: critical if any critical service is down,
// degraded while any fallback is active, healthy otherwise.
func (s *Service) SystemHealth() SystemStatus {
	if s == nil {
		return SystemCritical
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	status := SystemHealthy
	for _, entry := range s.services {
		if entry.status == StatusUnavailable && entry.def.Critical {
			return SystemCritical
		}
		if entry.fallbackActive {
			status = SystemDegraded
		}
	}
	return status
}

// Snapshot lists all monitored service states sorted by name.
func (s *Service) Snapshot() []State {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]State, 0, len(s.services))
	for _, entry := range s.services {
		out = append(out, s.stateLocked(entry))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// CheckInterval exposes the configured probe cadence for job wiring.
func (s *Service) CheckInterval() time.Duration {
	if s == nil {
		return 0
	}
	return s.cfg.CheckInterval
}

func (s *Service) drainQueue(ctx context.Context, name string, queued []QueuedOp) {
	timeout := s.cfg.FallbackTimeout
	for _, op := range queued {
		opCtx := ctx
		cancel := func() {}
		if timeout > 0 {
			opCtx, cancel = context.WithTimeout(ctx, timeout)
		}
		if err := op(opCtx); err != nil {
			s.logError(ctx, "queued operation failed after recovery", map[string]any{
				"service": name,
				"error":   err.Error(),
			})
		}
		cancel()
	}
}

func (s *Service) entry(name string) (*serviceEntry, error) {
	name = strings.TrimSpace(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.services[name]
	if !ok {
		return nil, fmt.Errorf("health: unknown service %q", name)
	}
	return entry, nil
}

func (s *Service) stateLocked(entry *serviceEntry) State {
	return State{
		Definition:     entry.def,
		Status:         entry.status,
		ErrorCount:     entry.errorCount,
		FallbackActive: entry.fallbackActive,
		LastChecked:    entry.lastChecked,
		LastError:      entry.lastError,
		QueuedOps:      len(entry.queue),
	}
}

func (s *Service) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.services))
	for name := range s.services {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (s *Service) publish(ctx context.Context, eventName, serviceName string, payload map[string]any) {
	if s.bus == nil {
		return
	}
	if payload == nil {
		payload = map[string]any{}
	}
	payload["service"] = serviceName
	event := core.Event{
		ID:         s.idFn(),
		Name:       eventName,
		Source:     "health-service",
		OccurredAt: s.nowFn().UTC(),
		Payload:    payload,
	}
	if err := s.bus.Publish(ctx, event); err != nil {
		s.logError(ctx, "health event publish failed", map[string]any{
			"event": eventName,
			"error": err.Error(),
		})
	}
}

func (s *Service) logInfo(ctx context.Context, message string, fields map[string]any) {
	s.log(ctx, false, message, fields)
}

func (s *Service) logError(ctx context.Context, message string, fields map[string]any) {
	s.log(ctx, true, message, fields)
}

func (s *Service) log(ctx context.Context, isError bool, message string, fields map[string]any) {
	if s == nil || s.logger == nil {
		return
	}
	logger := s.logger
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	args := make([]any, 0, len(keys)*2)
	for _, key := range keys {
		args = append(args, key, fields[key])
	}
	if isError {
		logger.Error(message, args...)
		return
	}
	logger.Info(message, args...)
}
