package bridge

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/dshills/cmdcenter/internal/failure"
	"github.com/dshills/cmdcenter/internal/hostos"
	"github.com/dshills/cmdcenter/internal/plugin"
	"github.com/dshills/cmdcenter/internal/store"
)

// Store is the persistence the bridge exposes.
type Store interface {
	GlobalSetting(ctx context.Context, key string) (string, error)
	SetGlobalSetting(ctx context.Context, key, value string) error
	PluginSetting(ctx context.Context, prefix, key string) (string, error)
	PluginSettings(ctx context.Context, prefix string) (map[string]string, error)
	SetPluginSetting(ctx context.Context, prefix, key, value string) error

	Run(ctx context.Context, query string, args ...any) (store.Result, error)
	All(ctx context.Context, query string, args ...any) ([]store.Row, error)
	Get(ctx context.Context, query string, args ...any) (store.Row, error)

	ListTables(ctx context.Context) ([]string, error)
	TableContent(ctx context.Context, table string) ([]store.Row, error)
	DropTable(ctx context.Context, table string) error
	DeleteRow(ctx context.Context, table, rowID string) error
}

// Plugins is the current plugin set.
type Plugins interface {
	PrefixSource
	Lookup(id string) (*plugin.Descriptor, bool)
	Descriptors() []*plugin.Descriptor
}

// Services calls plugin backend modules.
type Services interface {
	Call(ctx context.Context, pluginID, method string, params any) (any, error)
	Has(pluginID string) bool
}

// Provisioner recreates a plugin's tables.
type Provisioner interface {
	Regenerate(ctx context.Context, schema store.Schema) error
}

// EventSink delivers events to connected surfaces.
type EventSink interface {
	Broadcast(ev Event)
	Send(pluginID, channel string, payload any) error
}

// Deps are the components the bridge routes to.
type Deps struct {
	Store       Store
	Plugins     Plugins
	Services    Services
	Provisioner Provisioner
	Host        hostos.Host
	Events      EventSink
}

type handlerFunc func(ctx context.Context, p payload) (any, error)

// Bridge dispatches requests from surfaces to host components.
type Bridge struct {
	deps     Deps
	guard    *ScopeGuard
	handlers map[Op]handlerFunc

	logger  *zap.Logger
	metrics *Metrics
	tracer  trace.Tracer
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the bridge logger.
func WithLogger(logger *zap.Logger) Option {
	return func(b *Bridge) {
		b.logger = logger
	}
}

// WithMetrics records every dispatch in m.
func WithMetrics(m *Metrics) Option {
	return func(b *Bridge) {
		b.metrics = m
	}
}

// WithTracer sets the tracer used for dispatch spans.
func WithTracer(t trace.Tracer) Option {
	return func(b *Bridge) {
		b.tracer = t
	}
}

// New creates a bridge over deps.
func New(deps Deps, opts ...Option) *Bridge {
	b := &Bridge{
		deps:   deps,
		guard:  NewScopeGuard(deps.Plugins),
		logger: zap.NewNop(),
		tracer: otel.Tracer("github.com/dshills/cmdcenter/internal/bridge"),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.handlers = b.routes()
	return b
}

// Guard returns the scope guard applied to plugin SQL.
func (b *Bridge) Guard() *ScopeGuard { return b.guard }

// Dispatch serves one request. It never panics and never returns an error:
// every failure is reported in the Response.
func (b *Bridge) Dispatch(ctx context.Context, req Request) Response {
	start := time.Now()

	ctx, span := b.tracer.Start(ctx, "bridge "+req.Op.String(),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("bridge.op", req.Op.String()),
			attribute.String("bridge.request_id", req.ID),
		))
	defer span.End()

	h, known := b.handlers[req.Op]
	metricOp := req.Op
	if !known {
		metricOp = "unknown"
	}

	var (
		result any
		err    error
	)
	if !known {
		err = failure.New(failure.InvalidRequest, "dispatch", req.Op.String(), "unknown op %q", req.Op)
	} else {
		result, err = b.invoke(ctx, h, req)
	}

	if err != nil {
		resp := failed(req.ID, err)
		b.logFailure(req, resp.Error, err)
		span.SetStatus(codes.Error, resp.Error.Message)
		span.SetAttributes(attribute.String("bridge.error_code", resp.Error.Code))
		b.metrics.RecordDispatch(metricOp, time.Since(start), resp.Error.Code)
		return resp
	}

	b.metrics.RecordDispatch(metricOp, time.Since(start), "")
	return success(req.ID, result)
}

// invoke runs a handler, converting a panic into an Internal failure.
func (b *Bridge) invoke(ctx context.Context, h handlerFunc, req Request) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := make([]byte, 4096)
			n := runtime.Stack(stack, false)
			b.logger.Error("bridge handler panic",
				zap.String("op", req.Op.String()),
				zap.String("id", req.ID),
				zap.String("panic", fmt.Sprint(r)),
				zap.ByteString("stack", stack[:n]))
			b.metrics.RecordPanic(req.Op)
			result = nil
			err = failure.New(failure.Internal, req.Op.String(), "", "handler panic: %v", r)
		}
	}()
	return h(ctx, parsePayload(req))
}

func (b *Bridge) logFailure(req Request, body *ErrorBody, err error) {
	fields := []zap.Field{
		zap.String("op", req.Op.String()),
		zap.String("id", req.ID),
		zap.String("code", body.Code),
		zap.Error(err),
	}
	switch failure.Code(body.Code) {
	case failure.ServiceNotFound, failure.MethodNotFound:
		b.logger.Debug("bridge request failed", fields...)
	case failure.Internal:
		b.logger.Error("bridge request failed", fields...)
	default:
		b.logger.Warn("bridge request failed", fields...)
	}
}

type callerKey struct{}

// WithCaller binds ctx to the plugin whose surface sent the request.
// Requests from a bound surface may only name that plugin.
func WithCaller(ctx context.Context, pluginID string) context.Context {
	if pluginID == "" {
		return ctx
	}
	return context.WithValue(ctx, callerKey{}, pluginID)
}

// CallerFrom returns the plugin bound to ctx, if any.
func CallerFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(callerKey{}).(string)
	return id, ok
}
