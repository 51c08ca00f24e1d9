package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"github.com/upb/autonomy-orchestrator/models"
	"github.com/upb/autonomy-orchestrator/services"
	"github.com/upb/autonomy-orchestrator/services/proof"
	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"
)

// Request is what a handler receives for one claimed action
type Request struct {
	Action *models.Action
	Sender *proof.Sender
}

// Result is a handler's report of what it did
type Result struct {
	Message        string
	Sent           bool
	DryRun         bool
	ArtifactRef    string
	ArtifactSHA256 string
}

// Handler executes one action type
type Handler interface {
	Handle(ctx context.Context, req *Request) (*Result, error)
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, req *Request) (*Result, error)

// Handle calls f
func (f HandlerFunc) Handle(ctx context.Context, req *Request) (*Result, error) {
	return f(ctx, req)
}

// Failure describes where a failed attempt left an action
type Failure struct {
	Cause    error
	Attempts int
	// NextAttempt is nil once the action will not run again
	NextAttempt *time.Time
}

// FailureRecorder is implemented by handlers that mirror an action's retry
// state onto records of their own
type FailureRecorder interface {
	RecordFailure(ctx context.Context, action *models.Action, f Failure) error
}

// Registration binds an action type to its handler
type Registration struct {
	Handler Handler
	// Schema is an optional JSON schema for the payload
	Schema string
	// Channel extracts the send channel from a payload; nil means the action
	// never sends and bypasses the safety gate
	Channel func(payload json.RawMessage) string
}

type entry struct {
	handler Handler
	schema  *gojsonschema.Schema
	channel func(payload json.RawMessage) string
}

// Registry maps the closed set of action types to handlers
type Registry struct {
	entries map[models.ActionType]*entry
	logger  *zap.Logger
}

// PanicError is returned when a handler panics
type PanicError struct {
	Value interface{}
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("handler panic: %v", e.Value)
}

// NewRegistry creates an empty Registry
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		entries: make(map[models.ActionType]*entry),
		logger:  logger,
	}
}

// Register binds t to reg. Each type may be registered once.
func (r *Registry) Register(t models.ActionType, reg Registration) error {
	if reg.Handler == nil {
		return fmt.Errorf("action type %s: nil handler", t)
	}
	if _, exists := r.entries[t]; exists {
		return fmt.Errorf("action type %s already registered", t)
	}

	e := &entry{handler: reg.Handler, channel: reg.Channel}
	if strings.TrimSpace(reg.Schema) != "" {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(reg.Schema))
		if err != nil {
			return fmt.Errorf("action type %s: invalid payload schema: %w", t, err)
		}
		e.schema = schema
	}
	r.entries[t] = e
	return nil
}

// Validate checks that exactly the known action types are registered
func (r *Registry) Validate() error {
	var problems []string
	known := make(map[models.ActionType]bool, len(models.KnownActionTypes))
	for _, t := range models.KnownActionTypes {
		known[t] = true
		if _, ok := r.entries[t]; !ok {
			problems = append(problems, fmt.Sprintf("no handler for %s", t))
		}
	}
	for t := range r.entries {
		if !known[t] {
			problems = append(problems, fmt.Sprintf("handler registered for unknown type %s", t))
		}
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return services.NewDomainError(services.ErrorTypeConfiguration, "invalid handler registry: "+strings.Join(problems, "; "), nil)
	}
	return nil
}

// Types returns the registered action types in sorted order
func (r *Registry) Types() []models.ActionType {
	out := make([]models.ActionType, 0, len(r.entries))
	for t := range r.entries {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ValidatePayload checks payload against the type's schema
func (r *Registry) ValidatePayload(t models.ActionType, payload json.RawMessage) error {
	e, ok := r.entries[t]
	if !ok {
		return services.ErrUnknownActionType.Clone().
			WithDetail("action_type", string(t))
	}
	if e.schema == nil {
		return nil
	}

	doc := strings.TrimSpace(string(payload))
	if doc == "" {
		doc = "{}"
	}
	res, err := e.schema.Validate(gojsonschema.NewStringLoader(doc))
	if err != nil {
		return services.WrapValidation("payload is not valid JSON", err)
	}
	if res.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(res.Errors()))
	for _, item := range res.Errors() {
		msgs = append(msgs, item.String())
	}
	return services.ErrInvalidPayload.Clone().
		WithDetail("action_type", string(t)).
		WithDetail("errors", msgs)
}

// ChannelOf returns the send channel of an action, or "" when it never sends
func (r *Registry) ChannelOf(action *models.Action) string {
	e, ok := r.entries[action.ActionType]
	if !ok || e.channel == nil {
		return ""
	}
	return e.channel(action.Payload)
}

// Dispatch runs the action's handler. Panics are recovered and returned as
// *PanicError so one bad action cannot take down the tick.
func (r *Registry) Dispatch(ctx context.Context, req *Request) (res *Result, err error) {
	e, ok := r.entries[req.Action.ActionType]
	if !ok {
		return nil, Permanent(fmt.Errorf("no handler registered for %s", req.Action.ActionType))
	}

	defer func() {
		if v := recover(); v != nil {
			r.logger.Error("action handler panicked",
				zap.Int64("action_id", req.Action.ID),
				zap.String("action_type", string(req.Action.ActionType)),
				zap.Any("panic", v))
			res = nil
			err = &PanicError{Value: v, Stack: string(debug.Stack())}
		}
	}()

	res, err = e.handler.Handle(ctx, req)
	if err == nil && res == nil {
		res = &Result{}
	}
	return res, err
}

// RecordFailure passes f to the action's handler when it implements
// FailureRecorder
func (r *Registry) RecordFailure(ctx context.Context, action *models.Action, f Failure) error {
	e, ok := r.entries[action.ActionType]
	if !ok {
		return nil
	}
	rec, ok := e.handler.(FailureRecorder)
	if !ok {
		return nil
	}
	return rec.RecordFailure(ctx, action, f)
}

// permanentError marks an error as not worth retrying
type permanentError struct {
	err error
}

func (e *permanentError) Error() string   { return e.err.Error() }
func (e *permanentError) Unwrap() error   { return e.err }
func (e *permanentError) Permanent() bool { return true }

// Permanent wraps err so the queue moves the action straight to DLQ
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err should skip retries. Validation failures
// are always permanent.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	var p interface{ Permanent() bool }
	if errors.As(err, &p) && p.Permanent() {
		return true
	}
	return services.IsValidationError(err)
}
