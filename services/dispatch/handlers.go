package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/upb/autonomy-orchestrator/internal/clock"
	"github.com/upb/autonomy-orchestrator/internal/redact"
	"github.com/upb/autonomy-orchestrator/models"
	"github.com/upb/autonomy-orchestrator/repositories"
	"github.com/upb/autonomy-orchestrator/services"
	"github.com/upb/autonomy-orchestrator/services/proof"
	"go.uber.org/zap"
)

const (
	distributionSendSchema = `{
  "type": "object",
  "required": ["job_key", "campaign_id", "lead_id", "channel", "email"],
  "properties": {
    "job_key": {"type": "string", "minLength": 1},
    "campaign_id": {"type": "integer", "minimum": 1},
    "lead_id": {"type": "integer", "minimum": 1},
    "channel": {"type": "string", "minLength": 1},
    "step_index": {"type": "integer", "minimum": 0},
    "email": {"type": "string", "minLength": 3}
  }
}`

	outreachEmailSchema = `{
  "type": "object",
  "required": ["to", "subject"],
  "properties": {
    "to": {"type": "string", "minLength": 3},
    "subject": {"type": "string", "minLength": 1},
    "body": {"type": "string"},
    "webhook_url": {"type": "string"}
  }
}`

	noopProbeSchema = `{"type": "object"}`

	// EmailChannel is the channel outreach_email actions count against
	EmailChannel = "email"
)

// OutreachEmailPayload is the payload of an outreach_email action
type OutreachEmailPayload struct {
	To         string `json:"to" validate:"required,email"`
	Subject    string `json:"subject" validate:"required"`
	Body       string `json:"body"`
	WebhookURL string `json:"webhook_url,omitempty" validate:"omitempty,url"`
}

// Deps are the collaborators the built-in handlers need
type Deps struct {
	Jobs   repositories.DistributionJobRepository
	Clock  clock.Clock
	Logger *zap.Logger
}

// NewDefaultRegistry registers a handler for every known action type
func NewDefaultRegistry(deps Deps) (*Registry, error) {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	deps.Clock = clock.Or(deps.Clock)

	r := NewRegistry(deps.Logger)
	v := validator.New()

	regs := map[models.ActionType]Registration{
		models.ActionTypeDistributionSend: {
			Handler: &distributionSend{jobs: deps.Jobs, validate: v, clock: deps.Clock, logger: deps.Logger},
			Schema:  distributionSendSchema,
			Channel: distributionChannel,
		},
		models.ActionTypeOutreachEmail: {
			Handler: &outreachEmail{validate: v},
			Schema:  outreachEmailSchema,
			Channel: func(json.RawMessage) string { return EmailChannel },
		},
		models.ActionTypeNoopProbe: {
			Handler: HandlerFunc(noopProbe),
			Schema:  noopProbeSchema,
		},
	}
	for t, reg := range regs {
		if err := r.Register(t, reg); err != nil {
			return nil, err
		}
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

func distributionChannel(payload json.RawMessage) string {
	var p struct {
		Channel string `json:"channel"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return ""
	}
	return p.Channel
}

func decodePayload(raw json.RawMessage, v *validator.Validate, dst interface{}) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return Permanent(services.WrapValidation("malformed payload", err))
	}
	if err := v.Struct(dst); err != nil {
		return Permanent(services.WrapValidation("invalid payload", err))
	}
	return nil
}

// distributionSend delivers one campaign step and keeps its job row in step
type distributionSend struct {
	jobs     repositories.DistributionJobRepository
	validate *validator.Validate
	clock    clock.Clock
	logger   *zap.Logger
}

func (h *distributionSend) Handle(ctx context.Context, req *Request) (*Result, error) {
	var p models.DistributionPayload
	if err := decodePayload(req.Action.Payload, h.validate, &p); err != nil {
		return nil, err
	}

	job, err := h.jobs.GetByKey(ctx, p.JobKey)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, Permanent(fmt.Errorf("distribution job %s not found", p.JobKey))
		}
		return nil, services.WrapInternal("failed to load distribution job", err)
	}
	if job.Status == models.DistributionJobSent {
		return &Result{Message: fmt.Sprintf("job %s already sent", p.JobKey)}, nil
	}

	res, sendErr := req.Sender.Send(ctx, &proof.Message{
		ActionID:       req.Action.ID,
		IdempotencyKey: p.JobKey,
		Channel:        p.Channel,
		Recipient:      p.Email,
		Subject:        fmt.Sprintf("Campaign %d step %d", p.CampaignID, p.StepIndex),
	})
	if sendErr != nil {
		// the job row follows the queue's verdict in RecordFailure
		return nil, sendErr
	}

	if res.DryRun {
		return &Result{
			Message:        fmt.Sprintf("dry-run %s send for job %s", p.Channel, p.JobKey),
			DryRun:         true,
			ArtifactRef:    res.ArtifactRef,
			ArtifactSHA256: res.ArtifactSHA256,
		}, nil
	}

	if err := h.jobs.MarkSent(ctx, p.JobKey, h.clock.Now()); err != nil {
		h.logger.Error("failed to mark distribution job sent", zap.String("job_key", p.JobKey), zap.Error(err))
	}
	return &Result{
		Message:        fmt.Sprintf("sent %s for job %s", p.Channel, p.JobKey),
		Sent:           true,
		ArtifactRef:    res.ArtifactRef,
		ArtifactSHA256: res.ArtifactSHA256,
	}, nil
}

// RecordFailure copies the queue's retry decision onto the job: QUEUED with
// next_retry_at while attempts remain, FAILED once the action is dead-lettered
func (h *distributionSend) RecordFailure(ctx context.Context, action *models.Action, f Failure) error {
	var p models.DistributionPayload
	if err := json.Unmarshal(action.Payload, &p); err != nil || p.JobKey == "" {
		return nil
	}
	msg := "unknown error"
	if f.Cause != nil {
		msg = redact.String(f.Cause.Error())
	}
	err := h.jobs.MarkFailed(ctx, p.JobKey, msg, f.NextAttempt, h.clock.Now())
	if errors.Is(err, repositories.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to mark distribution job %s failed: %w", p.JobKey, err)
	}
	return nil
}

type outreachEmail struct {
	validate *validator.Validate
}

func (h *outreachEmail) Handle(ctx context.Context, req *Request) (*Result, error) {
	var p OutreachEmailPayload
	if err := decodePayload(req.Action.Payload, h.validate, &p); err != nil {
		return nil, err
	}

	res, err := req.Sender.Send(ctx, &proof.Message{
		ActionID:       req.Action.ID,
		IdempotencyKey: req.Action.IdempotencyKey,
		Channel:        EmailChannel,
		Destination:    p.WebhookURL,
		Recipient:      p.To,
		Subject:        p.Subject,
		Body:           p.Body,
	})
	if err != nil {
		return nil, err
	}

	msg := "sent email to " + p.To
	if res.DryRun {
		msg = "dry-run email to " + p.To
	}
	return &Result{
		Message:        msg,
		Sent:           res.Sent,
		DryRun:         res.DryRun,
		ArtifactRef:    res.ArtifactRef,
		ArtifactSHA256: res.ArtifactSHA256,
	}, nil
}

func noopProbe(ctx context.Context, req *Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Result{Message: fmt.Sprintf("probe %s ok", req.Action.IdempotencyKey)}, nil
}
