package proof

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

const maxSummaryLen = 200

// Message is one outbound send produced by an action handler
type Message struct {
	ActionID       int64  `json:"action_id"`
	IdempotencyKey string `json:"idempotency_key"`
	Channel        string `json:"channel"`
	Destination    string `json:"destination"` // webhook URL; empty uses the transport default
	Recipient      string `json:"recipient"`
	Subject        string `json:"subject,omitempty"`
	Body           string `json:"body,omitempty"`
}

// Delivery is the transport's receipt for a real send
type Delivery struct {
	Ref string
}

// Transport performs real outbound sends
type Transport interface {
	Deliver(ctx context.Context, destination string, msg *Message) (*Delivery, error)
	DefaultDestination() string
}

// Result describes what the Sender did with a message
type Result struct {
	Sent           bool
	DryRun         bool
	AttemptID      int64
	ArtifactRef    string
	ArtifactSHA256 string
}

// Sender is handed to action handlers. In proof mode it records instead of
// sending, and with the egress lock on it refuses destinations outside the
// allow-list. Every outcome is written to the Ledger.
type Sender struct {
	ledger    *Ledger
	guard     *EgressGuard
	transport Transport
	proofMode bool
	logger    *zap.Logger
}

// NewSender binds a Sender to the proof mode read for the current action
func NewSender(ledger *Ledger, guard *EgressGuard, transport Transport, proofMode bool, logger *zap.Logger) *Sender {
	return &Sender{
		ledger:    ledger,
		guard:     guard,
		transport: transport,
		proofMode: proofMode,
		logger:    logger,
	}
}

// ProofMode reports whether sends are simulated
func (s *Sender) ProofMode() bool {
	return s.proofMode
}

// Send delivers msg, or simulates it in proof mode
func (s *Sender) Send(ctx context.Context, msg *Message) (*Result, error) {
	destination := msg.Destination
	if destination == "" && s.transport != nil {
		destination = s.transport.DefaultDestination()
	}

	digest, err := Digest(msg)
	if err != nil {
		return nil, err
	}
	attempt := Attempt{
		ActionID:    msg.ActionID,
		Channel:     msg.Channel,
		Destination: destination,
		Summary:     summarize(msg),
	}

	if err := s.guard.Check(destination); err != nil {
		attempt.BlockedReason = BlockedEgress
		if _, recErr := s.ledger.RecordSendAttempt(ctx, attempt); recErr != nil {
			return nil, errors.Join(err, recErr)
		}
		s.logger.Warn("send blocked by egress lock",
			zap.Int64("action_id", msg.ActionID),
			zap.String("destination", destination))
		return nil, err
	}

	if s.proofMode {
		row, err := s.ledger.RecordSendAttempt(ctx, attempt)
		if err != nil {
			return nil, err
		}
		return &Result{
			DryRun:         true,
			AttemptID:      row.ID,
			ArtifactRef:    fmt.Sprintf("proof://send-attempts/%d", row.ID),
			ArtifactSHA256: digest,
		}, nil
	}

	if s.transport == nil {
		return nil, fmt.Errorf("no send transport configured for channel %q", msg.Channel)
	}

	delivery, sendErr := s.transport.Deliver(ctx, destination, msg)
	attempt.ActuallySent = sendErr == nil
	if sendErr != nil {
		attempt.Summary = truncate("delivery failed: "+sendErr.Error()+"; "+attempt.Summary, maxSummaryLen)
	}
	row, err := s.ledger.RecordSendAttempt(ctx, attempt)
	if sendErr != nil {
		return nil, sendErr
	}
	if err != nil {
		// the send happened; losing the ledger row must not trigger a resend
		s.logger.Error("failed to record delivered send", zap.Int64("action_id", msg.ActionID), zap.Error(err))
		return &Result{Sent: true, ArtifactRef: delivery.Ref, ArtifactSHA256: digest}, nil
	}
	return &Result{
		Sent:           true,
		AttemptID:      row.ID,
		ArtifactRef:    delivery.Ref,
		ArtifactSHA256: digest,
	}, nil
}

// Digest returns the hex sha256 of the message's canonical JSON form
func Digest(msg *Message) (string, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to encode message: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

func summarize(msg *Message) string {
	s := fmt.Sprintf("%s to %s", msg.Channel, msg.Recipient)
	if msg.Subject != "" {
		s += ": " + msg.Subject
	}
	return truncate(s, maxSummaryLen)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
