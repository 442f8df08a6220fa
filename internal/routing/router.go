package routing

import (
	"context"
	"errors"
	"time"

	"github.com/atticusjxn/FlynnAIapp-sub006/internal/schedule"
	"github.com/atticusjxn/FlynnAIapp-sub006/pkg/logging"
)

// Route is what happens to an inbound call at the provider boundary.
type Route string

const (
	RouteIntake    Route = "intake"
	RouteVoicemail Route = "voicemail"
)

// Reason records why a route was chosen; persisted on the call row.
type Reason string

const (
	ReasonSmartKnown      Reason = "smart_known"
	ReasonSmartUnknown    Reason = "smart_unknown"
	ReasonSmartAfterHours Reason = "smart_after_hours"
	ReasonAlwaysIntake    Reason = "always_intake"
	ReasonAlwaysVoicemail Reason = "always_voicemail"
	ReasonEvaluationError Reason = "evaluation_error"
)

// Mode is the per-user routing setting.
type Mode string

const (
	ModeAlwaysIntake    Mode = "always_intake"
	ModeAlwaysVoicemail Mode = "always_voicemail"
	ModeSmartAuto       Mode = "smart_auto"
)

// ErrNumberUnclaimed is returned by the directory when no user owns the
// dialed number.
var ErrNumberUnclaimed = errors.New("routing: number unclaimed")

// Owner describes the user who claimed the dialed number.
type Owner struct {
	UserID       string
	OrgID        string
	Mode         Mode
	AfterHours   Route
	BusinessName string
}

// Directory provides the lookups the router needs. Implementations must be
// side-effect free; the caller persists the decision.
type Directory interface {
	// OwnerOfNumber resolves the dialed number to its owning user.
	// Returns ErrNumberUnclaimed when nobody owns it.
	OwnerOfNumber(ctx context.Context, toNumber string) (*Owner, error)
	// KnownCaller reports whether the caller has at least one prior
	// completed call or job with this owner.
	KnownCaller(ctx context.Context, ownerUserID, fromNumber string) (bool, error)
	// HoursFor returns the org's weekly business-hours schedule.
	HoursFor(ctx context.Context, orgID string) (*schedule.Weekly, error)
}

// Decision is the router output. It contains everything the webhook handler
// needs to respond and to persist the call row.
type Decision struct {
	Route       Route
	Reason      Reason
	Mode        Mode
	Owner       *Owner
	CallerKnown bool
	AfterHours  bool
	// Fallback marks decisions produced by the error path rather than the
	// configured rules.
	Fallback bool
}

// Router decides whether an inbound call is answered live by the AI
// receptionist or sent to voicemail.
type Router struct {
	dir    Directory
	logger *logging.Logger
}

func NewRouter(dir Directory, logger *logging.Logger) *Router {
	if logger == nil {
		logger = logging.Default()
	}
	return &Router{dir: dir, logger: logger}
}

// Decide is a total function: it always returns a usable route. Any error
// while evaluating the configured rules collapses to voicemail, the safe
// default under uncertainty.
func (r *Router) Decide(ctx context.Context, toNumber, fromNumber string, now time.Time) Decision {
	owner, err := r.dir.OwnerOfNumber(ctx, toNumber)
	if err != nil {
		if errors.Is(err, ErrNumberUnclaimed) {
			// Unclaimed numbers are never auto-answered.
			return Decision{Route: RouteVoicemail, Reason: ReasonAlwaysVoicemail}
		}
		return r.fallback(err, "owner lookup failed", toNumber)
	}

	switch owner.Mode {
	case ModeAlwaysIntake:
		return Decision{Route: RouteIntake, Reason: ReasonAlwaysIntake, Mode: owner.Mode, Owner: owner}
	case ModeAlwaysVoicemail:
		return Decision{Route: RouteVoicemail, Reason: ReasonAlwaysVoicemail, Mode: owner.Mode, Owner: owner}
	case ModeSmartAuto:
		return r.decideSmart(ctx, owner, fromNumber, now)
	default:
		return r.fallback(errors.New("unknown routing mode"), "unknown routing mode", toNumber)
	}
}

func (r *Router) decideSmart(ctx context.Context, owner *Owner, fromNumber string, now time.Time) Decision {
	hours, err := r.dir.HoursFor(ctx, owner.OrgID)
	if err != nil {
		return r.fallback(err, "hours lookup failed", owner.UserID)
	}
	if hours != nil {
		open, err := hours.IsOpen(now)
		if err != nil {
			return r.fallback(err, "hours evaluation failed", owner.UserID)
		}
		if !open {
			after := owner.AfterHours
			if after == "" {
				after = RouteVoicemail
			}
			return Decision{
				Route:      after,
				Reason:     ReasonSmartAfterHours,
				Mode:       owner.Mode,
				Owner:      owner,
				AfterHours: true,
			}
		}
	}

	known, err := r.dir.KnownCaller(ctx, owner.UserID, fromNumber)
	if err != nil {
		return r.fallback(err, "caller lookup failed", owner.UserID)
	}
	if known {
		// Returning customers leave a normal voicemail; the receptionist
		// adds no value for an already-qualified contact.
		return Decision{
			Route:       RouteVoicemail,
			Reason:      ReasonSmartKnown,
			Mode:        owner.Mode,
			Owner:       owner,
			CallerKnown: true,
		}
	}
	// First-time callers are engaged live to qualify the lead.
	return Decision{Route: RouteIntake, Reason: ReasonSmartUnknown, Mode: owner.Mode, Owner: owner}
}

func (r *Router) fallback(err error, msg, subject string) Decision {
	r.logger.Error("routing evaluation failed, falling back to voicemail",
		"error", err,
		"detail", msg,
		"subject", subject,
	)
	return Decision{Route: RouteVoicemail, Reason: ReasonEvaluationError, Fallback: true}
}
