/*
intake.go - Boundary adapter between ticket creation and routing

PURPOSE:
  Runs right before a ticket is durably recorded. If the ticket pays with a
  qualifying cash method, it asks the Router for a company and stamps it on
  the ticket; then it lets persistence proceed.

FAIL OPEN:
  Routing must never block a sale. Every failure inside routing (rule
  lookup, timezone lookup, aggregation) is logged and the ticket is
  persisted without a company, so the order store applies its default.
  Only errors from persist itself are returned to the caller.

NOT ROUTED WHEN:
  - no live rule exists for the ticket's point of sale (routing disabled)
  - the rule's effective cash method set is empty
  - no payment line uses a qualifying method (malformed lines never do)

SERIALIZATION:
  With a Sequencer configured, the rule's slot is held from before the
  totals are read until persist returns, so concurrent tickets of the same
  rule observe each other. Failing to obtain the slot falls back to the
  unserialized path.
*/
package routing

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// PersistFunc durably records a ticket.
type PersistFunc func(ctx context.Context, t *Ticket) error

type Outcome struct {
	Routed   bool
	Reason   Reason
	RuleID   RuleID
	Decision *Decision
}

type Intake struct {
	Rules     RuleStore
	Router    *Router
	Timezones TimezoneSource // optional
	Sequencer Sequencer      // optional
	Logger    logrus.FieldLogger
	Now       func() time.Time
}

func NewIntake(rules RuleStore, router *Router, logger logrus.FieldLogger) *Intake {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Intake{
		Rules:  rules,
		Router: router,
		Logger: logger,
		Now:    time.Now,
	}
}

// Process routes t and then persists it.
func (in *Intake) Process(ctx context.Context, t *Ticket, persist PersistFunc) (Outcome, error) {
	outcome, release := in.Route(ctx, t)
	defer release()

	if err := persist(ctx, t); err != nil {
		return outcome, err
	}
	return outcome, nil
}

// Route assigns a company to t when applicable. The returned release must
// be called once the ticket is persisted; it is a no-op unless a Sequencer
// slot is held.
func (in *Intake) Route(ctx context.Context, t *Ticket) (Outcome, func()) {
	noop := func() {}
	now := in.now()
	if t.DateOrder.IsZero() {
		t.DateOrder = now
	}

	log := in.Logger.WithFields(logrus.Fields{
		"ticket_id": t.ID,
		"pos_id":    t.PointOfSaleID,
	})

	rule, err := in.Rules.ActiveRule(ctx, t.PointOfSaleID)
	if err != nil {
		log.WithError(err).Warn("rule lookup failed; ticket keeps default company")
		return Outcome{Reason: ReasonRoutingFailed}, noop
	}
	if rule == nil {
		return Outcome{Reason: ReasonNoRule}, noop
	}
	log = log.WithField("rule_id", rule.ID)

	methods, err := in.Router.Aggregator.CashMethods(ctx, *rule)
	if err != nil {
		log.WithError(err).Warn("cash method lookup failed; ticket keeps default company")
		return Outcome{Reason: ReasonRoutingFailed, RuleID: rule.ID}, noop
	}
	if methods.Empty() {
		return Outcome{Reason: ReasonNoCashMethods, RuleID: rule.ID}, noop
	}
	if !HasCashPayment(t.PaymentLines, methods) {
		return Outcome{Reason: ReasonNoCashPayment, RuleID: rule.ID}, noop
	}

	release := in.acquire(ctx, rule.ID, log)

	window := ResolveWindow(in.timezone(ctx, t, log), now)
	decision, err := in.Router.decideWith(ctx, *rule, methods, t.Amount, window)
	if err != nil {
		release()
		log.WithError(err).Warn("routing decision failed; ticket keeps default company")
		return Outcome{Reason: ReasonRoutingFailed, RuleID: rule.ID}, noop
	}

	t.CompanyID = decision.CompanyID
	log.WithFields(logrus.Fields{
		"company_id": decision.CompanyID,
		"reason":     decision.Reason,
	}).Info("cash ticket routed")

	return Outcome{Routed: true, Reason: decision.Reason, RuleID: rule.ID, Decision: &decision}, release
}

func (in *Intake) acquire(ctx context.Context, rule RuleID, log logrus.FieldLogger) func() {
	if in.Sequencer == nil {
		return func() {}
	}
	release, err := in.Sequencer.Acquire(ctx, rule)
	if err != nil {
		log.WithError(err).Warn("could not serialize routing decision; proceeding without lock")
		return func() {}
	}
	return release
}

func (in *Intake) timezone(ctx context.Context, t *Ticket, log logrus.FieldLogger) string {
	if in.Timezones == nil {
		return ""
	}
	tz, err := in.Timezones.Timezone(ctx, t.UserID, t.PointOfSaleID)
	if err != nil {
		log.WithError(err).Debug("timezone lookup failed; using UTC")
		return ""
	}
	return tz
}

func (in *Intake) now() time.Time {
	if in.Now == nil {
		return time.Now()
	}
	return in.Now()
}
