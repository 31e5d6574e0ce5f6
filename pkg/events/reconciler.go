package events

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	ebtypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stewardhq/steward/pkg/awsapi"
)

// DefaultRulePrefix is prepended to the rule owner name to derive the rule
// identity. Rule names are never freely chosen.
const DefaultRulePrefix = "steward-"

// ruleSpec is the desired state of a rule, reduced to the fields this
// reconciler owns. Name is implied by derivation.
type ruleSpec struct {
	State              ebtypes.RuleState
	EventPattern       string
	ScheduleExpression string
}

// Reconciler converges EventBridge rules and their delivery targets to the
// state a descriptor declares.
type Reconciler struct {
	client awsapi.EventBridgeAPI
	logger zerolog.Logger
	prefix string
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithRulePrefix overrides the rule name prefix.
func WithRulePrefix(prefix string) Option {
	return func(r *Reconciler) { r.prefix = prefix }
}

// NewReconciler creates an event binding reconciler.
func NewReconciler(client awsapi.EventBridgeAPI, logger zerolog.Logger, opts ...Option) *Reconciler {
	r := &Reconciler{
		client: client,
		logger: logger.With().Str("component", "event-bindings").Logger(),
		prefix: DefaultRulePrefix,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RuleName derives the rule identity for the given owner. The derivation
// is idempotent: an already-prefixed name passes through unchanged.
func (r *Reconciler) RuleName(owner string) string {
	if strings.HasPrefix(owner, r.prefix) {
		return owner
	}
	return r.prefix + owner
}

// describe fetches remote rule state, mapping absence to nil.
func (r *Reconciler) describe(ctx context.Context, ruleName string) (*eventbridge.DescribeRuleOutput, error) {
	out, err := r.client.DescribeRule(ctx, &eventbridge.DescribeRuleInput{
		Name: aws.String(ruleName),
	})
	if err != nil {
		if awsapi.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("describe rule %s: %w", ruleName, err)
	}
	return out, nil
}

// delta reports whether the existing rule differs from desired on any of
// the fields this reconciler owns. Remote-only fields are ignored.
func delta(existing *eventbridge.DescribeRuleOutput, desired ruleSpec) bool {
	if existing.State != desired.State {
		return true
	}
	if aws.ToString(existing.EventPattern) != desired.EventPattern {
		return true
	}
	if aws.ToString(existing.ScheduleExpression) != desired.ScheduleExpression {
		return true
	}
	return false
}

// Bind converges the rule and its delivery target for the descriptor. The
// target identifier is the published function alias ARN; binding to the
// alias rather than a pinned version is what lets later deploys move
// traffic without rewriting the rule. Returns true when a remote mutation
// was issued.
func (r *Reconciler) Bind(ctx context.Context, d Descriptor, targetARN, owner string) (bool, error) {
	pattern, err := d.Pattern()
	if err != nil {
		return false, err
	}

	desired := ruleSpec{
		State:              ebtypes.RuleStateEnabled,
		EventPattern:       pattern,
		ScheduleExpression: d.Schedule,
	}
	ruleName := r.RuleName(owner)
	logger := r.logger.With().Str("rule", ruleName).Logger()

	existing, err := r.describe(ctx, ruleName)
	if err != nil {
		return false, err
	}

	changed := false
	if existing == nil || delta(existing, desired) {
		in := &eventbridge.PutRuleInput{
			Name:  aws.String(ruleName),
			State: desired.State,
		}
		if desired.EventPattern != "" {
			in.EventPattern = aws.String(desired.EventPattern)
		}
		if desired.ScheduleExpression != "" {
			in.ScheduleExpression = aws.String(desired.ScheduleExpression)
		}
		if _, err := r.client.PutRule(ctx, in); err != nil {
			return false, fmt.Errorf("put rule %s: %w", ruleName, err)
		}
		if existing == nil {
			logger.Debug().Stringer("source", d).Msg("Created event rule")
		} else {
			logger.Debug().Stringer("source", d).Msg("Updated event rule")
		}
		changed = true
	}

	targetChanged, err := r.reconcileTarget(ctx, ruleName, targetARN)
	if err != nil {
		return changed, err
	}
	return changed || targetChanged, nil
}

// reconcileTarget ensures exactly one target referencing targetARN exists
// on the rule. Stale targets left behind by previous aliases are tolerated
// and never pruned here; they are surfaced in the debug log instead.
func (r *Reconciler) reconcileTarget(ctx context.Context, ruleName, targetARN string) (bool, error) {
	out, err := r.client.ListTargetsByRule(ctx, &eventbridge.ListTargetsByRuleInput{
		Rule: aws.String(ruleName),
	})
	if err != nil {
		return false, fmt.Errorf("list targets for rule %s: %w", ruleName, err)
	}

	for _, t := range out.Targets {
		if strings.Contains(aws.ToString(t.Arn), targetARN) {
			if len(out.Targets) > 1 {
				r.logger.Debug().
					Str("rule", ruleName).
					Int("targets", len(out.Targets)).
					Msg("Rule carries stale targets")
			}
			return false, nil
		}
	}

	_, err = r.client.PutTargets(ctx, &eventbridge.PutTargetsInput{
		Rule: aws.String(ruleName),
		Targets: []ebtypes.Target{{
			Id:  aws.String(uuid.NewString()),
			Arn: aws.String(targetARN),
		}},
	})
	if err != nil {
		return false, fmt.Errorf("put target for rule %s: %w", ruleName, err)
	}

	r.logger.Debug().
		Str("rule", ruleName).
		Str("target", targetARN).
		Msg("Added rule target")
	return true, nil
}

// Pause disables the rule. A missing rule is tolerated.
func (r *Reconciler) Pause(ctx context.Context, owner string) error {
	ruleName := r.RuleName(owner)
	_, err := r.client.DisableRule(ctx, &eventbridge.DisableRuleInput{
		Name: aws.String(ruleName),
	})
	if err != nil && !awsapi.IsNotFound(err) {
		return fmt.Errorf("disable rule %s: %w", ruleName, err)
	}
	return nil
}

// Resume enables the rule. A missing rule is tolerated.
func (r *Reconciler) Resume(ctx context.Context, owner string) error {
	ruleName := r.RuleName(owner)
	_, err := r.client.EnableRule(ctx, &eventbridge.EnableRuleInput{
		Name: aws.String(ruleName),
	})
	if err != nil && !awsapi.IsNotFound(err) {
		return fmt.Errorf("enable rule %s: %w", ruleName, err)
	}
	return nil
}

// Unbind deletes the rule if it exists; absence is a no-op. Unbind must
// run before the function it targets is deleted, so an event can never
// fire into a dangling target.
func (r *Reconciler) Unbind(ctx context.Context, owner string) error {
	ruleName := r.RuleName(owner)
	existing, err := r.describe(ctx, ruleName)
	if err != nil {
		return err
	}
	if existing == nil {
		return nil
	}
	if _, err := r.client.DeleteRule(ctx, &eventbridge.DeleteRuleInput{
		Name: aws.String(ruleName),
	}); err != nil {
		return fmt.Errorf("delete rule %s: %w", ruleName, err)
	}
	r.logger.Debug().Str("rule", ruleName).Msg("Deleted event rule")
	return nil
}
