package events

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	ebtypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"

	"github.com/stewardhq/steward/pkg/policy"
)

// fakeEventBridge is an in-memory EventBridgeAPI capturing mutating calls.
type fakeEventBridge struct {
	rules   map[string]*eventbridge.DescribeRuleOutput
	targets map[string][]ebtypes.Target

	putRuleCalls    int
	putTargetCalls  int
	deleteRuleCalls int
	enableCalls     int
	disableCalls    int
}

func newFakeEventBridge() *fakeEventBridge {
	return &fakeEventBridge{
		rules:   make(map[string]*eventbridge.DescribeRuleOutput),
		targets: make(map[string][]ebtypes.Target),
	}
}

func notFound() error {
	return &smithy.GenericAPIError{Code: "ResourceNotFoundException"}
}

func (f *fakeEventBridge) DescribeRule(_ context.Context, in *eventbridge.DescribeRuleInput, _ ...func(*eventbridge.Options)) (*eventbridge.DescribeRuleOutput, error) {
	rule, ok := f.rules[aws.ToString(in.Name)]
	if !ok {
		return nil, notFound()
	}
	return rule, nil
}

func (f *fakeEventBridge) PutRule(_ context.Context, in *eventbridge.PutRuleInput, _ ...func(*eventbridge.Options)) (*eventbridge.PutRuleOutput, error) {
	f.putRuleCalls++
	f.rules[aws.ToString(in.Name)] = &eventbridge.DescribeRuleOutput{
		Name:               in.Name,
		State:              in.State,
		EventPattern:       in.EventPattern,
		ScheduleExpression: in.ScheduleExpression,
	}
	return &eventbridge.PutRuleOutput{RuleArn: aws.String("arn:aws:events:us-east-1:111122223333:rule/" + aws.ToString(in.Name))}, nil
}

func (f *fakeEventBridge) DeleteRule(_ context.Context, in *eventbridge.DeleteRuleInput, _ ...func(*eventbridge.Options)) (*eventbridge.DeleteRuleOutput, error) {
	f.deleteRuleCalls++
	delete(f.rules, aws.ToString(in.Name))
	return &eventbridge.DeleteRuleOutput{}, nil
}

func (f *fakeEventBridge) EnableRule(_ context.Context, in *eventbridge.EnableRuleInput, _ ...func(*eventbridge.Options)) (*eventbridge.EnableRuleOutput, error) {
	f.enableCalls++
	rule, ok := f.rules[aws.ToString(in.Name)]
	if !ok {
		return nil, notFound()
	}
	rule.State = ebtypes.RuleStateEnabled
	return &eventbridge.EnableRuleOutput{}, nil
}

func (f *fakeEventBridge) DisableRule(_ context.Context, in *eventbridge.DisableRuleInput, _ ...func(*eventbridge.Options)) (*eventbridge.DisableRuleOutput, error) {
	f.disableCalls++
	rule, ok := f.rules[aws.ToString(in.Name)]
	if !ok {
		return nil, notFound()
	}
	rule.State = ebtypes.RuleStateDisabled
	return &eventbridge.DisableRuleOutput{}, nil
}

func (f *fakeEventBridge) ListTargetsByRule(_ context.Context, in *eventbridge.ListTargetsByRuleInput, _ ...func(*eventbridge.Options)) (*eventbridge.ListTargetsByRuleOutput, error) {
	return &eventbridge.ListTargetsByRuleOutput{
		Targets: f.targets[aws.ToString(in.Rule)],
	}, nil
}

func (f *fakeEventBridge) PutTargets(_ context.Context, in *eventbridge.PutTargetsInput, _ ...func(*eventbridge.Options)) (*eventbridge.PutTargetsOutput, error) {
	f.putTargetCalls++
	rule := aws.ToString(in.Rule)
	f.targets[rule] = append(f.targets[rule], in.Targets...)
	return &eventbridge.PutTargetsOutput{}, nil
}

func testReconciler(f *fakeEventBridge) *Reconciler {
	return NewReconciler(f, zerolog.New(nil).Level(zerolog.Disabled))
}

const aliasARN = "arn:aws:lambda:us-east-1:111122223333:function:steward-p:current"

func cloudtrailDescriptor(t *testing.T) Descriptor {
	t.Helper()
	d, err := NewDescriptor(policy.Mode{
		Type:    policy.ModeCloudTrail,
		Sources: []string{"ec2.amazonaws.com"},
		Events:  []string{"RunInstances"},
	})
	if err != nil {
		t.Fatalf("NewDescriptor: %v", err)
	}
	return d
}

func TestBindCreatesRuleAndTarget(t *testing.T) {
	f := newFakeEventBridge()
	r := testReconciler(f)

	changed, err := r.Bind(context.Background(), cloudtrailDescriptor(t), aliasARN, "steward-p")
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if !changed {
		t.Error("first Bind should report a change")
	}
	if f.putRuleCalls != 1 || f.putTargetCalls != 1 {
		t.Errorf("putRule=%d putTargets=%d, want 1/1", f.putRuleCalls, f.putTargetCalls)
	}

	rule := f.rules["steward-p"]
	if rule == nil {
		t.Fatal("rule not created under derived name")
	}
	if rule.State != ebtypes.RuleStateEnabled {
		t.Errorf("rule state = %s", rule.State)
	}
	if len(f.targets["steward-p"]) != 1 {
		t.Fatalf("expected exactly one target, got %d", len(f.targets["steward-p"]))
	}
	if aws.ToString(f.targets["steward-p"][0].Id) == "" {
		t.Error("target id not generated")
	}
}

func TestBindIdempotent(t *testing.T) {
	f := newFakeEventBridge()
	r := testReconciler(f)
	ctx := context.Background()
	d := cloudtrailDescriptor(t)

	if _, err := r.Bind(ctx, d, aliasARN, "p"); err != nil {
		t.Fatalf("first Bind: %v", err)
	}
	changed, err := r.Bind(ctx, d, aliasARN, "p")
	if err != nil {
		t.Fatalf("second Bind: %v", err)
	}
	if changed {
		t.Error("second Bind of unchanged descriptor should be a no-op")
	}
	if f.putRuleCalls != 1 || f.putTargetCalls != 1 {
		t.Errorf("putRule=%d putTargets=%d after second bind, want 1/1", f.putRuleCalls, f.putTargetCalls)
	}
}

func TestBindUpdatesChangedRule(t *testing.T) {
	f := newFakeEventBridge()
	r := testReconciler(f)
	ctx := context.Background()

	if _, err := r.Bind(ctx, cloudtrailDescriptor(t), aliasARN, "p"); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	d, err := NewDescriptor(policy.Mode{
		Type:    policy.ModeCloudTrail,
		Sources: []string{"ec2.amazonaws.com"},
		Events:  []string{"RunInstances", "StartInstances"},
	})
	if err != nil {
		t.Fatalf("NewDescriptor: %v", err)
	}
	changed, err := r.Bind(ctx, d, aliasARN, "p")
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if !changed {
		t.Error("pattern change should trigger an upsert")
	}
	if f.putRuleCalls != 2 {
		t.Errorf("putRule=%d, want 2", f.putRuleCalls)
	}
	// Target unchanged, no extra call.
	if f.putTargetCalls != 1 {
		t.Errorf("putTargets=%d, want 1", f.putTargetCalls)
	}
}

func TestBindPeriodicSchedule(t *testing.T) {
	f := newFakeEventBridge()
	r := testReconciler(f)

	d, err := NewDescriptor(policy.Mode{Type: policy.ModePeriodic, Schedule: "rate(1 day)"})
	if err != nil {
		t.Fatalf("NewDescriptor: %v", err)
	}
	if _, err := r.Bind(context.Background(), d, aliasARN, "p"); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	rule := f.rules["steward-p"]
	if aws.ToString(rule.ScheduleExpression) != "rate(1 day)" {
		t.Errorf("ScheduleExpression = %q", aws.ToString(rule.ScheduleExpression))
	}
	if rule.EventPattern != nil {
		t.Errorf("periodic rule should carry no pattern, got %q", aws.ToString(rule.EventPattern))
	}
}

func TestBindKeepsStaleTargets(t *testing.T) {
	f := newFakeEventBridge()
	r := testReconciler(f)
	ctx := context.Background()

	oldAlias := "arn:aws:lambda:us-east-1:111122223333:function:steward-p:old"
	if _, err := r.Bind(ctx, cloudtrailDescriptor(t), oldAlias, "p"); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if _, err := r.Bind(ctx, cloudtrailDescriptor(t), aliasARN, "p"); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	// Old target stays; exactly one new target is added.
	if len(f.targets["steward-p"]) != 2 {
		t.Fatalf("expected 2 targets (stale kept), got %d", len(f.targets["steward-p"]))
	}
}

func TestAbsenceTolerance(t *testing.T) {
	f := newFakeEventBridge()
	r := testReconciler(f)
	ctx := context.Background()

	if err := r.Pause(ctx, "ghost"); err != nil {
		t.Errorf("Pause on missing rule: %v", err)
	}
	if err := r.Resume(ctx, "ghost"); err != nil {
		t.Errorf("Resume on missing rule: %v", err)
	}
	if err := r.Unbind(ctx, "ghost"); err != nil {
		t.Errorf("Unbind on missing rule: %v", err)
	}
	if f.deleteRuleCalls != 0 {
		t.Errorf("deleteRule called %d times for missing rule", f.deleteRuleCalls)
	}
}

func TestPauseResumeUnbind(t *testing.T) {
	f := newFakeEventBridge()
	r := testReconciler(f)
	ctx := context.Background()

	if _, err := r.Bind(ctx, cloudtrailDescriptor(t), aliasARN, "p"); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	if err := r.Pause(ctx, "p"); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if f.rules["steward-p"].State != ebtypes.RuleStateDisabled {
		t.Error("rule not disabled after Pause")
	}

	if err := r.Resume(ctx, "p"); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if f.rules["steward-p"].State != ebtypes.RuleStateEnabled {
		t.Error("rule not enabled after Resume")
	}

	if err := r.Unbind(ctx, "p"); err != nil {
		t.Fatalf("Unbind: %v", err)
	}
	if _, ok := f.rules["steward-p"]; ok {
		t.Error("rule still exists after Unbind")
	}
}

func TestRuleNameDerivation(t *testing.T) {
	r := testReconciler(newFakeEventBridge())
	if got := r.RuleName("my-policy"); got != "steward-my-policy" {
		t.Errorf("RuleName = %s", got)
	}
	if got := r.RuleName("steward-my-policy"); got != "steward-my-policy" {
		t.Errorf("RuleName on prefixed input = %s", got)
	}
}
