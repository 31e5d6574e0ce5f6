package events

import (
	"encoding/json"
	"fmt"

	"github.com/stewardhq/steward/pkg/policy"
)

// SourceType tags the closed set of event source variants.
type SourceType string

const (
	// SourceCloudTrail matches audit-trail API call notifications.
	SourceCloudTrail SourceType = policy.ModeCloudTrail

	// SourceInstanceState matches EC2 instance lifecycle notifications.
	SourceInstanceState SourceType = policy.ModeInstanceState

	// SourceAutoScaling matches autoscaling instance lifecycle events.
	SourceAutoScaling SourceType = policy.ModeAutoScaling

	// SourcePeriodic fires on a schedule instead of a match pattern.
	SourcePeriodic SourceType = policy.ModePeriodic
)

// asgEventNames translates the short lifecycle aliases operators write to
// the provider's canonical detail-type strings.
var asgEventNames = map[string]string{
	"launch-success":    "EC2 Instance Launch Successful",
	"launch-failure":    "EC2 Instance Launch Unsuccessful",
	"terminate-success": "EC2 Instance Terminate Successful",
	"terminate-failure": "EC2 Instance Terminate Unsuccessful",
}

// Descriptor is the declarative event source derived from a policy mode.
// Exactly one descriptor exists per declared mode.
type Descriptor struct {
	// Type is the variant tag.
	Type SourceType

	// Sources are the originating services for cloudtrail variants.
	Sources []string

	// Events are API call names, instance states, or lifecycle aliases
	// depending on the variant.
	Events []string

	// Schedule is the rate or cron expression for periodic variants. It is
	// carried separately from the pattern.
	Schedule string
}

// NewDescriptor derives the event binding descriptor from a policy mode.
// An unknown mode type is a hard construction error, raised before any
// remote mutation occurs.
func NewDescriptor(mode policy.Mode) (Descriptor, error) {
	switch mode.Type {
	case policy.ModeCloudTrail, policy.ModeInstanceState, policy.ModeAutoScaling, policy.ModePeriodic:
		return Descriptor{
			Type:     SourceType(mode.Type),
			Sources:  mode.Sources,
			Events:   mode.Events,
			Schedule: mode.Schedule,
		}, nil
	default:
		return Descriptor{}, fmt.Errorf("events: unknown event source type %q", mode.Type)
	}
}

// eventPattern is the wire shape of an EventBridge match pattern. Field
// order matters only for readability; matching is structural.
type eventPattern struct {
	Source     []string       `json:"source,omitempty"`
	DetailType []string       `json:"detail-type,omitempty"`
	Detail     *patternDetail `json:"detail,omitempty"`
}

type patternDetail struct {
	EventSource []string `json:"eventSource,omitempty"`
	EventName   []string `json:"eventName,omitempty"`
	State       []string `json:"state,omitempty"`
}

// Pattern renders the provider-native event pattern document for this
// descriptor. Periodic descriptors have no pattern and return the empty
// string; their schedule expression travels on the rule instead.
func (d Descriptor) Pattern() (string, error) {
	var p eventPattern

	switch d.Type {
	case SourceCloudTrail:
		p.DetailType = []string{"AWS API Call via CloudTrail"}
		p.Detail = &patternDetail{
			EventSource: d.Sources,
			EventName:   d.Events,
		}
	case SourceInstanceState:
		p.Source = []string{"aws.ec2"}
		p.DetailType = []string{"EC2 Instance State-change Notification"}
		// An empty state list would technically match all transitions, but
		// is far more likely a misconfiguration.
		p.Detail = &patternDetail{State: d.Events}
	case SourceAutoScaling:
		p.Source = []string{"aws.autoscaling"}
		names := make([]string, 0, len(d.Events))
		for _, e := range d.Events {
			if canonical, ok := asgEventNames[e]; ok {
				names = append(names, canonical)
			} else {
				names = append(names, e)
			}
		}
		p.DetailType = names
	case SourcePeriodic:
		return "", nil
	default:
		return "", fmt.Errorf("events: unknown event source type %q", d.Type)
	}

	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("events: marshal pattern: %w", err)
	}
	return string(data), nil
}

// String identifies the descriptor in logs.
func (d Descriptor) String() string {
	return fmt.Sprintf("<event source type:%s sources:%v events:%v>", d.Type, d.Sources, d.Events)
}
