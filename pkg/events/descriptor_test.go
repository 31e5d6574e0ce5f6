package events

import (
	"testing"

	"github.com/stewardhq/steward/pkg/policy"
)

func TestNewDescriptorUnknownType(t *testing.T) {
	_, err := NewDescriptor(policy.Mode{Type: "sqs-queue"})
	if err == nil {
		t.Fatal("expected construction error for unknown mode type")
	}
}

func TestPattern(t *testing.T) {
	tests := []struct {
		name string
		mode policy.Mode
		want string
	}{
		{
			name: "cloudtrail api calls",
			mode: policy.Mode{
				Type:    policy.ModeCloudTrail,
				Sources: []string{"ec2.amazonaws.com"},
				Events:  []string{"RunInstances"},
			},
			want: `{"detail-type":["AWS API Call via CloudTrail"],"detail":{"eventSource":["ec2.amazonaws.com"],"eventName":["RunInstances"]}}`,
		},
		{
			name: "cloudtrail multiple events",
			mode: policy.Mode{
				Type:    policy.ModeCloudTrail,
				Sources: []string{"s3.amazonaws.com"},
				Events:  []string{"CreateBucket", "DeleteBucket"},
			},
			want: `{"detail-type":["AWS API Call via CloudTrail"],"detail":{"eventSource":["s3.amazonaws.com"],"eventName":["CreateBucket","DeleteBucket"]}}`,
		},
		{
			name: "instance state",
			mode: policy.Mode{
				Type:   policy.ModeInstanceState,
				Events: []string{"pending"},
			},
			want: `{"source":["aws.ec2"],"detail-type":["EC2 Instance State-change Notification"],"detail":{"state":["pending"]}}`,
		},
		{
			name: "autoscaling aliases translated",
			mode: policy.Mode{
				Type:   policy.ModeAutoScaling,
				Events: []string{"launch-success", "terminate-failure"},
			},
			want: `{"source":["aws.autoscaling"],"detail-type":["EC2 Instance Launch Successful","EC2 Instance Terminate Unsuccessful"]}`,
		},
		{
			name: "autoscaling passes unknown names through",
			mode: policy.Mode{
				Type:   policy.ModeAutoScaling,
				Events: []string{"EC2 Instance-launch Lifecycle Action"},
			},
			want: `{"source":["aws.autoscaling"],"detail-type":["EC2 Instance-launch Lifecycle Action"]}`,
		},
		{
			name: "periodic has no pattern",
			mode: policy.Mode{
				Type:     policy.ModePeriodic,
				Schedule: "rate(1 day)",
			},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewDescriptor(tt.mode)
			if err != nil {
				t.Fatalf("NewDescriptor: %v", err)
			}
			got, err := d.Pattern()
			if err != nil {
				t.Fatalf("Pattern: %v", err)
			}
			if got != tt.want {
				t.Errorf("Pattern() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestPeriodicCarriesSchedule(t *testing.T) {
	d, err := NewDescriptor(policy.Mode{Type: policy.ModePeriodic, Schedule: "rate(1 day)"})
	if err != nil {
		t.Fatalf("NewDescriptor: %v", err)
	}
	if d.Schedule != "rate(1 day)" {
		t.Errorf("Schedule = %q", d.Schedule)
	}
}
