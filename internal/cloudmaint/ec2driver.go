package cloudmaint

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
	"github.com/sirupsen/logrus"
)

// EC2Config configures the production Client.
type EC2Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// ec2Client adapts the AWS EC2 API to the Client interface. Compartments
// map to AWS regions (the cloud scope boundary AWS exposes); maintenance
// events map to EC2 instance-status "events" (InstanceStatusEvent);
// freeform tags map onto EC2 resource tags; the work-request returned by
// UpdateInstanceMaintenanceEvent is synthesized locally because EC2 has
// no asynchronous accept step for an instance-status event — acceptance
// is immediate, so the returned work request starts SUCCEEDED.
type ec2Client struct {
	svc    *ec2.Client
	logger logrus.FieldLogger

	mu     sync.Mutex
	region string
}

// NewEC2Client builds a production Client backed by AWS EC2, using the
// SDK's default credential chain unless static keys are supplied.
func NewEC2Client(ctx context.Context, cfg EC2Config, logger logrus.FieldLogger) (Client, error) {
	if cfg.Region == "" {
		return nil, fmt.Errorf("cloudmaint: ec2 region is required")
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(credentials.StaticCredentialsProvider{
			Value: aws.Credentials{
				AccessKeyID:     cfg.AccessKeyID,
				SecretAccessKey: cfg.SecretAccessKey,
				Source:          "felix configuration",
			},
		}))
	}
	awscfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("cloudmaint: loading aws config: %w", err)
	}
	return &ec2Client{
		svc:    ec2.NewFromConfig(awscfg),
		logger: logger,
		region: cfg.Region,
	}, nil
}

// ListCompartments returns the single configured region as the only
// compartment scope; EC2 has no sub-account compartment hierarchy.
func (c *ec2Client) ListCompartments(ctx context.Context) ([]string, error) {
	return []string{c.region}, nil
}

func (c *ec2Client) ListInstanceMaintenanceEvents(ctx context.Context, compartmentID string) ([]MaintenanceEvent, error) {
	var events []MaintenanceEvent
	in := &ec2.DescribeInstanceStatusInput{IncludeAllInstances: aws.Bool(true)}
	paginator := ec2.NewDescribeInstanceStatusPaginator(c.svc, in)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classifyError(err)
		}
		for _, status := range page.InstanceStatuses {
			instanceID := aws.ToString(status.InstanceId)
			tags, err := c.instanceTags(ctx, instanceID)
			if err != nil {
				return nil, err
			}
			for _, ev := range status.Events {
				events = append(events, maintenanceEventFromStatus(compartmentID, instanceID, ev, tags))
			}
		}
	}
	sort.Slice(events, func(i, j int) bool { return events[i].EventID < events[j].EventID })
	return events, nil
}

func (c *ec2Client) GetInstanceMaintenanceEvent(ctx context.Context, eventID string) (MaintenanceEvent, error) {
	instanceID, code, err := splitEventID(eventID)
	if err != nil {
		return MaintenanceEvent{}, err
	}
	out, err := c.svc.DescribeInstanceStatus(ctx, &ec2.DescribeInstanceStatusInput{
		InstanceIds:         []string{instanceID},
		IncludeAllInstances: aws.Bool(true),
	})
	if err != nil {
		return MaintenanceEvent{}, classifyError(err)
	}
	tags, err := c.instanceTags(ctx, instanceID)
	if err != nil {
		return MaintenanceEvent{}, err
	}
	for _, status := range out.InstanceStatuses {
		for _, ev := range status.Events {
			if aws.ToString(ev.InstanceEventId) == code {
				return maintenanceEventFromStatus(c.region, instanceID, ev, tags), nil
			}
		}
	}
	return MaintenanceEvent{}, fmt.Errorf("cloudmaint: event %s not found", eventID)
}

// UpdateInstanceMaintenanceEvent is mutating: it sets the event's
// preferred start window (EC2's NotBefore) and writes freeform tags
// onto the instance. EC2 applies the window request synchronously, so
// the returned work request is already terminal.
func (c *ec2Client) UpdateInstanceMaintenanceEvent(ctx context.Context, eventID string, in UpdateInput) (WorkRequest, error) {
	instanceID, code, err := splitEventID(eventID)
	if err != nil {
		return WorkRequest{}, err
	}
	_, err = c.svc.ModifyInstanceEventStartTime(ctx, &ec2.ModifyInstanceEventStartTimeInput{
		InstanceId:      aws.String(instanceID),
		InstanceEventId: aws.String(code),
		NotBefore:       aws.Time(in.TimeWindowStart),
	})
	if err != nil {
		return WorkRequest{}, classifyError(err)
	}
	if len(in.FreeformTags) > 0 {
		var tags []ec2types.Tag
		for k, v := range in.FreeformTags {
			tags = append(tags, ec2types.Tag{Key: aws.String(k), Value: aws.String(v)})
		}
		_, err = c.svc.CreateTags(ctx, &ec2.CreateTagsInput{
			Resources: []string{instanceID},
			Tags:      tags,
		})
		if err != nil {
			return WorkRequest{}, classifyError(err)
		}
	}
	return WorkRequest{ID: eventID, State: WorkRequestSucceeded}, nil
}

// GetWorkRequest always reports the synthetic request as terminal;
// see UpdateInstanceMaintenanceEvent.
func (c *ec2Client) GetWorkRequest(ctx context.Context, workRequestID string) (WorkRequest, error) {
	return WorkRequest{ID: workRequestID, State: WorkRequestSucceeded}, nil
}

func (c *ec2Client) instanceTags(ctx context.Context, instanceID string) (map[string]string, error) {
	out, err := c.svc.DescribeTags(ctx, &ec2.DescribeTagsInput{
		Filters: []ec2types.Filter{{
			Name:   aws.String("resource-id"),
			Values: []string{instanceID},
		}},
	})
	if err != nil {
		return nil, classifyError(err)
	}
	tags := map[string]string{}
	for _, t := range out.Tags {
		tags[aws.ToString(t.Key)] = aws.ToString(t.Value)
	}
	return tags, nil
}

func maintenanceEventFromStatus(compartmentID, instanceID string, ev ec2types.InstanceStatusEvent, tags map[string]string) MaintenanceEvent {
	var start *time.Time
	if ev.NotBefore != nil {
		t := *ev.NotBefore
		start = &t
	}
	return MaintenanceEvent{
		EventID:         instanceID + "/" + aws.ToString(ev.InstanceEventId),
		InstanceID:      instanceID,
		CompartmentID:   compartmentID,
		FaultIDs:        []string{string(ev.Code)},
		LifecycleState:  lifecycleFromEventCode(ev),
		TimeWindowStart: start,
		FreeformTags:    tags,
	}
}

// lifecycleFromEventCode maps EC2's coarse event lifecycle onto the
// orchestrator's lifecycle vocabulary. EC2 does not expose the same
// granularity as OCI's work-request states, so the state is inferred
// from the event window relative to now: COMPLETED once NotAfter has
// passed, STARTED once NotBefore has passed, SCHEDULED otherwise.
// PROCESSING is never reported.
func lifecycleFromEventCode(ev ec2types.InstanceStatusEvent) LifecycleState {
	if ev.NotAfter != nil && time.Now().After(*ev.NotAfter) {
		return LifecycleCompleted
	}
	if ev.NotBefore != nil && time.Now().After(*ev.NotBefore) {
		return LifecycleStarted
	}
	return LifecycleScheduled
}

func splitEventID(eventID string) (instanceID, code string, err error) {
	parts := strings.SplitN(eventID, "/", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("cloudmaint: malformed event id %q", eventID)
	}
	return parts[0], parts[1], nil
}

// classifyError turns an AWS SDK error into the collaborator's own
// retriable-error vocabulary so the core retry policy can act on it
// without importing the AWS SDK.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr smithy.APIError
	if ok := asAPIError(err, &apiErr); ok {
		switch apiErr.ErrorCode() {
		case "RequestLimitExceeded", "Throttling", "ThrottlingException", "TooManyRequestsException":
			return &RateLimitError{Retryable: true, Detail: apiErr.ErrorMessage()}
		case "InstanceLimitExceeded", "VcpuLimitExceeded", "ResourceLimitExceeded":
			return &QuotaError{Detail: apiErr.ErrorMessage()}
		}
	}
	return err
}

func asAPIError(err error, target *smithy.APIError) bool {
	for err != nil {
		if ae, ok := err.(smithy.APIError); ok {
			*target = ae
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return false
}
