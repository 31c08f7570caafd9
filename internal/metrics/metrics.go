// Package metrics publishes scheduler and worker telemetry to CloudWatch.
//
// Publishing is best effort: a failed put is logged and dropped, never
// propagated, because losing a counter must not affect feed processing.
package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// Metric names published under the configured namespace.
const (
	MetricPollCycles   = "PollCycles"
	MetricDispatches   = "Dispatches"
	MetricRunDuration  = "RunDuration"
	MetricFeedFailures = "FeedFailures"
)

// Dimension names.
const (
	DimOutcome = "Outcome"
	DimFeed    = "Feed"
)

// Outcome dimension values for RunDuration.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for
// testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Publisher emits telemetry to one CloudWatch namespace. A nil *Publisher is
// a valid no-op recorder, so callers wire metrics unconditionally and
// construction decides whether anything is emitted.
type Publisher struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

// NewPublisher creates a Publisher for namespace. It returns nil when client
// is nil or namespace is empty; the nil Publisher discards everything.
func NewPublisher(client CloudWatchClient, namespace string, logger *slog.Logger) *Publisher {
	if client == nil || namespace == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

// CountPollCycle counts one completed check cycle.
func (p *Publisher) CountPollCycle(ctx context.Context) {
	if p == nil {
		return
	}
	p.emit(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(MetricPollCycles),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
	})
}

// CountDispatch counts one dispatched worker run.
func (p *Publisher) CountDispatch(ctx context.Context) {
	if p == nil {
		return
	}
	p.emit(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(MetricDispatches),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
	})
}

// RecordRunDuration records how long one worker run took, dimensioned by
// outcome. Duration is recorded in milliseconds for CloudWatch precision.
func (p *Publisher) RecordRunDuration(ctx context.Context, d time.Duration, success bool) {
	if p == nil {
		return
	}
	outcome := OutcomeFailure
	if success {
		outcome = OutcomeSuccess
	}
	p.emit(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(MetricRunDuration),
		Value:      aws.Float64(float64(d.Milliseconds())),
		Unit:       cwtypes.StandardUnitMilliseconds,
		Dimensions: []cwtypes.Dimension{
			{
				Name:  aws.String(DimOutcome),
				Value: aws.String(outcome),
			},
		},
	})
}

// CountFeedFailure counts one failed feed retrieval, dimensioned by feed.
func (p *Publisher) CountFeedFailure(ctx context.Context, feed string) {
	if p == nil {
		return
	}
	p.emit(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(MetricFeedFailures),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{
			{
				Name:  aws.String(DimFeed),
				Value: aws.String(feed),
			},
		},
	})
}

func (p *Publisher) emit(ctx context.Context, datum cwtypes.MetricDatum) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(p.namespace),
		MetricData: []cwtypes.MetricDatum{datum},
	}
	if _, err := p.client.PutMetricData(ctx, input); err != nil {
		p.logger.WarnContext(ctx, "failed to publish metric",
			"metric", aws.ToString(datum.MetricName),
			"error", err,
		)
	}
}
