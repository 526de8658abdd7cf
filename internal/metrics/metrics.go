package metrics

import (
	"context"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/nih-cfde/deriva-action-provider/internal/aws"
)

var (
	// HTTPRequestsTotal counts requests handled by the HTTP boundary.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests handled by the action provider.",
		},
		[]string{"path", "method", "code"},
	)

	// ActionsSubmitted counts admitted actions; replays are labelled
	// separately from new admissions.
	ActionsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "actions_submitted_total",
			Help: "Total number of action submissions.",
		},
		[]string{"replayed"},
	)

	// ActionsCompleted counts terminal transitions by outcome.
	ActionsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "actions_completed_total",
			Help: "Total number of actions reaching a terminal status.",
		},
		[]string{"status"},
	)
)

// Emitter pushes per-outcome action metrics to CloudWatch in addition to
// the local prometheus registry. A nil Emitter is a no-op.
type Emitter struct {
	cw        aws.CloudWatchAPI
	namespace string
	logger    *zap.Logger
}

// NewEmitter returns an Emitter for the given CloudWatch namespace.
func NewEmitter(cw aws.CloudWatchAPI, namespace string, logger *zap.Logger) *Emitter {
	return &Emitter{
		cw:        cw,
		namespace: namespace,
		logger:    logger.With(zap.String("component", "metrics")),
	}
}

// ActionCompleted records a terminal transition with its duration.
// CloudWatch failures are logged, never propagated.
func (e *Emitter) ActionCompleted(ctx context.Context, status string, elapsed time.Duration) {
	ActionsCompleted.WithLabelValues(status).Inc()

	if e == nil || e.cw == nil {
		return
	}
	now := time.Now().UTC()
	_, err := e.cw.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: &e.namespace,
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: sdkaws.String("ActionCompleted"),
				Timestamp:  &now,
				Value:      sdkaws.Float64(1),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{
					{Name: sdkaws.String("Status"), Value: &status},
				},
			},
			{
				MetricName: sdkaws.String("ActionDuration"),
				Timestamp:  &now,
				Value:      sdkaws.Float64(elapsed.Seconds()),
				Unit:       cwtypes.StandardUnitSeconds,
				Dimensions: []cwtypes.Dimension{
					{Name: sdkaws.String("Status"), Value: &status},
				},
			},
		},
	})
	if err != nil {
		e.logger.Warn("cloudwatch put metric failed", zap.Error(err))
	}
}
