package discount

import (
	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/xenking/discount-engine/internal/domain/discount"

type metrics struct {
	validations   metric.Int64Counter
	calculations  metric.Int64Counter
	usageRecorded metric.Int64Counter
	usageRejected metric.Int64Counter
	amount        metric.Float64Histogram
}

func newMetrics(mp metric.MeterProvider) (*metrics, error) {
	meter := mp.Meter(instrumentationName)

	var (
		m   metrics
		err error
	)
	if m.validations, err = meter.Int64Counter("discount.validations",
		metric.WithDescription("Rule validations by outcome"),
	); err != nil {
		return nil, errors.Wrap(err, "validations counter")
	}
	if m.calculations, err = meter.Int64Counter("discount.calculations",
		metric.WithDescription("Single and combined discount calculations"),
	); err != nil {
		return nil, errors.Wrap(err, "calculations counter")
	}
	if m.usageRecorded, err = meter.Int64Counter("discount.usage.recorded",
		metric.WithDescription("Redemptions durably recorded"),
	); err != nil {
		return nil, errors.Wrap(err, "usage recorded counter")
	}
	if m.usageRejected, err = meter.Int64Counter("discount.usage.rejected",
		metric.WithDescription("Redemptions refused because the usage cap was reached"),
	); err != nil {
		return nil, errors.Wrap(err, "usage rejected counter")
	}
	if m.amount, err = meter.Float64Histogram("discount.amount",
		metric.WithDescription("Discount amount per calculation"),
	); err != nil {
		return nil, errors.Wrap(err, "amount histogram")
	}
	return &m, nil
}
