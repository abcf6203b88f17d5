package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// DomainRecorder counts care transition lifecycle events per tenant.
type DomainRecorder struct {
	created  metric.Int64Counter
	outreach metric.Int64Counter
	closed   metric.Int64Counter
	failures metric.Int64Counter
}

func NewDomainRecorder(mp metric.MeterProvider) (*DomainRecorder, error) {
	meter := mp.Meter("github.com/carebridge/tcm/caretransition")

	var (
		r   DomainRecorder
		err error
	)
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&r.created, "tcm.transitions_created", "Care transitions created."},
		{&r.outreach, "tcm.outreach_logged", "Outreach attempts logged."},
		{&r.closed, "tcm.transitions_closed", "Care transitions closed."},
		{&r.failures, "tcm.mutation_failures", "Care transition mutations that returned a failure result."},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("creating counter %s: %w", c.name, err)
		}
	}
	return &r, nil
}

func tenantAttr(tenantKey string) metric.AddOption {
	return metric.WithAttributes(attribute.String("tenant", tenantKey))
}

func (r *DomainRecorder) TransitionCreated(ctx context.Context, tenantKey string) {
	r.created.Add(ctx, 1, tenantAttr(tenantKey))
}

func (r *DomainRecorder) OutreachLogged(ctx context.Context, tenantKey string) {
	r.outreach.Add(ctx, 1, tenantAttr(tenantKey))
}

func (r *DomainRecorder) TransitionClosed(ctx context.Context, tenantKey string) {
	r.closed.Add(ctx, 1, tenantAttr(tenantKey))
}

func (r *DomainRecorder) MutationFailed(ctx context.Context, tenantKey, operation string) {
	r.failures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tenant", tenantKey),
		attribute.String("operation", operation),
	))
}
