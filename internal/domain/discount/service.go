package discount

import (
	"context"
	"sort"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// loadConcurrency bounds parallel rule lookups in ApplyMultiple.
const loadConcurrency = 8

// Service exposes the engine operations on top of a Repository.
type Service struct {
	repo       Repository
	categories CategoryResolver
	loc        *time.Location
	now        func() time.Time
	tracer     trace.Tracer
	metrics    *metrics
}

// Option configures a Service.
type Option func(*serviceOptions)

type serviceOptions struct {
	categories CategoryResolver
	loc        *time.Location
	now        func() time.Time
	tp         trace.TracerProvider
	mp         metric.MeterProvider
}

// WithCategoryResolver sets the product to category lookup used for
// category-scope rules.
func WithCategoryResolver(r CategoryResolver) Option {
	return func(o *serviceOptions) { o.categories = r }
}

// WithLocation sets the time zone validity windows are evaluated in.
func WithLocation(loc *time.Location) Option {
	return func(o *serviceOptions) { o.loc = loc }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *serviceOptions) { o.now = now }
}

// WithTracerProvider sets the tracer provider. Defaults to noop.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *serviceOptions) { o.tp = tp }
}

// WithMeterProvider sets the meter provider. Defaults to noop.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *serviceOptions) { o.mp = mp }
}

// NewService creates a Service backed by repo.
func NewService(repo Repository, opts ...Option) (*Service, error) {
	o := serviceOptions{
		loc: time.Local,
		now: time.Now,
		tp:  tracenoop.NewTracerProvider(),
		mp:  metricnoop.NewMeterProvider(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	m, err := newMetrics(o.mp)
	if err != nil {
		return nil, errors.Wrap(err, "init metrics")
	}

	return &Service{
		repo:       repo,
		categories: o.categories,
		loc:        o.loc,
		now:        o.now,
		tracer:     o.tp.Tracer(instrumentationName),
		metrics:    m,
	}, nil
}

// ValidateRequest identifies the rule and sale context to validate.
type ValidateRequest struct {
	RuleID     string
	Cart       Cart
	CustomerID string
	BranchID   string
}

// Validate loads the rule and checks it against the request. A missing rule
// yields an invalid result with a single "Discount not found" error; only
// store failures are returned as errors.
func (s *Service) Validate(ctx context.Context, req ValidateRequest) (ValidationResult, error) {
	ctx, span := s.tracer.Start(ctx, "discount.Validate",
		trace.WithAttributes(attribute.String("discount.rule_id", req.RuleID)),
	)
	defer span.End()

	rule, err := s.repo.GetRule(ctx, req.RuleID)
	if err != nil {
		if errors.Is(err, ErrRuleNotFound) {
			s.metrics.validations.Add(ctx, 1, metric.WithAttributes(attribute.Bool("valid", false)))
			return NotFound(), nil
		}
		return ValidationResult{}, errors.Wrap(err, "get rule")
	}

	cart, err := s.withCategories(ctx, req.Cart, rule.AppliesTo == ScopeCategory)
	if err != nil {
		return ValidationResult{}, err
	}
	res, err := s.validateRule(ctx, rule, cart, req.CustomerID, req.BranchID)
	if err != nil {
		return ValidationResult{}, err
	}

	if !res.Valid {
		zctx.From(ctx).Debug("Discount not applicable",
			zap.String("rule_id", rule.ID),
			zap.Strings("errors", res.Errors),
		)
	}
	return res, nil
}

func (s *Service) validateRule(ctx context.Context, rule *Rule, cart Cart, customerID, branchID string) (ValidationResult, error) {
	vc := Context{
		CustomerID: customerID,
		BranchID:   branchID,
		Now:        s.now().In(s.loc),
	}
	if customerID != "" && rule.UsageLimit == UsageLimited && rule.MaxUsesPerCustomer != nil {
		uses, err := s.repo.CountCustomerUses(ctx, rule.ID, customerID)
		if err != nil {
			return ValidationResult{}, errors.Wrap(err, "count customer uses")
		}
		vc.CustomerUses = &uses
	}

	res := Validate(rule, cart, vc)
	s.metrics.validations.Add(ctx, 1, metric.WithAttributes(attribute.Bool("valid", res.Valid)))
	return res, nil
}

// CalculateSingle computes the discount of one rule against cart without
// validating it.
func (s *Service) CalculateSingle(ctx context.Context, ruleID string, cart Cart) (CalculationResult, error) {
	ctx, span := s.tracer.Start(ctx, "discount.CalculateSingle",
		trace.WithAttributes(attribute.String("discount.rule_id", ruleID)),
	)
	defer span.End()

	rule, err := s.repo.GetRule(ctx, ruleID)
	if err != nil {
		return CalculationResult{}, errors.Wrap(err, "get rule")
	}

	cart, err = s.withCategories(ctx, cart, rule.AppliesTo == ScopeCategory)
	if err != nil {
		return CalculationResult{}, err
	}

	res := Calculate(rule, cart)
	s.observe(ctx, res, "single")
	return res, nil
}

// ApplyRequest names the rules to combine and the sale context.
type ApplyRequest struct {
	RuleIDs    []string
	Cart       Cart
	CustomerID string
	BranchID   string
	// Revalidate drops rules that fail validation right before combining.
	Revalidate bool
}

// ApplyMultiple loads the requested rules and combines them against the cart.
// Unknown ids are skipped. Without Revalidate no eligibility check is made,
// so callers must have validated every id beforehand.
func (s *Service) ApplyMultiple(ctx context.Context, req ApplyRequest) (CalculationResult, error) {
	ctx, span := s.tracer.Start(ctx, "discount.ApplyMultiple",
		trace.WithAttributes(attribute.StringSlice("discount.rule_ids", req.RuleIDs)),
	)
	defer span.End()

	rules, err := s.loadRules(ctx, req.RuleIDs)
	if err != nil {
		return CalculationResult{}, err
	}

	needCategories := false
	for i := range rules {
		needCategories = needCategories || rules[i].AppliesTo == ScopeCategory
	}
	cart, err := s.withCategories(ctx, req.Cart, needCategories)
	if err != nil {
		return CalculationResult{}, err
	}

	if req.Revalidate {
		kept := rules[:0]
		for i := range rules {
			res, err := s.validateRule(ctx, &rules[i], cart, req.CustomerID, req.BranchID)
			if err != nil {
				return CalculationResult{}, err
			}
			if !res.Valid {
				zctx.From(ctx).Info("Dropping ineligible discount from combination",
					zap.String("rule_id", rules[i].ID),
					zap.Strings("errors", res.Errors),
				)
				continue
			}
			kept = append(kept, rules[i])
		}
		rules = kept
	}

	res := Combine(rules, cart)
	s.observe(ctx, res, "combined")
	return res, nil
}

// loadRules fetches rules concurrently and returns them in request order,
// skipping ids that do not exist.
func (s *Service) loadRules(ctx context.Context, ids []string) ([]Rule, error) {
	loaded := make([]*Rule, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(loadConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			rule, err := s.repo.GetRule(gctx, id)
			if err != nil {
				if errors.Is(err, ErrRuleNotFound) {
					zctx.From(ctx).Warn("Requested discount not found", zap.String("rule_id", id))
					return nil
				}
				return errors.Wrapf(err, "get rule %s", id)
			}
			loaded[i] = rule
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	rules := make([]Rule, 0, len(ids))
	for _, r := range loaded {
		if r != nil {
			rules = append(rules, *r)
		}
	}
	return rules, nil
}

// AvailableRequest describes the sale to list eligible rules for.
type AvailableRequest struct {
	CompanyID  string
	Cart       Cart
	CustomerID string
	BranchID   string
}

// Offer is an eligible rule with its single-rule preview.
type Offer struct {
	Rule       Rule
	Validation ValidationResult
	Preview    CalculationResult
}

// Available lists the company's active rules that validate for the request,
// best preview first.
func (s *Service) Available(ctx context.Context, req AvailableRequest) ([]Offer, error) {
	ctx, span := s.tracer.Start(ctx, "discount.Available",
		trace.WithAttributes(attribute.String("discount.company_id", req.CompanyID)),
	)
	defer span.End()

	rules, err := s.repo.ListRules(ctx, req.CompanyID, ListFilter{
		BranchID:   req.BranchID,
		ActiveOnly: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "list rules")
	}

	needCategories := false
	for i := range rules {
		needCategories = needCategories || rules[i].AppliesTo == ScopeCategory
	}
	cart, err := s.withCategories(ctx, req.Cart, needCategories)
	if err != nil {
		return nil, err
	}

	offers := make([]Offer, 0, len(rules))
	for i := range rules {
		rule := &rules[i]
		res, err := s.validateRule(ctx, rule, cart, req.CustomerID, req.BranchID)
		if err != nil {
			return nil, err
		}
		if !res.Valid {
			continue
		}
		offers = append(offers, Offer{
			Rule:       *rule,
			Validation: res,
			Preview:    Calculate(rule, cart),
		})
	}

	sort.SliceStable(offers, func(i, j int) bool {
		return offers[i].Preview.DiscountAmount.GreaterThan(offers[j].Preview.DiscountAmount)
	})
	return offers, nil
}

// ListRules returns the company's rules matching filter.
func (s *Service) ListRules(ctx context.Context, companyID string, filter ListFilter) ([]Rule, error) {
	rules, err := s.repo.ListRules(ctx, companyID, filter)
	if err != nil {
		return nil, errors.Wrap(err, "list rules")
	}
	return rules, nil
}

// RecordRequest describes one redemption of a rule in a completed sale.
type RecordRequest struct {
	RuleID     string
	SaleID     string
	Amount     decimal.Decimal
	CustomerID string
	OrderTotal decimal.Decimal
}

// Record atomically bumps the rule's usage counter and appends a usage
// record. It returns ErrUsageLimitReached when the cap is already exhausted;
// any error means the discount must not be considered applied. When the
// record cannot be written the use is released again.
func (s *Service) Record(ctx context.Context, req RecordRequest) (UsageRecord, error) {
	ctx, span := s.tracer.Start(ctx, "discount.Record",
		trace.WithAttributes(
			attribute.String("discount.rule_id", req.RuleID),
			attribute.String("discount.sale_id", req.SaleID),
		),
	)
	defer span.End()

	if req.RuleID == "" || req.SaleID == "" {
		return UsageRecord{}, errors.Wrap(ErrInvalidRequest, "rule id and sale id are required")
	}

	lg := zctx.From(ctx).With(zap.String("rule_id", req.RuleID), zap.String("sale_id", req.SaleID))
	now := s.now()

	uses, err := s.repo.IncrementUsage(ctx, req.RuleID, now)
	if err != nil {
		if errors.Is(err, ErrUsageLimitReached) {
			s.metrics.usageRejected.Add(ctx, 1)
			lg.Info("Discount usage limit reached")
		} else {
			lg.Error("Increment usage failed", zap.Error(err))
		}
		return UsageRecord{}, errors.Wrap(err, "increment usage")
	}

	rec := UsageRecord{
		ID:         uuid.New().String(),
		RuleID:     req.RuleID,
		SaleID:     req.SaleID,
		CustomerID: req.CustomerID,
		Amount:     floorAtZero(req.Amount).Round(2),
		OrderTotal: floorAtZero(req.OrderTotal).Round(2),
		UsedAt:     now,
	}
	if err := s.repo.AppendUsageRecord(ctx, rec); err != nil {
		lg.Error("Append usage record failed", zap.Error(err), zap.Int("current_uses", uses))
		// Give the use back so a retry of the sale can still redeem it.
		if relErr := s.repo.ReleaseUsage(context.WithoutCancel(ctx), req.RuleID); relErr != nil {
			lg.Error("Release usage failed", zap.Error(relErr))
		}
		return UsageRecord{}, errors.Wrap(err, "append usage record")
	}

	s.metrics.usageRecorded.Add(ctx, 1)
	lg.Debug("Discount usage recorded", zap.Int("current_uses", uses))
	return rec, nil
}

// SaleRequest records every discount applied to one completed sale.
type SaleRequest struct {
	SaleID     string
	CustomerID string
	OrderTotal decimal.Decimal
	Applied    []AppliedDiscount
}

// RecordSale records each applied discount in order and stops at the first
// failure, returning the records written so far.
func (s *Service) RecordSale(ctx context.Context, req SaleRequest) ([]UsageRecord, error) {
	records := make([]UsageRecord, 0, len(req.Applied))
	for _, a := range req.Applied {
		rec, err := s.Record(ctx, RecordRequest{
			RuleID:     a.RuleID,
			SaleID:     req.SaleID,
			Amount:     a.Amount,
			CustomerID: req.CustomerID,
			OrderTotal: req.OrderTotal,
		})
		if err != nil {
			return records, errors.Wrapf(err, "record %s", a.RuleID)
		}
		records = append(records, rec)
	}
	return records, nil
}

// Stats aggregates the usage records of a rule.
func (s *Service) Stats(ctx context.Context, ruleID string) (Stats, error) {
	ctx, span := s.tracer.Start(ctx, "discount.Stats",
		trace.WithAttributes(attribute.String("discount.rule_id", ruleID)),
	)
	defer span.End()

	var (
		rule    *Rule
		records []UsageRecord
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		rule, err = s.repo.GetRule(gctx, ruleID)
		return errors.Wrap(err, "get rule")
	})
	g.Go(func() (err error) {
		records, err = s.repo.ListUsageRecords(gctx, ruleID)
		return errors.Wrap(err, "list usage records")
	})
	if err := g.Wait(); err != nil {
		return Stats{}, err
	}

	return Aggregate(rule, records, s.loc), nil
}

// withCategories fills category ids for items that carry none, using the
// configured resolver. It is a no-op unless needed is set.
func (s *Service) withCategories(ctx context.Context, cart Cart, needed bool) (Cart, error) {
	if !needed || s.categories == nil {
		return cart, nil
	}

	var missing []string
	for _, it := range cart.Items {
		if len(it.CategoryIDs) == 0 {
			missing = append(missing, it.ProductID)
		}
	}
	if len(missing) == 0 {
		return cart, nil
	}

	byProduct, err := s.categories.CategoriesFor(ctx, missing)
	if err != nil {
		return cart, errors.Wrap(err, "resolve categories")
	}

	items := make([]Item, len(cart.Items))
	copy(items, cart.Items)
	for i := range items {
		if len(items[i].CategoryIDs) == 0 {
			items[i].CategoryIDs = byProduct[items[i].ProductID]
		}
	}
	return Cart{Items: items, Subtotal: cart.Subtotal}, nil
}

func (s *Service) observe(ctx context.Context, res CalculationResult, kind string) {
	attrs := metric.WithAttributes(attribute.String("kind", kind))
	s.metrics.calculations.Add(ctx, 1, attrs)
	s.metrics.amount.Record(ctx, res.DiscountAmount.InexactFloat64(), attrs)
}
