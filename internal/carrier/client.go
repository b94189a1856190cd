// Package carrier is a typed wrapper over the carrier subprocess: it
// assembles requests (via internal/payload for the two operations that
// need a built body), dispatches them through the Subprocess Supervisor,
// normalizes the response into a stable shape, classifies failures
// through the error taxonomy, and applies each operation's retry policy.
package carrier

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/matt-hans/shipagent/internal/domain"
	shiperrors "github.com/matt-hans/shipagent/internal/errors"
	"github.com/matt-hans/shipagent/internal/payload"
)

// ToolCaller is the Subprocess Supervisor port the Client depends on.
type ToolCaller interface {
	CallTool(ctx context.Context, tool string, args map[string]any) (map[string]any, error)
}

// Limiter gates the call rate of every operation; one Limiter is shared by
// all operations of a Client. Satisfied by *rate.Limiter for
// in-process throttling; a cross-process quota limiter can be composed
// in front of it (see Quota).
type Limiter interface {
	Wait(ctx context.Context) error
}

// Quota enforces a cross-process daily carrier quota, e.g. backed by
// Redis. A no-op implementation is used when no quota is configured.
type Quota interface {
	Reserve(ctx context.Context, operation string) error
}

// Observer is notified after every carrier subprocess call completes,
// successfully or not. Satisfied by an observability-layer metrics
// recorder; kept as a narrow interface here (rather than importing a
// metrics package directly) so internal/carrier has no dependency on how
// or whether its calls are observed.
type Observer interface {
	ObserveCall(operation string, dur time.Duration, err error)
}

type noopObserver struct{}

func (noopObserver) ObserveCall(string, time.Duration, error) {}

// Client is the Carrier Client (C2).
type Client struct {
	transport ToolCaller
	breakers  *CircuitBreakerManager
	limiter   Limiter
	quota     Quota
	observer  Observer

	maxRetries      int
	initialInterval time.Duration
	multiplier      float64
}

// Option configures a Client at construction.
type Option func(*Client)

// WithLimiter overrides the default throttle (10 calls/s, burst 20), which
// is shared by all operations.
func WithLimiter(l Limiter) Option { return func(c *Client) { c.limiter = l } }

// WithQuota installs a cross-process quota check.
func WithQuota(q Quota) Option { return func(c *Client) { c.quota = q } }

// WithObserver installs a per-call metrics recorder.
func WithObserver(o Observer) Option { return func(c *Client) { c.observer = o } }

// WithBackoff overrides the read-only retry policy's tuning.
func WithBackoff(maxRetries int, initialInterval time.Duration, multiplier float64) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.initialInterval = initialInterval
		c.multiplier = multiplier
	}
}

// NewClient constructs a Client over transport (typically a
// *subprocess.Supervisor).
func NewClient(transport ToolCaller, opts ...Option) *Client {
	c := &Client{
		transport:       transport,
		breakers:        NewCircuitBreakerManager(),
		limiter:         rate.NewLimiter(rate.Limit(10), 20),
		quota:           noopQuota{},
		observer:        noopObserver{},
		maxRetries:      2,
		initialInterval: 200 * time.Millisecond,
		multiplier:      2.0,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type noopQuota struct{}

func (noopQuota) Reserve(context.Context, string) error { return nil }

// NormalizedRate is get_rate's stable response shape.
type NormalizedRate struct {
	TotalChargesAmount int64 // minor units
	Currency           string
	ServiceCode        string
	Negotiated         bool
}

// NormalizedShipment is create_shipment's stable response shape.
type NormalizedShipment struct {
	TrackingNumbers []string
	LabelData       [][]byte
}

// AddressValidation is validate_address's stable response shape.
type AddressValidation struct {
	Status     string
	Candidates []domain.Address
}

// CircuitStates returns the current circuit-breaker state of every carrier
// operation that has been called at least once, for a metrics poller.
func (c *Client) CircuitStates() map[string]CircuitState {
	return c.breakers.Snapshot()
}

// GetRate rates order using serviceCode and shipper, applying the
// read-only retry policy.
func (c *Client) GetRate(ctx context.Context, order domain.OrderRecord, serviceCode string, shipper domain.ShipperProfile) (NormalizedRate, error) {
	req, err := payload.RateBody(order, serviceCode, shipper)
	if err != nil {
		return NormalizedRate{}, err
	}
	var out NormalizedRate
	err = c.callReadOnly(ctx, domain.OpGetRate, toArgs(req), func(res map[string]any) error {
		out = normalizeRate(res)
		return nil
	})
	return out, err
}

// CreateShipment creates a live shipment. It never retries except the
// single documented infra-rejection exception.
func (c *Client) CreateShipment(ctx context.Context, order domain.OrderRecord, serviceCode string, shipper domain.ShipperProfile) (NormalizedShipment, error) {
	req, err := payload.ShipBody(order, serviceCode, shipper)
	if err != nil {
		return NormalizedShipment{}, err
	}
	var out NormalizedShipment
	err = c.callMutatingConditional(ctx, domain.OpCreateShipment, toArgs(req), func(res map[string]any) error {
		out = normalizeShipment(res)
		return nil
	})
	return out, err
}

// VoidShipment cancels a previously created shipment by tracking number.
// Never retried.
func (c *Client) VoidShipment(ctx context.Context, trackingNumber string) error {
	return c.callMutating(ctx, domain.OpVoidShipment, map[string]any{"trackingNumber": trackingNumber}, nil)
}

// ValidateAddress checks an address with the carrier's validation tool.
// Read-only; retried per policy.
func (c *Client) ValidateAddress(ctx context.Context, addr domain.Address) (AddressValidation, error) {
	var out AddressValidation
	err := c.callReadOnly(ctx, domain.OpValidateAddress, addressArgs(addr), func(res map[string]any) error {
		out = normalizeAddressValidation(res)
		return nil
	})
	return out, err
}

// Track returns tracking events for a tracking number. Read-only.
func (c *Client) Track(ctx context.Context, trackingNumber string) (map[string]any, error) {
	var out map[string]any
	err := c.callReadOnly(ctx, domain.OpTrack, map[string]any{"trackingNumber": trackingNumber}, func(res map[string]any) error {
		out = res
		return nil
	})
	return out, err
}

// UploadDocument uploads raw document bytes for later attachment. Never
// retried.
func (c *Client) UploadDocument(ctx context.Context, filename string, data []byte) (string, error) {
	var documentID string
	err := c.callMutating(ctx, domain.OpUploadDocument, map[string]any{"filename": filename, "data": data}, func(res map[string]any) error {
		if id, ok := res["documentId"].(string); ok {
			documentID = id
		}
		return nil
	})
	return documentID, err
}

// AttachDocument attaches a previously uploaded document to a shipment.
// Never retried.
func (c *Client) AttachDocument(ctx context.Context, trackingNumber, documentID string) error {
	return c.callMutating(ctx, domain.OpAttachDocument, map[string]any{
		"trackingNumber": trackingNumber, "documentId": documentID,
	}, nil)
}

// SchedulePickup schedules a carrier pickup. Never retried.
func (c *Client) SchedulePickup(ctx context.Context, args map[string]any) (string, error) {
	var confirmationNumber string
	err := c.callMutating(ctx, domain.OpSchedulePickup, args, func(res map[string]any) error {
		if id, ok := res["confirmationNumber"].(string); ok {
			confirmationNumber = id
		}
		return nil
	})
	return confirmationNumber, err
}

// CancelPickup cancels a previously scheduled pickup. Never retried.
func (c *Client) CancelPickup(ctx context.Context, confirmationNumber string) error {
	return c.callMutating(ctx, domain.OpCancelPickup, map[string]any{"confirmationNumber": confirmationNumber}, nil)
}

// RatePickup estimates a pickup's cost. Read-only.
func (c *Client) RatePickup(ctx context.Context, args map[string]any) (map[string]any, error) {
	var out map[string]any
	err := c.callReadOnly(ctx, domain.OpRatePickup, args, func(res map[string]any) error {
		out = res
		return nil
	})
	return out, err
}

// GetLandedCost estimates duties/taxes for an international shipment.
// Read-only; known to be unreliable upstream (see design decisions), but
// treated like any other read-only operation here.
func (c *Client) GetLandedCost(ctx context.Context, args map[string]any) (map[string]any, error) {
	var out map[string]any
	err := c.callReadOnly(ctx, domain.OpGetLandedCost, args, func(res map[string]any) error {
		out = res
		return nil
	})
	return out, err
}

// FindLocations finds carrier drop-off/access-point locations near an
// address. Read-only.
func (c *Client) FindLocations(ctx context.Context, addr domain.Address) ([]domain.Address, error) {
	var out []domain.Address
	err := c.callReadOnly(ctx, domain.OpFindLocations, addressArgs(addr), func(res map[string]any) error {
		out = normalizeLocations(res)
		return nil
	})
	return out, err
}

func addressArgs(addr domain.Address) map[string]any {
	return map[string]any{
		"name": addr.Name, "company": addr.Company,
		"street1": addr.Street1, "street2": addr.Street2,
		"city": addr.City, "stateProv": addr.StateProv,
		"postalCode": addr.PostalCode, "countryISO": addr.CountryISO,
	}
}

func toArgs(req payload.Request) map[string]any {
	args := map[string]any{
		"serviceCode":     req.ServiceCode,
		"packagingKey":    req.PackagingKey,
		"shipperAccount":  req.Shipper.AccountNumber,
		"shipFrom":        addressArgs(req.ShipFrom),
		"shipTo":          addressArgs(req.ShipTo),
		"weightLbs":       req.WeightLBS,
		"lengthIn":        req.LengthIN,
		"widthIn":         req.WidthIN,
		"heightIn":        req.HeightIN,
		"negotiatedRates": req.NegotiatedRatesWanted,
	}
	if len(req.ReferenceNumbers) > 0 {
		args["referenceNumbers"] = req.ReferenceNumbers
	}
	if req.LabelSpecification != nil {
		args["labelFormat"] = req.LabelSpecification.Format
		args["labelSize"] = req.LabelSpecification.Size
	}
	if len(req.PaymentInformation) > 0 {
		args["paymentType"] = req.PaymentInformation[0].Type
		args["paymentAccount"] = req.PaymentInformation[0].AccountNumber
	}
	return args
}

// callReadOnly dispatches op with the read-only retry policy: up to
// Client.maxRetries retries after the first attempt, with backoff starting at
// initialInterval, gated by the circuit breaker and rate limiter.
func (c *Client) callReadOnly(ctx context.Context, op domain.Operation, args map[string]any, onResult func(map[string]any) error) (err error) {
	start := time.Now()
	defer func() { c.observer.ObserveCall(string(op), time.Since(start), err) }()

	breaker := c.breakers.GetBreaker(string(op))
	if !breaker.ShouldAttempt() {
		return shiperrors.New(shiperrors.ECodeCarrierRateLimited, fmt.Sprintf("circuit open for %s", op), nil)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.initialInterval
	bo.Multiplier = c.multiplier
	bo.MaxElapsedTime = 0
	policy := backoff.WithMaxRetries(bo, uint64(c.maxRetries))

	var lastErr error
	err = backoff.Retry(func() error {
		if err := c.quota.Reserve(ctx, string(op)); err != nil {
			return backoff.Permanent(shiperrors.New(shiperrors.ECodeCarrierRateLimited, err.Error(), err))
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		res, callErr := c.transport.CallTool(ctx, string(op), args)
		if callErr != nil {
			lastErr = callErr
			breaker.RecordFailure()
			if isRetryable(callErr) {
				return callErr
			}
			return backoff.Permanent(callErr)
		}
		breaker.RecordSuccess()
		if onResult != nil {
			return onResult(res)
		}
		return nil
	}, backoff.WithContext(policy, ctx))

	if err != nil {
		if lastErr != nil {
			return lastErr
		}
		return err
	}
	return nil
}

// callMutating dispatches op with zero retries.
func (c *Client) callMutating(ctx context.Context, op domain.Operation, args map[string]any, onResult func(map[string]any) error) (err error) {
	start := time.Now()
	defer func() { c.observer.ObserveCall(string(op), time.Since(start), err) }()

	breaker := c.breakers.GetBreaker(string(op))
	if !breaker.ShouldAttempt() {
		return shiperrors.New(shiperrors.ECodeCarrierRateLimited, fmt.Sprintf("circuit open for %s", op), nil)
	}
	if err := c.quota.Reserve(ctx, string(op)); err != nil {
		return shiperrors.New(shiperrors.ECodeCarrierRateLimited, err.Error(), err)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	res, err := c.transport.CallTool(ctx, string(op), args)
	if err != nil {
		breaker.RecordFailure()
		return err
	}
	breaker.RecordSuccess()
	if onResult != nil {
		return onResult(res)
	}
	return nil
}

// callMutatingConditional implements create_shipment's single exception:
// one retry, and only for an upstream infra rejection (503 "no healthy
// upstream"), never for a 4xx or a timeout after the body was sent.
func (c *Client) callMutatingConditional(ctx context.Context, op domain.Operation, args map[string]any, onResult func(map[string]any) error) (err error) {
	start := time.Now()
	defer func() { c.observer.ObserveCall(string(op), time.Since(start), err) }()

	breaker := c.breakers.GetBreaker(string(op))
	if !breaker.ShouldAttempt() {
		return shiperrors.New(shiperrors.ECodeCarrierRateLimited, fmt.Sprintf("circuit open for %s", op), nil)
	}
	if err := c.quota.Reserve(ctx, string(op)); err != nil {
		return shiperrors.New(shiperrors.ECodeCarrierRateLimited, err.Error(), err)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	res, err := c.transport.CallTool(ctx, string(op), args)
	if err != nil && isInfraRejection(err) {
		res, err = c.transport.CallTool(ctx, string(op), args)
	}
	if err != nil {
		breaker.RecordFailure()
		if isIndeterminate(err) {
			return markIndeterminate(err)
		}
		return err
	}
	breaker.RecordSuccess()
	if onResult != nil {
		return onResult(res)
	}
	return nil
}

func isRetryable(err error) bool {
	if se, ok := shiperrors.As(err); ok {
		return se.Entry.Retryable
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") || strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "5") && strings.Contains(msg, "unavailable")
}

func isInfraRejection(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "503") && strings.Contains(msg, "no healthy upstream")
}

// isIndeterminate reports whether err looks like a network failure that
// may have occurred after the request body was already sent, in which
// case the operation's success is unknown and must not be retried.
func isIndeterminate(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection reset") || strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "eof")
}

func markIndeterminate(err error) error {
	se, ok := shiperrors.As(err)
	if !ok {
		se = shiperrors.New(shiperrors.ECodeCarrierUnknown, err.Error(), err)
	}
	se.Detail = "failed-indeterminate: " + se.Detail
	return se
}
