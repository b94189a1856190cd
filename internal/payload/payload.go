// Package payload builds carrier request bodies from a canonical order
// record, a service code, and a shipper profile. Every function here is
// pure: no I/O, no clock, no randomness, so the Batch Engine can call
// these from any goroutine without synchronization.
package payload

import (
	"fmt"

	"github.com/matt-hans/shipagent/internal/domain"
)

// gramsPerPound is the conversion factor mandated for every weight
// conversion in this package; callers must never convert weight
// themselves.
const gramsPerPound = 453.592

const (
	packagingKeyRate = "02" // rate-request packaging variant
	packagingKeyShip = "04" // ship-request packaging variant; distinct from rate's key by design, never interchanged

	serviceCodeInternationalStandard     = "11"
	serviceCodeInternationalExpressSaver = "65"

	maxReferenceLen = 35
)

// Request is the normalized carrier request body a Payload Builder
// produces. Field names follow the carrier's own conceptual groupings
// (shipper/ship-from/ship-to/package) without committing to the wire
// encoding, which is the carrier adapter's concern.
type Request struct {
	Kind                 string // "rate" or "ship"
	ServiceCode          string
	PackagingKey         string
	Shipper              domain.ShipperProfile
	ShipFrom             domain.Address
	ShipTo               domain.Address
	WeightLBS            float64
	LengthIN             float64
	WidthIN              float64
	HeightIN             float64
	NegotiatedRatesWanted bool
	ReferenceNumbers     []string // package-level only
	LabelSpecification   *LabelSpecification
	PaymentInformation   []PaymentCharge
}

// LabelSpecification is only present on ship requests.
type LabelSpecification struct {
	Format string // e.g. "GIF", "PDF"
	Size   string
}

// PaymentCharge is a single payment-information entry; ship requests
// carry exactly one.
type PaymentCharge struct {
	Type          string // "prepaid", "third_party", etc.
	AccountNumber string
}

// gramsToLBS converts weight from grams to pounds using the carrier's
// required constant.
func gramsToLBS(grams float64) float64 { return grams / gramsPerPound }

// ResolveServiceCode applies the international upgrade rule (invariant 6):
// CA/MX upgrades a domestic code to international-standard; any other
// non-domestic destination upgrades to international-express-saver.
// Domestic codes are never returned for an international lane. A requested
// code that is already one of the two international codes is left alone —
// the rule upgrades domestic codes, it does not downgrade or reassign an
// already-international one.
func ResolveServiceCode(requested string, destCountryISO, originCountryISO string) string {
	if destCountryISO == "" || destCountryISO == originCountryISO {
		return requested
	}
	if requested == serviceCodeInternationalStandard || requested == serviceCodeInternationalExpressSaver {
		return requested
	}
	switch destCountryISO {
	case "CA", "MX":
		return serviceCodeInternationalStandard
	default:
		return serviceCodeInternationalExpressSaver
	}
}

func clampReference(ref string) string {
	if len(ref) > maxReferenceLen {
		return ref[:maxReferenceLen]
	}
	return ref
}

func validateShipper(shipper domain.ShipperProfile) error {
	if shipper.AccountNumber == "" {
		return fmt.Errorf("op=payload.validate_shipper: %w: account number is required", domain.ErrInvalidArgument)
	}
	return nil
}

// RateBody builds a get_rate request using the rate-request packaging key.
func RateBody(order domain.OrderRecord, serviceCode string, shipper domain.ShipperProfile) (Request, error) {
	if err := validateShipper(shipper); err != nil {
		return Request{}, err
	}
	resolved := ResolveServiceCode(serviceCode, order.To.CountryISO, order.From.CountryISO)
	return Request{
		Kind:                  "rate",
		ServiceCode:           resolved,
		PackagingKey:          packagingKeyRate,
		Shipper:               shipper,
		ShipFrom:              order.From,
		ShipTo:                order.To,
		WeightLBS:             gramsToLBS(order.WeightGrams),
		LengthIN:              order.LengthIn,
		WidthIN:               order.WidthIn,
		HeightIN:              order.HeightIn,
		NegotiatedRatesWanted: shipper.NegotiatedRate,
	}, nil
}

// ShipBody builds a create_shipment request using the ship-request
// packaging key, a label specification, a single prepaid payment charge,
// and the package-level reference number (clamped to 35 characters).
func ShipBody(order domain.OrderRecord, serviceCode string, shipper domain.ShipperProfile) (Request, error) {
	if err := validateShipper(shipper); err != nil {
		return Request{}, err
	}
	resolved := ResolveServiceCode(serviceCode, order.To.CountryISO, order.From.CountryISO)
	refs := []string{}
	if order.ReferenceNumber != "" {
		refs = append(refs, clampReference(order.ReferenceNumber))
	}
	return Request{
		Kind:                  "ship",
		ServiceCode:           resolved,
		PackagingKey:          packagingKeyShip,
		Shipper:               shipper,
		ShipFrom:              order.From,
		ShipTo:                order.To,
		WeightLBS:             gramsToLBS(order.WeightGrams),
		LengthIN:              order.LengthIn,
		WidthIN:               order.WidthIn,
		HeightIN:              order.HeightIn,
		NegotiatedRatesWanted: shipper.NegotiatedRate,
		ReferenceNumbers:      refs,
		LabelSpecification:    &LabelSpecification{Format: "GIF", Size: "4x6"},
		PaymentInformation: []PaymentCharge{
			{Type: "prepaid", AccountNumber: shipper.AccountNumber},
		},
	}, nil
}
