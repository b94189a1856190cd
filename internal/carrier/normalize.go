package carrier

import "github.com/matt-hans/shipagent/internal/domain"

// normalizeRate extracts get_rate's stable fields from a subprocess
// tool-call result. Missing fields are left at their zero value; callers
// that need a hard failure on a missing total should check
// TotalChargesAmount == 0 themselves since a legitimate $0 rate does not
// occur in practice.
func normalizeRate(res map[string]any) NormalizedRate {
	out := NormalizedRate{}
	if tc, ok := res["totalCharges"].(map[string]any); ok {
		out.TotalChargesAmount = asInt64(tc["amount"])
		out.Currency, _ = tc["currency"].(string)
	}
	out.ServiceCode, _ = res["serviceCode"].(string)
	out.Negotiated, _ = res["negotiated"].(bool)
	return out
}

// normalizeShipment extracts create_shipment's stable fields: one or more
// tracking numbers (multi-package shipments return several) and the raw
// label bytes for each.
func normalizeShipment(res map[string]any) NormalizedShipment {
	out := NormalizedShipment{}
	if raw, ok := res["trackingNumbers"].([]any); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				out.TrackingNumbers = append(out.TrackingNumbers, s)
			}
		}
	}
	if raw, ok := res["labelData"].([]any); ok {
		for _, v := range raw {
			switch b := v.(type) {
			case []byte:
				out.LabelData = append(out.LabelData, b)
			case string:
				out.LabelData = append(out.LabelData, []byte(b))
			}
		}
	}
	return out
}

// normalizeAddressValidation extracts validate_address's stable
// {status, candidates[]} shape.
func normalizeAddressValidation(res map[string]any) AddressValidation {
	out := AddressValidation{}
	out.Status, _ = res["status"].(string)
	if raw, ok := res["candidates"].([]any); ok {
		for _, v := range raw {
			if m, ok := v.(map[string]any); ok {
				out.Candidates = append(out.Candidates, addressFromMap(m))
			}
		}
	}
	return out
}

// normalizeLocations extracts find_locations' candidate address list.
func normalizeLocations(res map[string]any) []domain.Address {
	var out []domain.Address
	if raw, ok := res["locations"].([]any); ok {
		for _, v := range raw {
			if m, ok := v.(map[string]any); ok {
				out = append(out, addressFromMap(m))
			}
		}
	}
	return out
}

func addressFromMap(m map[string]any) domain.Address {
	str := func(k string) string {
		s, _ := m[k].(string)
		return s
	}
	return domain.Address{
		Name:       str("name"),
		Company:    str("company"),
		Street1:    str("street1"),
		Street2:    str("street2"),
		City:       str("city"),
		StateProv:  str("stateProv"),
		PostalCode: str("postalCode"),
		CountryISO: str("countryISO"),
		Phone:      str("phone"),
		Email:      str("email"),
	}
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}
