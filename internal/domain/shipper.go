package domain

// Address is a postal address as understood by the carrier and data source
// adapters. Fields follow the carrier's own naming where one exists so the
// Payload Builder can map without guessing at semantics.
type Address struct {
	Name       string `json:"name"`
	Company    string `json:"company"`
	Street1    string `json:"street1"`
	Street2    string `json:"street2"`
	City       string `json:"city"`
	StateProv  string `json:"stateProv"`
	PostalCode string `json:"postalCode"`
	CountryISO string `json:"countryISO"`
	Phone      string `json:"phone"`
	Email      string `json:"email"`
}

// ShipperProfile is the configured origin account used for every row in a
// job: one profile per job, never per row (spec invariant — a batch ships
// from a single account).
type ShipperProfile struct {
	Name           string
	AccountNumber  string
	Address        Address
	NegotiatedRate bool
}
