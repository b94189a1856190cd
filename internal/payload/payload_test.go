package payload_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matt-hans/shipagent/internal/domain"
	"github.com/matt-hans/shipagent/internal/payload"
)

func testShipper() domain.ShipperProfile {
	return domain.ShipperProfile{
		Name: "Acme", AccountNumber: "A1B2C3",
		Address: domain.Address{CountryISO: "US"},
	}
}

func testOrder() domain.OrderRecord {
	return domain.OrderRecord{
		ReferenceNumber: "ORDER-1",
		From:            domain.Address{CountryISO: "US"},
		To:              domain.Address{CountryISO: "US"},
		WeightGrams:     453.592 * 10, // 10 lbs
		LengthIn:        12, WidthIn: 8, HeightIn: 6,
	}
}

func TestRateBody_UsesRatePackagingKeyAndConvertsWeight(t *testing.T) {
	req, err := payload.RateBody(testOrder(), "03", testShipper())
	require.NoError(t, err)
	assert.Equal(t, "rate", req.Kind)
	assert.InDelta(t, 10.0, req.WeightLBS, 0.001)
	assert.Nil(t, req.LabelSpecification)
}

func TestShipBody_UsesShipPackagingKeyLabelSpecAndPayment(t *testing.T) {
	req, err := payload.ShipBody(testOrder(), "03", testShipper())
	require.NoError(t, err)
	assert.Equal(t, "ship", req.Kind)
	require.NotNil(t, req.LabelSpecification)
	require.Len(t, req.PaymentInformation, 1)
	assert.Equal(t, "A1B2C3", req.PaymentInformation[0].AccountNumber)
	require.Len(t, req.ReferenceNumbers, 1)
	assert.Equal(t, "ORDER-1", req.ReferenceNumbers[0])
}

func TestShipBody_ReferenceNumberClampedTo35Chars(t *testing.T) {
	order := testOrder()
	order.ReferenceNumber = strings.Repeat("x", 50)
	req, err := payload.ShipBody(order, "03", testShipper())
	require.NoError(t, err)
	assert.Len(t, req.ReferenceNumbers[0], 35)
}

func TestRateBody_RejectsEmptyShipperAccount(t *testing.T) {
	shipper := testShipper()
	shipper.AccountNumber = ""
	_, err := payload.RateBody(testOrder(), "03", shipper)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestResolveServiceCode_CAAndMXUpgradeToInternationalStandard(t *testing.T) {
	assert.Equal(t, "11", payload.ResolveServiceCode("03", "CA", "US"))
	assert.Equal(t, "11", payload.ResolveServiceCode("03", "MX", "US"))
}

func TestResolveServiceCode_OtherCountriesUpgradeToExpressSaver(t *testing.T) {
	assert.Equal(t, "65", payload.ResolveServiceCode("03", "DE", "US"))
}

func TestResolveServiceCode_DomesticUnchanged(t *testing.T) {
	assert.Equal(t, "03", payload.ResolveServiceCode("03", "US", "US"))
}

func TestRateAndShip_UseDistinctPackagingKeysButNeverSwap(t *testing.T) {
	rate, err := payload.RateBody(testOrder(), "03", testShipper())
	require.NoError(t, err)
	ship, err := payload.ShipBody(testOrder(), "03", testShipper())
	require.NoError(t, err)
	assert.Equal(t, "rate", rate.Kind)
	assert.Equal(t, "ship", ship.Kind)
	assert.NotEqual(t, rate.PackagingKey, ship.PackagingKey)
}
