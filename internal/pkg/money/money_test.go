package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormat(t *testing.T) {
	assert.Equal(t, "0 ₫", Format(0))
	assert.Equal(t, "999 ₫", Format(999))
	assert.Equal(t, "1.000 ₫", Format(1000))
	assert.Equal(t, "1.250.000 ₫", Format(1250000))
	assert.Equal(t, "-60.000 ₫", Format(-60000))
	assert.Equal(t, "+100.000 ₫", FormatSigned(100000))
	assert.Equal(t, "-100.000 ₫", FormatSigned(-100000))
}

func TestGatewayUnitsRoundTrip(t *testing.T) {
	assert.Equal(t, "10000000", ToGatewayUnits(100000, 100))

	v, err := FromGatewayUnits("10000000", 100)
	require.NoError(t, err)
	assert.Equal(t, int64(100000), v)

	_, err = FromGatewayUnits("10000050", 100)
	assert.Error(t, err)

	_, err = FromGatewayUnits("abc", 100)
	assert.Error(t, err)
}

func TestPointsFor(t *testing.T) {
	assert.Equal(t, int64(1000), PointsFor(100000, 100))
	assert.Equal(t, int64(0), PointsFor(99, 100))
	assert.Equal(t, int64(1), PointsFor(199, 100))
	assert.Equal(t, int64(0), PointsFor(100000, 0))
	assert.Equal(t, int64(0), PointsFor(-500, 100))
}
