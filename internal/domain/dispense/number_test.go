package dispense

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatNumber(t *testing.T) {
	assert.Equal(t, "OPS-2026-00001", FormatNumber(NumberPrefixOutpatientSale, 2026, 1))
	assert.Equal(t, "IPS-2026-00042", FormatNumber(NumberPrefixInpatientSale, 2026, 42))
	assert.Equal(t, "RTN-2026-12345", FormatNumber(NumberPrefixReturn, 2026, 12345))

	// Sequences past the 5-digit padding widen instead of wrapping.
	assert.Equal(t, "OPS-2026-100000", FormatNumber(NumberPrefixOutpatientSale, 2026, 100000))
}

func TestSequenceOf(t *testing.T) {
	assert.Equal(t, int64(1), SequenceOf("OPS-2026-00001"))
	assert.Equal(t, int64(99999), SequenceOf("RTN-2026-99999"))
	assert.Equal(t, int64(100000), SequenceOf("OPS-2026-100000"))

	// Malformed numbers restart the sequence.
	assert.Equal(t, int64(0), SequenceOf(""))
	assert.Equal(t, int64(0), SequenceOf("OPS-2026"))
	assert.Equal(t, int64(0), SequenceOf("OPS-2026-xyz"))
	assert.Equal(t, int64(0), SequenceOf("OPS-2026-00001-extra"))
}

func TestSaleNumberPrefix(t *testing.T) {
	assert.Equal(t, NumberPrefixOutpatientSale, SaleNumberPrefix(SaleChannelOutpatient))
	assert.Equal(t, NumberPrefixInpatientSale, SaleNumberPrefix(SaleChannelInpatient))
}
