package dispense

import (
	"fmt"
	"strconv"
	"strings"
)

// Document number format: <PREFIX>-<4-digit year>-<5-digit sequence>,
// e.g. IPS-2025-00001. The sequence is derived from the highest existing
// number with the same prefix inside the caller's transaction; there is no
// separate counter table, so callers retry on unique-constraint collision.
const (
	NumberPrefixOutpatientSale = "OPS"
	NumberPrefixInpatientSale  = "IPS"
	NumberPrefixReturn         = "RTN"
)

// SaleNumberPrefix returns the document prefix for a sale channel
func SaleNumberPrefix(channel SaleChannel) string {
	if channel == SaleChannelInpatient {
		return NumberPrefixInpatientSale
	}
	return NumberPrefixOutpatientSale
}

// FormatNumber renders a document number for the given prefix, year, and sequence
func FormatNumber(prefix string, year int, seq int64) string {
	return fmt.Sprintf("%s-%04d-%05d", prefix, year, seq)
}

// SequenceOf parses the sequence component from a document number. It
// returns 0 when the number does not match the expected shape so a fresh
// sequence starts at 1.
func SequenceOf(number string) int64 {
	parts := strings.Split(number, "-")
	if len(parts) != 3 {
		return 0
	}
	seq, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || seq < 0 {
		return 0
	}
	return seq
}
