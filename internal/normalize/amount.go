// Package normalize turns the loosely formatted amounts and dates produced by
// language models into concrete values. Nothing here returns an error: bad
// input degrades to zero or to the anchor time.
package normalize

import (
	"math"
	"strconv"
	"strings"
)

type amountUnit struct {
	suffix     string
	multiplier float64
}

// amountUnits is matched in order and the first suffix contained in the
// input wins, so "man" is tried before "m".
var amountUnits = []amountUnit{
	{suffix: "sen", multiplier: 1_000},
	{suffix: "man", multiplier: 10_000},
	{suffix: "k", multiplier: 1_000},
	{suffix: "m", multiplier: 1_000_000},
	{suffix: "tr", multiplier: 1_000_000},
	{suffix: "b", multiplier: 1_000_000_000},
}

// Amount parses strings such as "1.5k", "40man", "3.5tr" or "1,200".
// Commas are thousands separators, '.' is the decimal point. Unknown
// trailing text makes the whole value 0.
func Amount(s string) float64 {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))

	for _, u := range amountUnits {
		if strings.Contains(s, u.suffix) {
			return parseFloat(strings.ReplaceAll(s, u.suffix, "")) * u.multiplier
		}
	}

	return parseFloat(s)
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
