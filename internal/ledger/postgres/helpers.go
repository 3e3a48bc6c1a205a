package postgres

import (
	"math/big"
	"strconv"
	"strings"
)

// traceAddressKey encodes a trace address ([]int, e.g. [0, 2, 1]) as a
// dot-separated string for use as part of a composite unique key — trace
// addresses are short and this keeps the schema free of array-typed keys.
func traceAddressKey(trace []int) string {
	parts := make([]string, len(trace))
	for i, t := range trace {
		parts[i] = strconv.Itoa(t)
	}
	return strings.Join(parts, ".")
}

func parseTraceAddressKey(s string) []int {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ".")
	out := make([]int, len(parts))
	for i, p := range parts {
		n, _ := strconv.Atoi(p)
		out[i] = n
	}
	return out
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseBig(s string) *big.Int {
	n := new(big.Int)
	n.SetString(s, 10)
	return n
}
