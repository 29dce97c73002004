package models

import (
	"strings"
	"unicode"
)

// Point values per contract for the futures roots the journal recognises.
// Anything else (equities, crypto spot) trades at a multiplier of 1.
var contractMultipliers = map[string]float64{
	"ES":  50,
	"MES": 5,
	"NQ":  20,
	"MNQ": 2,
	"YM":  5,
	"MYM": 0.5,
	"RTY": 50,
	"M2K": 5,
	"CL":  1000,
	"MCL": 100,
	"NG":  10000,
	"GC":  100,
	"MGC": 10,
	"SI":  5000,
	"HG":  25000,
	"ZB":  1000,
	"ZN":  1000,
	"ZF":  1000,
	"6E":  125000,
	"6J":  12500000,
	"BTC": 5,
	"MBT": 0.1,
	"ETH": 50,
	"MET": 0.1,
}

// Futures month codes, F (Jan) through Z (Dec).
const monthCodes = "FGHJKMNQUVXZ"

// RootSymbol strips a futures contract suffix such as "H5" or "Z24" and any
// exchange prefix/suffix, e.g. "MNQH5" -> "MNQ", "ESZ24" -> "ES", "/ES" -> "ES".
func RootSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	s = strings.TrimPrefix(s, "/")
	if i := strings.IndexAny(s, ".: "); i > 0 {
		s = s[:i]
	}
	if _, ok := contractMultipliers[s]; ok {
		return s
	}

	// Trailing year digits, then a single month code.
	end := len(s)
	for end > 0 && unicode.IsDigit(rune(s[end-1])) {
		end--
	}
	digits := len(s) - end
	if digits == 0 || digits > 2 || end < 2 {
		return s
	}
	if !strings.ContainsRune(monthCodes, rune(s[end-1])) {
		return s
	}
	root := s[:end-1]
	if _, ok := contractMultipliers[root]; ok {
		return root
	}
	return s
}

// ContractMultiplier returns the point value for symbol.
func ContractMultiplier(symbol string) float64 {
	if m, ok := contractMultipliers[RootSymbol(symbol)]; ok {
		return m
	}
	return 1
}

// IsFutures reports whether the symbol resolves to a known futures root.
func IsFutures(symbol string) bool {
	_, ok := contractMultipliers[RootSymbol(symbol)]
	return ok
}

// GrossPnLFor is the one P&L formula used for realized and hypothetical exits.
func GrossPnLFor(symbol string, side Side, entry, exit, contracts float64) float64 {
	return (exit - entry) * side.Sign() * contracts * ContractMultiplier(symbol)
}

// ROIFor returns net P&L as a percentage of the notional entry value.
func ROIFor(symbol string, entry, contracts, netPnL float64) float64 {
	notional := entry * contracts * ContractMultiplier(symbol)
	if notional == 0 {
		return 0
	}
	return netPnL / notional * 100
}
