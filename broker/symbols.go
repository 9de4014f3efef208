package broker

import "strings"

// MatchSymbol picks the terminal symbol for an instrument: an exact name
// wins, otherwise the first name that starts with the instrument (brokers
// often suffix symbols, e.g. "EURUSD.m").
func MatchSymbol(names []string, instrument string) (string, bool) {
	instrument = strings.TrimSpace(instrument)
	if instrument == "" {
		return "", false
	}
	for _, n := range names {
		if n == instrument {
			return n, true
		}
	}
	for _, n := range names {
		if strings.HasPrefix(n, instrument) {
			return n, true
		}
	}
	return "", false
}
