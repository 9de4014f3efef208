package broker

// Trade server return codes, numbered as the terminal numbers them.
const (
	RetcodeDone           = 10009
	RetcodeRejected       = 10006
	RetcodeInvalid        = 10013
	RetcodeInvalidVolume  = 10014
	RetcodeInvalidPrice   = 10015
	RetcodeInvalidStops   = 10016
	RetcodeMarketClosed   = 10018
	RetcodeNoMoney        = 10019
	RetcodeNoQuotes       = 10021
	RetcodePositionClosed = 10036
)

var retcodeText = map[int]string{
	RetcodeDone:           "request completed",
	RetcodeRejected:       "request rejected",
	RetcodeInvalid:        "invalid request",
	RetcodeInvalidVolume:  "invalid volume",
	RetcodeInvalidPrice:   "invalid price",
	RetcodeInvalidStops:   "invalid stops",
	RetcodeMarketClosed:   "market closed",
	RetcodeNoMoney:        "not enough money",
	RetcodeNoQuotes:       "no quotes",
	RetcodePositionClosed: "position already closed",
}

// RetcodeText describes a return code for log lines and API replies.
func RetcodeText(code int) string {
	if s, ok := retcodeText[code]; ok {
		return s
	}
	return "unknown retcode"
}
