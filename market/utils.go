package market

import (
	"fmt"
	"time"
)

// BarTimeframe is the bar size the detector runs on.
const BarTimeframe = "M1"

func TFStringToSeconds(tf string) (int32, error) {
	switch tf {
	case "M1":
		return 60, nil
	case "M5":
		return 300, nil
	case "M15":
		return 900, nil
	case "M30":
		return 1800, nil
	case "H1":
		return 3600, nil
	case "H4":
		return 14400, nil
	case "D1":
		return 86400, nil
	default:
		return 0, fmt.Errorf("unsupported timeframe string: %s", tf)
	}
}

// TFDuration is TFStringToSeconds as a time.Duration.
func TFDuration(tf string) (time.Duration, error) {
	sec, err := TFStringToSeconds(tf)
	if err != nil {
		return 0, err
	}
	return time.Duration(sec) * time.Second, nil
}
