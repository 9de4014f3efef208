package trader

import (
	"encoding/json"
	"time"

	"github.com/rustyeddy/fxassist/broker"
)

// InstrumentFrame is the per-instrument part of a stream frame.
type InstrumentFrame struct {
	Bid         float64          `json:"bid"`
	Ask         float64          `json:"ask"`
	Signal      *string          `json:"signal"` // null when there is no entry
	LastUp      *float64         `json:"last_up_fractal"`
	LastDown    *float64         `json:"last_down_fractal"`
	Position    *broker.Position `json:"position"`
	AutoTrading bool             `json:"auto_trading"`
	LotSize     float64          `json:"lot_size"`
	SLPips      float64          `json:"sl_pips"`
	TPPips      float64          `json:"tp_pips"`
}

// Frame is one snapshot pushed to stream clients. It marshals to a flat
// object keyed by instrument name plus an "account" key.
type Frame struct {
	Time        time.Time
	Account     *broker.Account
	Instruments map[string]InstrumentFrame
}

func (f Frame) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(f.Instruments)+1)
	for name, in := range f.Instruments {
		out[name] = in
	}
	if f.Account != nil {
		out["account"] = f.Account
	}
	return json.Marshal(out)
}

// Publisher receives every frame the loop builds.
type Publisher interface {
	Publish(Frame)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(Frame)

func (fn PublisherFunc) Publish(f Frame) { fn(f) }
