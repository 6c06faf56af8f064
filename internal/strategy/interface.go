package strategy

import (
	"time"

	"github.com/alanyoungcy/quantbot/internal/domain"
	"github.com/alanyoungcy/quantbot/internal/marketview"
)

// Input is everything a generator may look at in one cycle.
type Input struct {
	Market     domain.MarketSnapshot
	Flow       domain.FlowStat
	Pressure   marketview.PressureStat
	NewsScore  float64
	Now        time.Time
	InPosition bool
}

// Generator produces exactly one Signal per cycle. It never fails: any
// reason not to trade becomes a FLAT signal carrying that reason.
type Generator interface {
	Name() string
	Generate(in Input) domain.Signal
}

// Config selects and parameterizes a generator. It is built once per bot
// and not mutated afterwards.
type Config struct {
	Name    string
	Scalp   ScalpParams
	Blender BlenderParams
}

// Flat reasons shared by every generator.
const (
	ReasonInsufficientHistory = "insufficient_history"
	ReasonBelowThreshold      = "below_threshold"
	ReasonZeroScore           = "zero_score"
)
