package replay

import (
	"fmt"

	"github.com/uhyunpark/chartreplay/params"
	"github.com/uhyunpark/chartreplay/pkg/candle"
	"github.com/uhyunpark/chartreplay/pkg/engine"
)

// ConfigFromParams builds the session defaults used by the Manager.
func ConfigFromParams(p params.Config) (Config, error) {
	base, err := candle.ParseResolution(p.Replay.BaseResolution)
	if err != nil {
		return Config{}, fmt.Errorf("BASE_RESOLUTION: %w", err)
	}
	return Config{
		BaseResolution: base,
		Resolution:     base,
		InitialBalance: p.Engine.InitialBalance,
		Engine: engine.Config{
			CommissionBps:      p.Engine.CommissionBps,
			SwapLongBpsPerDay:  p.Engine.SwapLongBpsPerDay,
			SwapShortBpsPerDay: p.Engine.SwapShortBpsPerDay,
			QuantityPrecision:  p.Engine.QuantityPrecision,
		},
		StepInterval:       p.Replay.StepInterval,
		CheckpointInterval: p.Replay.CheckpointInterval,
		PersistTimeout:     p.Replay.PersistTimeout,
		PersistRetries:     p.Replay.PersistRetries,
		HitTolerance:       p.Drawing.HitTolerancePx,
		Magnet:             p.Drawing.Magnet,
	}, nil
}
