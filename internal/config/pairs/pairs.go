// Package pairs loads the operator-edited trading pair file and watches
// it for changes so pair updates reach the controller without a restart.
package pairs

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"autohelm/internal/core"
)

// FileConfig is the on-disk shape of the pairs file.
type FileConfig struct {
	Pairs []core.TradingPairConfig `yaml:"pairs"`
}

const defaultStrategyID = "momentum"

// ReadFile parses and normalizes the pairs file at path.
func ReadFile(path string) ([]core.TradingPairConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pairs file failed: %w", err)
	}
	return Parse(raw)
}

// Parse decodes raw YAML into normalized pair configs. Symbols are
// uppercased and deduplicated; later entries win on duplicates.
func Parse(raw []byte) ([]core.TradingPairConfig, error) {
	var fileCfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&fileCfg); err != nil {
		return nil, fmt.Errorf("parse pairs file failed: %w", err)
	}
	if len(fileCfg.Pairs) == 0 {
		return nil, fmt.Errorf("pairs file defines no pairs")
	}

	bySymbol := make(map[string]int)
	out := make([]core.TradingPairConfig, 0, len(fileCfg.Pairs))
	for _, p := range fileCfg.Pairs {
		p.Symbol = strings.ToUpper(strings.TrimSpace(p.Symbol))
		if p.Symbol == "" {
			continue
		}
		if err := validatePair(p); err != nil {
			return nil, err
		}
		if strings.TrimSpace(p.StrategyID) == "" {
			p.StrategyID = defaultStrategyID
		}
		if idx, ok := bySymbol[p.Symbol]; ok {
			out[idx] = p
			continue
		}
		bySymbol[p.Symbol] = len(out)
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("pairs file defines no usable pairs")
	}
	return out, nil
}

func validatePair(p core.TradingPairConfig) error {
	if p.StopLossPct < 0 || p.StopLossPct >= 1 {
		return fmt.Errorf("pair %s: stop_loss_pct must be in [0, 1)", p.Symbol)
	}
	if p.TakeProfitPct < 0 || p.TakeProfitPct >= 1 {
		return fmt.Errorf("pair %s: take_profit_pct must be in [0, 1)", p.Symbol)
	}
	return nil
}

// ActiveSymbols filters the active pairs and returns their symbols in
// file order.
func ActiveSymbols(cfgs []core.TradingPairConfig) []string {
	out := make([]string, 0, len(cfgs))
	for _, p := range cfgs {
		if p.IsActive {
			out = append(out, p.Symbol)
		}
	}
	return out
}
