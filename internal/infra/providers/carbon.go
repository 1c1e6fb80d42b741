package providers

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"

	"github.com/eres45/EcoChain/internal/domain"
)

// Data types served by the carbon emissions source.
const (
	TypeCarbonIntensity = "carbon_intensity"
	TypeEnergyMix       = "energy_mix"
	TypeEmissionsFactor = "emissions_factor"
)

// carbonIntensity holds grid carbon intensity baselines in gCO2/kWh.
var carbonIntensity = map[string]float64{
	"europe":        250.0,
	"north_america": 380.0,
	"asia":          450.0,
	"global":        400.0,
	"iceland":       20.0,
	"france":        70.0,
	"china":         550.0,
	"australia":     700.0,
}

// energyMixes holds generation shares per region in percent.
var energyMixes = map[string]map[string]float64{
	"europe": {
		"coal": 15.0, "gas": 20.0, "nuclear": 25.0, "hydro": 15.0,
		"wind": 15.0, "solar": 8.0, "biomass": 2.0,
	},
	"north_america": {
		"coal": 25.0, "gas": 35.0, "nuclear": 20.0, "hydro": 8.0,
		"wind": 7.0, "solar": 3.0, "biomass": 2.0,
	},
	"asia": {
		"coal": 45.0, "gas": 25.0, "nuclear": 10.0, "hydro": 12.0,
		"wind": 5.0, "solar": 2.0, "biomass": 1.0,
	},
	"global": {
		"coal": 35.0, "gas": 25.0, "nuclear": 15.0, "hydro": 12.0,
		"wind": 8.0, "solar": 4.0, "biomass": 1.0,
	},
}

// emissionsFactors holds lifecycle emissions per source in gCO2/kWh.
// These are largely region-independent.
var emissionsFactors = map[string]float64{
	"coal":       820.0,
	"gas":        490.0,
	"nuclear":    12.0,
	"hydro":      24.0,
	"wind":       11.0,
	"solar":      45.0,
	"biomass":    230.0,
	"geothermal": 38.0,
}

// CarbonSource serves simulated grid carbon data. Values are regional
// baselines with a small random perturbation, standing in for an external
// carbon intensity API.
type CarbonSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewCarbonSource creates the source. A zero seed uses the current time.
func NewCarbonSource(seed int64) *CarbonSource {
	return &CarbonSource{rng: newRNG(seed)}
}

// NewCarbonEmissionsProvider builds a ready-to-register provider around a
// CarbonSource.
func NewCarbonEmissionsProvider(cfg Config, seed int64) *Provider {
	if cfg.Name == "" {
		cfg.Name = "carbon-emissions"
	}
	cfg.DataTypes = []string{TypeCarbonIntensity, TypeEnergyMix, TypeEmissionsFactor}
	return New(cfg, NewCarbonSource(seed))
}

func (s *CarbonSource) Fetch(ctx context.Context, dataType string, params map[string]string) (domain.Payload, error) {
	if err := ctx.Err(); err != nil {
		return domain.Payload{}, err
	}
	switch dataType {
	case TypeCarbonIntensity:
		return s.fetchIntensity(params), nil
	case TypeEnergyMix:
		return s.fetchEnergyMix(params), nil
	case TypeEmissionsFactor:
		return s.fetchEmissionsFactors(params), nil
	default:
		return domain.Payload{}, fmt.Errorf("%w: %s", domain.ErrUnsupportedPayload, dataType)
	}
}

func (s *CarbonSource) fetchIntensity(params map[string]string) domain.Payload {
	base, ok := carbonIntensity[regionParam(params)]
	if !ok {
		base = carbonIntensity["global"]
	}
	s.mu.Lock()
	v := jitter(s.rng, base, 0.1)
	s.mu.Unlock()
	return domain.ScalarPayload(v)
}

func (s *CarbonSource) fetchEnergyMix(params map[string]string) domain.Payload {
	mix, ok := energyMixes[regionParam(params)]
	if !ok {
		mix = energyMixes["global"]
	}

	s.mu.Lock()
	perturbed := make(map[string]float64, len(mix))
	total := 0.0
	for source, share := range mix {
		v := jitter(s.rng, share, 0.05)
		perturbed[source] = v
		total += v
	}
	s.mu.Unlock()

	// Renormalize so the shares still sum to 100%.
	for source := range perturbed {
		perturbed[source] = perturbed[source] / total * 100
	}
	return domain.NumberMapping(perturbed)
}

func (s *CarbonSource) fetchEmissionsFactors(params map[string]string) domain.Payload {
	sources := params["sources"]
	if sources == "" {
		return domain.NumberMapping(emissionsFactors)
	}
	out := make(map[string]float64)
	for _, name := range strings.Split(sources, ",") {
		name = strings.TrimSpace(name)
		if f, ok := emissionsFactors[name]; ok {
			out[name] = f
		}
	}
	return domain.NumberMapping(out)
}

func regionParam(params map[string]string) string {
	region := params["region"]
	if region == "" {
		return "global"
	}
	return strings.ToLower(region)
}
