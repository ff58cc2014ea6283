package alert

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"

	"github.com/rickgao/pricepulse/internal/model"
)

// CitySource provides the cities weather alerts may name.
type CitySource interface {
	Cities() []string
}

// StaticCities is a fixed CitySource.
type StaticCities []string

// Cities returns the list.
func (s StaticCities) Cities() []string { return s }

var weatherTemplates = []string{
	"Heavy rain expected in %s within the next hour",
	"Strong winds reported in %s",
	"Temperature in %s has dropped sharply",
	"Thunderstorm warning issued for %s",
	"Heat advisory in effect for %s",
	"Dense fog is reducing visibility in %s",
}

// WeatherSimulator emits synthetic weather alerts. Each Tick independently
// produces an alert with the configured probability.
type WeatherSimulator struct {
	probability float64
	cities      CitySource
	log         Appender
	logger      *slog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewWeatherSimulator creates a simulator. A nil rng is seeded randomly.
func NewWeatherSimulator(probability float64, cities CitySource, log Appender, rng *rand.Rand, logger *slog.Logger) *WeatherSimulator {
	if logger == nil {
		logger = slog.Default()
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &WeatherSimulator{
		probability: probability,
		cities:      cities,
		log:         log,
		logger:      logger,
		rng:         rng,
	}
}

// Tick may append one weather alert.
func (w *WeatherSimulator) Tick() {
	cities := w.cities.Cities()
	if len(cities) == 0 {
		return
	}

	w.mu.Lock()
	if w.rng.Float64() >= w.probability {
		w.mu.Unlock()
		return
	}
	city := cities[w.rng.IntN(len(cities))]
	tmpl := weatherTemplates[w.rng.IntN(len(weatherTemplates))]
	w.mu.Unlock()

	name := DisplayName(city)
	w.log.Append(model.KindWeatherAlert, "Weather Alert: "+name, fmt.Sprintf(tmpl, name))
	w.logger.Debug("weather alert", "city", name)
}
