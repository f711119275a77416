package config

import (
	"github.com/pkg/errors"

	"github.com/room4-2/GramHealth/consult"
	"github.com/room4-2/GramHealth/triage"
)

// Consultation builds the consultation timings and catalog.
func (c *Config) Consultation() (consult.Config, error) {
	cfg := consult.DefaultConfig()
	cfg.ConnectDelay = c.ConnectDelay
	cfg.FallbackDelay = c.FallbackDelay
	cfg.TeardownDelay = c.TeardownDelay
	cfg.AdvisorTimeout = c.AdvisorTimeout
	cfg.Voice.SimulatedSpeech = c.SimulatedSpeech
	cfg.Voice.SimulatedListen = c.SimulatedListen

	if c.TriageCatalogFile != "" {
		catalog, err := triage.LoadCatalog(c.TriageCatalogFile)
		if err != nil {
			return consult.Config{}, errors.Wrap(err, "load triage catalog")
		}
		cfg.Catalog = catalog
	}
	return cfg, nil
}
