package config

import (
	"can-telemetry-bridge/internal/models"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// signalFile is the YAML layout of SIGNALS_FILE:
//
//	signals:
//	  speed:
//	    address: 0xB4
//	    offset: 5
//	    length: 2
//	    scale: 0.01
//	    secondary_scale: 0.621371
//	    channel: 0
type signalFile struct {
	Signals map[string]models.SignalSpec `yaml:"signals"`
}

// LoadSignalFile reads a signal set from YAML. A missing scale means 1.
func LoadSignalFile(path string) (models.SignalSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read signal file: %w", err)
	}

	var file signalFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse signal file %s: %w", path, err)
	}
	if len(file.Signals) == 0 {
		return nil, fmt.Errorf("signal file %s defines no signals", path)
	}

	set := make(models.SignalSet, len(file.Signals))
	for name, spec := range file.Signals {
		spec.Name = name
		if spec.Scale == 0 {
			spec.Scale = 1
		}
		set[name] = spec
	}

	if err := set.Validate(); err != nil {
		return nil, fmt.Errorf("signal file %s: %w", path, err)
	}
	return set, nil
}

// Signals builds the signal set: the file (or the built-in set), with the
// inline SIGNALS definitions merged over it
func (c *Config) Signals() (models.SignalSet, error) {
	set := models.DefaultSignals()
	if c.SignalsFile != "" {
		loaded, err := LoadSignalFile(c.SignalsFile)
		if err != nil {
			return nil, err
		}
		set = loaded
	}

	inline, err := models.ParseSignalSpecs(c.SignalsInline)
	if err != nil {
		return nil, fmt.Errorf("SIGNALS: %w", err)
	}
	for _, spec := range inline {
		set[spec.Name] = spec
	}

	if err := set.Validate(); err != nil {
		return nil, err
	}
	return set, nil
}

// Addresses returns the distinct frame IDs of a signal set, for receive filters
func Addresses(set models.SignalSet) []uint32 {
	seen := make(map[uint32]bool, len(set))
	var ids []uint32
	for _, name := range set.Names() {
		id := set[name].Address
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}
