package configuration

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/bartossh/custodia/currency"
)

// Configuration is the main configuration of the wallet core that corresponds
// to the *.yaml file that holds the configuration.
type Configuration struct {
	Currency currency.Config `yaml:"currency"`
}

// Read reads the configuration from the file and returns the Configuration
// with set fields according to the yaml setup.
func Read(path string) (Configuration, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return Configuration{}, err
	}

	main := Configuration{Currency: currency.DefaultConfig()}
	err = yaml.Unmarshal(buf, &main)
	if err != nil {
		return Configuration{}, fmt.Errorf("in file %q: %w", path, err)
	}

	if err := main.Currency.Validate(); err != nil {
		return Configuration{}, err
	}

	return main, nil
}
