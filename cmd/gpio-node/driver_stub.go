//go:build !edge

package main

import (
	"fmt"

	"gpio-node/internal/adapter/gpio"
	"gpio-node/internal/domain"
	"gpio-node/internal/infra/config"
)

func newDriver(cfg *config.Config) (domain.PinDriver, error) {
	if cfg.Node.GPIOBackend == "periph" {
		return nil, fmt.Errorf("gpio backend %q needs a build with the edge tag", cfg.Node.GPIOBackend)
	}
	return gpio.NewMemoryDriver(), nil
}
