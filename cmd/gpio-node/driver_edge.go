//go:build edge

package main

import (
	"gpio-node/internal/adapter/gpio"
	"gpio-node/internal/domain"
	"gpio-node/internal/infra/config"
)

func newDriver(cfg *config.Config) (domain.PinDriver, error) {
	if cfg.Node.GPIOBackend == "periph" {
		d, err := gpio.NewPeriphDriver(cfg.Node.PWMFrequency)
		if err != nil {
			return nil, err
		}
		return d, nil
	}
	return gpio.NewMemoryDriver(), nil
}
