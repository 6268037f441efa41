package cmd

import "github.com/apfscore/apfsro/internal/device"

// imageConfig loads the device-detection defaults (GPT auto-detection,
// fallback offset) apfsctl uses to locate a container embedded in a raw
// disk image or .dmg.
func imageConfig() (*device.Config, error) {
	return device.LoadConfig()
}
