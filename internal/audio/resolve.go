package audio

import "fmt"

// ResolveMonoConfig picks the first single-channel candidate and runs it at
// its maximum supported sample rate.
func ResolveMonoConfig(candidates []ConfigRange) (StreamConfig, error) {
	for _, c := range candidates {
		if c.Channels != 1 {
			continue
		}
		if c.MaxSampleRate <= 0 {
			continue
		}
		return StreamConfig{
			Channels:   1,
			SampleRate: c.MaxSampleRate,
			Format:     c.Format,
		}, nil
	}
	return StreamConfig{}, ErrNoSuitableConfig
}

// ResolveDeviceConfig queries dev and resolves a mono configuration for it.
func ResolveDeviceConfig(dev Device) (StreamConfig, error) {
	candidates, err := dev.SupportedConfigs()
	if err != nil {
		return StreamConfig{}, fmt.Errorf("query configs for %q: %w", dev.Name(), err)
	}
	cfg, err := ResolveMonoConfig(candidates)
	if err != nil {
		return StreamConfig{}, fmt.Errorf("device %q: %w", dev.Name(), err)
	}
	return cfg, nil
}
