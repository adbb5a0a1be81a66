package config

import "sort"

// Presets are complete scenarios selectable by name. Use GetPreset, which
// returns a copy.
var Presets = map[string]*Config{
	"straight": preset("straight", func(c *Config) {
		c.Scenario.Duration = 10
	}),
	"offset": preset("offset", func(c *Config) {
		c.Scenario.Duration = 15
		c.Scenario.PathStart = PointConfig{X: 0, Y: 3}
		c.Scenario.PathEnd = PointConfig{X: DefaultPathLength, Y: 3}
	}),
	"obstacle": preset("obstacle", func(c *Config) {
		c.Scenario.Duration = 12
		c.Controller.VehicleRadius = 1.5
		c.Scenario.Obstacles = []ObstacleConfig{{X: 25, Y: 0, Radius: 1.5}}
	}),
	"slalom": preset("slalom", func(c *Config) {
		c.Scenario.Duration = 18
		c.Controller.VehicleRadius = 1
		c.Controller.Soft = true
		c.Scenario.Obstacles = []ObstacleConfig{
			{X: 20, Y: -0.8, Radius: 1},
			{X: 40, Y: 0.8, Radius: 1},
			{X: 60, Y: -0.8, Radius: 1},
		}
	}),
	"reverse-lane": preset("reverse-lane", func(c *Config) {
		c.Scenario.Duration = 15
		c.Scenario.Start = PoseConfig{X: 80, Y: 0, Heading: 180, TrailerHeading: 180}
		c.Scenario.PathStart = PointConfig{X: 100, Y: -4}
		c.Scenario.PathEnd = PointConfig{X: -100, Y: -4}
	}),
}

func preset(name string, apply func(*Config)) *Config {
	cfg := DefaultConfig()
	cfg.Name = name
	apply(cfg)
	return cfg
}

func GetPreset(name string) *Config {
	cfg, ok := Presets[name]
	if !ok {
		return nil
	}
	return cfg.Clone()
}

func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
