package config

import "testing"

func TestConfigValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Server: ServerConfig{
				Host: "0.0.0.0",
				Port: 8080,
				Mode: "release",
			},
			History: HistoryConfig{SaveRetries: 3},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "debug mode",
			mutate:  func(c *Config) { c.Server.Mode = "debug" },
			wantErr: false,
		},
		{
			name:    "zero retries allowed",
			mutate:  func(c *Config) { c.History.SaveRetries = 0 },
			wantErr: false,
		},
		{
			name:    "port zero",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: true,
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: true,
		},
		{
			name:    "unknown mode",
			mutate:  func(c *Config) { c.Server.Mode = "production" },
			wantErr: true,
		},
		{
			name:    "negative retries",
			mutate:  func(c *Config) { c.History.SaveRetries = -1 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
