package bootstrap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsmith/docsmith/config"
)

func backgroundNames(services []backgroundService) []string {
	var names []string
	for _, svc := range services {
		names = append(names, svc.name)
	}
	return names
}

func TestBuildBackgroundServices(t *testing.T) {
	tests := []struct {
		name    string
		enabled map[config.ServiceMode]bool
		want    []string
	}{
		{
			name:    "http runs the reactive publisher",
			enabled: map[config.ServiceMode]bool{config.ServiceModeHTTP: true},
			want:    []string{"publisher"},
		},
		{
			name:    "worker only",
			enabled: map[config.ServiceMode]bool{config.ServiceModeWorker: true},
			want:    []string{"worker"},
		},
		{
			name: "combined deployment",
			enabled: map[config.ServiceMode]bool{
				config.ServiceModeHTTP:    true,
				config.ServiceModeWorker:  true,
				config.ServiceModeSweeper: true,
			},
			want: []string{"publisher", "worker", "sweeper"},
		},
		{
			name:    "nothing enabled",
			enabled: map[config.ServiceMode]bool{},
			want:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := buildBackgroundServices(tt.enabled, ServiceContainer{})
			assert.Equal(t, tt.want, backgroundNames(got))
		})
	}
}

func TestValidateServiceConfig(t *testing.T) {
	cfg := &config.AppConfig{Services: "http,worker"}
	require.NoError(t, ValidateServiceConfig(cfg))

	cfg = &config.AppConfig{Services: "carrier-pigeon"}
	assert.Error(t, ValidateServiceConfig(cfg))

	assert.Error(t, ValidateServiceConfig(nil))
}

func TestGetEnabledServices(t *testing.T) {
	cfg := &config.AppConfig{Services: "http,sweeper"}
	assert.ElementsMatch(t, []string{"http", "sweeper"}, GetEnabledServices(cfg))

	assert.Empty(t, GetEnabledServices(nil))
}
