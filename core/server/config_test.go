package server_test

import (
	"testing"

	"record-sync/core/server"

	"github.com/stretchr/testify/assert"
)

func TestConfig_AuthEnabled(t *testing.T) {
	tests := []struct {
		name string
		cfg  server.Config
		want bool
	}{
		{"None", server.Config{}, false},
		{"ApiKey", server.Config{ApiKey: "key"}, true},
		{"JWT", server.Config{JWTSecret: "secret"}, true},
		{"Both", server.Config{ApiKey: "key", JWTSecret: "secret"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.AuthEnabled())
		})
	}
}
