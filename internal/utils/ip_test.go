package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsAllowedIP(t *testing.T) {
	cidrs := []string{"127.0.0.0/8", "::1/128", "10.0.0.0/8", "bad-cidr"}

	tests := []struct {
		ip   string
		want bool
	}{
		{"127.0.0.1", true},
		{"127.255.255.254", true},
		{"::1", true},
		{"10.20.30.40", true},
		{"192.0.2.1", false},
		{"not-an-ip", false},
		{"", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, IsAllowedIP(tt.ip, cidrs), "ip %q", tt.ip)
	}
}
