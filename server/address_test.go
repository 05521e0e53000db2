package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveBindAddress(t *testing.T) {
	tests := []struct {
		name    string
		address string
		want    string
		wantErr bool
	}{
		{name: "empty means all interfaces", address: "", want: ""},
		{name: "any lowercase", address: "any", want: ""},
		{name: "any uppercase", address: "ANY", want: ""},
		{name: "any mixed case", address: "Any", want: ""},
		{name: "whitespace around any", address: "  any  ", want: ""},
		{name: "ipv4 loopback", address: "127.0.0.1", want: "127.0.0.1"},
		{name: "ipv4 wildcard literal", address: "0.0.0.0", want: "0.0.0.0"},
		{name: "ipv6 loopback", address: "::1", want: "::1"},
		{name: "ipv6 full form", address: "2001:db8::1", want: "2001:db8::1"},
		{name: "hostname rejected", address: "not-an-ip", wantErr: true},
		{name: "fqdn rejected", address: "mail.example.com", wantErr: true},
		{name: "out of range octet", address: "256.1.1.1", wantErr: true},
		{name: "address with port rejected", address: "127.0.0.1:25", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ResolveBindAddress(tc.address)
			if tc.wantErr {
				require.ErrorIs(t, err, ErrInvalidAddress)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
