package chatclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveEndpoint(t *testing.T) {
	cases := []struct {
		name      string
		base      string
		override  string
		fixedHost bool
		want      string
	}{
		{name: "page host", base: "http://chat.example.com:8080", want: "ws://chat.example.com:8080/websocket"},
		{name: "tls page host", base: "https://chat.example.com", want: "wss://chat.example.com/websocket"},
		{name: "fixed host", base: "http://localhost:8080", fixedHost: true, want: "ws://localhost:4444/websocket"},
		{name: "override", base: "http://localhost", override: "ws://10.0.0.2:9000/websocket", want: "ws://10.0.0.2:9000/websocket"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ResolveEndpoint(tc.base, tc.override, tc.fixedHost)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestResolveEndpointErrors(t *testing.T) {
	_, err := ResolveEndpoint("localhost", "", false)
	assert.Error(t, err)

	_, err = ResolveEndpoint("http://localhost", "http://localhost/websocket", false)
	assert.Error(t, err)
}
