package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestServeCommandIsRegisteredUnderRoot(t *testing.T) {
	found, _, err := rootCmd.Find([]string{"serve"})
	assert.NoError(t, err)
	assert.Equal(t, serveCmd, found)
}

func TestServeCommandDefaultsToPort4711(t *testing.T) {
	flag := serveCmd.Flags().Lookup("addr")
	assert.NotNil(t, flag)
	assert.Equal(t, ":4711", flag.DefValue)
}
