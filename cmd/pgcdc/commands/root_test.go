package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRootCmd_HasExpectedSubcommands(t *testing.T) {
	root := GetRootCmd()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["run"])
	assert.True(t, names["check"])
	assert.True(t, names["slot"])
}

func TestSlotCmd_HasStatusAndDropSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range slotCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["status"])
	assert.True(t, names["drop"])
}

func TestGetConfigFile_ReflectsPersistentFlag(t *testing.T) {
	root := GetRootCmd()
	assert.NoError(t, root.PersistentFlags().Set("config", "/tmp/pgcdc.yaml"))
	assert.Equal(t, "/tmp/pgcdc.yaml", GetConfigFile())
	assert.NoError(t, root.PersistentFlags().Set("config", ""))
}
