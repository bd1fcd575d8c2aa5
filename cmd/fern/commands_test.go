package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/pkg/models"
)

func TestScopeFromFlags(t *testing.T) {
	cmd := reconcileCommand()
	require.NoError(t, cmd.Flags().Parse([]string{"--entity-types", string(models.EntityTypeDoctor), "--edge-types", string(models.EdgeFollows)}))

	scope, err := scopeFromFlags(cmd)
	require.NoError(t, err)
	assert.Equal(t, []models.EntityType{models.EntityTypeDoctor}, scope.EntityTypes)
	assert.Equal(t, []models.EdgeType{models.EdgeFollows}, scope.EdgeTypes)

	bad := backfillCommand()
	require.NoError(t, bad.Flags().Parse([]string{"--entity-types", "Planet"}))
	_, err = scopeFromFlags(bad)
	assert.Error(t, err)
}

func TestCDCTopics(t *testing.T) {
	a := &app{cfg: config.Config{KafkaCDCTopicPrefix: "medconnect.public"}}
	topics := a.cdcTopics()
	require.NotEmpty(t, topics)
	assert.Contains(t, topics, "medconnect.public.doctors")

	a.cfg.KafkaCDCTopics = []string{"only.this"}
	assert.Equal(t, []string{"only.this"}, a.cdcTopics())
}
