package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chosenoffset/spcwatch/pkg/spcwatch/config"
)

func TestSetupTracing(t *testing.T) {
	shutdown, err := setupTracing(context.Background(), config.TracingConfig{Exporter: "none"})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))

	shutdown, err = setupTracing(context.Background(), config.TracingConfig{Exporter: "stdout"})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))

	_, err = setupTracing(context.Background(), config.TracingConfig{Exporter: "zipkin"})
	assert.ErrorIs(t, err, errUnknownExporter)
}
