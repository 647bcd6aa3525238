package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hariohmprasath/events-streamlined-with-dedups/internal/config"
	"github.com/hariohmprasath/events-streamlined-with-dedups/internal/pipeline"
)

func TestRootCommandTree(t *testing.T) {
	root := newRootCmd()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"run", "processor", "router", "send"}, names)
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
}

func TestRouterCommandRejectsUnknownSource(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"router", "kafka"})
	root.PersistentPreRunE = nil

	assert.Error(t, root.Execute())
}

func TestInvokerSelection(t *testing.T) {
	prev := cfg
	t.Cleanup(func() { cfg = prev })

	cfg = &config.Config{Invoke: config.InvokeConfig{URL: "http://processor:8080/invoke"}}
	inv, err := invoker(nil)
	require.NoError(t, err)
	httpInv, ok := inv.(*pipeline.HTTPInvoker)
	require.True(t, ok)
	assert.Equal(t, "http://processor:8080/invoke", httpInv.URL)

	cfg = &config.Config{}
	_, err = invoker(nil)
	assert.Error(t, err)
}
