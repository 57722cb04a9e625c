package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootRegistersCommands(t *testing.T) {
	root := newRootCmd()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"tick", "evaluate", "cancel-round", "rate", "graph", "token"} {
		assert.True(t, names[want], want)
	}
}

func TestEvaluateRequiresFlags(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"evaluate", "--session", "s1"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "round")
}

func TestTokenRejectsUnknownRole(t *testing.T) {
	t.Setenv("JWT_SECRET", "cli-secret")
	root := newRootCmd()
	root.SetArgs([]string{"token", "--user", "u1", "--role", "JANITOR"})
	root.SetOut(&bytes.Buffer{})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JANITOR")
}

func TestTokenPrintsJWT(t *testing.T) {
	t.Setenv("JWT_SECRET", "cli-secret")
	out := &bytes.Buffer{}
	root := newRootCmd()
	root.SetArgs([]string{"token", "--user", "u1", "--role", "LECTURER"})
	root.SetOut(out)

	require.NoError(t, root.Execute())
	assert.Equal(t, 2, strings.Count(strings.TrimSpace(out.String()), "."))
}
