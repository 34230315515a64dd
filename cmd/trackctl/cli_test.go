package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/GriffinCanCode/tracklab/backend/internal/infrastructure/config"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cfg := config.Default()
	var out bytes.Buffer
	err := newCLIApp(cfg, &out).Run(append([]string{"trackctl"}, args...))
	return out.String(), err
}

func TestChallenges(t *testing.T) {
	out, err := runCLI(t, "challenges")
	require.NoError(t, err)

	var list []struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	assert.Len(t, list, 3)

	out, err = runCLI(t, "challenges", "--category", "SaaS")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "saas-platform", list[0].ID)
}

func TestChallenges_ExtraCatalog(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "checkout.yaml"), []byte(`
id: checkout-flow
title: Checkout Flow
difficulty: Easy
category: E-commerce
type: template
content:
  template_id: ecommerce-v1
objectives:
  - id: purchase
    label: Track the purchase
    rule: {op: any, rules: [{op: eq, field: body.event, value: purchase}]}
`), 0o644))

	out, err := runCLI(t, "--catalog", dir, "challenges")
	require.NoError(t, err)
	assert.Contains(t, out, "checkout-flow")
}

func TestRender(t *testing.T) {
	out, err := runCLI(t, "render", "--challenge", "saas-platform", "--tag", "gtm-abc")
	require.NoError(t, err)
	assert.Contains(t, out, "subscribe-btn")
	assert.Contains(t, out, "GTM-ABC")

	out, err = runCLI(t, "render", "-c", "global-travel", "-t", "GTM-HOST")
	require.NoError(t, err)
	assert.Contains(t, out, `id="tag-loader"`)

	_, err = runCLI(t, "render", "--challenge", "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "challenge not found")
}

func TestGrade(t *testing.T) {
	out, err := runCLI(t, "grade", "-c", "saas-platform", "-t", "GTM-SAAS1", "--click", "#subscribe-btn")
	require.NoError(t, err)

	var res gradeResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "saas-platform", res.Challenge)
	assert.True(t, res.Board.Complete)
	assert.Positive(t, res.Captured)
	assert.Empty(t, res.Events)
}

func TestGrade_Beacon(t *testing.T) {
	out, err := runCLI(t, "grade", "-c", "global-travel", "--events",
		"--beacon", "https://www.google-analytics.com/g/collect?en=page_view")
	require.NoError(t, err)

	var res gradeResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.Board.Complete)
	require.Len(t, res.Events, 1)
}

func TestGrade_Strict(t *testing.T) {
	out, err := runCLI(t, "grade", "-c", "saas-platform", "--strict")
	require.Error(t, err)
	var exit cli.ExitCoder
	require.ErrorAs(t, err, &exit)
	assert.Equal(t, 2, exit.ExitCode())
	assert.Contains(t, out, `"complete": false`)

	_, err = runCLI(t, "grade", "-c", "global-travel", "--push", "{not json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid --push")

	_, err = runCLI(t, "grade", "-c", "global-travel", "--click", "#x")
	require.Error(t, err)
}
