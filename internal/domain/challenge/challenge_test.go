package challenge

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/tracklab/backend/internal/domain/capture"
	"github.com/GriffinCanCode/tracklab/backend/internal/domain/objective"
)

func grade(t *testing.T, ch *Challenge, events ...capture.CapturedEvent) objective.Board {
	t.Helper()
	return objective.Default().Grade(ch.Objectives, events)
}

func TestBuiltin_Validates(t *testing.T) {
	c := NewBuiltinCatalog(nil)
	ids := make([]string, 0, 3)
	for _, m := range c.ListMetadata(nil) {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"global-travel", "cyberpunk-store", "saas-platform"}, ids)

	saas, err := c.Get("saas-platform")
	require.NoError(t, err)
	assert.True(t, saas.Isolated())
	assert.Contains(t, saas.Content.HTML, "subscribe-btn")
}

func TestGlobalTravel_PageView(t *testing.T) {
	ch, err := NewBuiltinCatalog(nil).Get("global-travel")
	require.NoError(t, err)

	board := grade(t, ch)
	assert.False(t, board.Complete)

	board = grade(t, ch, capture.NewEvent(capture.KindBeacon, "POST",
		"https://www.google-analytics.com/g/collect?en=page_view", nil))
	assert.True(t, board.Complete)

	board = grade(t, ch, capture.NewEvent(capture.KindFetch, "POST",
		"https://www.facebook.com/tr", `{"event":"page_view"}`))
	assert.True(t, board.Complete)
}

func TestCyberpunk_Scenario(t *testing.T) {
	ch, err := NewBuiltinCatalog(nil).Get("cyberpunk-store")
	require.NoError(t, err)

	pv := capture.NewEvent(capture.KindImage, "GET", "https://www.google-analytics.com/collect?en=page_view", nil)
	board := grade(t, ch, pv)
	assert.False(t, board.Objectives[0].Met, "one page view is not enough")

	cart := capture.NewEvent(capture.KindBeacon, "POST", "https://www.googletagmanager.com/a",
		`{"event":"add_to_cart","items":[{"item_id":"NEURO-LNK-01","price":2499}]}`)
	board = grade(t, ch, pv, pv, cart)
	assert.True(t, board.Complete)
	assert.Equal(t, 3, board.Met)
}

func TestCyberpunk_ProductDataFromOneItem(t *testing.T) {
	ch, err := NewBuiltinCatalog(nil).Get("cyberpunk-store")
	require.NoError(t, err)

	split := capture.NewEvent(capture.KindFetch, "POST", "https://www.facebook.com/tr",
		`{"event":"add_to_cart","ecommerce":{"items":[{"item_id":"X"}]},"items":[{"price":10}]}`)
	assert.False(t, grade(t, ch, split).Objectives[2].Met, "id and price must describe the same item")

	nested := capture.NewEvent(capture.KindFetch, "POST", "https://www.facebook.com/tr",
		`{"event":"add_to_cart","ecommerce":{"items":[{"item_id":"X","price":10}]}}`)
	assert.True(t, grade(t, ch, nested).Objectives[2].Met)
}

func TestCyberpunk_GAPageViewInBodyDoesNotCount(t *testing.T) {
	ch, err := NewBuiltinCatalog(nil).Get("cyberpunk-store")
	require.NoError(t, err)

	ga := capture.NewEvent(capture.KindFetch, "POST", "https://www.google-analytics.com/g/collect", `{"event":"page_view"}`)
	board := grade(t, ch, ga, ga)
	assert.False(t, board.Objectives[0].Met)
}

func TestValidate(t *testing.T) {
	base := func() *Challenge {
		return &Challenge{
			ID: "x", Title: "X", Difficulty: Easy, Type: TypeCustom,
			Objectives: []objective.Objective{{ID: "a", Rule: objective.Any(objective.Eq("kind", "fetch"))}},
		}
	}
	require.NoError(t, base().Validate(nil))

	cases := map[string]func(c *Challenge){
		"bad id":             func(c *Challenge) { c.ID = "Bad ID" },
		"no title":           func(c *Challenge) { c.Title = " " },
		"bad difficulty":     func(c *Challenge) { c.Difficulty = "Extreme" },
		"bad type":           func(c *Challenge) { c.Type = "hybrid" },
		"template needs id":  func(c *Challenge) { c.Type = TypeTemplate },
		"custom no template": func(c *Challenge) { c.Content.TemplateID = "t" },
		"duplicate objective": func(c *Challenge) {
			c.Objectives = append(c.Objectives, c.Objectives[0])
		},
		"event op at top": func(c *Challenge) {
			c.Objectives[0].Rule = objective.Eq("kind", "fetch")
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := base()
			mutate(c)
			assert.Error(t, c.Validate(nil))
		})
	}
}

const travelYAML = `
id: newsletter
title: Newsletter Signup
description: Track the signup form.
difficulty: Easy
category: Marketing
type: custom
content:
  html: <form id="signup"><button id="go">Go</button></form>
objectives:
  - id: signup
    label: Track sign_up
    rule:
      op: any
      rules:
        - {op: eq, field: body.event, value: sign_up}
  - id: two_hits
    label: Two GA hits
    rule:
      op: count_at_least
      min: 2
      rules:
        - {op: contains, field: url, value: google-analytics.com}
`

const listJSON = `[
  {"id": "json-one", "title": "One", "difficulty": "Hard", "type": "template",
   "content": {"template_id": "t1"},
   "objectives": [{"id": "o", "label": "O", "rule": {"op": "none", "rules": [{"op": "eq", "field": "kind", "value": "image"}]}}]}
]`

func TestSeeder_LoadFS(t *testing.T) {
	fsys := fstest.MapFS{
		"marketing/newsletter.yaml": {Data: []byte(travelYAML)},
		"extra/list.json":           {Data: []byte(listJSON)},
		"broken.yml":                {Data: []byte("id: broken\ntitle: B\ndifficulty: Easy\ntype: custom\nobjectives:\n  - id: x\n    rule: {op: bogus}\n")},
		"notes.txt":                 {Data: []byte("ignored")},
	}
	c := NewCatalog(nil)
	n, err := NewSeeder(c, nil).LoadFS(fsys)
	assert.Equal(t, 2, n)
	require.Error(t, err)
	assert.ErrorIs(t, err, objective.ErrUnknownOperator)

	ch, err := c.Get("newsletter")
	require.NoError(t, err)
	require.Len(t, ch.Objectives, 2)
	assert.Equal(t, 2, ch.Objectives[1].Rule.Min)

	hit := capture.NewEvent(capture.KindBeacon, "POST", "https://www.google-analytics.com/g/collect?en=sign_up", `{"event":"sign_up"}`)
	board := grade(t, ch, hit, hit)
	assert.True(t, board.Complete)

	assert.True(t, c.Exists("json-one"))
	assert.False(t, c.Exists("broken"))
}

func TestSeeder_MissingDir(t *testing.T) {
	n, err := NewSeeder(NewCatalog(nil), nil).LoadDir(t.TempDir() + "/nope")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCatalog_ListStatsDelete(t *testing.T) {
	c := NewBuiltinCatalog(nil)
	commerce := "E-commerce"
	assert.Len(t, c.List(&commerce), 1)

	stats := c.Stats()
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.Types[TypeTemplate])
	assert.NotNil(t, stats.LastUpdated)

	require.NoError(t, c.Delete("global-travel"))
	assert.ErrorIs(t, c.Delete("global-travel"), ErrChallengeNotFound)
	_, err := c.Get("global-travel")
	assert.ErrorIs(t, err, ErrChallengeNotFound)
	assert.Len(t, c.List(nil), 2)
}
