package objective

import (
	"testing"

	"github.com/goccy/go-yaml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/tracklab/backend/internal/domain/capture"
)

func ev(kind capture.Kind, method, url string, body any) capture.CapturedEvent {
	return capture.NewEvent(kind, method, url, body)
}

var productData = Objective{
	ID:    "product_data",
	Label: "Capture product id and price",
	Rule: Any(
		Eq("body.event", "add_to_cart"),
		Or(
			And(Exists("body.ecommerce.items.0.item_id"), Exists("body.ecommerce.items.0.price")),
			And(Not(Exists("body.ecommerce.items.0")), Exists("body.items.0.item_id"), Exists("body.items.0.price")),
		),
	),
}

func TestEvaluate_RelayedBeaconScenario(t *testing.T) {
	events := []capture.CapturedEvent{
		ev(capture.KindBeacon, "POST", "https://www.googletagmanager.com/a?event=add_to_cart",
			`{"event":"add_to_cart","items":[{"item_id":"NEURO-LNK-01","price":2499}]}`),
	}

	assert.True(t, Default().Evaluate(productData, events))
}

func TestEvaluate_EcommerceItemsPreferred(t *testing.T) {
	events := []capture.CapturedEvent{
		ev(capture.KindFetch, "POST", "u", map[string]any{
			"event": "add_to_cart",
			"ecommerce": map[string]any{
				"items": []any{map[string]any{"item_id": "X", "price": 10.0}},
			},
		}),
	}

	assert.True(t, Default().Evaluate(productData, events))
}

func TestEvaluate_FieldsComeFromOneItem(t *testing.T) {
	events := []capture.CapturedEvent{
		ev(capture.KindFetch, "POST", "u",
			`{"event":"add_to_cart","ecommerce":{"items":[{"item_id":"X"}]},"items":[{"price":10}]}`),
	}

	assert.False(t, Default().Evaluate(productData, events), "price from a different item")
}

func TestEvaluate_ZeroPriceIsNotCaptured(t *testing.T) {
	events := []capture.CapturedEvent{
		ev(capture.KindFetch, "POST", "u", `{"event":"add_to_cart","items":[{"item_id":"X","price":0}]}`),
	}

	assert.False(t, Default().Evaluate(productData, events))
}

func TestEvaluate_Purity(t *testing.T) {
	objectives := []Objective{
		productData,
		{ID: "subscribe", Rule: Any(Eq("body.event", "subscribe"))},
		{ID: "count", Rule: CountAtLeast(2, Contains("body", "page_view"))},
	}
	bodies := []any{"not json{", "", "{", "[1,2", "a=b=c&&", 42.0, []any{nil}, map[string]any{"event": nil}, nil}

	var events []capture.CapturedEvent
	for _, b := range bodies {
		events = append(events, ev(capture.KindFetch, "POST", "%%bad url", b))
	}

	for _, obj := range objectives {
		first := Default().Evaluate(obj, events)
		second := Default().Evaluate(obj, events)
		assert.Equal(t, first, second, obj.ID)
		assert.False(t, first, obj.ID)
	}
}

func TestEvaluate_PageViewCount(t *testing.T) {
	const ga = "google-analytics.com"
	pageViews := Objective{ID: "page_view", Rule: CountAtLeast(2,
		Or(
			And(Contains("url", ga), Or(QueryEq("en", "page_view"), QueryEq("ep.event_name", "page_view"))),
			And(Not(Contains("url", ga)), Eq("body.event", "page_view")),
		),
	)}

	one := []capture.CapturedEvent{
		ev(capture.KindFetch, "POST", "https://www.google-analytics.com/g/collect?en=page_view", nil),
	}
	assert.False(t, Default().Evaluate(pageViews, one))

	two := append(one, ev(capture.KindBeacon, "POST", "https://connect.facebook.com/tr", `{"event":"page_view"}`))
	assert.True(t, Default().Evaluate(pageViews, two))

	// A GA hit only counts through its query string, never its body.
	gaBody := append(one, ev(capture.KindBeacon, "POST", "https://www.google-analytics.com/g/collect?en=scroll", `{"event":"page_view"}`))
	assert.False(t, Default().Evaluate(pageViews, gaBody))

	alt := append(one, ev(capture.KindImage, "GET", "https://www.google-analytics.com/collect?ep.event_name=page_view", nil))
	assert.True(t, Default().Evaluate(pageViews, alt))
}

func TestEventOperators(t *testing.T) {
	e := ev(capture.KindXHR, "POST", "https://www.google-analytics.com/g/collect?en=purchase&tid=G-1",
		`{"event":"purchase","value":99.5,"tags":["a","b"],"ok":true}`)
	e = e.WithHeaders(map[string]string{"Content-Type": "application/json"})

	tests := []struct {
		name string
		rule Rule
		want bool
	}{
		{"eq kind", Eq("kind", "xhr"), true},
		{"eq type alias", Eq("type", "xhr"), true},
		{"eq method", Eq("method", "POST"), true},
		{"eq number loose", Eq("body.value", 99.5), true},
		{"eq int vs float", Eq("body.value", 99), false},
		{"eq bool", Eq("body.ok", true), true},
		{"neq", Neq("body.event", "refund"), true},
		{"neq missing field", Neq("body.nope", "x"), false},
		{"contains url", Contains("url", "collect"), true},
		{"contains array", Contains("body.tags", "b"), true},
		{"contains array miss", Contains("body.tags", "c"), false},
		{"contains canonical body", Contains("body", `"event":"purchase"`), true},
		{"prefix", Prefix("url", "https://www.google"), true},
		{"exists", Exists("body.event"), true},
		{"exists missing", Exists("body.items.0"), false},
		{"one_of", OneOf("body.event", "purchase", "refund"), true},
		{"one_of miss", OneOf("body.event", "a", "b"), false},
		{"query_eq", QueryEq("en", "purchase"), true},
		{"query_eq presence", QueryEq("tid", nil), true},
		{"query_eq miss", QueryEq("en", "page_view"), false},
		{"url.query field", Eq("url.query.tid", "G-1"), true},
		{"url.host field", Eq("url.host", "www.google-analytics.com"), true},
		{"header case insensitive", Eq("headers.content-type", "application/json"), true},
		{"and", And(Eq("kind", "xhr"), Eq("method", "POST")), true},
		{"or", Or(Eq("kind", "fetch"), Eq("method", "POST")), true},
		{"not", Not(Eq("kind", "fetch")), true},
		{"index out of range", Exists("body.tags.5"), false},
		{"unknown root", Exists("cookies.sid"), false},
	}

	s := &Subject{Event: e}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Default().matchEvent(tt.rule, s))
		})
	}
}

func TestFormEncodedBody(t *testing.T) {
	e := ev(capture.KindBeacon, "POST", "https://www.google-analytics.com/g/collect", "v=2&en=sign_up&ep.method=google")
	s := &Subject{Event: e}

	assert.True(t, Default().matchEvent(Eq("body.en", "sign_up"), s))
}

func TestLogOperators(t *testing.T) {
	events := []capture.CapturedEvent{
		ev(capture.KindLog, "LOG", capture.SandboxURL, map[string]any{"type": "log", "args": []any{"hi"}}),
		ev(capture.KindFetch, "POST", "https://www.google-analytics.com/g/collect?en=login", nil),
	}

	tests := []struct {
		name string
		rule Rule
		want bool
	}{
		{"any", Any(Eq("kind", "log")), true},
		{"none", None(Eq("kind", "image")), true},
		{"none violated", None(Eq("kind", "log")), false},
		{"count", CountAtLeast(2, Prefix("url", "")), true},
		{"count too high", CountAtLeast(3, Prefix("url", "")), false},
		{"all_of", AllOf(Any(Eq("kind", "log")), Any(QueryEq("en", "login"))), true},
		{"all_of partial", AllOf(Any(Eq("kind", "log")), Any(Eq("kind", "image"))), false},
		{"any_of", AnyOf(Any(Eq("kind", "image")), Any(Eq("kind", "fetch"))), true},
		{"event op at top", Eq("kind", "log"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Default().Evaluate(Objective{ID: tt.name, Rule: tt.rule}, events))
		})
	}
}

func TestGrade(t *testing.T) {
	objectives := []Objective{
		{ID: "a", Label: "A", Rule: Any(Eq("kind", "fetch"))},
		{ID: "b", Label: "B", Rule: Any(Eq("kind", "image"))},
	}
	events := []capture.CapturedEvent{ev(capture.KindFetch, "GET", "u", nil)}

	board := Default().Grade(objectives, events)

	require.Len(t, board.Objectives, 2)
	assert.True(t, board.Objectives[0].Met)
	assert.False(t, board.Objectives[1].Met)
	assert.Equal(t, 1, board.Met)
	assert.False(t, board.Complete)

	events = append(events, ev(capture.KindImage, "GET", "u", nil))
	assert.True(t, Default().Grade(objectives, events).Complete)
}

func TestGrade_EmptyObjectivesComplete(t *testing.T) {
	board := Default().Grade(nil, nil)
	assert.True(t, board.Complete)
	assert.Equal(t, 0, board.Total)
}

func TestEngine_RegisterCustomOperators(t *testing.T) {
	e := NewEngine()

	require.NoError(t, e.RegisterEventOp("is_beacon", func(_ *Engine, _ Rule, s *Subject) bool {
		return s.Event.Kind == capture.KindBeacon
	}))
	assert.ErrorIs(t, e.RegisterEventOp("is_beacon", nil), ErrDuplicateOperator)
	assert.ErrorIs(t, e.RegisterLogOp(OpAny, nil), ErrDuplicateOperator)

	obj := Objective{ID: "beacon", Rule: Any(Rule{Op: "is_beacon"})}
	require.NoError(t, e.Validate(obj))
	assert.True(t, e.Evaluate(obj, []capture.CapturedEvent{ev(capture.KindBeacon, "POST", "u", nil)}))

	// The shared engine is unaffected.
	assert.False(t, Default().IsEventOp("is_beacon"))
}

func TestEngine_PanickingOperatorIsNotMet(t *testing.T) {
	e := NewEngine()
	require.NoError(t, e.RegisterEventOp("boom", func(*Engine, Rule, *Subject) bool { panic("boom") }))

	obj := Objective{ID: "boom", Rule: Any(Rule{Op: "boom"})}
	events := []capture.CapturedEvent{ev(capture.KindFetch, "GET", "u", nil)}

	assert.NotPanics(t, func() {
		assert.False(t, e.Evaluate(obj, events))
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		obj     Objective
		wantErr error
	}{
		{"valid", productData, nil},
		{"missing id", Objective{Rule: Any(Exists("url"))}, ErrInvalidRule},
		{"event op at top", Objective{ID: "x", Rule: Eq("kind", "fetch")}, ErrInvalidRule},
		{"unknown op", Objective{ID: "x", Rule: Rule{Op: "maybe"}}, ErrUnknownOperator},
		{"unknown nested", Objective{ID: "x", Rule: Any(Rule{Op: "fuzzy"})}, ErrUnknownOperator},
		{"any without rules", Objective{ID: "x", Rule: Any()}, ErrInvalidRule},
		{"count without min", Objective{ID: "x", Rule: Rule{Op: OpCountAtLeast, Rules: []Rule{Exists("url")}}}, ErrInvalidRule},
		{"eq without field", Objective{ID: "x", Rule: Any(Rule{Op: OpEq, Value: "a"})}, ErrInvalidRule},
		{"contains without value", Objective{ID: "x", Rule: Any(Rule{Op: OpContains, Field: "url"})}, ErrInvalidRule},
		{"one_of without values", Objective{ID: "x", Rule: Any(Rule{Op: OpOneOf, Field: "url"})}, ErrInvalidRule},
		{"log op nested in event", Objective{ID: "x", Rule: Any(Any(Exists("url")))}, ErrInvalidRule},
		{"empty and", Objective{ID: "x", Rule: Any(And())}, ErrInvalidRule},
		{"empty all_of", Objective{ID: "x", Rule: AllOf()}, ErrInvalidRule},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Default().Validate(tt.obj)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestRule_YAML(t *testing.T) {
	src := `
id: product_data
label: Product data
rule:
  op: any
  rules:
    - op: eq
      field: body.event
      value: add_to_cart
    - op: eq
      field: body.items.0.price
      value: 2499
`
	var obj Objective
	require.NoError(t, yaml.Unmarshal([]byte(src), &obj))
	require.NoError(t, Default().Validate(obj))

	events := []capture.CapturedEvent{
		ev(capture.KindBeacon, "POST", "u", `{"event":"add_to_cart","items":[{"item_id":"A","price":2499}]}`),
	}
	assert.True(t, Default().Evaluate(obj, events))
}
