package http

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/tracklab/backend/internal/domain/session"
	"github.com/GriffinCanCode/tracklab/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/tracklab/backend/internal/shared/validate"
)

type api struct {
	t      *testing.T
	router *gin.Engine
}

func newAPI(t *testing.T) *api {
	t.Helper()
	gin.SetMode(gin.TestMode)
	metrics := monitoring.NewMetrics()
	sessions := session.NewManager(session.Config{}, session.Deps{Metrics: metrics})
	t.Cleanup(sessions.Shutdown)

	router := gin.New()
	NewHandlers(sessions, metrics, nil).Register(router)
	return &api{t: t, router: router}
}

func (a *api) do(method, path string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(a.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (a *api) createSession(challengeID string) string {
	a.t.Helper()
	w := a.do(http.MethodPost, "/sessions", gin.H{"challenge_id": challengeID})
	require.Equal(a.t, http.StatusCreated, w.Code, w.Body.String())
	return decode[struct {
		ID string `json:"id"`
	}](a.t, w).ID
}

func TestChallenges(t *testing.T) {
	a := newAPI(t)

	w := a.do(http.MethodGet, "/challenges", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Challenges []struct {
			ID string `json:"id"`
		} `json:"challenges"`
	}](t, w)
	require.Len(t, list.Challenges, 3)
	assert.Equal(t, "global-travel", list.Challenges[0].ID)

	w = a.do(http.MethodGet, "/challenges/saas-platform", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = a.do(http.MethodGet, "/challenges/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, decode[gin.H](t, w)["error"], "challenge not found")
}

func TestTemplateChallengeFlow(t *testing.T) {
	a := newAPI(t)
	sid := a.createSession("cyberpunk-store")
	base := "/sessions/" + sid

	w := a.do(http.MethodPut, base+"/tag", gin.H{"id": " gtm-shop "})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	tag := decode[struct {
		Outcome string `json:"outcome"`
		Tag     struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"tag"`
	}](t, w)
	assert.Equal(t, "injected", tag.Outcome)
	assert.Equal(t, "GTM-SHOP", tag.Tag.ID)
	assert.Equal(t, "active", tag.Tag.Status)

	w = a.do(http.MethodGet, base+"/host", nil)
	assert.Contains(t, w.Body.String(), `id="tag-loader"`)

	w = a.do(http.MethodPost, base+"/datalayer", `{"event":"page_view"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, decode[gin.H](t, w)["active"])

	w = a.do(http.MethodPost, base+"/egress", gin.H{
		"type": "image",
		"url":  "https://www.google-analytics.com/collect?en=page_view&dl=%2Fshop",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = a.do(http.MethodPost, base+"/egress", gin.H{
		"type":   "fetch",
		"method": "POST",
		"url":    "https://www.facebook.com/tr",
		"body":   `{"event":"add_to_cart","ecommerce":{"items":[{"item_id":"NEURO-LNK-01","price":2499}]}}`,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = a.do(http.MethodGet, base+"/objectives", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode[gin.H](t, w)["complete"], w.Body.String())

	w = a.do(http.MethodGet, base+"/events?type=image", nil)
	assert.EqualValues(t, 1, decode[gin.H](t, w)["count"])

	w = a.do(http.MethodDelete, base+"/events", nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = a.do(http.MethodGet, base+"/objectives", nil)
	assert.Equal(t, false, decode[gin.H](t, w)["complete"])
}

func TestTagErrors(t *testing.T) {
	a := newAPI(t)
	sid := a.createSession("global-travel")
	base := "/sessions/" + sid

	w := a.do(http.MethodPut, base+"/tag", gin.H{"id": "UA-12345"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode[gin.H](t, w)["error"], "invalid tag id")

	w = a.do(http.MethodPut, base+"/tag", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	require.Equal(t, http.StatusOK, a.do(http.MethodPut, base+"/tag", gin.H{"id": "GTM-ONE"}).Code)
	w = a.do(http.MethodPut, base+"/tag", gin.H{"id": "GTM-ONE"})
	assert.Equal(t, "unchanged", decode[gin.H](t, w)["outcome"])

	w = a.do(http.MethodPut, base+"/tag", gin.H{"id": "gtm-two"})
	require.Equal(t, http.StatusConflict, w.Code)
	conflict := decode[gin.H](t, w)
	assert.Equal(t, "needs_confirmation", conflict["outcome"])
	assert.Equal(t, "GTM-ONE", conflict["current"])
	assert.Equal(t, "GTM-TWO", conflict["requested"])

	w = a.do(http.MethodPost, base+"/tag/confirm", gin.H{"id": "gtm-two"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = a.do(http.MethodGet, base+"/tag", nil)
	assert.Equal(t, "GTM-TWO", decode[gin.H](t, w)["id"])

	w = a.do(http.MethodDelete, base+"/tag", nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = a.do(http.MethodGet, base+"/state/gtm_id", nil)
	assert.Equal(t, false, decode[gin.H](t, w)["found"])
}

func TestBridgeAndPreview(t *testing.T) {
	a := newAPI(t)
	sid := a.createSession("global-travel")
	base := "/sessions/" + sid

	w := a.do(http.MethodPost, base+"/bridge", `{"type":"network_proxy","data":{"type":"fetch","method":"post","url":"https://www.google-analytics.com/g/collect","body":"<b>page_view</b>\n  sent"}}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "appended", decode[gin.H](t, w)["outcome"])

	w = a.do(http.MethodPost, base+"/bridge", `{"type":"resize","width":10}`)
	assert.Equal(t, "ignored", decode[gin.H](t, w)["outcome"])
	w = a.do(http.MethodPost, base+"/bridge", `not json`)
	assert.Equal(t, "ignored", decode[gin.H](t, w)["outcome"])

	w = a.do(http.MethodGet, base+"/events?preview=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Events []struct {
			Method  string `json:"method"`
			Preview string `json:"preview"`
		} `json:"events"`
	}](t, w)
	require.Len(t, list.Events, 1)
	assert.Equal(t, "POST", list.Events[0].Method)
	assert.Equal(t, "page_view sent", list.Events[0].Preview)
}

func TestExportEvents(t *testing.T) {
	a := newAPI(t)
	sid := a.createSession("global-travel")
	base := "/sessions/" + sid

	for _, url := range []string{
		"https://www.google-analytics.com/collect?en=one",
		"https://www.google-analytics.com/collect?en=two",
	} {
		require.Equal(t, http.StatusOK, a.do(http.MethodPost, base+"/egress", gin.H{"type": "beacon", "url": url}).Code)
	}

	w := a.do(http.MethodGet, base+"/events/export", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/gzip", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), ".ndjson.gz")

	zr, err := gzip.NewReader(w.Body)
	require.NoError(t, err)
	var urls []string
	sc := bufio.NewScanner(zr)
	for sc.Scan() {
		var e struct {
			URL       string `json:"url"`
			Timestamp int64  `json:"timestamp"`
		}
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		assert.Positive(t, e.Timestamp)
		urls = append(urls, e.URL)
	}
	assert.Equal(t, []string{
		"https://www.google-analytics.com/collect?en=one",
		"https://www.google-analytics.com/collect?en=two",
	}, urls, "export replays oldest first")

	w = a.do(http.MethodGet, base+"/events/export?gzip=false", nil)
	assert.Equal(t, 2, strings.Count(w.Body.String(), "\n"))
}

func TestCustomChallengeContentAndClick(t *testing.T) {
	a := newAPI(t)
	sid := a.createSession("saas-platform")
	base := "/sessions/" + sid

	w := a.do(http.MethodPost, base+"/click", gin.H{"selector": "#missing"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = a.do(http.MethodPost, base+"/content", gin.H{
		"html": `<button id="go">Go</button>`,
		"js":   `document.getElementById('go').addEventListener('click', function () { console.log('<i>clicked</i>'); });`,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = a.do(http.MethodPost, base+"/click", gin.H{"selector": "#go"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = a.do(http.MethodGet, base+"/document", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `id="go"`)

	w = a.do(http.MethodGet, base+"/console", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"clicked"`)
}

func TestSessionLifecycle(t *testing.T) {
	a := newAPI(t)

	w := a.do(http.MethodPost, "/sessions", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	sid := decode[gin.H](t, w)["id"].(string)
	base := "/sessions/" + sid

	w = a.do(http.MethodGet, base+"/objectives", nil)
	assert.Equal(t, http.StatusConflict, w.Code, "no challenge open yet")
	w = a.do(http.MethodGet, base+"/document", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = a.do(http.MethodPost, base+"/open", gin.H{"challenge_id": "global-travel"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "global-travel", decode[gin.H](t, w)["challenge_id"])

	w = a.do(http.MethodPut, base+"/state/app_view", gin.H{"value": "challenge"})
	require.Equal(t, http.StatusOK, w.Code)
	w = a.do(http.MethodGet, base+"/state/app_view", nil)
	assert.Equal(t, "challenge", decode[gin.H](t, w)["value"])
	w = a.do(http.MethodPut, base+"/state/gtm_id", gin.H{"value": "GTM-X"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = a.do(http.MethodGet, "/sessions", nil)
	assert.Len(t, decode[gin.H](t, w)["sessions"], 1)

	w = a.do(http.MethodDelete, base+"?purge=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, http.StatusNotFound, a.do(http.MethodGet, base, nil).Code)
	assert.Equal(t, http.StatusNotFound, a.do(http.MethodDelete, base, nil).Code)

	w = a.do(http.MethodPost, "/sessions", gin.H{"resume": "bogus"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	a := newAPI(t)
	a.createSession("global-travel")

	w := a.do(http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	health := decode[struct {
		Sessions session.Stats `json:"sessions"`
	}](t, w)
	assert.Equal(t, 1, health.Sessions.Active)

	w = a.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "tracklab_sessions_active 1")
	assert.Contains(t, w.Body.String(), "tracklab_frame_builds_total")

	w = a.do(http.MethodGet, "/metrics/summary", nil)
	assert.EqualValues(t, 1, decode[gin.H](t, w)["active_sessions"])
}

func TestDecodeEntries(t *testing.T) {
	one, err := decodeEntries([]byte(` {"event":"a"} `))
	require.NoError(t, err)
	assert.Len(t, one, 1)

	many, err := decodeEntries([]byte(`[{"event":"a"},{"event":"b"}]`))
	require.NoError(t, err)
	assert.Len(t, many, 2)

	_, err = decodeEntries([]byte(``))
	assert.Error(t, err)
	_, err = decodeEntries([]byte(`"str"`))
	assert.Error(t, err)

	deep := strings.Repeat(`{"a":`, validate.MaxJSONDepth+2) + "1" + strings.Repeat("}", validate.MaxJSONDepth+2)
	_, err = decodeEntries([]byte(deep))
	assert.ErrorIs(t, err, validate.ErrTooDeep)
}

func TestPlainText(t *testing.T) {
	assert.Equal(t, "a & b", plainText("<p>a &amp; b</p>", 50))
	assert.Equal(t, "abcd…", plainText("abcdefgh", 5))
}
