package narrative

import (
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightvibes/biomap/internal/errors"
	"github.com/lightvibes/biomap/internal/httpclient"
)

const geminiURL = "=~^https://generativelanguage\\.googleapis\\.com/v1beta/models/gemini-1\\.5-flash:generateContent"

func TestParseAssessment(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		want Assessment
	}{
		{
			name: "plain lines",
			text: "7\nSightings fall steadily after 2021.\nProtect nursery habitat.",
			want: Assessment{"7", "Sightings fall steadily after 2021.", "Protect nursery habitat."},
		},
		{
			name: "labelled with blank lines",
			text: "Risk Score: 8/10\n\nExplanation: Decline is sharp.\n\nPrevention: Limit trawling.\n",
			want: Assessment{"8/10", "Decline is sharp.", "Limit trawling."},
		},
		{
			name: "markdown list",
			text: "1. **Risk Score:** 3\n2. **Explanation:** Stable trend.\n3. **Prevention advice:** Keep monitoring.",
			want: Assessment{"3", "Stable trend.", "Keep monitoring."},
		},
		{
			name: "windows newlines",
			text: "Score - 5\r\nReason: Mixed signal.\r\nAdvice: Survey more sites.\r\n",
			want: Assessment{"5", "Mixed signal.", "Survey more sites."},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseAssessment(tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.want, *got)
		})
	}
}

func TestParseAssessmentRejectsOtherShapes(t *testing.T) {
	t.Parallel()

	for _, text := range []string{
		"",
		"Risk Score: 7\nExplanation: only two lines",
		"one\ntwo\nthree\nfour",
		"Risk Score:\nExplanation: x\nPrevention: y",
	} {
		got, err := ParseAssessment(text)
		require.Error(t, err, text)
		assert.Nil(t, got)
		assert.Equal(t, errors.KindMalformed, errors.KindOf(err))
	}
}

func TestAssessmentStringRoundTrips(t *testing.T) {
	t.Parallel()

	a := &Assessment{Score: "6", Explanation: "Falling.", Prevention: "Act now."}
	got, err := ParseAssessment(a.String())
	require.NoError(t, err)
	assert.Equal(t, a, got)
}

func newTestClient(t *testing.T) (*Client, *httpmock.MockTransport) {
	t.Helper()
	mt := httpmock.NewMockTransport()
	c, err := NewClient(Config{APIKey: "test-key"}, httpclient.New(&httpclient.Config{Transport: mt}))
	require.NoError(t, err)
	return c, mt
}

func TestNewClientRequiresKey(t *testing.T) {
	t.Parallel()

	_, err := NewClient(Config{}, nil)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestAssessSendsPromptAndImage(t *testing.T) {
	t.Parallel()

	c, mt := newTestClient(t)
	mt.RegisterResponder("POST", geminiURL, func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "test-key", req.Header.Get("x-goog-api-key"))
		assert.Empty(t, req.URL.Query().Get("key"))

		data, err := io.ReadAll(req.Body)
		require.NoError(t, err)
		var body generateRequest
		require.NoError(t, json.Unmarshal(data, &body))
		require.Len(t, body.Contents, 1)
		require.Len(t, body.Contents[0].Parts, 2)
		assert.Contains(t, body.Contents[0].Parts[0].Text, "Disporella hispida")
		require.NotNil(t, body.Contents[0].Parts[1].InlineData)
		assert.Equal(t, "image/png", body.Contents[0].Parts[1].InlineData.MimeType)
		assert.Equal(t, "iVBORw0KGgo=", body.Contents[0].Parts[1].InlineData.Data)

		return httpmock.NewStringResponse(200, `{"candidates":[{"content":{"parts":[
			{"text":"Risk Score: 6\nExplanation: Counts drop in the forecast.\n"},
			{"text":"Prevention: Reduce bottom trawling."}
		]}}]}`), nil
	})

	a, err := c.Assess(t.Context(), "Disporella hispida", "iVBORw0KGgo=")
	require.NoError(t, err)
	assert.Equal(t, "6", a.Score)
	assert.Equal(t, "Counts drop in the forecast.", a.Explanation)
	assert.Equal(t, "Reduce bottom trawling.", a.Prevention)
}

func TestAssessTwoLineReplyIsMalformed(t *testing.T) {
	t.Parallel()

	c, mt := newTestClient(t)
	mt.RegisterResponder("POST", geminiURL, httpmock.NewStringResponder(200,
		`{"candidates":[{"content":{"parts":[{"text":"Risk Score: 6\nExplanation: short"}]}}]}`))

	a, err := c.Assess(t.Context(), "Disporella hispida", "abc")
	require.Error(t, err)
	assert.Nil(t, a)
	assert.Equal(t, errors.KindMalformed, errors.KindOf(err))
}

func TestAssessErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		responder httpmock.Responder
		category  errors.ErrorCategory
		contains  string
	}{
		{"bad key", httpmock.NewStringResponder(403, `{"error":{"code":403,"message":"API key not valid"}}`), errors.CategoryConfiguration, "API key not valid"},
		{"quota", httpmock.NewStringResponder(429, `{}`), errors.CategoryLimit, "429"},
		{"server", httpmock.NewStringResponder(500, `oops`), errors.CategoryHTTP, "Internal Server Error"},
		{"blocked", httpmock.NewStringResponder(200, `{"promptFeedback":{"blockReason":"SAFETY"}}`), errors.CategoryMalformed, "SAFETY"},
		{"not json", httpmock.NewStringResponder(200, `<html>`), errors.CategoryMalformed, "parse"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c, mt := newTestClient(t)
			mt.RegisterResponder("POST", geminiURL, tt.responder)

			_, err := c.Assess(t.Context(), "x", "y")
			require.Error(t, err)
			assert.True(t, errors.IsCategory(err, tt.category), "got %v", err)
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestAssessValidatesInput(t *testing.T) {
	t.Parallel()

	c, mt := newTestClient(t)
	_, err := c.Assess(t.Context(), " ", "plot")
	assert.Equal(t, errors.KindInvalidInput, errors.KindOf(err))
	_, err = c.Assess(t.Context(), "x", "")
	assert.Equal(t, errors.KindInvalidInput, errors.KindOf(err))
	assert.Zero(t, mt.GetTotalCallCount())
}
