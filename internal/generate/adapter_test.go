package generate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/materium/paperbase/internal/document"
)

// fakeModel replays scripted responses and records the requests it saw.
type fakeModel struct {
	responses []Response
	errs      []error
	requests  []Request
}

func (f *fakeModel) Complete(_ context.Context, req Request) (Response, error) {
	f.requests = append(f.requests, req)
	i := len(f.requests) - 1
	if i < len(f.errs) && f.errs[i] != nil {
		return Response{}, f.errs[i]
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	if len(f.responses) > 0 {
		return f.responses[len(f.responses)-1], nil
	}
	return Response{}, errors.New("no scripted response")
}

func testConfig(model string) Config {
	return Config{
		Model:             model,
		Temperature:       0.3,
		MaxTokens:         1024,
		Timeout:           5 * time.Second,
		IncompleteRetries: 2,
	}
}

func fastRetry(a *Adapter) *Adapter {
	a.retry.InitialInterval = time.Millisecond
	return a
}

func TestLookupCapabilities(t *testing.T) {
	tests := []struct {
		model     string
		reasoning bool
		temp      bool
	}{
		{"gemini-2.5-flash", false, true},
		{"googleai/gemini-2.5-pro", false, true},
		{"gpt-4o", false, true},
		{"openai/gpt-5", true, false},
		{"o3-mini", true, false},
		{"some-unknown-model", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			caps := Lookup(tt.model)
			assert.Equal(t, tt.reasoning, caps.Reasoning())
			assert.Equal(t, tt.temp, caps.Temperature)
		})
	}
}

func TestGenerateConventionalParameters(t *testing.T) {
	model := &fakeModel{responses: []Response{{Text: "hello"}}}
	adapter := New(model, testConfig("gemini-2.5-flash"), nil)

	res, err := adapter.Generate(context.Background(), "say hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", res.Text)

	require.Len(t, model.requests, 1)
	req := model.requests[0]
	require.NotNil(t, req.Temperature)
	assert.InDelta(t, 0.3, *req.Temperature, 1e-9)
	assert.Equal(t, 1024, req.MaxTokens)
	assert.Empty(t, req.ReasoningEffort, "conventional models get no effort control")
}

func TestGenerateReasoningDropsTemperature(t *testing.T) {
	model := &fakeModel{responses: []Response{{Text: "ok"}}}
	adapter := New(model, testConfig("openai/gpt-5"), nil)

	_, err := adapter.Generate(context.Background(), "q")
	require.NoError(t, err)

	req := model.requests[0]
	assert.Nil(t, req.Temperature, "unsupported parameter dropped, not sent")
	assert.Equal(t, "medium", req.ReasoningEffort)
}

func TestGenerateIncompleteRetriesWithLargerBudget(t *testing.T) {
	model := &fakeModel{responses: []Response{
		{Text: "partial", Incomplete: true},
		{Text: "partial more", Incomplete: true},
		{Text: "done"},
	}}
	adapter := fastRetry(New(model, testConfig("gpt-5"), nil))

	res, err := adapter.Generate(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "done", res.Text)

	require.Len(t, model.requests, 3)
	assert.Equal(t, 1024, model.requests[0].MaxTokens)
	assert.Equal(t, 2048, model.requests[1].MaxTokens)
	assert.Equal(t, 4096, model.requests[2].MaxTokens)
}

func TestGenerateIncompleteExhaustsRetryCap(t *testing.T) {
	// Always incomplete: must stop after 1 + IncompleteRetries attempts.
	model := &fakeModel{responses: []Response{{Text: "partial", Incomplete: true}}}
	adapter := fastRetry(New(model, testConfig("gpt-5"), nil))

	_, err := adapter.Generate(context.Background(), "q")
	require.ErrorIs(t, err, ErrGenerationIncomplete)
	assert.Len(t, model.requests, 3)
}

func TestGenerateTimeout(t *testing.T) {
	model := &fakeModel{errs: []error{context.DeadlineExceeded}}
	cfg := testConfig("gemini-2.5-flash")
	cfg.Timeout = 10 * time.Millisecond
	adapter := New(model, cfg, nil)

	_, err := adapter.Generate(context.Background(), "q")
	require.ErrorIs(t, err, ErrGenerationTimeout)
	assert.Len(t, model.requests, 1, "timeouts are never retried")
}

func TestGenerateTransportErrorNotRetried(t *testing.T) {
	model := &fakeModel{errs: []error{errors.New("connection refused")}}
	adapter := fastRetry(New(model, testConfig("gemini-2.5-flash"), nil))

	_, err := adapter.Generate(context.Background(), "q")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrGenerationIncomplete)
	assert.Len(t, model.requests, 1)
}

func proposalSchema(t *testing.T) *jsonschema.Schema {
	t.Helper()
	schema, err := jsonschema.For[struct {
		Title   string `json:"title"`
		Summary string `json:"summary"`
	}](nil)
	require.NoError(t, err)
	return schema
}

func TestGenerateStructuredValid(t *testing.T) {
	model := &fakeModel{responses: []Response{
		{Text: `{"title": "MOF study", "summary": "A short summary."}`},
	}}
	adapter := New(model, testConfig("gemini-2.5-flash"), nil)

	res, err := adapter.GenerateStructured(context.Background(), "draft a proposal", proposalSchema(t))
	require.NoError(t, err)
	assert.JSONEq(t, `{"title": "MOF study", "summary": "A short summary."}`, string(res.Structured))
	assert.True(t, model.requests[0].JSON)
}

func TestGenerateStructuredStripsFences(t *testing.T) {
	model := &fakeModel{responses: []Response{
		{Text: "```json\n{\"title\": \"t\", \"summary\": \"s\"}\n```"},
	}}
	adapter := New(model, testConfig("gemini-2.5-flash"), nil)

	res, err := adapter.GenerateStructured(context.Background(), "q", proposalSchema(t))
	require.NoError(t, err)
	assert.JSONEq(t, `{"title": "t", "summary": "s"}`, string(res.Structured))
}

func TestGenerateStructuredCorrectiveRetry(t *testing.T) {
	model := &fakeModel{responses: []Response{
		{Text: "Sure! Here is the proposal you asked for."},
		{Text: `{"title": "t", "summary": "s"}`},
	}}
	adapter := New(model, testConfig("gemini-2.5-flash"), nil)

	res, err := adapter.GenerateStructured(context.Background(), "q", proposalSchema(t))
	require.NoError(t, err)
	assert.NotNil(t, res.Structured)

	require.Len(t, model.requests, 2)
	assert.Contains(t, model.requests[1].Instructions, "not valid JSON")
}

func TestGenerateStructuredFailsAfterOneRetry(t *testing.T) {
	model := &fakeModel{responses: []Response{{Text: "still not json"}}}
	adapter := New(model, testConfig("gemini-2.5-flash"), nil)

	_, err := adapter.GenerateStructured(context.Background(), "q", proposalSchema(t))
	require.ErrorIs(t, err, ErrSchemaValidation)
	assert.Len(t, model.requests, 2)
}

func TestTypeClassifier(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		want    document.Type
		wantErr bool
	}{
		{name: "paper", reply: "paper", want: document.TypePaper},
		{name: "supporting info", reply: "supporting_info", want: document.TypeSupportingInfo},
		{name: "wordy reply", reply: "This is supporting_info.", want: document.TypeSupportingInfo},
		{name: "garbage", reply: "I cannot tell.", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model := &fakeModel{responses: []Response{{Text: tt.reply}}}
			classifier := NewTypeClassifier(New(model, testConfig("gemini-2.5-flash"), nil))

			got, err := classifier.Classify(context.Background(), "Abstract: we report...")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
