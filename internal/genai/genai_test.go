package genai

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/openai/openai-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockChatService implements chatService for testing.
type mockChatService struct {
	resp   openai.ChatCompletion
	err    error
	params []openai.ChatCompletionNewParams
}

func (m *mockChatService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	m.params = append(m.params, params)
	return m.resp, m.err
}

type mockEmbeddingService struct {
	resp  openai.CreateEmbeddingResponse
	err   error
	input string
}

func (m *mockEmbeddingService) Create(ctx context.Context, params openai.EmbeddingNewParams) (openai.CreateEmbeddingResponse, error) {
	if params.Input.OfString.Valid() {
		m.input = params.Input.OfString.Value
	}
	return m.resp, m.err
}

func completion(content string) openai.ChatCompletion {
	return openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: content}},
		},
	}
}

func testClient(chat chatService, emb embeddingService) *Client {
	return &Client{
		chat:           chat,
		embeddings:     emb,
		model:          DefaultModel,
		temperature:    DefaultTemperature,
		maxTokens:      DefaultMaxTokens,
		embeddingModel: DefaultEmbeddingModel,
	}
}

func TestGenerateWithMessages_Success(t *testing.T) {
	chat := &mockChatService{resp: completion("Hello World")}
	client := testClient(chat, nil)

	out, err := client.GenerateWithMessages(context.Background(), []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage("system prompt"),
		openai.UserMessage("user prompt"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello World", out)

	require.Len(t, chat.params, 1)
	p := chat.params[0]
	assert.Equal(t, openai.ChatModelGPT4oMini, p.Model)
	assert.Equal(t, 0.7, p.Temperature.Value)
	assert.Equal(t, int64(500), p.MaxTokens.Value)
	assert.Len(t, p.Messages, 2)
}

func TestGenerateWithMessages_ServiceError(t *testing.T) {
	client := testClient(&mockChatService{err: errors.New("service failure")}, nil)
	_, err := client.GenerateWithMessages(context.Background(), nil)
	if err == nil || !strings.Contains(err.Error(), "service failure") {
		t.Errorf("expected service failure error, got %v", err)
	}
}

func TestGenerateWithMessages_NoChoices(t *testing.T) {
	client := testClient(&mockChatService{resp: openai.ChatCompletion{}}, nil)
	_, err := client.GenerateWithMessages(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoChoicesReturned)
}

func TestClassifyImage_NormalizesLabel(t *testing.T) {
	chat := &mockChatService{resp: completion("  Comprobante_Pago\n")}
	client := testClient(chat, nil)

	label, err := client.ClassifyImage(context.Background(), "classify", []byte{0xff, 0xd8}, "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "comprobante_pago", label)
	require.Len(t, chat.params, 1)
	assert.Equal(t, 0.0, chat.params[0].Temperature.Value)
}

func TestClassifyImage_EmptyImage(t *testing.T) {
	chat := &mockChatService{resp: completion("otro")}
	client := testClient(chat, nil)
	_, err := client.ClassifyImage(context.Background(), "classify", nil, "image/png")
	assert.Error(t, err)
	assert.Empty(t, chat.params)
}

func TestEmbed_ConvertsAndTruncates(t *testing.T) {
	emb := &mockEmbeddingService{resp: openai.CreateEmbeddingResponse{
		Data: []openai.Embedding{{Embedding: []float64{0.5, -0.25}}},
	}}
	client := testClient(nil, emb)

	vec, err := client.Embed(context.Background(), strings.Repeat("a", MaxEmbeddingInput+50))
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, -0.25}, vec)
	assert.Len(t, emb.input, MaxEmbeddingInput)
}

func TestEmbed_Empty(t *testing.T) {
	client := testClient(nil, &mockEmbeddingService{})
	_, err := client.Embed(context.Background(), "hola")
	assert.ErrorIs(t, err, ErrNoEmbeddingReturned)
}

func TestNewClient_NoKey(t *testing.T) {
	_, err := NewClient()
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestNewClient_WithKey(t *testing.T) {
	cli, err := NewClient(WithAPIKey("test-key"), WithTemperature(0.2), WithMaxTokens(64))
	require.NoError(t, err)
	require.NotNil(t, cli)
	assert.Equal(t, 0.2, cli.temperature)
	assert.Equal(t, int64(64), cli.maxTokens)
	assert.Equal(t, DefaultModel, cli.model)
}
