package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"

	"github.com/proexhq/letterforge/internal/letters"
	"github.com/proexhq/letterforge/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.Init()
	m.Run()
}

// newStubClient returns a Client pointed at a fake chat completions endpoint
// that replies with the provided assistant contents, one per call.
func newStubClient(t *testing.T, replies ...string) (*Client, *atomic.Int64) {
	t.Helper()
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		idx := int(n) - 1
		if idx >= len(replies) {
			idx = len(replies) - 1
		}
		resp := openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{
				{Message: openai.ChatCompletionMessage{Content: replies[idx]}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	t.Cleanup(server.Close)

	client, err := New(Config{
		APIKey:  "test-key",
		Model:   "gpt-4o",
		BaseURL: server.URL + "/v1",
		Timeout: 5 * time.Second,
	}, nil)
	require.NoError(t, err)
	return client, &calls
}

func TestOrganizeParsesModelOutput(t *testing.T) {
	t.Parallel()

	client, _ := newStubClient(t, `{
		"petitioner": {"name": "A. Applicant", "field": "Software Engineering"},
		"testimonies": [{
			"recommender_name": "Maria Silva",
			"recommender_title": "CTO",
			"recommender_company": "Acme Corp",
			"relationship": "Direct manager",
			"text": "Worked together for five years."
		}],
		"strategy": "Consulting services"
	}`)

	data, err := client.Organize(context.Background(), map[string]string{"cv": "cv text"}, []string{"testimonial text"})
	require.NoError(t, err)
	require.Equal(t, "A. Applicant", data.Petitioner.Name)
	require.Len(t, data.Testimonies, 1)
	require.Equal(t, "Maria Silva", data.Testimonies[0].RecommenderName)
	require.Equal(t, "testimony-1", data.Testimonies[0].TestimonyID, "missing IDs are backfilled")
}

func TestOrganizeRequiresTestimonials(t *testing.T) {
	t.Parallel()

	client, calls := newStubClient(t, `{}`)
	_, err := client.Organize(context.Background(), nil, nil)
	require.Error(t, err)
	require.Zero(t, calls.Load())
}

func TestDesignStructuresCountMismatch(t *testing.T) {
	t.Parallel()

	client, _ := newStubClient(t, `{"designs": [{"template_id": "A", "tone": "formal"}]}`)

	_, err := client.DesignStructures(context.Background(), letters.OrganizedData{
		Testimonies: []letters.Testimony{{TestimonyID: "t-1"}, {TestimonyID: "t-2"}},
	})
	require.Error(t, err)
}

func TestDesignStructuresFallsBackOnBadTemplate(t *testing.T) {
	t.Parallel()

	client, _ := newStubClient(t, `{"designs": [
		{"template_id": "Z", "tone": "formal"},
		{"template_id": "C", "tone": "warm"}
	]}`)

	designs, err := client.DesignStructures(context.Background(), letters.OrganizedData{
		Testimonies: []letters.Testimony{{TestimonyID: "t-1"}, {TestimonyID: "t-2"}},
	})
	require.NoError(t, err)
	require.Equal(t, "A", designs[0].TemplateID)
	require.Equal(t, "C", designs[1].TemplateID)
}

func TestGenerateBlockStripsCodeFence(t *testing.T) {
	t.Parallel()

	client, _ := newStubClient(t, "```markdown\nI am pleased to recommend.\n```")

	text, err := client.GenerateBlock(context.Background(),
		letters.BlockSpec{Number: 1, Total: 5, Name: "opening"},
		letters.Testimony{RecommenderName: "Maria Silva"},
		letters.DesignStructure{TemplateID: "A", Tone: "formal"},
		letters.OrganizedData{},
	)
	require.NoError(t, err)
	require.Equal(t, "I am pleased to recommend.", text)
}

func TestGenerateBlockUnknownName(t *testing.T) {
	t.Parallel()

	client, calls := newStubClient(t, "x")
	_, err := client.GenerateBlock(context.Background(),
		letters.BlockSpec{Number: 1, Total: 5, Name: "postscript"},
		letters.Testimony{}, letters.DesignStructure{}, letters.OrganizedData{},
	)
	require.Error(t, err)
	require.Zero(t, calls.Load())
}

func TestAssembleLetterFallsBackToJoin(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	t.Cleanup(server.Close)

	client, err := New(Config{
		APIKey:  "test-key",
		BaseURL: server.URL + "/v1",
		Timeout: 2 * time.Second,
	}, nil)
	require.NoError(t, err)

	letter, err := client.AssembleLetter(context.Background(),
		[]string{"first block", "second block"},
		letters.DesignStructure{TemplateID: "A"},
	)
	require.NoError(t, err)
	require.Equal(t, "first block\n\nsecond block", letter)
}

func TestChatRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
			return
		}
		resp := openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{
				{Message: openai.ChatCompletionMessage{Content: "recovered"}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	t.Cleanup(server.Close)

	client, err := New(Config{
		APIKey:     "test-key",
		BaseURL:    server.URL + "/v1",
		Timeout:    2 * time.Second,
		MaxRetries: 2,
	}, nil)
	require.NoError(t, err)

	text, err := client.chat(context.Background(), "test", "system", "user", false)
	require.NoError(t, err)
	require.Equal(t, "recovered", text)
	require.Equal(t, int64(2), calls.Load())
}
