package challenge

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-appraise/internal/domain"
	"github.com/ahrav/go-appraise/internal/llm"
)

// fakeCompleter answers per model and records every request it sees.
type fakeCompleter struct {
	mu      sync.Mutex
	calls   map[string][]*llm.Request
	respond func(ctx context.Context, model string, call int, req *llm.Request) (string, error)
}

func newFake(respond func(ctx context.Context, model string, call int, req *llm.Request) (string, error)) *fakeCompleter {
	return &fakeCompleter{calls: make(map[string][]*llm.Request), respond: respond}
}

func (f *fakeCompleter) Complete(ctx context.Context, req *llm.Request) (string, error) {
	f.mu.Lock()
	f.calls[req.Model] = append(f.calls[req.Model], req)
	call := len(f.calls[req.Model]) - 1
	f.mu.Unlock()
	return f.respond(ctx, req.Model, call, req)
}

func (f *fakeCompleter) requests(model string) []*llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[model]
}

func appraisers(ids ...string) []domain.Appraiser {
	out := make([]domain.Appraiser, len(ids))
	for i, id := range ids {
		out[i] = domain.Appraiser{ModelID: id, MaxTokens: 100, Temperature: 0.5}
	}
	return out
}

var initialConversation = []domain.Message{
	{Role: domain.RoleSystem, Content: "You are an NFT appraiser."},
	{Role: domain.RoleUser, Content: "Appraise this NFT."},
}

func priceReply(price float64, who string) string {
	return fmt.Sprintf(`{"price": %g, "explanation": "%s reasoning"}`, price, who)
}

func TestMessage(t *testing.T) {
	price := 1234.5
	got := Message(domain.Appraisal{Price: &price}, "Reconsider.")
	assert.Equal(t, "Your previous price estimate was $1234.50.\n\nReconsider.\n\n"+FormatReminder, got)

	got = Message(domain.Appraisal{}, "Reconsider.")
	assert.True(t, strings.HasPrefix(got, "Your previous price estimate was unknown."))
}

func TestNew_Validation(t *testing.T) {
	fake := newFake(nil)
	_, err := New(nil, Config{Appraisers: appraisers("a")}, nil)
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	_, err = New(fake, Config{}, nil)
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	_, err = New(fake, Config{Appraisers: appraisers("a"), Rounds: 1}, nil)
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	_, err = New(fake, Config{Appraisers: appraisers("a"), Rounds: 0}, nil)
	assert.NoError(t, err)
}

func TestRun_ConversationGrowsPerAppraiser(t *testing.T) {
	prices := map[string][]float64{"a": {100, 105, 110}, "b": {200, 190, 180}}
	fake := newFake(func(_ context.Context, model string, call int, _ *llm.Request) (string, error) {
		return priceReply(prices[model][call], model), nil
	})

	p, err := New(fake, Config{
		Appraisers: appraisers("a", "b"),
		Prompts:    []string{"P1", "P2"},
		Rounds:     2,
		Selection:  domain.SelectionRoundRobin,
	}, nil)
	require.NoError(t, err)

	history, err := p.Run(context.Background(), initialConversation)
	require.NoError(t, err)

	for id, want := range prices {
		require.Equal(t, 3, history.Rounds(id))
		for k, price := range want {
			a, ok := history.Round(id, k)
			require.True(t, ok)
			assert.InDelta(t, price, *a.Price, 1e-9)
		}

		reqs := fake.requests(id)
		require.Len(t, reqs, 3)
		assert.Len(t, reqs[0].Messages, 2)
		assert.Len(t, reqs[1].Messages, 4)
		assert.Len(t, reqs[2].Messages, 6)

		// The prior reply precedes the challenge turn.
		assert.Equal(t, domain.RoleAssistant, reqs[1].Messages[2].Role)
		assert.Equal(t, priceReply(want[0], id), reqs[1].Messages[2].Content)
		assert.Contains(t, reqs[1].Messages[3].Content, fmt.Sprintf("was $%.2f.", want[0]))
		assert.Contains(t, reqs[2].Messages[5].Content, fmt.Sprintf("was $%.2f.", want[1]))

		assert.Equal(t, 100, reqs[0].MaxTokens)
		assert.InDelta(t, 0.5, reqs[0].Temperature, 1e-9)
	}

	// Round robin offsets each appraiser by its position.
	assert.Contains(t, fake.requests("a")[1].Messages[3].Content, "P1")
	assert.Contains(t, fake.requests("a")[2].Messages[5].Content, "P2")
	assert.Contains(t, fake.requests("b")[1].Messages[3].Content, "P2")
	assert.Contains(t, fake.requests("b")[2].Messages[5].Content, "P1")
}

func TestRun_NoCrossAppraiserLeakage(t *testing.T) {
	fake := newFake(func(_ context.Context, model string, _ int, _ *llm.Request) (string, error) {
		return priceReply(42, "secret-"+model), nil
	})
	p, err := New(fake, Config{Appraisers: appraisers("a", "b", "c"), Prompts: []string{"P"}, Rounds: 3}, nil)
	require.NoError(t, err)

	_, err = p.Run(context.Background(), initialConversation)
	require.NoError(t, err)

	for _, id := range []string{"a", "b", "c"} {
		for _, req := range fake.requests(id) {
			for _, m := range req.Messages {
				for _, other := range []string{"a", "b", "c"} {
					if other != id {
						assert.NotContains(t, m.Content, "secret-"+other)
					}
				}
			}
		}
	}
}

func TestRun_ProviderFailureIsolated(t *testing.T) {
	boom := errors.New("502 bad gateway")
	fake := newFake(func(_ context.Context, model string, call int, _ *llm.Request) (string, error) {
		if model == "flaky" && call == 1 {
			return "", boom
		}
		return priceReply(float64(100+call), model), nil
	})

	var mu sync.Mutex
	var events []RoundEvent
	p, err := New(fake, Config{
		Appraisers: appraisers("flaky", "steady"),
		Prompts:    []string{"P1", "P2"},
		Rounds:     2,
		OnRoundComplete: func(e RoundEvent) {
			mu.Lock()
			events = append(events, e)
			mu.Unlock()
		},
	}, nil)
	require.NoError(t, err)

	history, err := p.Run(context.Background(), initialConversation)
	require.NoError(t, err)
	assert.Len(t, events, 6)

	failed, ok := history.Round("flaky", 1)
	require.True(t, ok)
	assert.True(t, failed.Failed())
	assert.False(t, failed.Usable())
	assert.Contains(t, failed.Explanation, "502 bad gateway")

	// The failed round is not replayed into the conversation.
	reqs := fake.requests("flaky")
	require.Len(t, reqs, 3)
	assert.Len(t, reqs[2].Messages, 4)
	assert.Contains(t, reqs[2].Messages[3].Content, "was $100.00.")

	final, k, ok := history.Final("flaky")
	require.True(t, ok)
	assert.Equal(t, 2, k)
	assert.InDelta(t, 102, *final.Price, 1e-9)

	assert.Equal(t, 3, history.Rounds("steady"))
}

func TestRun_UnparseableReplyRecorded(t *testing.T) {
	fake := newFake(func(_ context.Context, _ string, call int, _ *llm.Request) (string, error) {
		if call == 0 {
			return "I cannot say.", nil
		}
		return priceReply(50, "x"), nil
	})
	p, err := New(fake, Config{Appraisers: appraisers("a"), Prompts: []string{"P"}, Rounds: 1}, nil)
	require.NoError(t, err)

	history, err := p.Run(context.Background(), initialConversation)
	require.NoError(t, err)
	initial, _ := history.Initial("a")
	assert.False(t, initial.Usable())
	assert.Equal(t, domain.ReplyText, initial.Kind)
	assert.Contains(t, fake.requests("a")[1].Messages[3].Content, "was unknown.")
}

func TestRun_CancellationKeepsCompletedRounds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fake := newFake(func(ctx context.Context, _ string, call int, _ *llm.Request) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return priceReply(float64(10+call), "a"), nil
	})
	p, err := New(fake, Config{
		Appraisers: appraisers("a"),
		Prompts:    []string{"P1", "P2"},
		Rounds:     5,
		OnRoundComplete: func(e RoundEvent) {
			if e.Round == 1 {
				cancel()
			}
		},
	}, nil)
	require.NoError(t, err)

	history, err := p.Run(ctx, initialConversation)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, history.Rounds("a"))
	final, _, ok := history.Final("a")
	require.True(t, ok)
	assert.InDelta(t, 11, *final.Price, 1e-9)
}

func TestRun_ZeroRounds(t *testing.T) {
	fake := newFake(func(context.Context, string, int, *llm.Request) (string, error) {
		return priceReply(1, "a"), nil
	})
	p, err := New(fake, Config{Appraisers: appraisers("a", "b"), Rounds: 0}, nil)
	require.NoError(t, err)
	history, err := p.Run(context.Background(), initialConversation)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, history.Appraisers())
	assert.Equal(t, 1, history.Rounds("a"))
}

func TestSelector_NoConsecutiveRepeats(t *testing.T) {
	pool := []string{"P1", "P2", "P3", "P2"}
	for _, policy := range []domain.SelectionPolicy{domain.SelectionRandom, domain.SelectionRoundRobin} {
		t.Run(string(policy), func(t *testing.T) {
			s := newSelector(pool, policy, rand.New(rand.NewPCG(1, 2)))
			for offset := range 4 {
				prev := ""
				for round := 1; round <= 50; round++ {
					got := s.next(offset, round, prev)
					assert.NotEqual(t, prev, got, "round %d", round)
					assert.Contains(t, []string{"P1", "P2", "P3"}, got)
					prev = got
				}
			}
		})
	}
}

func TestSelector_SingleDistinctPrompt(t *testing.T) {
	s := newSelector([]string{"same", "same"}, domain.SelectionRandom, nil)
	assert.Equal(t, "same", s.next(0, 1, ""))
	assert.Equal(t, "same", s.next(0, 2, "same"))
}

func TestSelector_RandomCoversPool(t *testing.T) {
	s := newSelector([]string{"P1", "P2", "P3"}, domain.SelectionRandom, rand.New(rand.NewPCG(7, 7)))
	seen := map[string]bool{}
	prev := ""
	for round := 1; round <= 200; round++ {
		prev = s.next(0, round, prev)
		seen[prev] = true
	}
	assert.Len(t, seen, 3)
}
