package agent

import (
	"context"
	"errors"
	"iter"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/MimeLyc/cass/internal/llm"
	"github.com/MimeLyc/cass/internal/tools"
	"github.com/stretchr/testify/require"
)

type scripted struct {
	content string
	err     error
}

// fakeProvider answers Chat calls from a script and streams fixed fragments.
type fakeProvider struct {
	mu        sync.Mutex
	answers   []scripted
	calls     [][]llm.Message
	fragments []string
	streamErr error
	endless   bool

	pulled   atomic.Int32
	released atomic.Bool
}

func (p *fakeProvider) Chat(_ context.Context, messages []llm.Message) (*llm.Answer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls = append(p.calls, messages)
	i := len(p.calls) - 1
	if i >= len(p.answers) {
		return nil, errors.New("unexpected provider call")
	}
	if p.answers[i].err != nil {
		return nil, p.answers[i].err
	}
	return &llm.Answer{Content: p.answers[i].content, Model: "fake-model", Tokens: 7}, nil
}

func (p *fakeProvider) ChatStream(_ context.Context, messages []llm.Message) iter.Seq2[string, error] {
	p.mu.Lock()
	p.calls = append(p.calls, messages)
	p.mu.Unlock()

	return func(yield func(string, error) bool) {
		defer p.released.Store(true)
		for i := 0; p.endless || i < len(p.fragments); i++ {
			fragment := "tok"
			if i < len(p.fragments) {
				fragment = p.fragments[i]
			}
			p.pulled.Add(1)
			if !yield(fragment, nil) {
				return
			}
		}
		if p.streamErr != nil {
			yield("", p.streamErr)
		}
	}
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// fakeTool returns queued results in order.
type fakeTool struct {
	mu      sync.Mutex
	results []tools.Result
	sqls    []string
}

func (f *fakeTool) Name() string        { return tools.RunSQLName }
func (f *fakeTool) Description() string { return "Executes a SQL query against the database and returns the results." }

func (f *fakeTool) Execute(_ context.Context, sql string) tools.Result {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.sqls = append(f.sqls, sql)
	if len(f.results) == 0 {
		return tools.Failure("no scripted result")
	}
	r := f.results[0]
	f.results = f.results[1:]
	return r
}

func (f *fakeTool) executed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sqls...)
}

func newTestAgent(t *testing.T, provider llm.Provider, tool tools.Tool, opts ...Option) *Agent {
	t.Helper()

	var registered []tools.Tool
	if tool != nil {
		registered = append(registered, tool)
	}
	registry, err := tools.NewRegistry(registered...)
	require.NoError(t, err)
	return New(provider, registry, opts...)
}
