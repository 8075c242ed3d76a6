// Command gateway is a thin, in-process wiring demo: it loads a single Chat
// function from an inline YAML config document, backs its model with the
// dummy provider (no network calls), and runs one inference through the
// load → dispatch → execute path, printing the result. It constructs an
// observability.Writer but writes no rows to it. It is
// not the HTTP server described in §6 — routing and CLI are out of scope
// per §1 — but shows how an embedder wires the packages in this module
// together, the role the teacher's cmd/demo plays for runtime/agent.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"

	"github.com/tzgateway/gateway/config"
	"github.com/tzgateway/gateway/function"
	"github.com/tzgateway/gateway/observability"
	"github.com/tzgateway/gateway/provider"
	"github.com/tzgateway/gateway/provider/dummy"
	"github.com/tzgateway/gateway/types"
	"github.com/tzgateway/gateway/variant"
)

const demoConfig = `
templates:
  geography_system:
    body: "You are a helpful geography assistant."
models:
  gpt-demo-model:
    routing: [primary]
    providers:
      primary:
        kind: dummy
        model_id: gpt-demo
functions:
  basic_test:
    kind: chat
    system_schema:
      type: object
    variants:
      chat:
        kind: chat_completion
        weight: 1
        model: gpt-demo-model
        system_template: geography_system
`

// clientResolver always returns the single dummy client, ignoring which
// ModelProvider was requested — sufficient for a one-model demo.
type clientResolver struct{ client provider.Client }

func (r clientResolver) Resolve(*types.ModelProvider) (provider.Client, error) { return r.client, nil }

func main() {
	reg, err := config.Load([]byte(demoConfig))
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}

	dummyClient := dummy.New(map[string]dummy.Behavior{
		"gpt-demo": {Text: "The capital of Japan is Tokyo."},
	})

	dispatcher := &function.Dispatcher{
		Functions: reg,
		Executor: &variant.Executor{
			Models:    reg.Models(),
			Clients:   clientResolver{client: dummyClient},
			Templates: reg.Templates(),
		},
	}

	writer := observability.NewWriter(observability.NewMemoryStore(), false)
	defer writer.Close()

	req := function.Request{
		FunctionName: "basic_test",
		EpisodeID:    uuid.Must(uuid.NewV7()),
		Input: types.Input{
			System: map[string]any{},
			Messages: []types.Message{
				{Role: types.RoleUser, Parts: []types.Part{types.TextPart{Text: "What is the capital of Japan?"}}},
			},
		},
	}

	outcome, err := dispatcher.Dispatch(context.Background(), req)
	if err != nil {
		slog.Error("inference failed", "error", err)
		os.Exit(1)
	}

	for _, p := range outcome.Result.Content {
		if t, ok := p.(types.TextPart); ok {
			fmt.Println(t.Text)
		}
	}
	fmt.Printf("variant=%s input_tokens=%d output_tokens=%d\n",
		outcome.VariantName, outcome.Result.Usage.InputTokens, outcome.Result.Usage.OutputTokens)
}

