package function

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/tzgateway/gateway/provider"
	"github.com/tzgateway/gateway/provider/dummy"
	"github.com/tzgateway/gateway/template"
	"github.com/tzgateway/gateway/tzerr"
	"github.com/tzgateway/gateway/types"
	"github.com/tzgateway/gateway/variant"
)

type mapRegistry map[string]*types.Function

func (m mapRegistry) Function(name string) (*types.Function, bool) {
	f, ok := m[name]
	return f, ok
}

type staticResolver map[string]provider.Client

func (s staticResolver) Resolve(mp *types.ModelProvider) (provider.Client, error) {
	c, ok := s[mp.Name]
	if !ok {
		return nil, tzerr.New(tzerr.KindInvalidProviderConfig, "no client for provider", nil, nil)
	}
	return c, nil
}

func dummyModel(name, providerName, modelID string) *types.Model {
	return &types.Model{
		Name:    name,
		Routing: []string{providerName},
		Provider: map[string]*types.ModelProvider{
			providerName: {Name: providerName, Kind: types.ProviderKindDummy, ModelID: modelID},
		},
	}
}

func TestDispatchUnknownFunction(t *testing.T) {
	d := &Dispatcher{Functions: mapRegistry{}, Executor: &variant.Executor{}}
	_, err := d.Dispatch(context.Background(), Request{FunctionName: "nope", EpisodeID: uuid.Must(uuid.NewV7())})
	require.Error(t, err)
	tzErr, ok := tzerr.As(err)
	require.True(t, ok)
	require.Equal(t, tzerr.KindUnknownFunction, tzErr.Kind())
}

func TestDispatchPinnedVariantBypassesSampling(t *testing.T) {
	client := dummy.New(map[string]dummy.Behavior{"m1": {Text: "pinned"}})
	v1 := &types.Variant{Name: "v1", Kind: types.VariantKindChatCompletion, Model: "model1", Weight: 0}
	v2 := &types.Variant{Name: "v2", Kind: types.VariantKindChatCompletion, Model: "model1", Weight: 1000}
	fn := &types.Function{
		Name: "greet", Kind: types.FunctionKindChat,
		Variants: map[string]*types.Variant{"v1": v1, "v2": v2}, VariantNames: []string{"v1", "v2"},
	}

	d := &Dispatcher{
		Functions: mapRegistry{"greet": fn},
		Executor: &variant.Executor{
			Models:    map[string]*types.Model{"model1": dummyModel("model1", "p1", "m1")},
			Clients:   staticResolver{"p1": client},
			Templates: template.NewRegistry(),
		},
	}

	outcome, err := d.Dispatch(context.Background(), Request{
		FunctionName: "greet", VariantName: "v1", EpisodeID: uuid.Must(uuid.NewV7()),
		Input: types.Input{Messages: []types.Message{{Role: types.RoleUser, Parts: []types.Part{types.TextPart{Text: "hi"}}}}},
	})
	require.NoError(t, err)
	require.Equal(t, "v1", outcome.VariantName)
}

func TestDispatchRetriesNextSampledVariantOnFailure(t *testing.T) {
	failingClient := dummy.New(map[string]dummy.Behavior{"bad": {FailWithKind: tzerr.KindInferenceServer}})
	workingClient := dummy.New(map[string]dummy.Behavior{"good": {Text: "fallback worked"}})

	vBad := &types.Variant{Name: "bad", Kind: types.VariantKindChatCompletion, Model: "mbad", Weight: 1}
	vGood := &types.Variant{Name: "good", Kind: types.VariantKindChatCompletion, Model: "mgood", Weight: 1}
	fn := &types.Function{
		Name: "f", Kind: types.FunctionKindChat,
		Variants: map[string]*types.Variant{"bad": vBad, "good": vGood}, VariantNames: []string{"bad", "good"},
	}

	d := &Dispatcher{
		Functions: mapRegistry{"f": fn},
		Executor: &variant.Executor{
			Models: map[string]*types.Model{
				"mbad":  dummyModel("mbad", "pbad", "bad"),
				"mgood": dummyModel("mgood", "pgood", "good"),
			},
			Clients:   staticResolver{"pbad": failingClient, "pgood": workingClient},
			Templates: template.NewRegistry(),
		},
	}

	outcome, err := d.Dispatch(context.Background(), Request{
		FunctionName: "f", EpisodeID: uuid.Must(uuid.NewV7()),
		Input: types.Input{Messages: []types.Message{{Role: types.RoleUser, Parts: []types.Part{types.TextPart{Text: "hi"}}}}},
	})
	require.NoError(t, err)
	require.Equal(t, "good", outcome.VariantName)
}

func TestDispatchAllVariantsFailed(t *testing.T) {
	failingClient := dummy.New(map[string]dummy.Behavior{"bad": {FailWithKind: tzerr.KindInferenceServer}})
	vBad := &types.Variant{Name: "bad", Kind: types.VariantKindChatCompletion, Model: "mbad", Weight: 1}
	fn := &types.Function{
		Name: "f", Kind: types.FunctionKindChat,
		Variants: map[string]*types.Variant{"bad": vBad}, VariantNames: []string{"bad"},
	}

	d := &Dispatcher{
		Functions: mapRegistry{"f": fn},
		Executor: &variant.Executor{
			Models:    map[string]*types.Model{"mbad": dummyModel("mbad", "pbad", "bad")},
			Clients:   staticResolver{"pbad": failingClient},
			Templates: template.NewRegistry(),
		},
	}

	_, err := d.Dispatch(context.Background(), Request{
		FunctionName: "f", EpisodeID: uuid.Must(uuid.NewV7()),
		Input: types.Input{Messages: []types.Message{{Role: types.RoleUser, Parts: []types.Part{types.TextPart{Text: "hi"}}}}},
	})
	require.Error(t, err)
	tzErr, ok := tzerr.As(err)
	require.True(t, ok)
	require.Contains(t, []tzerr.Kind{tzerr.KindModelProvidersExhausted, tzerr.KindAllVariantsFailed}, tzErr.Kind())
}
