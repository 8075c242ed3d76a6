package batch

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/tzgateway/gateway/observability"
	"github.com/tzgateway/gateway/provider"
	"github.com/tzgateway/gateway/provider/dummy"
	"github.com/tzgateway/gateway/types"
)

func newSubsystem(client provider.Client) (*Subsystem, observability.Store) {
	store := observability.NewMemoryStore()
	writer := observability.NewWriter(store, false)
	return &Subsystem{Clients: client, Writer: writer, Store: store}, store
}

func startReq(n int) StartRequest {
	inputs := make([]StartInput, n)
	for i := range inputs {
		inputs[i] = StartInput{
			InferenceID: types.MustNewID(),
			EpisodeID:   types.MustNewID(),
			Input:       types.Input{Messages: []types.Message{{Role: types.RoleUser, Parts: []types.Part{types.TextPart{Text: "hi"}}}}},
			Messages:    []types.Message{{Role: types.RoleUser, Parts: []types.Part{types.TextPart{Text: "hi"}}}},
			Params:      types.InferenceParams{},
		}
	}
	return StartRequest{
		FunctionName: "greet", VariantName: "v1", ModelName: "model1", ModelProviderName: "p1",
		ModelID: "batchy", Inputs: inputs,
	}
}

func TestBatchStartPersistsFanoutRows(t *testing.T) {
	client := dummy.New(map[string]dummy.Behavior{"batchy": {Text: "ok", SupportsBatch: true}})
	sub, store := newSubsystem(client)

	batchID, err := sub.Start(context.Background(), startReq(3))
	require.NoError(t, err)
	require.NotEmpty(t, batchID)

	br, err := store.GetBatchRequest(context.Background(), batchID)
	require.NoError(t, err)
	require.Equal(t, types.BatchStatusPending, br.Status)

	fanout, err := store.ListBatchModelInferences(context.Background(), batchID)
	require.NoError(t, err)
	require.Len(t, fanout, 3)
}

func TestBatchStartRejectsEmptyInputs(t *testing.T) {
	client := dummy.New(nil)
	sub, _ := newSubsystem(client)

	_, err := sub.Start(context.Background(), StartRequest{Inputs: nil})
	require.Error(t, err)
}

func TestBatchPollPendingThenCompleted(t *testing.T) {
	client := dummy.New(map[string]dummy.Behavior{"batchy": {Text: "done", SupportsBatch: true, PollsBeforeDone: 1}})
	sub, store := newSubsystem(client)

	batchID, err := sub.Start(context.Background(), startReq(2))
	require.NoError(t, err)

	status, err := sub.Poll(context.Background(), batchID)
	require.NoError(t, err)
	require.Equal(t, types.BatchStatusPending, status)

	status, err = sub.Poll(context.Background(), batchID)
	require.NoError(t, err)
	require.Equal(t, types.BatchStatusCompleted, status)

	br, err := store.GetBatchRequest(context.Background(), batchID)
	require.NoError(t, err)
	require.Equal(t, types.BatchStatusCompleted, br.Status)

	completed, err := sub.GetCompletedInferences(context.Background(), batchID, nil)
	require.NoError(t, err)
	require.Len(t, completed, 2)
	for _, c := range completed {
		require.Equal(t, "v1", c.VariantName)
		require.NotEmpty(t, c.OutputChat)
	}
}

func TestBatchPollIsIdempotentAfterCompletion(t *testing.T) {
	client := dummy.New(map[string]dummy.Behavior{"batchy": {Text: "done", SupportsBatch: true}})
	sub, _ := newSubsystem(client)

	batchID, err := sub.Start(context.Background(), startReq(1))
	require.NoError(t, err)

	status, err := sub.Poll(context.Background(), batchID)
	require.NoError(t, err)
	require.Equal(t, types.BatchStatusCompleted, status)

	status, err = sub.Poll(context.Background(), batchID)
	require.NoError(t, err)
	require.Equal(t, types.BatchStatusCompleted, status)
}

func TestBatchPollUnknownID(t *testing.T) {
	client := dummy.New(nil)
	sub, _ := newSubsystem(client)

	_, err := sub.Poll(context.Background(), uuid.NewString())
	require.Error(t, err)
}
