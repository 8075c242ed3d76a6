package observability

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/tzgateway/gateway/tzerr"
	"github.com/tzgateway/gateway/types"

	"github.com/google/uuid"
)

// MongoStore implements Store against go.mongodb.org/mongo-driver/v2,
// mirroring the teacher's features/*/mongo packages (a thin wrapper holding
// a *mongo.Database plus named collections). Each row kind gets its own
// collection; idempotent-per-id writes (§3, §8) are implemented with
// ReplaceOne(filter={_id: id}, upsert=true), the Mongo analogue of
// ClickHouse's ReplacingMergeTree + argMax dedup.
type MongoStore struct {
	db *mongo.Database

	chat          *mongo.Collection
	jsonInf       *mongo.Collection
	model         *mongo.Collection
	batchRequests *mongo.Collection
	batchModel    *mongo.Collection
	feedback      *mongo.Collection
	dicl          *mongo.Collection
	datapoints    *mongo.Collection
}

// NewMongoStore builds a MongoStore backed by db, using the same collection
// naming convention as spec.md §6's table names, lowercased with an
// "observability_" prefix to avoid clashing with the embedder's own
// collections.
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		db:            db,
		chat:          db.Collection("observability_chat_inference"),
		jsonInf:       db.Collection("observability_json_inference"),
		model:         db.Collection("observability_model_inference"),
		batchRequests: db.Collection("observability_batch_request"),
		batchModel:    db.Collection("observability_batch_model_inference"),
		feedback:      db.Collection("observability_feedback"),
		dicl:          db.Collection("observability_dicl_example"),
		datapoints:    db.Collection("observability_datapoint"),
	}
}

var upsertOpts = options.Replace().SetUpsert(true)

func (s *MongoStore) InsertChatInference(ctx context.Context, rows []ChatInferenceRow) error {
	for _, r := range rows {
		if _, err := s.chat.ReplaceOne(ctx, bson.M{"_id": r.ID.String()}, r, upsertOpts); err != nil {
			return tzerr.New(tzerr.KindOLAPQuery, "insert chat inference", err, map[string]any{"id": r.ID})
		}
	}
	return nil
}

func (s *MongoStore) InsertJSONInference(ctx context.Context, rows []JSONInferenceRow) error {
	for _, r := range rows {
		if _, err := s.jsonInf.ReplaceOne(ctx, bson.M{"_id": r.ID.String()}, r, upsertOpts); err != nil {
			return tzerr.New(tzerr.KindOLAPQuery, "insert json inference", err, map[string]any{"id": r.ID})
		}
	}
	return nil
}

func (s *MongoStore) InsertModelInference(ctx context.Context, rows []ModelInferenceRow) error {
	for _, r := range rows {
		if _, err := s.model.ReplaceOne(ctx, bson.M{"_id": r.ID.String()}, r, upsertOpts); err != nil {
			return tzerr.New(tzerr.KindOLAPQuery, "insert model inference", err, map[string]any{"id": r.ID})
		}
	}
	return nil
}

func (s *MongoStore) InsertBatchRequest(ctx context.Context, row BatchRequestRow) error {
	_, err := s.batchRequests.ReplaceOne(ctx, bson.M{"_id": row.BatchID}, row, upsertOpts)
	if err != nil {
		return tzerr.New(tzerr.KindOLAPQuery, "insert batch request", err, map[string]any{"batch_id": row.BatchID})
	}
	return nil
}

func (s *MongoStore) InsertBatchModelInference(ctx context.Context, rows []BatchModelInferenceRow) error {
	for _, r := range rows {
		id := r.BatchID + ":" + r.InferenceID.String()
		if _, err := s.batchModel.ReplaceOne(ctx, bson.M{"_id": id}, r, upsertOpts); err != nil {
			return tzerr.New(tzerr.KindOLAPQuery, "insert batch model inference", err, map[string]any{"id": id})
		}
	}
	return nil
}

func (s *MongoStore) InsertFeedback(ctx context.Context, row FeedbackRow) error {
	_, err := s.feedback.ReplaceOne(ctx, bson.M{"_id": row.ID.String()}, row, upsertOpts)
	if err != nil {
		return tzerr.New(tzerr.KindOLAPQuery, "insert feedback", err, map[string]any{"id": row.ID})
	}
	return nil
}

func (s *MongoStore) InsertDICLExample(ctx context.Context, row DICLExampleRow) error {
	_, err := s.dicl.ReplaceOne(ctx, bson.M{"_id": row.ID.String()}, row, upsertOpts)
	if err != nil {
		return tzerr.New(tzerr.KindOLAPQuery, "insert dicl example", err, map[string]any{"id": row.ID})
	}
	return nil
}

func (s *MongoStore) InsertDatapoint(ctx context.Context, row DatapointRow) error {
	_, err := s.datapoints.ReplaceOne(ctx, bson.M{"_id": row.ID.String()}, row, upsertOpts)
	if err != nil {
		return tzerr.New(tzerr.KindOLAPQuery, "insert datapoint", err, map[string]any{"id": row.ID})
	}
	return nil
}

func (s *MongoStore) StaleDatapoint(ctx context.Context, id uuid.UUID, staledAt time.Time) error {
	_, err := s.datapoints.UpdateOne(ctx, bson.M{"_id": id.String()}, bson.M{"$set": bson.M{"staledat": staledAt}})
	if err != nil {
		return tzerr.New(tzerr.KindOLAPQuery, "stale datapoint", err, map[string]any{"id": id})
	}
	return nil
}

func (s *MongoStore) QueryChatInferences(ctx context.Context, functionName string, page Page) ([]ChatInferenceRow, error) {
	filter := bson.M{"functionname": functionName}
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	if page.PageSize > 0 {
		opts.SetLimit(int64(page.PageSize))
	}
	cur, err := s.chat.Find(ctx, filter, opts)
	if err != nil {
		return nil, tzerr.New(tzerr.KindOLAPQuery, "query chat inferences", err, nil)
	}
	defer cur.Close(ctx)
	var out []ChatInferenceRow
	if err := cur.All(ctx, &out); err != nil {
		return nil, tzerr.New(tzerr.KindOLAPQuery, "decode chat inferences", err, nil)
	}
	return out, nil
}

func (s *MongoStore) QueryJSONInferences(ctx context.Context, functionName string, page Page) ([]JSONInferenceRow, error) {
	filter := bson.M{"functionname": functionName}
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	if page.PageSize > 0 {
		opts.SetLimit(int64(page.PageSize))
	}
	cur, err := s.jsonInf.Find(ctx, filter, opts)
	if err != nil {
		return nil, tzerr.New(tzerr.KindOLAPQuery, "query json inferences", err, nil)
	}
	defer cur.Close(ctx)
	var out []JSONInferenceRow
	if err := cur.All(ctx, &out); err != nil {
		return nil, tzerr.New(tzerr.KindOLAPQuery, "decode json inferences", err, nil)
	}
	return out, nil
}

func (s *MongoStore) QueryFeedback(ctx context.Context, kind types.FeedbackKind, targetID uuid.UUID, page Page) ([]FeedbackRow, error) {
	filter := bson.M{"kind": kind, "targetid": targetID.String()}
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	if page.PageSize > 0 {
		opts.SetLimit(int64(page.PageSize))
	}
	cur, err := s.feedback.Find(ctx, filter, opts)
	if err != nil {
		return nil, tzerr.New(tzerr.KindOLAPQuery, "query feedback", err, nil)
	}
	defer cur.Close(ctx)
	var out []FeedbackRow
	if err := cur.All(ctx, &out); err != nil {
		return nil, tzerr.New(tzerr.KindOLAPQuery, "decode feedback", err, nil)
	}
	return out, nil
}

func (s *MongoStore) ListBatchModelInferences(ctx context.Context, batchID string) ([]BatchModelInferenceRow, error) {
	cur, err := s.batchModel.Find(ctx, bson.M{"batchid": batchID})
	if err != nil {
		return nil, tzerr.New(tzerr.KindOLAPQuery, "list batch model inferences", err, nil)
	}
	defer cur.Close(ctx)
	var out []BatchModelInferenceRow
	if err := cur.All(ctx, &out); err != nil {
		return nil, tzerr.New(tzerr.KindOLAPQuery, "decode batch model inferences", err, nil)
	}
	return out, nil
}

func (s *MongoStore) QueryCompletedBatchInferences(ctx context.Context, batchID string, inferenceID *uuid.UUID) ([]types.CompletedBatchInference, error) {
	filter := bson.M{"batchid": batchID}
	if inferenceID != nil {
		filter["_id"] = batchID + ":" + inferenceID.String()
	}
	cur, err := s.batchModel.Find(ctx, filter)
	if err != nil {
		return nil, tzerr.New(tzerr.KindOLAPQuery, "query completed batch inferences", err, nil)
	}
	defer cur.Close(ctx)
	var rows []BatchModelInferenceRow
	if err := cur.All(ctx, &rows); err != nil {
		return nil, tzerr.New(tzerr.KindOLAPQuery, "decode batch model inferences", err, nil)
	}

	out := make([]types.CompletedBatchInference, 0, len(rows))
	for _, bmi := range rows {
		var modelRows []ModelInferenceRow
		mcur, err := s.model.Find(ctx, bson.M{"inferenceid": bmi.InferenceID.String()})
		if err != nil {
			return nil, tzerr.New(tzerr.KindOLAPQuery, "query model inferences for batch row", err, nil)
		}
		if err := mcur.All(ctx, &modelRows); err != nil {
			mcur.Close(ctx)
			return nil, tzerr.New(tzerr.KindOLAPQuery, "decode model inferences for batch row", err, nil)
		}
		mcur.Close(ctx)

		var inputTokens, outputTokens int
		var finish types.FinishReason
		for _, mi := range modelRows {
			inputTokens += mi.InputTokens
			outputTokens += mi.OutputTokens
			finish = mi.FinishReason
		}

		var chatRow ChatInferenceRow
		var outputChat []types.Part
		if err := s.chat.FindOne(ctx, bson.M{"_id": bmi.InferenceID.String()}).Decode(&chatRow); err == nil {
			outputChat = chatRow.Output
		}
		var outputJSON *types.JSONOutput
		var jsonRow JSONInferenceRow
		if err := s.jsonInf.FindOne(ctx, bson.M{"_id": bmi.InferenceID.String()}).Decode(&jsonRow); err == nil {
			outputJSON = &jsonRow.Output
		}

		out = append(out, types.CompletedBatchInference{
			InferenceID:  bmi.InferenceID,
			EpisodeID:    bmi.EpisodeID,
			VariantName:  bmi.VariantName,
			OutputChat:   outputChat,
			OutputJSON:   outputJSON,
			InputTokens:  inputTokens,
			OutputTokens: outputTokens,
			FinishReason: finish,
		})
	}
	return out, nil
}

func (s *MongoStore) GetDatapoint(ctx context.Context, id uuid.UUID, allowStale bool) (*DatapointRow, error) {
	var dp DatapointRow
	if err := s.datapoints.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&dp); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, tzerr.New(tzerr.KindInferenceNotFound, "datapoint not found", err, map[string]any{"id": id})
		}
		return nil, tzerr.New(tzerr.KindOLAPQuery, "get datapoint", err, nil)
	}
	if !allowStale && dp.StaledAt != nil {
		return nil, tzerr.New(tzerr.KindInferenceNotFound, "datapoint is stale", nil, map[string]any{"id": id})
	}
	return &dp, nil
}

func (s *MongoStore) GetBatchRequest(ctx context.Context, batchID string) (*BatchRequestRow, error) {
	var br BatchRequestRow
	if err := s.batchRequests.FindOne(ctx, bson.M{"_id": batchID}).Decode(&br); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, tzerr.New(tzerr.KindBatchNotFound, "batch not found", err, map[string]any{"batch_id": batchID})
		}
		return nil, tzerr.New(tzerr.KindOLAPQuery, "get batch request", err, nil)
	}
	return &br, nil
}
