// Package mongodb writes rows as documents, one collection per table.
// Merge streams replace the document whose _id is the row's primary key.
package mongodb

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"github.com/ajitpratap0/tidemark/pkg/connector/core"
	"github.com/ajitpratap0/tidemark/pkg/errors"
	jsonpkg "github.com/ajitpratap0/tidemark/pkg/json"
	"github.com/ajitpratap0/tidemark/pkg/logger"
)

// DestinationName is the registry name of the MongoDB sink.
const DestinationName = "mongodb"

const (
	connectTimeout = 10 * time.Second
	tenantField    = "_tenant"
)

// Sink bulk-writes each page.
type Sink struct {
	client *mongo.Client
	db     *mongo.Database
	logger *zap.Logger
}

// Connect opens a client for uri and pings the primary.
func Connect(ctx context.Context, uri, database string) (*Sink, error) {
	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri).SetAppName("tidemark"))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "error creating MongoDB client")
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "error connecting to MongoDB (ping failed)")
	}

	return &Sink{
		client: client,
		db:     client.Database(database),
		logger: logger.Get().With(zap.String("component", "mongodb_sink")),
	}, nil
}

// WriteModels renders page as bulk write operations.
func WriteModels(stream *core.Stream, page core.Page) ([]mongo.WriteModel, error) {
	models := make([]mongo.WriteModel, 0, len(page.Rows))
	for _, row := range page.Rows {
		doc := make(bson.M, len(row)+2)
		for k, v := range row {
			doc[k] = normalize(v)
		}
		if page.Tenant != "" {
			doc[tenantField] = page.Tenant
		}

		if stream.WriteMode != core.WriteModeMerge {
			models = append(models, mongo.NewInsertOneModel().SetDocument(doc))
			continue
		}

		key, err := stream.Key(row)
		if err != nil {
			return nil, err
		}
		doc["_id"] = key
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": key}).
			SetReplacement(doc).
			SetUpsert(true))
	}
	return models, nil
}

// normalize turns decoded JSON numbers into BSON numbers.
func normalize(v interface{}) interface{} {
	switch x := v.(type) {
	case jsonpkg.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case map[string]interface{}:
		out := make(bson.M, len(x))
		for k, e := range x {
			out[k] = normalize(e)
		}
		return out
	case []interface{}:
		out := make(bson.A, len(x))
		for i, e := range x {
			out[i] = normalize(e)
		}
		return out
	default:
		return v
	}
}

// Write applies page to the stream's collection.
func (s *Sink) Write(ctx context.Context, stream *core.Stream, page core.Page) error {
	models, err := WriteModels(stream, page)
	if err != nil {
		return err
	}
	if len(models) == 0 {
		return nil
	}

	res, err := s.db.Collection(stream.TableName()).BulkWrite(ctx, models, options.BulkWrite().SetOrdered(true))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeSink, "bulk write failed").
			WithDetail("collection", stream.TableName())
	}

	s.logger.Debug("bulk write",
		zap.String("collection", stream.TableName()),
		zap.Int64("inserted", res.InsertedCount),
		zap.Int64("matched", res.MatchedCount),
		zap.Int64("upserted", res.UpsertedCount))
	return nil
}

// Close disconnects the client
func (s *Sink) Close(ctx context.Context) error {
	if err := s.client.Disconnect(ctx); err != nil {
		return errors.Wrap(err, errors.ErrorTypeSink, "failed to disconnect")
	}
	return nil
}
