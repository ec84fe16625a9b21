// internal/repository/mongo/callback_log.go
package mongo

import (
	"context"
	"time"

	"healthwallet-service/internal/domain/topup"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
)

const callbackCollection = "payment_callbacks"

// timeout of a single archive write
var timeout = 5 * time.Second

// CallbackLog archives gateway notifications to an append-only collection
// indexed by intent.
type CallbackLog struct {
	client *mongo.Client
	coll   *mongo.Collection
}

func NewCallbackLog(ctx context.Context, uri, database string) (*CallbackLog, error) {
	clientOpts := options.Client().ApplyURI(uri).
		SetWriteConcern(writeconcern.New(
			writeconcern.WMajority(),
			writeconcern.WTimeout(timeout),
		))

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errors.Wrap(err, "mongo ping")
	}

	l := &CallbackLog{client: client, coll: client.Database(database).Collection(callbackCollection)}
	return l.setup(ctx)
}

func (l *CallbackLog) setup(ctx context.Context) (*CallbackLog, error) {
	if _, err := l.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "intentId", Value: 1}, {Key: "receivedAt", Value: -1}}},
		{Keys: bson.D{{Key: "receivedAt", Value: -1}}},
	}); err != nil {
		return nil, errors.WithStack(err)
	}
	return l, nil
}

func (l *CallbackLog) Append(ctx context.Context, rec *topup.CallbackRecord) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if _, err := l.coll.InsertOne(ctx, rec); err != nil {
		return errors.Wrapf(err, "archive %s %s", rec.Method, rec.Kind)
	}
	return nil
}

// ListByIntent returns the notifications received for an intent, newest first.
func (l *CallbackLog) ListByIntent(ctx context.Context, intentID string) ([]topup.CallbackRecord, error) {
	cur, err := l.coll.Find(ctx,
		bson.D{{Key: "intentId", Value: intentID}},
		options.Find().SetSort(bson.D{{Key: "receivedAt", Value: -1}}),
	)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer cur.Close(ctx)

	var out []topup.CallbackRecord
	if err := cur.All(ctx, &out); err != nil {
		return nil, errors.WithStack(err)
	}
	return out, nil
}

func (l *CallbackLog) Close(ctx context.Context) error {
	return errors.WithStack(l.client.Disconnect(ctx))
}
