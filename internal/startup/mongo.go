package startup

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// ConnectMongoWithRetry подключается к MongoDB (нужен replica set: батчи идут в транзакциях).
func ConnectMongoWithRetry(ctx context.Context, uri string, maxWait time.Duration, logPrefix string) (*mongo.Client, error) {
	return withRetry(ctx, "mongo", maxWait, logPrefix, func(ctx context.Context) (*mongo.Client, error) {
		connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		client, err := mongo.Connect(connCtx, options.Client().ApplyURI(uri))
		if err != nil {
			return nil, err
		}
		if err := client.Ping(connCtx, readpref.Primary()); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, err
		}
		return client, nil
	})
}
