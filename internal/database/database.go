// Пакет database — подключение к MongoDB, обеспечение индексов
// и проверка готовности.
package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/matthewmerkas/kit-server/internal/config"
)

// Connect подключается к MongoDB и проверяет доступность ping-ом.
func Connect(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*mongo.Client, error) {
	opts := options.Client().
		ApplyURI(cfg.MongoURI).
		SetTimeout(10 * time.Second)

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("MongoDB недоступна: %w", err)
	}

	logger.Info("Подключение к MongoDB установлено",
		slog.String("database", cfg.MongoDatabase),
	)
	return client, nil
}

// EnsureIndexes создаёт индексы коллекций. Операция идемпотентна:
// существующие индексы с той же спецификацией пропускаются.
func EnsureIndexes(ctx context.Context, db *mongo.Database, logger *slog.Logger) error {
	indexes := map[string][]mongo.IndexModel{
		"users": {
			{
				Keys:    bson.D{{Key: "username", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		"messages": {
			{
				Keys: bson.D{{Key: "user", Value: 1}, {Key: "createdAt", Value: -1}},
			},
			{
				Keys: bson.D{{Key: "user", Value: 1}, {Key: "peer", Value: 1}},
			},
		},
		"nicknames": {
			{
				Keys:    bson.D{{Key: "userId", Value: 1}, {Key: "peerId", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		"rfids": {
			{
				Keys:    bson.D{{Key: "tagId", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
	}

	for coll, models := range indexes {
		if _, err := db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("ошибка создания индексов коллекции %s: %w", coll, err)
		}
		logger.Debug("Индексы коллекции обеспечены",
			slog.String("collection", coll),
			slog.Int("count", len(models)),
		)
	}
	return nil
}

// Ready проверяет готовность базы данных для readiness-проб.
func Ready(ctx context.Context, client *mongo.Client) error {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		return fmt.Errorf("MongoDB недоступна: %w", err)
	}
	return nil
}
