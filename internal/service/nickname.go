// nickname.go — сервис никнеймов: транзакционный upsert значения
// для пары (владелец, собеседник) с поддержкой ссылки на документе
// пользователя-собеседника.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/matthewmerkas/kit-server/internal/domain/model"
	"github.com/matthewmerkas/kit-server/internal/store"
)

// NicknameService — сервис никнеймов поверх движка доступа.
type NicknameService struct {
	engine *store.Engine
	users  *store.Engine
	logger *slog.Logger
}

// NewNicknameService создаёт сервис никнеймов.
func NewNicknameService(engine, users *store.Engine, logger *slog.Logger) *NicknameService {
	return &NicknameService{
		engine: engine,
		users:  users,
		logger: logger.With(slog.String("component", "nickname_service")),
	}
}

// Upsert устанавливает никнейм вызывающего для собеседника.
// Никнейм и ссылка на него в документе собеседника обновляются в
// одной транзакции: ссылка без никнейма (и наоборот) невозможна.
func (s *NicknameService) Upsert(ctx context.Context, peerID, value string, caller *model.Caller) (bson.M, error) {
	if err := store.ValidateCaller(caller); err != nil {
		return nil, err
	}
	owner, err := bson.ObjectIDFromHex(caller.ID)
	if err != nil {
		return nil, &store.ValidationError{Message: "идентификатор вызывающего некорректен"}
	}
	peer, err := bson.ObjectIDFromHex(peerID)
	if err != nil {
		return nil, &store.InvalidIDError{ID: peerID}
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, &store.ValidationError{Message: "требуется значение никнейма"}
	}

	session, err := s.engine.Collection().Database().Client().StartSession()
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия сессии: %w", err)
	}
	defer session.EndSession(ctx)

	result, err := session.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		now := time.Now().UTC()
		opts := options.FindOneAndUpdate().
			SetUpsert(true).
			SetReturnDocument(options.After)

		var nick bson.M
		err := s.engine.Collection().FindOneAndUpdate(ctx,
			bson.M{"userId": owner, "peerId": peer},
			bson.M{
				"$set":         bson.M{"value": value, "updatedAt": now},
				"$setOnInsert": bson.M{"createdAt": now},
			},
			opts,
		).Decode(&nick)
		if err != nil {
			return nil, fmt.Errorf("ошибка upsert никнейма: %w", err)
		}

		_, err = s.users.Collection().UpdateOne(ctx,
			bson.M{"_id": peer},
			bson.M{"$addToSet": bson.M{"nicknames": nick["_id"]}},
		)
		if err != nil {
			return nil, fmt.Errorf("ошибка привязки никнейма: %w", err)
		}
		return nick, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(bson.M), nil
}

// Remove удаляет никнейм вызывающего для собеседника вместе со
// ссылкой в документе собеседника. Отсутствующий никнейм — NotFoundError.
func (s *NicknameService) Remove(ctx context.Context, peerID string, caller *model.Caller) error {
	if err := store.ValidateCaller(caller); err != nil {
		return err
	}
	owner, err := bson.ObjectIDFromHex(caller.ID)
	if err != nil {
		return &store.ValidationError{Message: "идентификатор вызывающего некорректен"}
	}
	peer, err := bson.ObjectIDFromHex(peerID)
	if err != nil {
		return &store.InvalidIDError{ID: peerID}
	}

	session, err := s.engine.Collection().Database().Client().StartSession()
	if err != nil {
		return fmt.Errorf("ошибка открытия сессии: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		var nick bson.M
		err := s.engine.Collection().FindOneAndDelete(ctx,
			bson.M{"userId": owner, "peerId": peer},
		).Decode(&nick)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, &store.NotFoundError{Resource: "nickname"}
		}
		if err != nil {
			return nil, fmt.Errorf("ошибка удаления никнейма: %w", err)
		}

		_, err = s.users.Collection().UpdateOne(ctx,
			bson.M{"_id": peer},
			bson.M{"$pull": bson.M{"nicknames": nick["_id"]}},
		)
		if err != nil {
			return nil, fmt.Errorf("ошибка отвязки никнейма: %w", err)
		}
		return nil, nil
	})
	return err
}
