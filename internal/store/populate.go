// populate.go — построение стадий aggregation-конвейера для
// резолва объявленных связей при чтении, включая наложение никнейма
// в контексте просматривающего.
package store

import (
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/matthewmerkas/kit-server/internal/domain/model"
)

// sensitiveProjection скрывает чувствительные поля присоединённого
// документа (учётные данные, push-токены устройств).
var sensitiveProjection = bson.D{{Key: "$project", Value: bson.M{
	"password":  0,
	"fcmTokens": 0,
}}}

// PopulationStages строит стадии конвейера для ключей population
// дескриптора. Стадии компонуемы; наложение никнейма выполняется до
// финальной проекции, чтобы проекция не отбросила резолвнутое значение.
func PopulationStages(d Descriptor, caller *model.Caller) []bson.D {
	stages := make([]bson.D, 0, len(d.PopulateKeys)*2)
	for _, key := range d.PopulateKeys {
		if key == "nicknames" {
			stages = append(stages, nicknameOverlayStages(caller)...)
			continue
		}
		from, ok := d.Relations[key]
		if !ok {
			continue
		}
		stages = append(stages, lookupStages(key, from, caller)...)
	}
	return stages
}

// lookupStages — join одной связи: match внешней коллекции по полю
// ссылки, разворачивание в единственный документ (left-join) и
// сокрытие чувствительных полей. Для связей с коллекцией users
// наложение никнейма выполняется внутри sub-конвейера, чтобы
// резолвнутый собеседник нёс никнейм просматривающего.
func lookupStages(key, from string, caller *model.Caller) []bson.D {
	sub := bson.A{sensitiveProjection}
	if from == "users" {
		for _, stage := range nicknameOverlayStages(caller) {
			sub = append(sub, stage)
		}
	}
	return []bson.D{
		{{Key: "$lookup", Value: bson.M{
			"from":         from,
			"localField":   key,
			"foreignField": "_id",
			"as":           key,
			"pipeline":     sub,
		}}},
		{{Key: "$unwind", Value: bson.M{
			"path":                       "$" + key,
			"preserveNullAndEmptyArrays": true,
		}}},
	}
}

// nicknameOverlayStages — коррелированный sub-lookup: для каждого
// документа-собеседника ищется никнейм с ключом (viewerId, peerId) и
// его value накладывается на поле nickname результата. Left-join:
// отсутствие никнейма не отфильтровывает базовый документ.
func nicknameOverlayStages(caller *model.Caller) []bson.D {
	if caller == nil {
		return nil
	}
	viewer, err := bson.ObjectIDFromHex(caller.ID)
	if err != nil {
		return nil
	}
	return []bson.D{
		{{Key: "$lookup", Value: bson.M{
			"from": "nicknames",
			"let":  bson.M{"peerId": "$_id"},
			"pipeline": bson.A{
				bson.D{{Key: "$match", Value: bson.M{
					"$expr": bson.M{"$and": bson.A{
						bson.M{"$eq": bson.A{"$peerId", "$$peerId"}},
						bson.M{"$eq": bson.A{"$userId", viewer}},
					}},
				}}},
				bson.D{{Key: "$limit", Value: 1}},
			},
			"as": "viewerNicknames",
		}}},
		{{Key: "$addFields", Value: bson.M{
			"nickname": bson.M{"$first": "$viewerNicknames.value"},
		}}},
		{{Key: "$project", Value: bson.M{"viewerNicknames": 0}}},
	}
}
