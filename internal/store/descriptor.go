// descriptor.go — дескрипторы типов ресурсов.
// Правила владения, ключи population и прочие особенности типа
// фиксируются один раз при регистрации, без интроспекции схемы
// на каждый запрос.
package store

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// FcmTokenTTL — срок жизни push-токена без активности.
// Токены старше отсеиваются при очередном patch пользователя.
const FcmTokenTTL = 60 * 24 * time.Hour

// MergePatchFunc — специализированное слияние patch-данных поверх
// текущего документа. Возвращает слитый документ и флаг подавления
// широковещательного события update.
type MergePatchFunc func(current, data bson.M) (bson.M, bool)

// Descriptor описывает тип ресурса для движка доступа.
type Descriptor struct {
	// Name — имя ресурса в событиях и сообщениях об ошибках.
	Name string
	// Collection — имя коллекции MongoDB.
	Collection string
	// OwnershipField — поле владельца; пустая строка означает,
	// что тип не имеет владельца (глобальный ресурс).
	OwnershipField string
	// IDField — поле идентификатора: "_id" (ObjectID) либо
	// естественный ключ (tagId у rfid).
	IDField string
	// UniqueField — поле с уникальным значением; используется
	// в ConflictError при нарушении уникальности.
	UniqueField string
	// SoftDeletes — тип поддерживает двухфазное удаление.
	SoftDeletes bool
	// OwnershipExempt — чтение без фильтра владельца
	// (rfid-метки резолвятся любым аутентифицированным вызывающим).
	OwnershipExempt bool
	// Broadcastable — создание/patch транслируются подписчикам.
	Broadcastable bool
	// PopulateKeys — ключи связей для population при чтении.
	PopulateKeys []string
	// Relations — отображение ключа связи на внешнюю коллекцию.
	// Специальный ключ "nicknames" обрабатывается отдельно.
	Relations map[string]string
	// MergePatch — специализированное слияние patch (nil — shallow merge).
	MergePatch MergePatchFunc
}

// Users — дескриптор пользователей. Population наложения никнеймов
// выполняется в контексте просматривающего.
func Users() Descriptor {
	return Descriptor{
		Name:           "user",
		Collection:     "users",
		OwnershipField: "",
		IDField:        "_id",
		UniqueField:    "username",
		SoftDeletes:    true,
		PopulateKeys:   []string{"nicknames"},
		MergePatch:     mergeUserPatch,
	}
}

// Messages — дескриптор сообщений.
func Messages() Descriptor {
	return Descriptor{
		Name:           "message",
		Collection:     "messages",
		OwnershipField: "user",
		IDField:        "_id",
		SoftDeletes:    true,
		PopulateKeys:   []string{"peer"},
		Relations:      map[string]string{"peer": "users"},
	}
}

// Nicknames — дескриптор никнеймов. Уникален индекс по паре
// (userId, peerId); в скоупе владельца конфликтную пару
// идентифицирует peerId, он и попадает в ConflictError.
func Nicknames() Descriptor {
	return Descriptor{
		Name:           "nickname",
		Collection:     "nicknames",
		OwnershipField: "userId",
		IDField:        "_id",
		UniqueField:    "peerId",
	}
}

// Rfids — дескриптор RFID-меток. Ключ — сама строка метки;
// чтение освобождено от фильтра владельца (метки сканируются
// спекулятивно), запись и удаление — по общим правилам.
func Rfids() Descriptor {
	return Descriptor{
		Name:            "rfid",
		Collection:      "rfids",
		OwnershipField:  "user",
		IDField:         "tagId",
		UniqueField:     "tagId",
		OwnershipExempt: true,
		Broadcastable:   true,
		PopulateKeys:    []string{"user"},
		Relations:       map[string]string{"user": "users"},
	}
}

// mergeUserPatch — слияние patch для пользователя со специальной
// обработкой списка fcm-токенов (4.3.1): существующий токен получает
// свежий timestamp, новый добавляется, токены старше FcmTokenTTL
// отсеиваются перестройкой списка. Если payload состоит только из
// fcmToken, событие update подавляется — обновление токена не является
// видимым пользователю изменением.
func mergeUserPatch(current, data bson.M) (bson.M, bool) {
	tokenOnly := false
	raw, hasToken := data["fcmToken"]
	if hasToken {
		tokenOnly = len(data) == 1
		delete(data, "fcmToken")
		if id, ok := raw.(string); ok && id != "" {
			data["fcmTokens"] = mergeFcmTokens(current["fcmTokens"], id, time.Now().UTC())
		}
	}

	merged := bson.M{}
	for k, v := range current {
		merged[k] = v
	}
	for k, v := range data {
		merged[k] = v
	}
	return merged, tokenOnly
}

// mergeFcmTokens перестраивает список токенов: обновляет timestamp
// совпадающего id, добавляет отсутствующий, отбрасывает устаревшие.
func mergeFcmTokens(stored any, id string, now time.Time) bson.A {
	cutoff := now.Add(-FcmTokenTTL)
	result := bson.A{}
	found := false

	if list, ok := stored.(bson.A); ok {
		for _, item := range list {
			tok, ok := item.(bson.M)
			if !ok {
				continue
			}
			tokID, _ := tok["id"].(string)
			ts := tokenTimestamp(tok["timestamp"])
			if tokID == id {
				found = true
				result = append(result, bson.M{"id": tokID, "timestamp": now})
				continue
			}
			if ts.Before(cutoff) {
				continue
			}
			result = append(result, tok)
		}
	}

	if !found {
		result = append(result, bson.M{"id": id, "timestamp": now})
	}
	return result
}

// tokenTimestamp извлекает время из bson-значения timestamp.
func tokenTimestamp(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case bson.DateTime:
		return t.Time()
	default:
		return time.Time{}
	}
}
