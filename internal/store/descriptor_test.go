package store

import (
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

func TestMergeFcmTokensRefresh(t *testing.T) {
	now := time.Now().UTC()
	stored := bson.A{
		bson.M{"id": "tok-a", "timestamp": now.Add(-time.Hour)},
		bson.M{"id": "tok-b", "timestamp": now.Add(-2 * time.Hour)},
	}

	result := mergeFcmTokens(stored, "tok-a", now)
	if len(result) != 2 {
		t.Fatalf("ожидаются 2 токена, получено %d", len(result))
	}

	refreshed := result[0].(bson.M)
	if refreshed["id"] != "tok-a" {
		t.Errorf("первый токен = %v, ожидается tok-a", refreshed["id"])
	}
	if !refreshed["timestamp"].(time.Time).Equal(now) {
		t.Error("timestamp существующего токена должен быть обновлён")
	}
}

func TestMergeFcmTokensAppend(t *testing.T) {
	now := time.Now().UTC()
	stored := bson.A{bson.M{"id": "tok-a", "timestamp": now}}

	result := mergeFcmTokens(stored, "tok-new", now)
	if len(result) != 2 {
		t.Fatalf("ожидаются 2 токена, получено %d", len(result))
	}
	appended := result[1].(bson.M)
	if appended["id"] != "tok-new" {
		t.Errorf("добавленный токен = %v, ожидается tok-new", appended["id"])
	}
}

func TestMergeFcmTokensPrune(t *testing.T) {
	now := time.Now().UTC()
	stored := bson.A{
		bson.M{"id": "stale-1", "timestamp": now.Add(-FcmTokenTTL - time.Hour)},
		bson.M{"id": "fresh", "timestamp": now.Add(-time.Hour)},
		bson.M{"id": "stale-2", "timestamp": now.Add(-FcmTokenTTL - 24*time.Hour)},
	}

	result := mergeFcmTokens(stored, "tok-new", now)
	ids := map[string]bool{}
	for _, item := range result {
		ids[item.(bson.M)["id"].(string)] = true
	}

	if len(result) != 2 {
		t.Fatalf("ожидаются 2 токена после отсева, получено %d: %v", len(result), ids)
	}
	if !ids["fresh"] || !ids["tok-new"] {
		t.Errorf("выжить должны fresh и tok-new, получено %v", ids)
	}
	if ids["stale-1"] || ids["stale-2"] {
		t.Error("устаревшие токены должны быть отсеяны")
	}
}

func TestMergeFcmTokensEmpty(t *testing.T) {
	now := time.Now().UTC()
	result := mergeFcmTokens(nil, "tok-a", now)
	if len(result) != 1 {
		t.Fatalf("ожидается 1 токен, получено %d", len(result))
	}
	if result[0].(bson.M)["id"] != "tok-a" {
		t.Errorf("токен = %v, ожидается tok-a", result[0])
	}
}

func TestNicknameConflictKey(t *testing.T) {
	// Уникален составной индекс (userId, peerId); в скоупе владельца
	// конфликтную пару идентифицирует peerId — он и должен попадать
	// в ConflictError.
	d := Nicknames()
	if d.UniqueField != "peerId" {
		t.Errorf("UniqueField = %q, ожидается peerId", d.UniqueField)
	}
}

func TestMergeUserPatchTokenOnly(t *testing.T) {
	current := bson.M{
		"username":  "alice",
		"fcmTokens": bson.A{},
	}
	data := bson.M{"fcmToken": "device-token"}

	merged, suppress := mergeUserPatch(current, data)
	if !suppress {
		t.Error("patch только с fcmToken должен подавлять событие update")
	}
	if _, ok := merged["fcmToken"]; ok {
		t.Error("сырой ключ fcmToken не должен попадать в документ")
	}
	tokens, ok := merged["fcmTokens"].(bson.A)
	if !ok || len(tokens) != 1 {
		t.Fatalf("fcmTokens = %v, ожидается один токен", merged["fcmTokens"])
	}
	if merged["username"] != "alice" {
		t.Error("существующие поля должны сохраняться")
	}
}

func TestMergeUserPatchMixed(t *testing.T) {
	current := bson.M{"username": "alice", "displayName": "Алиса"}
	data := bson.M{"fcmToken": "device-token", "displayName": "Алиса К."}

	merged, suppress := mergeUserPatch(current, data)
	if suppress {
		t.Error("patch с видимыми изменениями не должен подавлять событие")
	}
	if merged["displayName"] != "Алиса К." {
		t.Errorf("displayName = %v, ожидается Алиса К.", merged["displayName"])
	}
}

func TestMergeUserPatchShallow(t *testing.T) {
	current := bson.M{"username": "alice", "displayName": "Алиса"}
	data := bson.M{"displayName": "Алиса К."}

	merged, suppress := mergeUserPatch(current, data)
	if suppress {
		t.Error("обычный patch не должен подавлять событие")
	}
	if merged["username"] != "alice" || merged["displayName"] != "Алиса К." {
		t.Errorf("слияние некорректно: %v", merged)
	}
}
