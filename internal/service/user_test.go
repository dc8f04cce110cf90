package service

import (
	"errors"
	"testing"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/matthewmerkas/kit-server/internal/domain/model"
	"github.com/matthewmerkas/kit-server/internal/store"
)

func TestHashPassword(t *testing.T) {
	hash, err := hashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("hashPassword() вернул ошибку: %v", err)
	}
	salt, _ := hash["salt"].(string)
	sum, _ := hash["hash"].(string)
	if len(salt) != 32 {
		t.Errorf("длина соли = %d, ожидается 32 hex-символа", len(salt))
	}
	if len(sum) != 128 {
		t.Errorf("длина хэша = %d, ожидается 128 hex-символов", len(sum))
	}

	// Одинаковый пароль с разными солями даёт разные хэши.
	other, err := hashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("hashPassword() вернул ошибку: %v", err)
	}
	if other["hash"] == hash["hash"] {
		t.Error("хэши с разными солями не должны совпадать")
	}
}

func TestVerifyPassword(t *testing.T) {
	hash, err := hashPassword("секретный пароль")
	if err != nil {
		t.Fatalf("hashPassword() вернул ошибку: %v", err)
	}

	if !verifyPassword(hash, "секретный пароль") {
		t.Error("верный пароль должен проходить проверку")
	}
	if verifyPassword(hash, "неверный пароль") {
		t.Error("неверный пароль не должен проходить проверку")
	}
	if verifyPassword(nil, "любой") {
		t.Error("отсутствующий хэш не должен проходить проверку")
	}
	if verifyPassword(bson.M{"salt": "", "hash": ""}, "любой") {
		t.Error("пустая пара соль/хэш не должна проходить проверку")
	}
}

func TestValidateCredentials(t *testing.T) {
	svc := &UserService{cfg: UserConfig{MinPasswordLength: 8}}

	tests := []struct {
		name     string
		username string
		password string
		wantErr  bool
	}{
		{"корректные данные", "alice", "длинный-пароль", false},
		{"пустое имя", "", "длинный-пароль", true},
		{"имя из пробелов", "   ", "длинный-пароль", true},
		{"короткий пароль", "alice", "1234567", true},
		{"пароль ровно минимальной длины", "alice", "12345678", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.validateCredentials(tt.username, tt.password)
			if tt.wantErr && err == nil {
				t.Error("validateCredentials() должен вернуть ошибку")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("validateCredentials() вернул ошибку: %v", err)
			}
		})
	}
}

func TestRequireSelfOrAdmin(t *testing.T) {
	self := "6568a1b2c3d4e5f601020304"
	other := "6568a1b2c3d4e5f601020305"

	tests := []struct {
		name    string
		id      string
		caller  *model.Caller
		wantErr bool
	}{
		{"владелец пишет свой профиль", self, &model.Caller{ID: self, Roles: []string{}}, false},
		{"администратор пишет чужой профиль", other, &model.Caller{ID: self, Roles: []string{model.RoleAdmin}}, false},
		{"посторонний пишет чужой профиль", other, &model.Caller{ID: self, Roles: []string{}}, true},
		{"отсутствующий вызывающий", self, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := requireSelfOrAdmin(tt.id, tt.caller)
			if tt.wantErr && err == nil {
				t.Error("requireSelfOrAdmin() должен вернуть ошибку")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("requireSelfOrAdmin() вернул ошибку: %v", err)
			}
		})
	}

	// Чужая запись — именно ForbiddenError (403), не not found.
	var ferr *store.ForbiddenError
	if err := requireSelfOrAdmin(other, &model.Caller{ID: self, Roles: []string{}}); !errors.As(err, &ferr) {
		t.Errorf("ожидается ForbiddenError, получено %v", err)
	}
}

func TestSanitizeWriteStripsRoles(t *testing.T) {
	svc := &UserService{cfg: UserConfig{MinPasswordLength: 8}}

	// Не-администратор не может назначить себе роли.
	data := bson.M{"roles": bson.A{"admin"}, "displayName": "Алиса"}
	if err := svc.sanitizeWrite(data, &model.Caller{ID: "x", Roles: []string{}}); err != nil {
		t.Fatalf("sanitizeWrite() вернул ошибку: %v", err)
	}
	if _, ok := data["roles"]; ok {
		t.Error("роли не-администратора должны быть отброшены")
	}
	if data["displayName"] != "Алиса" {
		t.Error("остальные поля должны сохраниться")
	}

	// Администратор роли назначает.
	data = bson.M{"roles": bson.A{"admin"}}
	if err := svc.sanitizeWrite(data, &model.Caller{ID: "x", Roles: []string{model.RoleAdmin}}); err != nil {
		t.Fatalf("sanitizeWrite() вернул ошибку: %v", err)
	}
	if _, ok := data["roles"]; !ok {
		t.Error("роли от администратора должны сохраниться")
	}
}

func TestSanitizeWritePassword(t *testing.T) {
	svc := &UserService{cfg: UserConfig{MinPasswordLength: 8}}
	caller := &model.Caller{ID: "x", Roles: []string{}}

	// Пароль-строка перехэшируется и не хранится открытым текстом.
	data := bson.M{"password": "новый-длинный-пароль"}
	if err := svc.sanitizeWrite(data, caller); err != nil {
		t.Fatalf("sanitizeWrite() вернул ошибку: %v", err)
	}
	hash, ok := data["password"].(bson.M)
	if !ok {
		t.Fatalf("пароль должен быть заменён парой соль/хэш, получено %T", data["password"])
	}
	if !verifyPassword(hash, "новый-длинный-пароль") {
		t.Error("перехэшированный пароль должен проходить проверку")
	}

	// Короткий пароль — ошибка валидации.
	err := svc.sanitizeWrite(bson.M{"password": "1234567"}, caller)
	var verr *store.ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("ожидается ValidationError, получено %v", err)
	}

	// Пароль не-строковой формы отбрасывается.
	data = bson.M{"password": bson.M{"salt": "a", "hash": "b"}}
	if err := svc.sanitizeWrite(data, caller); err != nil {
		t.Fatalf("sanitizeWrite() вернул ошибку: %v", err)
	}
	if _, ok := data["password"]; ok {
		t.Error("пароль не-строковой формы должен быть отброшен")
	}
}

func TestRolesOf(t *testing.T) {
	user := bson.M{"roles": bson.A{"admin", "user", 42}}
	got := rolesOf(user)
	if len(got) != 2 || got[0] != "admin" || got[1] != "user" {
		t.Errorf("rolesOf() = %v, ожидается [admin user]", got)
	}

	if got := rolesOf(bson.M{}); len(got) != 0 {
		t.Errorf("пользователь без ролей должен дать пустой срез, получено %v", got)
	}
}
