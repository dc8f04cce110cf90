// Пакет service — бизнес-логика KIT-сервера.
// user.go — сервис пользователей: аутентификация, регистрация,
// обновление профиля и аватары.
package service

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/matthewmerkas/kit-server/internal/audio"
	"github.com/matthewmerkas/kit-server/internal/domain/model"
	"github.com/matthewmerkas/kit-server/internal/store"
)

// ErrInvalidCredentials — неверная пара логин/пароль либо
// недействительный refresh-токен.
var ErrInvalidCredentials = errors.New("неверные учётные данные")

// UserConfig — параметры сервиса пользователей.
type UserConfig struct {
	JWTSecret         string
	JWTRefreshSecret  string
	JWTExpiry         time.Duration
	JWTRefreshExpiry  time.Duration
	MinPasswordLength int
	PublicDir         string
}

// UserService — сервис пользователей поверх движка доступа.
type UserService struct {
	engine *store.Engine
	cfg    UserConfig
	logger *slog.Logger
}

// NewUserService создаёт сервис пользователей и каталог зоны аватаров.
func NewUserService(engine *store.Engine, cfg UserConfig, logger *slog.Logger) (*UserService, error) {
	if err := os.MkdirAll(filepath.Join(cfg.PublicDir, "avatars"), 0o755); err != nil {
		return nil, fmt.Errorf("создание каталога аватаров: %w", err)
	}
	return &UserService{
		engine: engine,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "user_service")),
	}, nil
}

// Login проверяет пару логин/пароль и выдаёт пару токенов.
// Несуществующий пользователь и неверный пароль неразличимы снаружи.
func (s *UserService) Login(ctx context.Context, login model.Login) (*model.TokenPair, bson.M, error) {
	username := strings.ToLower(strings.TrimSpace(login.Username))
	if username == "" || login.Password == "" {
		return nil, nil, &store.ValidationError{Message: "требуются имя пользователя и пароль"}
	}

	var user bson.M
	err := s.engine.Collection().FindOne(ctx, bson.M{
		"username":  username,
		"isDeleted": bson.M{"$ne": true},
	}).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, nil, fmt.Errorf("ошибка поиска пользователя: %w", err)
	}

	if !verifyPassword(user["password"], login.Password) {
		return nil, nil, ErrInvalidCredentials
	}

	pair, err := s.issueTokens(user)
	if err != nil {
		return nil, nil, err
	}
	delete(user, "password")
	delete(user, "fcmTokens")
	return pair, user, nil
}

// Refresh проверяет refresh-токен и выдаёт новую пару токенов.
// Роли перечитываются из хранилища: отзыв роли действует со
// следующего обновления токена.
func (s *UserService) Refresh(ctx context.Context, refreshToken string) (*model.TokenPair, error) {
	token, err := jwt.Parse(refreshToken, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("неожиданный метод подписи: %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTRefreshSecret), nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidCredentials
	}
	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return nil, ErrInvalidCredentials
	}
	oid, err := bson.ObjectIDFromHex(sub)
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	var user bson.M
	err = s.engine.Collection().FindOne(ctx, bson.M{
		"_id":       oid,
		"isDeleted": bson.M{"$ne": true},
	}).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка поиска пользователя: %w", err)
	}

	return s.issueTokens(user)
}

// Signup регистрирует нового пользователя. Имя нормализуется к нижнему
// регистру; занятое имя — ConflictError (409). Новым пользователям
// назначается пустой набор ролей.
func (s *UserService) Signup(ctx context.Context, data bson.M) (bson.M, error) {
	username, _ := data["username"].(string)
	password, _ := data["password"].(string)
	if err := s.validateCredentials(username, password); err != nil {
		return nil, err
	}

	data["username"] = strings.ToLower(strings.TrimSpace(username))
	hash, err := hashPassword(password)
	if err != nil {
		return nil, err
	}
	data["password"] = hash
	data["roles"] = bson.A{}
	data["nicknames"] = bson.A{}
	data["fcmTokens"] = bson.A{}

	avatarName, err := s.applyAvatar(data, "")
	if err != nil {
		return nil, err
	}

	system := &model.Caller{Roles: []string{}}
	doc, err := s.engine.Create(ctx, data, system)
	if err != nil {
		// Осиротевший аватар подчищается при отказе создания.
		if avatarName != "" {
			_ = os.Remove(s.avatarPath(avatarName))
		}
		return nil, err
	}
	delete(doc, "password")
	delete(doc, "fcmTokens")
	return doc, nil
}

// Update — полное обновление профиля. Запись разрешена самому
// пользователю и администратору; не-администратор не может изменить
// собственные роли; новый пароль перехэшируется; новый аватар
// замещает старый файл.
func (s *UserService) Update(ctx context.Context, id string, data bson.M, caller *model.Caller) (bson.M, error) {
	if err := requireSelfOrAdmin(id, caller); err != nil {
		return nil, err
	}
	if err := s.sanitizeWrite(data, caller); err != nil {
		return nil, err
	}

	if username, ok := data["username"].(string); ok {
		data["username"] = strings.ToLower(strings.TrimSpace(username))
	}

	current, err := s.engine.Get(ctx, id, nil, caller)
	if err != nil {
		return nil, err
	}
	oldAvatar, _ := current["avatarFileName"].(string)
	newAvatar, err := s.applyAvatar(data, oldAvatar)
	if err != nil {
		return nil, err
	}

	doc, err := s.engine.Set(ctx, id, data, caller)
	if err != nil {
		// Осиротевший аватар подчищается при отказе обновления.
		if newAvatar != "" {
			_ = os.Remove(s.avatarPath(newAvatar))
		}
		return nil, err
	}
	delete(doc, "password")
	delete(doc, "fcmTokens")
	return doc, nil
}

// Patch — частичное обновление профиля, в том числе регистрация
// push-токена. Действуют те же правила записи, что и при полном
// обновлении: владелец либо администратор, роли не-администратора
// отбрасываются, пароль-строка перехэшируется.
func (s *UserService) Patch(ctx context.Context, id string, data bson.M, caller *model.Caller) (bson.M, error) {
	if err := requireSelfOrAdmin(id, caller); err != nil {
		return nil, err
	}
	if err := s.sanitizeWrite(data, caller); err != nil {
		return nil, err
	}

	doc, err := s.engine.Patch(ctx, id, data, caller)
	if err != nil {
		return nil, err
	}
	delete(doc, "password")
	delete(doc, "fcmTokens")
	return doc, nil
}

// Delete — двухфазное удаление профиля владельцем либо администратором.
func (s *UserService) Delete(ctx context.Context, id string, caller *model.Caller) (bson.M, error) {
	if err := requireSelfOrAdmin(id, caller); err != nil {
		return nil, err
	}
	doc, err := s.engine.Delete(ctx, id, caller)
	if err != nil {
		return nil, err
	}
	delete(doc, "password")
	delete(doc, "fcmTokens")
	return doc, nil
}

// CreateAdmin создаёт пользователя с ролью admin и случайным паролем.
// Используется CLI-флагом первоначальной настройки. Возвращает пароль
// открытым текстом единственный раз.
func (s *UserService) CreateAdmin(ctx context.Context, username string) (string, error) {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("генерация пароля: %w", err)
	}
	password := base64.RawURLEncoding.EncodeToString(buf)

	hash, err := hashPassword(password)
	if err != nil {
		return "", err
	}
	system := &model.Caller{Roles: []string{model.RoleAdmin}}
	_, err = s.engine.Create(ctx, bson.M{
		"username":    strings.ToLower(username),
		"password":    hash,
		"displayName": username,
		"roles":       bson.A{model.RoleAdmin},
		"nicknames":   bson.A{},
		"fcmTokens":   bson.A{},
	}, system)
	if err != nil {
		return "", err
	}
	return password, nil
}

// requireSelfOrAdmin — запись профиля разрешена самому пользователю
// и администратору; у пользователей нет поля владельца, поэтому
// границу записи проводит сервис, а не предикат движка.
func requireSelfOrAdmin(id string, caller *model.Caller) error {
	if err := store.ValidateCaller(caller); err != nil {
		return err
	}
	if caller.IsAdmin() || caller.ID == id {
		return nil
	}
	return &store.ForbiddenError{Resource: "user"}
}

// sanitizeWrite применяет правила записи профиля к данным запроса:
// не-администратор не изменяет роли, пароль принимается строкой и
// перехэшируется, иные формы поля password отбрасываются.
func (s *UserService) sanitizeWrite(data bson.M, caller *model.Caller) error {
	if !caller.IsAdmin() {
		delete(data, "roles")
	}
	if password, ok := data["password"].(string); ok && password != "" {
		if len(password) < s.cfg.MinPasswordLength {
			return &store.ValidationError{
				Message: fmt.Sprintf("пароль короче %d символов", s.cfg.MinPasswordLength),
			}
		}
		hash, err := hashPassword(password)
		if err != nil {
			return err
		}
		data["password"] = hash
	} else {
		delete(data, "password")
	}
	return nil
}

// validateCredentials проверяет форму имени и длину пароля.
func (s *UserService) validateCredentials(username, password string) error {
	if strings.TrimSpace(username) == "" {
		return &store.ValidationError{Message: "требуется имя пользователя"}
	}
	if len(password) < s.cfg.MinPasswordLength {
		return &store.ValidationError{
			Message: fmt.Sprintf("пароль короче %d символов", s.cfg.MinPasswordLength),
		}
	}
	return nil
}

// applyAvatar извлекает avatar из данных, сохраняет файл в зоне
// аватаров и подставляет avatarFileName. Старый файл удаляется.
func (s *UserService) applyAvatar(data bson.M, oldName string) (string, error) {
	raw, ok := data["avatar"]
	if !ok {
		return "", nil
	}
	delete(data, "avatar")

	av, ok := raw.(map[string]any)
	if !ok {
		return "", &store.ValidationError{Message: "аватар должен быть объектом"}
	}
	b64, _ := av["base64"].(string)
	ext, _ := av["extension"].(string)
	if b64 == "" || ext == "" {
		return "", &store.ValidationError{Message: "аватар требует base64 и extension"}
	}

	payload, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", &store.ValidationError{Message: "некорректный base64 аватара"}
	}

	name, err := audio.FileName("avatar", ext)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(s.avatarPath(name), payload, 0o644); err != nil {
		return "", fmt.Errorf("запись аватара: %w", err)
	}

	if oldName != "" {
		_ = os.Remove(s.avatarPath(oldName))
	}
	data["avatarFileName"] = name
	return name, nil
}

// avatarPath — путь файла в зоне аватаров.
func (s *UserService) avatarPath(name string) string {
	return filepath.Join(s.cfg.PublicDir, "avatars", name)
}

// issueTokens формирует пару access/refresh токенов HS256.
func (s *UserService) issueTokens(user bson.M) (*model.TokenPair, error) {
	id, ok := user["_id"].(bson.ObjectID)
	if !ok {
		return nil, fmt.Errorf("документ пользователя без ObjectID")
	}
	roles := rolesOf(user)
	now := time.Now().UTC()

	access := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   id.Hex(),
		"roles": roles,
		"iat":   now.Unix(),
		"exp":   now.Add(s.cfg.JWTExpiry).Unix(),
	})
	accessStr, err := access.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("подпись access-токена: %w", err)
	}

	refresh := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": id.Hex(),
		"iat": now.Unix(),
		"exp": now.Add(s.cfg.JWTRefreshExpiry).Unix(),
	})
	refreshStr, err := refresh.SignedString([]byte(s.cfg.JWTRefreshSecret))
	if err != nil {
		return nil, fmt.Errorf("подпись refresh-токена: %w", err)
	}

	return &model.TokenPair{AccessToken: accessStr, RefreshToken: refreshStr}, nil
}

// rolesOf извлекает срез ролей из bson-документа пользователя.
func rolesOf(user bson.M) []string {
	roles := []string{}
	if list, ok := user["roles"].(bson.A); ok {
		for _, r := range list {
			if str, ok := r.(string); ok {
				roles = append(roles, str)
			}
		}
	}
	return roles
}

// --- Хэширование паролей ---

// hashPassword генерирует соль и вычисляет HMAC-SHA512 пароля.
func hashPassword(password string) (bson.M, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("генерация соли: %w", err)
	}
	saltHex := hex.EncodeToString(salt)
	return bson.M{
		"salt": saltHex,
		"hash": computeHash(password, saltHex),
	}, nil
}

// computeHash — HMAC-SHA512 пароля с солью в качестве ключа.
func computeHash(password, salt string) string {
	mac := hmac.New(sha512.New, []byte(salt))
	mac.Write([]byte(password))
	return hex.EncodeToString(mac.Sum(nil))
}

// verifyPassword сверяет пароль с сохранённой парой соль/хэш
// за константное время.
func verifyPassword(stored any, password string) bool {
	doc, ok := stored.(bson.M)
	if !ok {
		return false
	}
	salt, _ := doc["salt"].(string)
	hash, _ := doc["hash"].(string)
	if salt == "" || hash == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(computeHash(password, salt)), []byte(hash)) == 1
}
