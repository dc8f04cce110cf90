// Пакет model — доменные типы KIT-сервера.
// Документы хранятся в MongoDB; типизированные структуры используются
// сервисным слоем, обобщённый движок доступа работает с bson.M.
package model

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Роли вызывающего.
const (
	// RoleAdmin обходит фильтрацию по владельцу.
	RoleAdmin = "admin"
)

// Направления сообщений.
const (
	DirectionSend    = "send"
	DirectionReceive = "receive"
)

// Caller — разрешённая личность вызывающего.
// Аутентификация выполняется внешним коллаборатором (JWT middleware);
// ядро только авторизует на основании этой записи.
type Caller struct {
	// ID — hex-представление ObjectID пользователя.
	ID string
	// Roles — роли вызывающего (строки).
	Roles []string
}

// IsAdmin возвращает true, если вызывающий имеет роль admin.
func (c *Caller) IsAdmin() bool {
	if c == nil {
		return false
	}
	for _, r := range c.Roles {
		if r == RoleAdmin {
			return true
		}
	}
	return false
}

// Hash — пара соль+хэш пароля. Никогда не сериализуется наружу.
type Hash struct {
	Salt string `bson:"salt" json:"-"`
	Hash string `bson:"hash" json:"-"`
}

// FcmToken — зарегистрированный push-токен устройства с отметкой
// последней активности. Токены старше 60 дней отсеиваются.
type FcmToken struct {
	ID        string    `bson:"id" json:"id"`
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
}

// User — пользователь системы.
type User struct {
	ID             bson.ObjectID   `bson:"_id,omitempty" json:"_id"`
	Username       string          `bson:"username" json:"username"`
	Password       *Hash           `bson:"password,omitempty" json:"-"`
	DisplayName    string          `bson:"displayName" json:"displayName"`
	Roles          []string        `bson:"roles" json:"roles"`
	AvatarFileName string          `bson:"avatarFileName,omitempty" json:"avatarFileName,omitempty"`
	FcmTokens      []FcmToken      `bson:"fcmTokens,omitempty" json:"-"`
	Nicknames      []bson.ObjectID `bson:"nicknames,omitempty" json:"nicknames,omitempty"`
	IsDeleted      bool            `bson:"isDeleted" json:"isDeleted"`
	CreatedAt      time.Time       `bson:"createdAt" json:"createdAt"`
	UpdatedAt      time.Time       `bson:"updatedAt" json:"updatedAt"`
}

// Message — одна сторона логического сообщения.
// Каждый обмен порождает ровно два документа: direction=send у
// отправителя и direction=receive у получателя, с общими аудиоданными
// и временем создания.
type Message struct {
	ID            bson.ObjectID `bson:"_id,omitempty" json:"_id"`
	User          bson.ObjectID `bson:"user" json:"user"`
	Peer          bson.ObjectID `bson:"peer" json:"peer"`
	Direction     string        `bson:"direction" json:"direction"`
	AudioFileName string        `bson:"audioFileName,omitempty" json:"audioFileName,omitempty"`
	CurrentTime   float64       `bson:"currentTime" json:"currentTime"`
	Duration      int64         `bson:"duration" json:"duration"`
	Text          string        `bson:"text,omitempty" json:"text,omitempty"`
	IsDeleted     bool          `bson:"isDeleted" json:"isDeleted"`
	CreatedAt     time.Time     `bson:"createdAt" json:"createdAt"`
	UpdatedAt     time.Time     `bson:"updatedAt" json:"updatedAt"`
}

// Nickname — отображаемое имя, назначенное владельцем (userId)
// для собеседника (peerId). Пара (userId, peerId) уникальна.
type Nickname struct {
	ID        bson.ObjectID `bson:"_id,omitempty" json:"_id"`
	UserID    bson.ObjectID `bson:"userId" json:"userId"`
	PeerID    bson.ObjectID `bson:"peerId" json:"peerId"`
	Value     string        `bson:"value" json:"value"`
	CreatedAt time.Time     `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time     `bson:"updatedAt" json:"updatedAt"`
}

// Rfid — физическая метка. Идентификатором служит сама строка tagId,
// а не сгенерированный ObjectID.
type Rfid struct {
	TagID     string        `bson:"tagId" json:"tagId"`
	User      bson.ObjectID `bson:"user" json:"user"`
	CreatedAt time.Time     `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time     `bson:"updatedAt" json:"updatedAt"`
}

// RecordingData — входящая аудиозапись голосового сообщения.
type RecordingData struct {
	RecordDataBase64 string `json:"recordDataBase64"`
	MsDuration       int64  `json:"msDuration"`
	MimeType         string `json:"mimeType"`
}

// MessageInput — входной payload создания сообщения.
// Из одного payload фан-аутом создаётся пара send/receive.
type MessageInput struct {
	Peer  string         `json:"peer"`
	Audio *RecordingData `json:"audio"`
	Text  string         `json:"text,omitempty"`
}

// Avatar — входящее изображение аватара (base64 + расширение).
type Avatar struct {
	Base64    string `json:"base64"`
	Extension string `json:"extension"`
}

// Login — данные аутентификации.
type Login struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// TokenPair — выпущенная пара JWT.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

// Info — глобальный информационный ресурс без владельца.
type Info struct {
	Name string `json:"name"`
}
