// message.go — конвейер отправки голосовых сообщений:
// валидация, сохранение аудио, нормализация громкости, формирование
// пары записей, атомарная вставка и уведомление получателя.
package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/matthewmerkas/kit-server/internal/audio"
	"github.com/matthewmerkas/kit-server/internal/domain/model"
	"github.com/matthewmerkas/kit-server/internal/events"
	"github.com/matthewmerkas/kit-server/internal/push"
	"github.com/matthewmerkas/kit-server/internal/store"
)

// Расширения файлов по MIME-типу записи.
var audioExtensions = map[string]string{
	"audio/mp4":  "m4a",
	"audio/aac":  "aac",
	"audio/mpeg": "mp3",
	"audio/ogg":  "ogg",
	"audio/wav":  "wav",
	"audio/webm": "webm",
}

// Метрики конвейера сообщений.
var (
	messagesDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kit_messages_dispatched_total",
		Help: "Количество отправленных сообщений по типу",
	}, []string{"kind"})

	normalizeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kit_normalize_failures_total",
		Help: "Количество отказов нормализации громкости (нефатальных)",
	})

	pushFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kit_push_failures_total",
		Help: "Количество отказов доставки push-уведомлений (нефатальных)",
	})
)

// MessageService — конвейер отправки сообщений поверх движка доступа.
type MessageService struct {
	engine     *store.Engine
	users      *store.Engine
	storage    *audio.Storage
	normalizer audio.Normalizer
	sender     push.Sender
	sink       events.Sink
	appName    string
	logger     *slog.Logger
}

// NewMessageService создаёт сервис сообщений.
func NewMessageService(
	engine, users *store.Engine,
	storage *audio.Storage,
	normalizer audio.Normalizer,
	sender push.Sender,
	sink events.Sink,
	appName string,
	logger *slog.Logger,
) *MessageService {
	if sender == nil {
		sender = push.NopSender{}
	}
	if sink == nil {
		sink = events.NopSink{}
	}
	return &MessageService{
		engine:     engine,
		users:      users,
		storage:    storage,
		normalizer: normalizer,
		sender:     sender,
		sink:       sink,
		appName:    appName,
		logger:     logger.With(slog.String("component", "message_service")),
	}
}

// Create проводит сообщение через конвейер отправки и возвращает
// запись отправителя. Отказ нормализации и отказ уведомления не
// прерывают отправку; отказ вставки откатывает сохранённые файлы.
func (s *MessageService) Create(ctx context.Context, input model.MessageInput, caller *model.Caller) (bson.M, error) {
	if err := store.ValidateCaller(caller); err != nil {
		return nil, err
	}
	sender, peer, err := s.validate(input, caller)
	if err != nil {
		return nil, err
	}

	fileName, rawName := "", ""
	if input.Audio != nil {
		fileName, rawName, err = s.persistAudio(ctx, input.Audio)
		if err != nil {
			return nil, err
		}
	}

	records := buildRecords(sender, peer, input, fileName)

	if err := s.fanout(ctx, records); err != nil {
		s.cleanupAudio(fileName, rawName)
		return nil, err
	}

	if sender == peer {
		messagesDispatched.WithLabelValues("self").Inc()
	} else {
		messagesDispatched.WithLabelValues("pair").Inc()
	}
	s.sink.Emit("create message", bson.M{"_id": records[0]["_id"]})

	// Уведомление самому себе не отправляется.
	if sender != peer {
		s.notify(ctx, sender, peer, input)
	}
	return records[0], nil
}

// validate проверяет вход конвейера: получатель обязателен и имеет
// форму идентификатора, полезная нагрузка (аудио либо текст) непуста,
// аудиозапись имеет известный MIME-тип и положительную длительность.
func (s *MessageService) validate(input model.MessageInput, caller *model.Caller) (sender, peer bson.ObjectID, err error) {
	sender, err = bson.ObjectIDFromHex(caller.ID)
	if err != nil {
		return sender, peer, &store.ValidationError{Message: "идентификатор вызывающего некорректен"}
	}
	if input.Peer == "" {
		return sender, peer, &store.ValidationError{Message: "требуется получатель"}
	}
	peer, err = bson.ObjectIDFromHex(input.Peer)
	if err != nil {
		return sender, peer, &store.InvalidIDError{ID: input.Peer}
	}
	if input.Audio == nil && input.Text == "" {
		return sender, peer, &store.ValidationError{Message: "сообщение требует аудио либо текст"}
	}
	if input.Audio != nil {
		if input.Audio.RecordDataBase64 == "" {
			return sender, peer, &store.ValidationError{Message: "аудиозапись пуста"}
		}
		if input.Audio.MsDuration <= 0 {
			return sender, peer, &store.ValidationError{Message: "длительность записи должна быть положительной"}
		}
		if _, ok := audioExtensions[input.Audio.MimeType]; !ok {
			return sender, peer, &store.ValidationError{
				Message: fmt.Sprintf("неподдерживаемый MIME-тип записи: %q", input.Audio.MimeType),
			}
		}
	}
	return sender, peer, nil
}

// persistAudio декодирует запись, сохраняет входной файл и
// нормализует громкость в выходной. Отказ нормализации нефатален:
// входной файл переименовывается в выходной как есть. Вторым именем
// возвращается неубранный исходный остаток ("" — остатка нет), чтобы
// откат отправки вычистил и его.
func (s *MessageService) persistAudio(ctx context.Context, rec *model.RecordingData) (string, string, error) {
	payload, err := base64.StdEncoding.DecodeString(rec.RecordDataBase64)
	if err != nil {
		return "", "", &store.ValidationError{Message: "некорректный base64 аудиозаписи"}
	}

	ext := audioExtensions[rec.MimeType]
	inName, err := audio.FileName("voice-raw", ext)
	if err != nil {
		return "", "", err
	}
	outName, err := audio.FileName("voice", ext)
	if err != nil {
		return "", "", err
	}

	if err := s.storage.Write(inName, payload); err != nil {
		return "", "", err
	}

	if err := s.normalizer.Normalize(ctx, s.storage.Path(inName), s.storage.Path(outName)); err != nil {
		normalizeFailures.Inc()
		s.logger.Warn("нормализация не удалась, запись сохраняется как есть", slog.Any("error", err))
		if err := s.storage.Rename(inName, outName); err != nil {
			return "", "", err
		}
		return outName, "", nil
	}

	if err := s.storage.Remove(inName); err != nil {
		s.logger.Warn("не удалось удалить исходный файл", slog.Any("error", err))
		return outName, inName, nil
	}
	return outName, "", nil
}

// cleanupAudio удаляет сохранённые аудиофайлы при откате отправки:
// и нормализованный файл, и исходный остаток.
func (s *MessageService) cleanupAudio(names ...string) {
	for _, name := range names {
		if name == "" {
			continue
		}
		if err := s.storage.Remove(name); err != nil {
			s.logger.Warn("не удалось подчистить аудиофайл", slog.Any("error", err))
		}
	}
}

// buildRecords формирует записи сообщения: запись отправителя и
// зеркальная запись получателя. Сообщение самому себе — одна запись.
func buildRecords(sender, peer bson.ObjectID, input model.MessageInput, fileName string) []bson.M {
	now := time.Now().UTC()
	duration := int64(0)
	if input.Audio != nil {
		duration = input.Audio.MsDuration
	}

	base := func(user, other bson.ObjectID, direction string) bson.M {
		return bson.M{
			"_id":           bson.NewObjectID(),
			"user":          user,
			"peer":          other,
			"direction":     direction,
			"audioFileName": fileName,
			"currentTime":   float64(0),
			"duration":      duration,
			"text":          input.Text,
			"isDeleted":     false,
			"createdAt":     now,
			"updatedAt":     now,
		}
	}

	records := []bson.M{base(sender, peer, model.DirectionSend)}
	if sender != peer {
		records = append(records, base(peer, sender, model.DirectionReceive))
	}
	return records
}

// fanout атомарно вставляет записи сообщения.
func (s *MessageService) fanout(ctx context.Context, records []bson.M) error {
	docs := make([]any, len(records))
	for i, r := range records {
		docs[i] = r
	}
	if _, err := s.engine.Collection().InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("ошибка вставки сообщений: %w", err)
	}
	return nil
}

// notify отправляет push-уведомление получателю. Любой отказ
// логируется и проглатывается: доставка уведомления не входит в
// контракт отправки сообщения.
func (s *MessageService) notify(ctx context.Context, sender, peer bson.ObjectID, input model.MessageInput) {
	var recipient bson.M
	err := s.users.Collection().FindOne(ctx, bson.M{"_id": peer}).Decode(&recipient)
	if err != nil {
		if !errors.Is(err, mongo.ErrNoDocuments) {
			pushFailures.Inc()
			s.logger.Warn("не удалось загрузить получателя для уведомления", slog.Any("error", err))
		}
		return
	}

	tokens := fcmTokenIDs(recipient)
	if len(tokens) == 0 {
		return
	}

	// Текст сообщения в уведомление не попадает.
	label := s.displayLabel(ctx, peer, sender)
	err = s.sender.Send(ctx, push.Notification{
		Tokens: tokens,
		Title:  label,
		Body:   "New message",
		Data: map[string]string{
			"peerId":          sender.Hex(),
			"peerDisplayName": label,
		},
		GroupKey: sender.Hex(),
	})
	if err != nil {
		pushFailures.Inc()
		s.logger.Warn("не удалось доставить уведомление", slog.Any("error", err))
	}
}

// displayLabel — отображаемая метка отправителя для получателя:
// никнейм, назначенный получателем, иначе displayName отправителя,
// иначе имя приложения.
func (s *MessageService) displayLabel(ctx context.Context, viewer, sender bson.ObjectID) string {
	var nick struct {
		Value string `bson:"value"`
	}
	err := s.engine.Collection().Database().Collection("nicknames").
		FindOne(ctx, bson.M{"userId": viewer, "peerId": sender}).Decode(&nick)
	if err == nil && nick.Value != "" {
		return nick.Value
	}

	var user struct {
		DisplayName string `bson:"displayName"`
	}
	err = s.users.Collection().FindOne(ctx, bson.M{"_id": sender}).Decode(&user)
	if err == nil && user.DisplayName != "" {
		return user.DisplayName
	}
	return s.appName
}

// fcmTokenIDs извлекает идентификаторы push-токенов из документа пользователя.
func fcmTokenIDs(user bson.M) []string {
	tokens := []string{}
	list, ok := user["fcmTokens"].(bson.A)
	if !ok {
		return tokens
	}
	for _, item := range list {
		tok, ok := item.(bson.M)
		if !ok {
			continue
		}
		if id, ok := tok["id"].(string); ok && id != "" {
			tokens = append(tokens, id)
		}
	}
	return tokens
}

// Latest возвращает последнее сообщение каждой переписки вызывающего,
// с резолвом собеседника и наложением никнейма, отсортированные по
// убыванию времени создания.
func (s *MessageService) Latest(ctx context.Context, caller *model.Caller) ([]bson.M, error) {
	if err := store.ValidateCaller(caller); err != nil {
		return nil, err
	}
	owner, err := store.CallerFilter(s.engine.Descriptor(), nil, caller, false)
	if err != nil {
		return nil, err
	}
	owner["isDeleted"] = bson.M{"$ne": true}

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: owner}},
		{{Key: "$sort", Value: bson.D{{Key: "createdAt", Value: -1}}}},
		{{Key: "$group", Value: bson.M{
			"_id":    "$peer",
			"latest": bson.M{"$first": "$$ROOT"},
		}}},
		{{Key: "$replaceRoot", Value: bson.M{"newRoot": "$latest"}}},
	}
	for _, stage := range store.PopulationStages(s.engine.Descriptor(), caller) {
		pipeline = append(pipeline, stage)
	}
	pipeline = append(pipeline, bson.D{{Key: "$sort", Value: bson.D{{Key: "createdAt", Value: -1}}}})

	cur, err := s.engine.Collection().Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("ошибка агрегации последних сообщений: %w", err)
	}
	docs := []bson.M{}
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("ошибка декодирования последних сообщений: %w", err)
	}
	return docs, nil
}
