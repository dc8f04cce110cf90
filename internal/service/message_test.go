package service

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"os"
	"testing"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/matthewmerkas/kit-server/internal/audio"
	"github.com/matthewmerkas/kit-server/internal/domain/model"
	"github.com/matthewmerkas/kit-server/internal/store"
)

// fakeNormalizer — подменный нормализатор для тестов конвейера.
type fakeNormalizer struct {
	fail   bool
	called bool
}

func (f *fakeNormalizer) Normalize(_ context.Context, inPath, outPath string) error {
	f.called = true
	if f.fail {
		return errors.New("ffmpeg недоступен")
	}
	data, err := os.ReadFile(inPath)
	if err != nil {
		return err
	}
	return os.WriteFile(outPath, data, 0o644)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func testCaller() *model.Caller {
	return &model.Caller{ID: "6568a1b2c3d4e5f601020304", Roles: []string{}}
}

func TestValidateMessageInput(t *testing.T) {
	svc := &MessageService{logger: discardLogger()}
	caller := testCaller()
	peer := bson.NewObjectID().Hex()

	tests := []struct {
		name  string
		input model.MessageInput
	}{
		{"без получателя", model.MessageInput{Text: "привет"}},
		{"некорректный получатель", model.MessageInput{Peer: "не-oid", Text: "привет"}},
		{"без полезной нагрузки", model.MessageInput{Peer: peer}},
		{"пустая запись", model.MessageInput{Peer: peer, Audio: &model.RecordingData{MimeType: "audio/mp4", MsDuration: 100}}},
		{"нулевая длительность", model.MessageInput{Peer: peer, Audio: &model.RecordingData{RecordDataBase64: "YQ==", MimeType: "audio/mp4"}}},
		{"неизвестный MIME-тип", model.MessageInput{Peer: peer, Audio: &model.RecordingData{RecordDataBase64: "YQ==", MimeType: "video/mp4", MsDuration: 100}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := svc.validate(tt.input, caller); err == nil {
				t.Error("validate() должен вернуть ошибку")
			}
		})
	}

	// Корректный вход: текст без аудио.
	if _, _, err := svc.validate(model.MessageInput{Peer: peer, Text: "привет"}, caller); err != nil {
		t.Errorf("validate() текстового сообщения вернул ошибку: %v", err)
	}
	// Корректный вход: аудио без текста.
	ok := model.MessageInput{Peer: peer, Audio: &model.RecordingData{
		RecordDataBase64: "YQ==", MimeType: "audio/mp4", MsDuration: 1500,
	}}
	if _, _, err := svc.validate(ok, caller); err != nil {
		t.Errorf("validate() голосового сообщения вернул ошибку: %v", err)
	}
}

func TestBuildRecordsPair(t *testing.T) {
	sender := bson.NewObjectID()
	peer := bson.NewObjectID()
	input := model.MessageInput{
		Text:  "привет",
		Audio: &model.RecordingData{MsDuration: 2500},
	}

	records := buildRecords(sender, peer, input, "voice_251201-120000_deadbeef.m4a")
	if len(records) != 2 {
		t.Fatalf("ожидаются 2 записи, получено %d", len(records))
	}

	send, receive := records[0], records[1]
	if send["direction"] != model.DirectionSend {
		t.Errorf("первая запись должна иметь направление send, получено %v", send["direction"])
	}
	if send["user"] != sender || send["peer"] != peer {
		t.Error("запись отправителя имеет неверные user/peer")
	}
	if receive["direction"] != model.DirectionReceive {
		t.Errorf("вторая запись должна иметь направление receive, получено %v", receive["direction"])
	}
	if receive["user"] != peer || receive["peer"] != sender {
		t.Error("зеркальная запись имеет неверные user/peer")
	}
	if send["_id"] == receive["_id"] {
		t.Error("записи должны иметь разные идентификаторы")
	}
	if send["duration"] != int64(2500) {
		t.Errorf("duration = %v, ожидается 2500", send["duration"])
	}
	if send["currentTime"] != float64(0) {
		t.Errorf("currentTime = %v, ожидается 0", send["currentTime"])
	}
	if deleted, _ := send["isDeleted"].(bool); deleted {
		t.Error("новая запись не должна быть удалённой")
	}
}

func TestBuildRecordsSelf(t *testing.T) {
	self := bson.NewObjectID()
	records := buildRecords(self, self, model.MessageInput{Text: "заметка"}, "")
	if len(records) != 1 {
		t.Fatalf("сообщение самому себе — одна запись, получено %d", len(records))
	}
	if records[0]["direction"] != model.DirectionSend {
		t.Errorf("направление = %v, ожидается send", records[0]["direction"])
	}
}

func TestPersistAudioNormalized(t *testing.T) {
	st, err := audio.NewStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewStorage() вернул ошибку: %v", err)
	}
	norm := &fakeNormalizer{}
	svc := &MessageService{storage: st, normalizer: norm, logger: discardLogger()}

	payload := []byte("raw audio")
	rec := &model.RecordingData{
		RecordDataBase64: base64.StdEncoding.EncodeToString(payload),
		MimeType:         "audio/mp4",
		MsDuration:       1000,
	}

	name, rawName, err := svc.persistAudio(context.Background(), rec)
	if err != nil {
		t.Fatalf("persistAudio() вернул ошибку: %v", err)
	}
	if !norm.called {
		t.Error("нормализатор не был вызван")
	}
	if _, err := os.Stat(st.Path(name)); err != nil {
		t.Errorf("выходной файл отсутствует: %v", err)
	}
	if rawName != "" {
		t.Errorf("исходный остаток = %q, ожидается пустое имя", rawName)
	}

	// Исходный файл удалён после успешной нормализации.
	entries, _ := os.ReadDir(st.Path(""))
	if len(entries) != 1 {
		t.Errorf("в audio-зоне должен остаться один файл, найдено %d", len(entries))
	}
}

func TestPersistAudioNormalizeFallback(t *testing.T) {
	st, err := audio.NewStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewStorage() вернул ошибку: %v", err)
	}
	svc := &MessageService{storage: st, normalizer: &fakeNormalizer{fail: true}, logger: discardLogger()}

	payload := []byte("raw audio")
	rec := &model.RecordingData{
		RecordDataBase64: base64.StdEncoding.EncodeToString(payload),
		MimeType:         "audio/mp4",
		MsDuration:       1000,
	}

	// Отказ нормализации нефатален: запись сохраняется как есть.
	name, rawName, err := svc.persistAudio(context.Background(), rec)
	if err != nil {
		t.Fatalf("persistAudio() при отказе нормализации вернул ошибку: %v", err)
	}
	if rawName != "" {
		t.Errorf("после переименования остатка быть не должно, получено %q", rawName)
	}
	got, err := os.ReadFile(st.Path(name))
	if err != nil {
		t.Fatalf("выходной файл отсутствует: %v", err)
	}
	if string(got) != string(payload) {
		t.Error("fallback должен сохранить исходное содержимое")
	}
}

func TestPersistAudioInvalidBase64(t *testing.T) {
	st, err := audio.NewStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewStorage() вернул ошибку: %v", err)
	}
	svc := &MessageService{storage: st, normalizer: &fakeNormalizer{}, logger: discardLogger()}

	_, _, err = svc.persistAudio(context.Background(), &model.RecordingData{
		RecordDataBase64: "не base64 !!!",
		MimeType:         "audio/mp4",
		MsDuration:       1000,
	})
	var verr *store.ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("ожидается ValidationError, получено %v", err)
	}
}

func TestCleanupAudioRemovesRemnants(t *testing.T) {
	st, err := audio.NewStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewStorage() вернул ошибку: %v", err)
	}
	svc := &MessageService{storage: st, logger: discardLogger()}

	// Откат вычищает и нормализованный файл, и исходный остаток.
	if err := st.Write("voice_251201-120000_deadbeef.m4a", []byte("out")); err != nil {
		t.Fatalf("Write() вернул ошибку: %v", err)
	}
	if err := st.Write("voice-raw_251201-120000_deadbeef.m4a", []byte("in")); err != nil {
		t.Fatalf("Write() вернул ошибку: %v", err)
	}

	svc.cleanupAudio("voice_251201-120000_deadbeef.m4a", "voice-raw_251201-120000_deadbeef.m4a", "")

	entries, _ := os.ReadDir(st.Path(""))
	if len(entries) != 0 {
		t.Errorf("после отката audio-зона должна быть пуста, найдено %d файлов", len(entries))
	}
}

func TestFcmTokenIDs(t *testing.T) {
	user := bson.M{"fcmTokens": bson.A{
		bson.M{"id": "token-1"},
		bson.M{"id": "token-2"},
		bson.M{"id": ""},
		"мусор",
	}}
	got := fcmTokenIDs(user)
	if len(got) != 2 || got[0] != "token-1" || got[1] != "token-2" {
		t.Errorf("fcmTokenIDs() = %v, ожидается [token-1 token-2]", got)
	}

	if got := fcmTokenIDs(bson.M{}); len(got) != 0 {
		t.Errorf("пользователь без токенов должен дать пустой срез, получено %v", got)
	}
}
