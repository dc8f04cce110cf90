// Пакет store — обобщённый движок авторизованного доступа к документам.
// Один экземпляр Engine на тип ресурса; операции create/get/getList/
// set/patch/delete объединяют предикат владения, коэрцию параметров и
// population связей поверх MongoDB.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/matthewmerkas/kit-server/internal/domain/model"
	"github.com/matthewmerkas/kit-server/internal/events"
)

// Engine — движок доступа к одному типу ресурса.
type Engine struct {
	db     *mongo.Database
	desc   Descriptor
	sink   events.Sink
	logger *slog.Logger
}

// NewEngine создаёт движок для типа ресурса.
// sink инжектируется при конструировании — движок не обращается к
// глобальному состоянию (nil заменяется заглушкой).
func NewEngine(db *mongo.Database, desc Descriptor, sink events.Sink, logger *slog.Logger) *Engine {
	if sink == nil {
		sink = events.NopSink{}
	}
	return &Engine{
		db:     db,
		desc:   desc,
		sink:   sink,
		logger: logger.With(slog.String("component", "engine"), slog.String("resource", desc.Name)),
	}
}

// Descriptor возвращает дескриптор типа ресурса.
func (e *Engine) Descriptor() Descriptor {
	return e.desc
}

// Collection возвращает коллекцию ресурса.
func (e *Engine) Collection() *mongo.Collection {
	return e.db.Collection(e.desc.Collection)
}

// resolveID валидирует форму идентификатора и возвращает его
// типизированное представление: ObjectID для обычных ресурсов,
// саму строку для ресурсов с естественным ключом.
func (e *Engine) resolveID(id string) (any, error) {
	if id == "" {
		return nil, &InvalidIDError{ID: id}
	}
	if e.desc.IDField != "_id" {
		return id, nil
	}
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, &InvalidIDError{ID: id}
	}
	return oid, nil
}

// Create сохраняет новый документ.
// isDeleted по умолчанию false для типов с мягким удалением; для
// Broadcastable-типов подписчикам транслируется событие create.
func (e *Engine) Create(ctx context.Context, data bson.M, caller *model.Caller) (bson.M, error) {
	if err := ValidateCaller(caller); err != nil {
		return nil, err
	}
	if data == nil {
		return nil, &ValidationError{Message: "данные должны быть объектом"}
	}

	if e.desc.SoftDeletes {
		if _, ok := data["isDeleted"]; !ok {
			data["isDeleted"] = false
		}
	}

	now := time.Now().UTC()
	if _, ok := data["_id"]; !ok {
		data["_id"] = bson.NewObjectID()
	}
	data["createdAt"] = now
	data["updatedAt"] = now

	if _, err := e.Collection().InsertOne(ctx, data); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, &ConflictError{
				Resource: e.desc.Name,
				Value:    fmt.Sprint(data[e.desc.UniqueField]),
			}
		}
		return nil, fmt.Errorf("ошибка создания документа %s: %w", e.desc.Name, err)
	}

	if e.desc.Broadcastable {
		e.sink.Emit("create "+e.desc.Name, e.minimalPayload(data))
	}
	return data, nil
}

// Get возвращает документ по идентификатору в скоупе авторизации.
// Для типов с population выполняется aggregation-конвейер, завершаемый
// стадией проекции. Отсутствие документа — NotFoundError, кроме
// типов с OwnershipExempt-ключом (rfid): метки сканируются
// спекулятивно, пустой результат нормален.
func (e *Engine) Get(ctx context.Context, id string, projection bson.M, caller *model.Caller) (bson.M, error) {
	if err := ValidateCaller(caller); err != nil {
		return nil, err
	}
	rid, err := e.resolveID(id)
	if err != nil {
		return nil, err
	}
	filter, err := CallerFilter(e.desc, rid, caller, false)
	if err != nil {
		return nil, err
	}

	var doc bson.M
	if len(e.desc.PopulateKeys) > 0 {
		docs, err := e.aggregate(ctx, filter, PopulationStages(e.desc, caller), projection, Controls{Limit: 1})
		if err != nil {
			return nil, err
		}
		if len(docs) > 0 {
			doc = docs[0]
		}
	} else {
		opts := options.FindOne()
		if projection != nil {
			opts = opts.SetProjection(projection)
		}
		err := e.Collection().FindOne(ctx, filter, opts).Decode(&doc)
		if errors.Is(err, mongo.ErrNoDocuments) {
			doc = nil
		} else if err != nil {
			return nil, fmt.Errorf("ошибка чтения документа %s: %w", e.desc.Name, err)
		}
	}

	if doc == nil {
		if e.desc.OwnershipExempt {
			return nil, nil
		}
		return nil, &NotFoundError{Resource: e.desc.Name}
	}
	return doc, nil
}

// GetList возвращает упорядоченный список документов.
// Управляющие ключи sort/limit извлекаются, остальные параметры
// коэрцируются в предикаты и сливаются с предикатом владения
// (предикат владения имеет приоритет и не может быть переопределён).
// Ноль совпадений — пустой список, не ошибка.
func (e *Engine) GetList(ctx context.Context, params map[string]string, projection bson.M, caller *model.Caller) ([]bson.M, error) {
	if err := ValidateCaller(caller); err != nil {
		return nil, err
	}
	ctrl, rest := ExtractControls(params)
	filter := CoerceParams(rest)

	owner, err := CallerFilter(e.desc, nil, caller, false)
	if err != nil {
		return nil, err
	}
	for k, v := range owner {
		filter[k] = v
	}

	if len(e.desc.PopulateKeys) > 0 {
		return e.aggregate(ctx, filter, PopulationStages(e.desc, caller), projection, ctrl)
	}

	opts := options.Find()
	if ctrl.SortField != "" {
		opts = opts.SetSort(bson.D{{Key: ctrl.SortField, Value: sortOrder(ctrl.SortDesc)}})
	}
	if ctrl.Limit > 0 {
		opts = opts.SetLimit(ctrl.Limit)
	}
	if projection != nil {
		opts = opts.SetProjection(projection)
	}

	cur, err := e.Collection().Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("ошибка поиска документов %s: %w", e.desc.Name, err)
	}
	docs := []bson.M{}
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("ошибка декодирования документов %s: %w", e.desc.Name, err)
	}
	return docs, nil
}

// Set обновляет документ по идентификатору и транслирует событие
// update с минимальным payload.
func (e *Engine) Set(ctx context.Context, id string, data bson.M, caller *model.Caller) (bson.M, error) {
	return e.set(ctx, id, data, caller, false)
}

// set — внутренний вариант Set с подавлением события. Подавление
// используется, когда единственное изменение — служебное поле
// (обновление timestamp push-токена), чтобы не порождать шторм
// уведомлений.
func (e *Engine) set(ctx context.Context, id string, data bson.M, caller *model.Caller, suppress bool) (bson.M, error) {
	if err := ValidateCaller(caller); err != nil {
		return nil, err
	}
	if data == nil {
		return nil, &ValidationError{Message: "данные должны быть объектом"}
	}
	rid, err := e.resolveID(id)
	if err != nil {
		return nil, err
	}
	filter, err := CallerFilter(e.desc, rid, caller, true)
	if err != nil {
		return nil, err
	}

	delete(data, "_id")
	data["updatedAt"] = time.Now().UTC()

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc bson.M
	err = e.Collection().FindOneAndUpdate(ctx, filter, bson.M{"$set": data}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, &NotFoundError{Resource: e.desc.Name}
	}
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, &ConflictError{
				Resource: e.desc.Name,
				Value:    fmt.Sprint(data[e.desc.UniqueField]),
			}
		}
		return nil, fmt.Errorf("ошибка обновления документа %s: %w", e.desc.Name, err)
	}

	if !suppress {
		e.sink.Emit("update "+e.desc.Name, e.minimalPayload(doc))
	}
	return doc, nil
}

// Patch выполняет частичное обновление: текущий документ читается,
// data сливается поверх него (shallow merge либо специализированный
// MergePatch дескриптора), результат делегируется в set.
func (e *Engine) Patch(ctx context.Context, id string, data bson.M, caller *model.Caller) (bson.M, error) {
	if err := ValidateCaller(caller); err != nil {
		return nil, err
	}
	if data == nil {
		return nil, &ValidationError{Message: "данные должны быть объектом"}
	}
	current, err := e.fetch(ctx, id, caller)
	if err != nil {
		return nil, err
	}

	var merged bson.M
	suppress := false
	if e.desc.MergePatch != nil {
		merged, suppress = e.desc.MergePatch(current, data)
	} else {
		merged = bson.M{}
		for k, v := range current {
			merged[k] = v
		}
		for k, v := range data {
			merged[k] = v
		}
	}
	delete(merged, "createdAt")

	doc, err := e.set(ctx, id, merged, caller, suppress)
	if err != nil {
		return nil, err
	}
	// Событие patch транслируется только после успешной записи.
	if e.desc.Broadcastable {
		e.sink.Emit("patch "+e.desc.Name, e.minimalPayload(doc))
	}
	return doc, nil
}

// Delete — двухфазный жизненный цикл удаления.
// Активный документ переводится в SoftDeleted (isDeleted=true и
// остаётся восстановимым); уже удалённый — окончательно вычищается
// из хранилища. Повторный вызов после вычистки — NotFoundError.
// Типы без мягкого удаления вычищаются сразу.
func (e *Engine) Delete(ctx context.Context, id string, caller *model.Caller) (bson.M, error) {
	if err := ValidateCaller(caller); err != nil {
		return nil, err
	}
	current, err := e.fetch(ctx, id, caller)
	if err != nil {
		return nil, err
	}

	deleted, _ := current["isDeleted"].(bool)
	if !e.desc.SoftDeletes || deleted {
		rid, err := e.resolveID(id)
		if err != nil {
			return nil, err
		}
		filter, err := CallerFilter(e.desc, rid, caller, true)
		if err != nil {
			return nil, err
		}
		res, err := e.Collection().DeleteOne(ctx, filter)
		if err != nil {
			return nil, fmt.Errorf("ошибка удаления документа %s: %w", e.desc.Name, err)
		}
		if res.DeletedCount == 0 {
			return nil, &NotFoundError{Resource: e.desc.Name}
		}
		return current, nil
	}

	return e.set(ctx, id, bson.M{"isDeleted": true}, caller, false)
}

// LastUpdated возвращает отметку времени последнего обновлённого
// документа в скоупе вызывающего. Используется клиентами для
// детекции изменений. Пустой скоуп — нулевое время.
func (e *Engine) LastUpdated(ctx context.Context, caller *model.Caller) (time.Time, error) {
	if err := ValidateCaller(caller); err != nil {
		return time.Time{}, err
	}
	filter, err := CallerFilter(e.desc, nil, caller, false)
	if err != nil {
		return time.Time{}, err
	}

	opts := options.FindOne().
		SetSort(bson.D{{Key: "updatedAt", Value: -1}}).
		SetProjection(bson.M{"updatedAt": 1})
	var doc struct {
		UpdatedAt time.Time `bson:"updatedAt"`
	}
	err = e.Collection().FindOne(ctx, filter, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("ошибка чтения lastUpdated %s: %w", e.desc.Name, err)
	}
	return doc.UpdatedAt, nil
}

// fetch читает текущий документ по идентификатору в скоупе записи.
func (e *Engine) fetch(ctx context.Context, id string, caller *model.Caller) (bson.M, error) {
	rid, err := e.resolveID(id)
	if err != nil {
		return nil, err
	}
	filter, err := CallerFilter(e.desc, rid, caller, true)
	if err != nil {
		return nil, err
	}
	var doc bson.M
	err = e.Collection().FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, &NotFoundError{Resource: e.desc.Name}
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения документа %s: %w", e.desc.Name, err)
	}
	return doc, nil
}

// aggregate выполняет конвейер population: match по фильтру,
// стадии lookup/overlay, сортировка, ограничение и финальная проекция.
// Наложение никнейма идёт до проекции (populate.go), поэтому проекция,
// исключающая сырые массивы ссылок, не затрагивает резолвнутое значение.
func (e *Engine) aggregate(ctx context.Context, filter bson.M, stages []bson.D, projection bson.M, ctrl Controls) ([]bson.M, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: filter}},
	}
	pipeline = append(pipeline, stages...)
	if ctrl.SortField != "" {
		pipeline = append(pipeline, bson.D{{Key: "$sort", Value: bson.D{{Key: ctrl.SortField, Value: sortOrder(ctrl.SortDesc)}}}})
	}
	if ctrl.Limit > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$limit", Value: ctrl.Limit}})
	}
	if projection != nil {
		pipeline = append(pipeline, bson.D{{Key: "$project", Value: projection}})
	}

	cur, err := e.Collection().Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("ошибка aggregation-конвейера %s: %w", e.desc.Name, err)
	}
	docs := []bson.M{}
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("ошибка декодирования результата %s: %w", e.desc.Name, err)
	}
	return docs, nil
}

// minimalPayload — минимальный payload широковещательного события:
// только идентификатор документа.
func (e *Engine) minimalPayload(doc bson.M) bson.M {
	return bson.M{e.desc.IDField: doc[e.desc.IDField]}
}

// sortOrder возвращает направление сортировки MongoDB.
func sortOrder(desc bool) int {
	if desc {
		return -1
	}
	return 1
}
