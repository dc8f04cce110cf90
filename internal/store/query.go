// query.go — коэрция строковых query-параметров в типизированные
// предикаты запроса. JSON-литералы, ссылки-идентификаторы и диапазоны
// дат преобразуются; зарезервированные управляющие ключи sort и limit
// извлекаются до слияния предиката с фильтром.
package store

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Ключи, значения которых рекурсивно конвертируются в даты.
var dateKeys = map[string]bool{
	"createdAt": true,
	"updatedAt": true,
}

// Форматы дат, принимаемые в предикатах.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02",
}

// Controls — извлечённые управляющие ключи списочного запроса.
type Controls struct {
	// SortField — поле сортировки ("" — порядок не задан).
	SortField string
	// SortDesc — сортировка по убыванию (префикс '-').
	SortDesc bool
	// Limit — ограничение размера результата (0 — без ограничения).
	Limit int64
}

// ExtractControls снимает зарезервированные ключи sort и limit из
// параметров. Нечисловой или неположительный limit игнорируется.
func ExtractControls(params map[string]string) (Controls, map[string]string) {
	ctrl := Controls{}
	rest := make(map[string]string, len(params))
	for k, v := range params {
		switch k {
		case "sort":
			if strings.HasPrefix(v, "-") {
				ctrl.SortDesc = true
				v = v[1:]
			}
			ctrl.SortField = v
		case "limit":
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				ctrl.Limit = n
			}
		default:
			rest[k] = v
		}
	}
	return ctrl, rest
}

// CoerceParams преобразует сырые строковые параметры в типизированные
// значения предиката. Для каждого значения выполняется строгий
// JSON-парс; значения, не являющиеся JSON, но имеющие форму
// ObjectID (24 hex), коэрцируются в типизированный идентификатор;
// остальные проходят как строки. Для ключей createdAt/updatedAt
// результат дополнительно рекурсивно конвертируется в даты.
func CoerceParams(params map[string]string) bson.M {
	out := bson.M{}
	for k, raw := range params {
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			if oid, err := bson.ObjectIDFromHex(raw); err == nil {
				v = oid
			} else {
				v = raw
			}
		}
		if dateKeys[k] {
			v = coerceDates(v)
		}
		out[k] = v
	}
	return out
}

// coerceDates рекурсивно обходит значение (включая вложенные объекты
// операторов сравнения вида {"$gte": "2024-01-01"}) и конвертирует
// каждый строковый лист в дату. Непарсимые листья остаются
// без изменений — конвертация нефатальна.
func coerceDates(v any) any {
	switch val := v.(type) {
	case string:
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, val); err == nil {
				return t
			}
		}
		return val
	case map[string]any:
		out := bson.M{}
		for k, inner := range val {
			out[k] = coerceDates(inner)
		}
		return out
	case bson.M:
		out := bson.M{}
		for k, inner := range val {
			out[k] = coerceDates(inner)
		}
		return out
	case []any:
		out := make(bson.A, len(val))
		for i, inner := range val {
			out[i] = coerceDates(inner)
		}
		return out
	default:
		return v
	}
}
