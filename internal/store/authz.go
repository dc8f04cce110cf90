// authz.go — обязательный предикат владения/тенанта.
// Вычисляется для каждой операции чтения/записи на основании
// личности вызывающего и дескриптора типа ресурса.
package store

import (
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/matthewmerkas/kit-server/internal/domain/model"
)

// ValidateCaller проверяет корректность записи вызывающего:
// non-nil и наличие среза ролей. Нарушение — ValidationError,
// прерывающая объемлющую операцию до обращения к хранилищу.
func ValidateCaller(caller *model.Caller) error {
	if caller == nil {
		return &ValidationError{Message: "вызывающий не задан"}
	}
	if caller.Roles == nil {
		return &ValidationError{Message: "роли вызывающего не заданы"}
	}
	return nil
}

// CallerFilter строит предикат авторизации для операции.
// id — опциональное совпадение по идентификатору (по _id для обычных
// ресурсов, по естественному ключу для rfid). Для типов с полем
// владельца и вызывающего без роли admin добавляется предикат
// владения. Освобождение OwnershipExempt действует только на чтение
// (write=false): запись и удаление всегда идут по правилам владения.
// Для глобальных ресурсов без владельца предикат пуст (открытое чтение).
func CallerFilter(d Descriptor, id any, caller *model.Caller, write bool) (bson.M, error) {
	filter := bson.M{}
	if id != nil {
		filter[d.IDField] = id
	}

	if d.OwnershipField == "" || caller.IsAdmin() {
		return filter, nil
	}
	if d.OwnershipExempt && !write {
		return filter, nil
	}

	// Предикат владения невыполним без разрешённого вызывающего.
	if err := ValidateCaller(caller); err != nil {
		return nil, err
	}
	owner, err := bson.ObjectIDFromHex(caller.ID)
	if err != nil {
		return nil, &ValidationError{Message: "идентификатор вызывающего некорректен"}
	}
	filter[d.OwnershipField] = owner
	return filter, nil
}
