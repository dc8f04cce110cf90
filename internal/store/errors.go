// errors.go — типизированные ошибки движка доступа к документам.
// Клиентские ошибки (валидация, not found, конфликт, некорректный ID)
// различаются через errors.As; ошибки хранилища/транспорта
// оборачиваются fmt.Errorf и пробрасываются как серверные.
package store

import "fmt"

// ValidationError — некорректный вызывающий или некорректные данные.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NotFoundError — документ не разрешается в скоупе авторизации вызывающего.
type NotFoundError struct {
	Resource string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("документ %s не найден", e.Resource)
}

// ConflictError — нарушение уникальности. Содержит конфликтное значение.
type ConflictError struct {
	Resource string
	Value    string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s со значением %q уже существует", e.Resource, e.Value)
}

// ForbiddenError — операция вне полномочий вызывающего.
type ForbiddenError struct {
	Resource string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("недостаточно прав для операции над %s", e.Resource)
}

// InvalidIDError — некорректная форма идентификатора.
type InvalidIDError struct {
	ID string
}

func (e *InvalidIDError) Error() string {
	return fmt.Sprintf("некорректный идентификатор %q", e.ID)
}
