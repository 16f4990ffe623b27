package service

import "encoding/json"

// Opt представляет поле разреженного запроса на обновление. Отличает
// отсутствующий ключ (Set == false) от явного null (Set == true, Value == nil)
// и от обычного значения: наличие ключа, а не его истинность, определяет,
// будет ли поле затронуто.
type Opt[T any] struct {
	Set   bool
	Value *T
}

// UnmarshalJSON помечает поле как присутствующее в запросе.
// Вызывается encoding/json только для ключей, явно заданных в payload.
func (o *Opt[T]) UnmarshalJSON(data []byte) error {
	o.Set = true
	if string(data) == "null" {
		o.Value = nil
		return nil
	}
	return json.Unmarshal(data, &o.Value)
}
