package model

import (
	"net/http"
	"time"
)

// CachedResource — сохранённый ответ на GET-запрос, ключ — метод и URL внутри версии кэша
type CachedResource struct {
	Method   string
	URL      string
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
}
