package presence

import (
	"sort"
	"sync"

	"campus_chat/internal/domain"
)

// Conn - живое соединение, которому можно отправить событие.
// Send не блокируется и возвращает false, если событие не принято.
type Conn interface {
	ID() string
	Send(env domain.Envelope) bool
}

// Registry хранит текущее соединение каждого онлайн пользователя в
// пределах одного процесса. Новое соединение вытесняет старое.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Conn
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Conn)}
}

// Register привязывает userID к conn и возвращает предыдущее соединение, если оно было.
func (r *Registry) Register(userID string, conn Conn) Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.entries[userID]
	r.entries[userID] = conn
	if prev == conn {
		return nil
	}
	return prev
}

func (r *Registry) Lookup(userID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.entries[userID]
	return conn, ok
}

// Unregister удаляет запись, только если она все еще указывает на conn.
// Отключение вытесненного соединения запись не трогает.
func (r *Registry) Unregister(userID string, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.entries[userID]
	if !ok || current != conn {
		return false
	}
	delete(r.entries, userID)
	return true
}

func (r *Registry) IsOnline(userID string) bool {
	_, ok := r.Lookup(userID)
	return ok
}

func (r *Registry) Online() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
