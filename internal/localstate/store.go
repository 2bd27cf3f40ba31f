// Package localstate はプロセス内のキー単位状態キャッシュを提供する。
// ユーザーごとのプロフィールやジャーナル一覧など、ページ描画に使う
// 直近の状態を保持し、一定時間アクセスのないエントリを破棄する。
package localstate

import (
	"sync"
	"time"
)

// entry は値と最終アクセス時刻を保持する。
type entry[V any] struct {
	value      V
	lastAccess time.Time
}

// Store はTTL付きのスレッドセーフなマップ。
type Store[V any] struct {
	mu      sync.RWMutex
	entries map[string]*entry[V]
	ttl     time.Duration
	now     func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New はStoreを生成し、バックグラウンドで期限切れエントリの破棄を開始する。
// ttlが0以下の場合はエントリを破棄しない。
func New[V any](ttl time.Duration) *Store[V] {
	s := &Store[V]{
		entries: make(map[string]*entry[V]),
		ttl:     ttl,
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
	if ttl > 0 {
		go s.cleanupLoop(ttl)
	}
	return s
}

// Stop はバックグラウンドの破棄処理を停止する。
func (s *Store[V]) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Get は値を取得する。期限切れのエントリは存在しないものとして扱う。
func (s *Store[V]) Get(key string) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || s.expired(e) {
		var zero V
		return zero, false
	}
	e.lastAccess = s.now()
	return e.value, true
}

// Set は値を保存する。
func (s *Store[V]) Set(key string, value V) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = &entry[V]{value: value, lastAccess: s.now()}
}

// Update はロックを保持したままfnで値を置き換える。
// fnがfalseを返した場合は保存しない。
func (s *Store[V]) Update(key string, fn func(current V, found bool) (V, bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current V
	e, found := s.entries[key]
	if found && !s.expired(e) {
		current = e.value
	} else {
		found = false
	}

	next, ok := fn(current, found)
	if !ok {
		return
	}
	s.entries[key] = &entry[V]{value: next, lastAccess: s.now()}
}

// Delete はエントリを削除する。
func (s *Store[V]) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

// Len は保持しているエントリ数を返す。テストおよびメトリクス用。
func (s *Store[V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *Store[V]) expired(e *entry[V]) bool {
	return s.ttl > 0 && s.now().Sub(e.lastAccess) > s.ttl
}

// cleanupLoop は定期的に期限切れエントリを破棄する。
func (s *Store[V]) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCh:
			return
		}
	}
}

func (s *Store[V]) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, e := range s.entries {
		if s.expired(e) {
			delete(s.entries, key)
		}
	}
}
