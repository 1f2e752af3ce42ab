package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"algohub/pkg/model"

	"github.com/sirupsen/logrus"
)

// watchBuffer 每个订阅者的缓冲，订阅者消费太慢时丢弃事件而不是阻塞写入
const watchBuffer = 256

// FileStore 单写者 (actor) 存储
// 一个 goroutine 独占内存中的 map，所有操作都以闭包形式串行执行，
// 每次变更后把完整文档写回 JSON 文件 (临时文件 + rename)
type FileStore struct {
	path string
	ops  chan func(*fileState)

	closeOnce sync.Once
	closed    chan struct{}
	stopped   chan struct{}
}

type fileState struct {
	records map[string]*model.AlgorithmRecord
	subs    map[int]chan Event
	nextSub int
}

// NewFileStore 加载 path 指向的 JSON 文档并启动 actor
// 文件不存在视为空注册表，文件损坏返回错误
func NewFileStore(path string) (*FileStore, error) {
	records, err := loadDocument(path)
	if err != nil {
		return nil, err
	}

	s := &FileStore{
		path:    path,
		ops:     make(chan func(*fileState)),
		closed:  make(chan struct{}),
		stopped: make(chan struct{}),
	}
	st := &fileState{
		records: records,
		subs:    make(map[int]chan Event),
	}
	go s.loop(st)

	log.WithFields(logrus.Fields{"type": "system", "component": "store", "event": "open"}).
		Infof("file store loaded %d records from %s", len(records), path)
	return s, nil
}

func (s *FileStore) loop(st *fileState) {
	defer close(s.stopped)
	for {
		select {
		case op := <-s.ops:
			op(st)
		case <-s.closed:
			for id, ch := range st.subs {
				close(ch)
				delete(st.subs, id)
			}
			return
		}
	}
}

// do 把 fn 交给 actor 执行并等待完成
func (s *FileStore) do(ctx context.Context, fn func(*fileState)) error {
	done := make(chan struct{})
	op := func(st *fileState) {
		defer close(done)
		fn(st)
	}

	select {
	case s.ops <- op:
	case <-s.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-done
	return nil
}

func (s *FileStore) Get(ctx context.Context, name string) (*model.AlgorithmRecord, error) {
	var rec *model.AlgorithmRecord
	if err := s.do(ctx, func(st *fileState) {
		rec = st.records[name].Clone()
	}); err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrNotFound
	}
	return rec, nil
}

func (s *FileStore) List(ctx context.Context) ([]*model.AlgorithmRecord, error) {
	var out []*model.AlgorithmRecord
	err := s.do(ctx, func(st *fileState) {
		out = make([]*model.AlgorithmRecord, 0, len(st.records))
		for _, r := range st.records {
			out = append(out, r.Clone())
		}
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *FileStore) Update(ctx context.Context, name string, fn UpdateFunc) (*model.AlgorithmRecord, bool, error) {
	var (
		result  *model.AlgorithmRecord
		written bool
		opErr   error
	)
	err := s.do(ctx, func(st *fileState) {
		prev := st.records[name]
		next, err := fn(prev.Clone())
		if err != nil {
			opErr = err
			return
		}
		if next == nil {
			result = prev.Clone()
			return
		}
		next = next.Clone()
		next.Name = name

		st.records[name] = next
		if err := writeDocument(s.path, st.records); err != nil {
			// 回滚，保证内存和磁盘一致
			if prev == nil {
				delete(st.records, name)
			} else {
				st.records[name] = prev
			}
			opErr = err
			return
		}
		result, written = next.Clone(), true
		st.broadcast(Event{Type: EventPut, Name: name, Record: next.Clone()})
	})
	if err != nil {
		return nil, false, err
	}
	if opErr != nil {
		return nil, false, opErr
	}
	return result, written, nil
}

func (s *FileStore) Delete(ctx context.Context, name string) error {
	var opErr error
	err := s.do(ctx, func(st *fileState) {
		prev, ok := st.records[name]
		if !ok {
			opErr = ErrNotFound
			return
		}
		delete(st.records, name)
		if err := writeDocument(s.path, st.records); err != nil {
			st.records[name] = prev
			opErr = err
			return
		}
		st.broadcast(Event{Type: EventDelete, Name: name})
	})
	if err != nil {
		return err
	}
	return opErr
}

// Watch 订阅记录变化
func (s *FileStore) Watch(ctx context.Context) <-chan Event {
	ch := make(chan Event, watchBuffer)
	id := -1
	err := s.do(ctx, func(st *fileState) {
		id = st.nextSub
		st.nextSub++
		st.subs[id] = ch
	})
	if err != nil {
		close(ch)
		return ch
	}

	go func() {
		select {
		case <-ctx.Done():
		case <-s.closed:
			return
		}
		// ctx 结束时注销订阅; 若 store 已关闭，loop 会负责关闭通道
		_ = s.do(context.Background(), func(st *fileState) {
			if c, ok := st.subs[id]; ok {
				close(c)
				delete(st.subs, id)
			}
		})
	}()
	return ch
}

func (s *FileStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		<-s.stopped
	})
	return nil
}

func (st *fileState) broadcast(ev Event) {
	for _, ch := range st.subs {
		select {
		case ch <- ev:
		default:
			log.Warnf("[Store] watcher buffer full, dropping %s event for %s", ev.Type, ev.Name)
		}
	}
}

// ---------------------------------------------------------
// 文档读写
// ---------------------------------------------------------

func loadDocument(path string) (map[string]*model.AlgorithmRecord, error) {
	records := make(map[string]*model.AlgorithmRecord)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return records, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read registry document %s: %w", path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return records, nil
	}

	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse registry document %s: %w", path, err)
	}
	for name, r := range records {
		if r == nil {
			delete(records, name)
			continue
		}
		r.Name = name
	}
	return records, nil
}

// writeDocument 以 4 空格缩进写出完整文档，保留中文字符
func writeDocument(path string, records map[string]*model.AlgorithmRecord) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("encode registry document: %w", err)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create registry dir: %w", err)
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write registry document: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace registry document: %w", err)
	}
	return nil
}
