package storage

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
)

// MemoryStore 是进程内的 ObjectStore 实现，供测试与本地开发使用。
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
	baseURL string
}

type memoryObject struct {
	data         []byte
	contentType  string
	lastModified time.Time
}

var _ ObjectStore = (*MemoryStore)(nil)

// NewMemoryStore 创建空的 MemoryStore，预签名地址以 baseURL 为前缀。
func NewMemoryStore(baseURL string) *MemoryStore {
	if baseURL == "" {
		baseURL = "http://objects.local"
	}
	return &MemoryStore{objects: make(map[string]memoryObject), baseURL: strings.TrimRight(baseURL, "/")}
}

func (m *MemoryStore) UploadFile(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (*minio.UploadInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if size >= 0 && int64(len(data)) != size {
		return nil, fmt.Errorf("upload %q: size mismatch %d != %d", objectName, len(data), size)
	}
	m.mu.Lock()
	m.objects[objectName] = memoryObject{data: data, contentType: contentType, lastModified: time.Now()}
	m.mu.Unlock()
	return &minio.UploadInfo{Key: objectName, Size: int64(len(data))}, nil
}

func (m *MemoryStore) ReadObject(ctx context.Context, objectKey string, maxBytes int64) ([]byte, error) {
	m.mu.RLock()
	obj, ok := m.objects[objectKey]
	m.mu.RUnlock()
	if !ok {
		return nil, minio.ErrorResponse{Code: "NoSuchKey", Key: objectKey, Message: "The specified key does not exist."}
	}
	if maxBytes > 0 && int64(len(obj.data)) > maxBytes {
		return nil, fmt.Errorf("object %q exceeds %d bytes", objectKey, maxBytes)
	}
	return append([]byte(nil), obj.data...), nil
}

func (m *MemoryStore) GeneratePresignedURL(ctx context.Context, objectKey string, duration time.Duration) (string, error) {
	return m.GeneratePresignedURLWithParams(ctx, objectKey, duration, nil)
}

func (m *MemoryStore) GeneratePresignedURLWithParams(_ context.Context, objectKey string, duration time.Duration, params map[string]string) (string, error) {
	if objectKey == "" {
		return "", fmt.Errorf("empty object key")
	}
	u := fmt.Sprintf("%s/%s?expires=%d", m.baseURL, objectKey, int(duration.Seconds()))
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		u += "&" + k + "=" + params[k]
	}
	return u, nil
}

func (m *MemoryStore) ListObjects(_ context.Context, prefix string, limit int) ([]ObjectMeta, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0)
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := make([]ObjectMeta, 0, len(keys))
	for _, k := range keys {
		if limit > 0 && len(out) >= limit {
			break
		}
		obj := m.objects[k]
		out = append(out, ObjectMeta{Key: k, Size: int64(len(obj.data)), LastModified: obj.lastModified})
	}
	return out, nil
}

func (m *MemoryStore) DeleteObject(_ context.Context, objectKey string) error {
	m.mu.Lock()
	delete(m.objects, objectKey)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) DeletePrefix(_ context.Context, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			delete(m.objects, k)
		}
	}
	return nil
}

// Has 判断对象是否存在。
func (m *MemoryStore) Has(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[key]
	return ok
}

// ContentType 返回对象的 Content-Type。
func (m *MemoryStore) ContentType(key string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.objects[key].contentType
}
