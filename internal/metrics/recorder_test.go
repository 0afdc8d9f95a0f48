package metrics

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestRecorderEvictsOldest(t *testing.T) {
	rec := NewRecorder(3)
	for i := 0; i < 5; i++ {
		rec.RecordSecurityEvent(SecurityEvent{Kind: "login_failed", Detail: fmt.Sprint(i)})
	}
	events := rec.SecurityEvents()
	if len(events) != 3 {
		t.Fatalf("len = %d", len(events))
	}
	for i, want := range []string{"4", "3", "2"} {
		if events[i].Detail != want {
			t.Fatalf("events[%d] = %s, want %s", i, events[i].Detail, want)
		}
	}
	if events[0].At.IsZero() {
		t.Fatalf("timestamp not set")
	}
}

func TestRecorderPartialAndDefault(t *testing.T) {
	rec := NewRecorder(0)
	rec.RecordSlowRequest(SlowRequest{Path: "/a"})
	rec.RecordSlowRequest(SlowRequest{Path: "/b"})
	got := rec.SlowRequests()
	if len(got) != 2 || got[0].Path != "/b" {
		t.Fatalf("unexpected slow requests %+v", got)
	}
	if len(rec.security.items) != DefaultCapacity {
		t.Fatalf("capacity = %d", len(rec.security.items))
	}
}

func TestRecorderConcurrent(t *testing.T) {
	rec := NewRecorder(10)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec.RecordSlowRequest(SlowRequest{Path: "/x"})
		}()
	}
	wg.Wait()
	if len(rec.SlowRequests()) != 10 {
		t.Fatalf("expected buffer to be full")
	}
}

func TestGinMiddlewareRecordsSlowRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := NewRecorder(5)
	r := gin.New()
	r.Use(GinMiddleware(rec, 20*time.Millisecond))
	r.GET("/slow", func(c *gin.Context) {
		time.Sleep(40 * time.Millisecond)
		c.Status(http.StatusOK)
	})
	r.GET("/fast", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, path := range []string{"/slow", "/fast"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusOK {
			t.Fatalf("%s status = %d", path, w.Code)
		}
	}
	slow := rec.SlowRequests()
	if len(slow) != 1 || slow[0].Path != "/slow" {
		t.Fatalf("unexpected slow list %+v", slow)
	}
}
