package store_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/xeptore/xmfetch/store"
)

func TestHTTPProber(t *testing.T) {
	t.Parallel()

	mp3 := append([]byte("ID3\x03\x00\x00\x00\x00\x00\x00"), make([]byte, 64)...)

	mux := http.NewServeMux()
	mux.HandleFunc("/alive", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/gone", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	mux.HandleFunc("/nohead", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write(mp3)
	})
	mux.HandleFunc("/opaque", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write([]byte{0x00, 0x9f, 0x13, 0xfe, 0x00, 0x01, 0xc4, 0x7a, 0x00, 0xee, 0x02, 0x8b})
	})
	mux.HandleFunc("/html", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		_, _ = w.Write([]byte("<html><body>captcha</body></html>"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	p := store.NewHTTPProber(5 * time.Second)
	ctx := context.Background()

	assert.True(t, p.Probe(ctx, srv.URL+"/alive"))
	assert.False(t, p.Probe(ctx, srv.URL+"/gone"))
	assert.True(t, p.Probe(ctx, srv.URL+"/nohead"))
	assert.True(t, p.Probe(ctx, srv.URL+"/opaque"), "unclassified binary payloads count as alive")
	assert.False(t, p.Probe(ctx, srv.URL+"/html"))
	assert.False(t, p.Probe(ctx, "http://127.0.0.1:0/unreachable"))
}
