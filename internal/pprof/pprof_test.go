package pprof

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfilerWritesFiles(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		CPUProfile:       filepath.Join(dir, "cpu", "cpu.pprof"),
		HeapProfile:      filepath.Join(dir, "heap.pprof"),
		GoroutineProfile: filepath.Join(dir, "goroutine.pprof"),
	}
	require.True(t, cfg.Enabled())

	p, err := Start(cfg)
	require.NoError(t, err)
	require.NoError(t, p.Stop())
	assert.NoError(t, p.Stop())

	for _, path := range []string{cfg.CPUProfile, cfg.HeapProfile, cfg.GoroutineProfile} {
		info, err := os.Stat(path)
		require.NoError(t, err, path)
		assert.Positive(t, info.Size(), path)
	}
}

func TestProfilerDisabled(t *testing.T) {
	assert.False(t, Config{}.Enabled())
	p, err := Start(Config{})
	require.NoError(t, err)
	assert.NoError(t, p.Stop())
}

func TestRegister(t *testing.T) {
	router := httprouter.New()
	Register(router)

	for _, path := range []string{"/debug/pprof/", "/debug/pprof/heap", "/debug/pprof/goroutine?debug=1"} {
		t.Run(path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
			assert.Equal(t, http.StatusOK, rec.Code)
		})
	}
}
