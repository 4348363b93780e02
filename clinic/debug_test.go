package clinic

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

func TestDebugRouter(t *testing.T) {
	srv := httptest.NewServer(debugRouter(io.Discard))
	defer srv.Close()

	res, err := http.Get(srv.URL + metricsPath)
	require.NoError(t, err)
	body, err := io.ReadAll(res.Body)
	res.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Contains(t, string(body), "go_goroutines")

	res, err = http.Get(srv.URL + "/debug/health")
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	res, err = http.Post(srv.URL+metricsPath, "text/plain", nil)
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, res.StatusCode)

	res, err = http.Get(srv.URL + "/unknown")
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestDebugServer_AccessLog(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	s := newDebugServer("127.0.0.1:0", logrus.NewEntry(logger))
	srv := httptest.NewServer(s.srv.Handler)
	defer srv.Close()

	res, err := http.Get(srv.URL + "/debug/health")
	require.NoError(t, err)
	res.Body.Close()

	require.Eventually(t, func() bool {
		for _, e := range hook.AllEntries() {
			if e.Level == logrus.DebugLevel && strings.Contains(e.Message, `"GET /debug/health HTTP/1.1" 200`) {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

func TestDebugServer_StopClosesAccessLog(t *testing.T) {
	logger, hook := test.NewNullLogger()
	s := newDebugServer("127.0.0.1:0", logrus.NewEntry(logger))

	s.stop()

	_, err := s.accessLog.Write([]byte("GET /metrics\n"))
	require.ErrorIs(t, err, io.ErrClosedPipe)
	for _, e := range hook.AllEntries() {
		require.NotEqual(t, logrus.WarnLevel, e.Level, e.Message)
	}
}
