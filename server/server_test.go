package server

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"gensim/engine"
	"gensim/rpc"
	"gensim/statestore"
)

func newTestServer() *Server {
	store := statestore.New()
	eng := engine.New(engine.Config{Store: store, ChainID: 61999})
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	dispatcher := &rpc.Dispatcher{Eng: eng, Store: store, ChainID: 61999, DefaultValidators: 1, MaxRotations: 1, Logger: logger}
	return New(Config{Dispatcher: dispatcher, Logger: logger})
}

func doRPC(t *testing.T, s *Server, body string) map[string]any {
	t.Helper()
	req := httptest.NewRequest("POST", "/api", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, 200, rec.Code)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHandleRPCSingleRequest(t *testing.T) {
	s := newTestServer()
	out := doRPC(t, s, `{"jsonrpc":"2.0","method":"ping","id":1}`)
	require.Equal(t, "pong", out["result"])
	require.Nil(t, out["error"])
}

func TestHandleRPCUnknownMethodReturnsWireError(t *testing.T) {
	s := newTestServer()
	out := doRPC(t, s, `{"jsonrpc":"2.0","method":"sim_nope","id":1}`)
	require.Nil(t, out["result"])
	errObj := out["error"].(map[string]any)
	require.Equal(t, float64(-32601), errObj["code"])
}

func TestHandleRPCBatchRequest(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest("POST", "/api", bytes.NewBufferString(
		`[{"jsonrpc":"2.0","method":"ping","id":1},{"jsonrpc":"2.0","method":"eth_chainId","id":2}]`))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, 200, rec.Code)

	var out []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 2)
	require.Equal(t, "pong", out[0]["result"])
	require.Equal(t, "0xf22f", out[1]["result"])
}

func TestHandleRPCMalformedJSONIsParseError(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest("POST", "/api", bytes.NewBufferString(`{not json`))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	errObj := out["error"].(map[string]any)
	require.Equal(t, float64(-32700), errObj["code"])
}

func TestHandleRPCRejectsNonPost(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest("GET", "/api", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, 405, rec.Code)
}
