package consensus

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"gensim/addr"
	"gensim/engine"
	"gensim/runtime"
	"gensim/runtime/native"
	"gensim/statestore"
)

func newTestEngine() *engine.Engine {
	return engine.New(engine.Config{Store: statestore.New(), ChainID: 61999})
}

// flappyWebHandler returns a strictly increasing status code on every call,
// so a leader call and any validator replay of the same witness never agree.
type flappyWebHandler struct{ n int }

func (h *flappyWebHandler) Do(req runtime.NondetRequest) runtime.NondetResponse {
	h.n++
	return runtime.NondetResponse{WebStatus: h.n}
}

func silentLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func TestRunSingleValidatorAlwaysFinalizes(t *testing.T) {
	eng := newTestEngine()
	execute := func() (any, []byte, error) { return "ok", []byte("ok"), nil }

	res := Run(context.Background(), eng, execute, 1, 3, silentLogger())
	require.Equal(t, statestore.StatusFinalized, res.Status)
	require.Equal(t, "ok", res.Result)
	require.Equal(t, []string{"agree"}, res.Votes)
}

func TestRunDeterministicExecuteFinalizesOnFirstRotation(t *testing.T) {
	eng := newTestEngine()
	attempts := 0
	execute := func() (any, []byte, error) {
		attempts++
		return attempts, nil, nil
	}

	res := Run(context.Background(), eng, execute, 5, 3, silentLogger())
	require.Equal(t, statestore.StatusFinalized, res.Status)
	require.Equal(t, 0, res.Rotation)
	require.Equal(t, 1, attempts)
	require.Len(t, res.Votes, 5)
	for _, v := range res.Votes {
		require.Equal(t, "agree", v)
	}
}

func TestRunFailedExecuteStillReachesMajorityWithNoWitnesses(t *testing.T) {
	eng := newTestEngine()
	execute := func() (any, []byte, error) { return nil, nil, context.DeadlineExceeded }

	res := Run(context.Background(), eng, execute, 5, 3, silentLogger())
	require.Equal(t, statestore.StatusFinalized, res.Status)
	require.Equal(t, context.DeadlineExceeded.Error(), res.Error)
}

func TestRunCanceledContextFailsWithTimeout(t *testing.T) {
	eng := newTestEngine()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	execute := func() (any, []byte, error) {
		called = true
		return "should not run", nil, nil
	}

	res := Run(ctx, eng, execute, 5, 3, silentLogger())
	require.Equal(t, statestore.StatusFailed, res.Status)
	require.Equal(t, "timeout", res.Error)
	require.False(t, called, "execute must not run once the context is already done")
}

func TestRunExhaustsRotationsOnPersistentDisagreement(t *testing.T) {
	loader := native.NewLoader()
	fetcher := native.NewProgram("Fetcher").
		WithCtor(nil).
		WithMethod("fetch", false, nil, "map",
			native.PushConst("http://example.invalid"), native.WebRequest(), native.Return())
	code := loader.Register(fetcher)

	eng := engine.New(engine.Config{Store: statestore.New(), ChainID: 61999, NativeLoader: loader, WebHandler: &flappyWebHandler{}})
	sender, err := addr.Parse("0x6666666666666666666666666666666666666666")
	require.NoError(t, err)

	contractAddr, _, err := eng.Deploy("", code, nil, nil, sender)
	require.NoError(t, err)

	execute := func() (any, []byte, error) {
		result, err := eng.Call(contractAddr, "fetch", nil, nil, sender)
		return result, nil, err
	}

	res := Run(context.Background(), eng, execute, 3, 2, silentLogger())
	require.Equal(t, statestore.StatusUndetermined, res.Status)
	require.Equal(t, 1, res.Rotation)
}
