package engine

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"regexp"
	"sort"

	"gensim/addr"
	"gensim/codec"
	"gensim/runtime"
	"gensim/statestore"
	"gensim/storage"
)

// hostImpl is the runtime.Host the engine hands to every Class/Instance
// call. It closes over the engine's current call context rather than
// capturing a snapshot of it, since the engine swaps that context around
// nested cross-contract calls (spec §4.3, §6.4).
type hostImpl struct{ e *Engine }

func (e *Engine) host() runtime.Host { return hostImpl{e: e} }

func (h hostImpl) StorageRead(slot storage.SlotID, offset, length uint32) []byte {
	return h.e.currentPartition.Read(slot, offset, length)
}

func (h hostImpl) StorageWrite(slot storage.SlotID, offset uint32, data []byte) {
	h.e.currentPartition.Write(slot, offset, data)
}

func (h hostImpl) GetBalance(a addr.Address) uint64 { return h.e.store.Balance(a) }

func (h hostImpl) GetSelfBalance() uint64 { return h.e.store.Balance(h.e.currentAddr) }

func (h hostImpl) Context() runtime.MessageContext { return h.e.msgCtx }

func (h hostImpl) Nondet(req runtime.NondetRequest) (runtime.NondetResponse, error) {
	return h.e.dispatchNondet(req)
}

// dispatchNondet is the cross-contract hook plus LiveIO bridge described in
// spec §4.3: DeployContract/CallContract/PostMessage stay inside the
// engine; WebRequest/ExecPrompt cross into LiveIO.
func (e *Engine) dispatchNondet(req runtime.NondetRequest) (runtime.NondetResponse, error) {
	switch req.Kind {
	case runtime.NondetDeployContract:
		return e.crossDeploy(req)
	case runtime.NondetCallContract:
		return e.crossCall(req)
	case runtime.NondetPostMessage:
		return e.crossPost(req)
	case runtime.NondetWebRequest:
		return e.nondetWeb(req)
	case runtime.NondetExecPrompt:
		return e.nondetExecPrompt(req)
	case runtime.NondetTrace:
		e.logger.WithField("address", e.currentAddr.Hex()).Debug(req.Message)
		return runtime.NondetResponse{}, nil
	default:
		return runtime.NondetResponse{}, fmt.Errorf("engine: unknown nondet kind %q", req.Kind)
	}
}

// crossDeploy handles a contract deploying a child contract. The new
// contract's sender is the deploying contract; its origin is inherited
// from the outer transaction (spec §4.3 DeployContract).
func (e *Engine) crossDeploy(req runtime.NondetRequest) (runtime.NondetResponse, error) {
	mc, err := codec.DecodeMethodCall(req.CtorArgs)
	if err != nil {
		return runtime.NondetResponse{}, err
	}
	sender, origin := e.currentAddr, e.msgCtx.Origin
	newAddr, _, err := e.deployInternal("", req.Code, mc.Args, mapToGo(mc.Kwargs), sender, origin)
	if err != nil {
		return runtime.NondetResponse{}, err
	}
	e.triggered = append(e.triggered, statestore.TriggeredOp{Type: "deploy", Address: newAddr})
	return runtime.NondetResponse{DeployedAddress: newAddr}, nil
}

// crossCall handles a synchronous cross-contract invocation. Per spec
// §4.3 the callee's failure is never propagated as a Go error — it comes
// back encoded as a rollback result the caller's bytecode can inspect.
func (e *Engine) crossCall(req runtime.NondetRequest) (runtime.NondetResponse, error) {
	mc, err := codec.DecodeMethodCall(req.Call)
	if err != nil {
		return runtime.NondetResponse{}, err
	}
	method := ""
	if mc.Method != nil {
		method = *mc.Method
	}
	sender, origin := e.currentAddr, e.msgCtx.Origin
	result, callErr := e.callInternal(req.Address, method, mc.Args, mapToGo(mc.Kwargs), sender, origin)
	if callErr != nil {
		return runtime.NondetResponse{ResultBytes: codec.EncodeRollbackResult(callErr.Error())}, nil
	}
	return runtime.NondetResponse{ResultBytes: codec.EncodeSuccessResult(result)}, nil
}

// crossPost enqueues a fire-and-forget message (spec §3 PostMessageQueue,
// §4.3 PostMessage).
func (e *Engine) crossPost(req runtime.NondetRequest) (runtime.NondetResponse, error) {
	kwargs := make(map[string]any, len(req.Kwargs))
	for k, v := range req.Kwargs {
		kwargs[k] = v
	}
	e.postQueue = append(e.postQueue, postMessage{
		Target: req.Address, Method: req.Method, Args: req.Args, Kwargs: kwargs, Sender: e.currentAddr,
	})
	e.triggered = append(e.triggered, statestore.TriggeredOp{Type: "post", Address: req.Address, Method: req.Method})
	return runtime.NondetResponse{}, nil
}

// nondetWeb services a WebRequest, consulting the per-submission mock table
// ahead of the configured LiveIO handler, and records a witness so
// validators can replay and compare (spec §4.4 ValidatorWitness, §4.6).
func (e *Engine) nondetWeb(req runtime.NondetRequest) (runtime.NondetResponse, error) {
	call := func() runtime.NondetResponse {
		if mock, ok := e.matchWebMock(req.WebURL); ok {
			return runtime.NondetResponse{WebStatus: mock.Status, WebBody: []byte(mock.Body)}
		}
		if e.webHandler != nil {
			return e.webHandler.Do(req)
		}
		return runtime.NondetResponse{WebStatus: 502, WebBody: []byte("engine: no web handler configured")}
	}
	leader := call()
	e.witnesses = append(e.witnesses, runtime.Witness{
		LeaderResult: leader,
		Validate: func(lr runtime.NondetResponse) (bool, error) {
			replay := call()
			return replay.WebStatus == lr.WebStatus && bytes.Equal(replay.WebBody, lr.WebBody), nil
		},
	})
	return leader, nil
}

// nondetExecPrompt services an ExecPrompt request the same way nondetWeb
// services a WebRequest (spec §4.6).
func (e *Engine) nondetExecPrompt(req runtime.NondetRequest) (runtime.NondetResponse, error) {
	call := func() runtime.NondetResponse {
		if text, ok := e.matchLLMMock(req.Prompt); ok {
			return runtime.NondetResponse{Text: text}
		}
		if e.llmHandler != nil {
			return e.llmHandler.Exec(req)
		}
		return runtime.NondetResponse{Text: "", Struct: map[string]any{"error": "no language-model handler configured"}}
	}
	leader := call()
	e.witnesses = append(e.witnesses, runtime.Witness{
		LeaderResult: leader,
		Validate: func(lr runtime.NondetResponse) (bool, error) {
			replay := call()
			return replay.Text == lr.Text, nil
		},
	})
	return leader, nil
}

func (e *Engine) matchWebMock(url string) (WebMock, bool) {
	for pattern, mock := range e.mocks.Web {
		if matched, _ := regexp.MatchString(pattern, url); matched {
			return mock, true
		}
	}
	return WebMock{}, false
}

func (e *Engine) matchLLMMock(prompt string) (string, bool) {
	for pattern, resp := range e.mocks.LLM {
		if matched, _ := regexp.MatchString(pattern, prompt); matched {
			return resp, true
		}
	}
	return "", false
}

// loadArchive extracts a zip-packaged contract into a content-hash-keyed
// virtual filesystem (spec §4.3 "Archive virtual filesystem") and resolves
// the class from its "/contract/main" entry, recursing into the ordinary
// wasm/native dispatch for whatever bytes that entry holds. Archive
// decompression uses the standard library's archive/zip: no example repo
// in the retrieval pack carries a third-party zip dependency, and zip
// handling here is pure container unpacking rather than a domain concern.
func (e *Engine) loadArchive(digest [32]byte, code []byte) (runtime.Class, error) {
	zr, err := zip.NewReader(bytes.NewReader(code), int64(len(code)))
	if err != nil {
		return nil, fmt.Errorf("engine: read archive: %w", err)
	}

	files := make(map[string][]byte, len(zr.File))
	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("engine: open archive entry %q: %w", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("engine: read archive entry %q: %w", f.Name, err)
		}
		files["/contract/"+f.Name] = data
		names = append(names, f.Name)
	}
	e.archiveFS[digest] = files

	entry, ok := files["/contract/main"]
	if !ok {
		sort.Strings(names)
		if len(names) == 0 {
			return nil, fmt.Errorf("engine: archive has no entries")
		}
		entry = files["/contract/"+names[0]]
	}

	entryDigest := sha256.Sum256(entry)
	class, err := e.load(entryDigest, entry)
	if err != nil {
		return nil, err
	}
	e.contentCache[entryDigest] = class
	return class, nil
}
