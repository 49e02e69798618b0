package solrpc

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

type rpcResponse struct {
	Version string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// fakeNode answers JSON-RPC calls from a handler table and counts batches.
type fakeNode struct {
	mu       sync.Mutex
	handlers map[string]func(params []json.RawMessage) (any, *rpcError)
	batches  int
	calls    []string
}

func (n *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	body = bytes.TrimSpace(body)
	w.Header().Set("Content-Type", "application/json")

	if len(body) > 0 && body[0] == '[' {
		var reqs []rpcRequest
		_ = json.Unmarshal(body, &reqs)
		n.mu.Lock()
		n.batches++
		n.mu.Unlock()
		resps := make([]rpcResponse, 0, len(reqs))
		for _, req := range reqs {
			resps = append(resps, n.answer(req))
		}
		_ = json.NewEncoder(w).Encode(resps)
		return
	}
	var req rpcRequest
	_ = json.Unmarshal(body, &req)
	_ = json.NewEncoder(w).Encode(n.answer(req))
}

func (n *fakeNode) answer(req rpcRequest) rpcResponse {
	n.mu.Lock()
	n.calls = append(n.calls, req.Method)
	handler := n.handlers[req.Method]
	n.mu.Unlock()
	resp := rpcResponse{Version: "2.0", ID: req.ID}
	if handler == nil {
		resp.Error = &rpcError{Code: -32601, Message: "method not found"}
		return resp
	}
	resp.Result, resp.Error = handler(req.Params)
	return resp
}

func newTestClient(t *testing.T, node *fakeNode) *Client {
	t.Helper()
	srv := httptest.NewServer(node)
	t.Cleanup(srv.Close)
	client, err := Dial(context.Background(), Config{RPCURL: srv.URL})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func newKey(t *testing.T) solana.PublicKey {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key.PublicKey()
}

func accountValue(owner solana.PublicKey, data []byte) map[string]any {
	return map[string]any{
		"lamports":   1531200,
		"owner":      owner.String(),
		"executable": false,
		"data":       []string{base64.StdEncoding.EncodeToString(data), "base64"},
	}
}

func TestGetAccountInfo(t *testing.T) {
	program := newKey(t)
	present := newKey(t)
	node := &fakeNode{handlers: map[string]func([]json.RawMessage) (any, *rpcError){
		"getAccountInfo": func(params []json.RawMessage) (any, *rpcError) {
			var key string
			_ = json.Unmarshal(params[0], &key)
			var opts map[string]string
			_ = json.Unmarshal(params[1], &opts)
			if opts["encoding"] != "base64" || opts["commitment"] != "confirmed" {
				return nil, &rpcError{Code: -32602, Message: "bad options"}
			}
			if key != present.String() {
				return map[string]any{"context": map[string]any{"slot": 9}, "value": nil}, nil
			}
			return map[string]any{"context": map[string]any{"slot": 9}, "value": accountValue(program, []byte{1, 2, 3})}, nil
		},
	}}
	client := newTestClient(t, node)

	info, err := client.GetAccountInfo(context.Background(), present)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if info == nil || !info.Owner.Equals(program) || !bytes.Equal(info.Data, []byte{1, 2, 3}) || info.Lamports != 1531200 || info.Slot != 9 {
		t.Fatalf("unexpected account: %+v", info)
	}

	missing, err := client.GetAccountInfo(context.Background(), newKey(t))
	if err != nil || missing != nil {
		t.Fatalf("expected nil account, got %+v %v", missing, err)
	}
}

func TestGetMultipleAccountsBatchesChunks(t *testing.T) {
	program := newKey(t)
	node := &fakeNode{handlers: map[string]func([]json.RawMessage) (any, *rpcError){
		"getMultipleAccounts": func(params []json.RawMessage) (any, *rpcError) {
			var keys []string
			_ = json.Unmarshal(params[0], &keys)
			values := make([]any, len(keys))
			for i := range keys {
				if i%2 == 0 {
					values[i] = accountValue(program, []byte{byte(i)})
				}
			}
			return map[string]any{"context": map[string]any{"slot": 1}, "value": values}, nil
		},
	}}
	client := newTestClient(t, node)

	keys := make([]solana.PublicKey, 150)
	for i := range keys {
		keys[i] = newKey(t)
	}
	infos, err := client.GetMultipleAccounts(context.Background(), keys)
	if err != nil {
		t.Fatalf("get multiple: %v", err)
	}
	if len(infos) != 150 {
		t.Fatalf("got %d accounts", len(infos))
	}
	if infos[0] == nil || infos[1] != nil || infos[100] == nil || infos[100].Data[0] != 0 {
		t.Fatal("unexpected chunk decoding")
	}
	if node.batches != 1 || len(node.calls) != 2 {
		t.Fatalf("expected one batch of two calls, got %d batches %v", node.batches, node.calls)
	}
}

func TestSendTransactionAndConfirm(t *testing.T) {
	payer, err := solana.NewRandomPrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	blockhash := solana.HashFromBytes(bytes.Repeat([]byte{7}, 32))
	var (
		sentMu sync.Mutex
		sent   []byte
	)

	polls := 0
	node := &fakeNode{handlers: map[string]func([]json.RawMessage) (any, *rpcError){
		"getLatestBlockhash": func([]json.RawMessage) (any, *rpcError) {
			return map[string]any{"context": map[string]any{"slot": 1}, "value": map[string]any{"blockhash": blockhash.String(), "lastValidBlockHeight": 100}}, nil
		},
		"sendTransaction": func(params []json.RawMessage) (any, *rpcError) {
			var encoded string
			_ = json.Unmarshal(params[0], &encoded)
			raw, _ := base64.StdEncoding.DecodeString(encoded)
			tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
			if err != nil || len(tx.Signatures) == 0 {
				return nil, &rpcError{Code: -32602, Message: "invalid transaction"}
			}
			sentMu.Lock()
			sent = raw
			sentMu.Unlock()
			return tx.Signatures[0].String(), nil
		},
		"getSignatureStatuses": func([]json.RawMessage) (any, *rpcError) {
			polls++
			if polls < 2 {
				return map[string]any{"context": map[string]any{"slot": 1}, "value": []any{nil}}, nil
			}
			return map[string]any{"context": map[string]any{"slot": 2}, "value": []any{map[string]any{"slot": 2, "err": nil, "confirmationStatus": "finalized"}}}, nil
		},
		"getBalance": func([]json.RawMessage) (any, *rpcError) {
			return map[string]any{"context": map[string]any{"slot": 1}, "value": 42}, nil
		},
	}}
	client := newTestClient(t, node)
	ctx := context.Background()

	hash, err := client.GetLatestBlockhash(ctx)
	if err != nil || hash != blockhash {
		t.Fatalf("blockhash = %s %v", hash, err)
	}

	ix := solana.NewInstruction(solana.SystemProgramID, solana.AccountMetaSlice{solana.NewAccountMeta(payer.PublicKey(), true, true)}, []byte{1})
	tx, err := solana.NewTransaction([]solana.Instruction{ix}, hash, solana.TransactionPayer(payer.PublicKey()))
	if err != nil {
		t.Fatalf("build tx: %v", err)
	}
	sigs, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(payer.PublicKey()) {
			return &payer
		}
		return nil
	})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	sig, err := client.SendTransaction(ctx, tx)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if sig != sigs[0] {
		t.Fatalf("signature = %s", sig)
	}
	raw, _ := tx.MarshalBinary()
	sentMu.Lock()
	defer sentMu.Unlock()
	if !bytes.Equal(sent, raw) {
		t.Fatal("node received a different transaction")
	}

	status, err := client.WaitForConfirmation(ctx, sig, time.Millisecond)
	if err != nil || status.ConfirmationStatus != "finalized" {
		t.Fatalf("confirmation = %+v %v", status, err)
	}

	balance, err := client.GetBalance(ctx, payer.PublicKey())
	if err != nil || balance != 42 {
		t.Fatalf("balance = %d %v", balance, err)
	}
}

func TestRPCErrorSurfaces(t *testing.T) {
	client := newTestClient(t, &fakeNode{handlers: map[string]func([]json.RawMessage) (any, *rpcError){}})
	if _, err := client.GetBalance(context.Background(), newKey(t)); err == nil {
		t.Fatal("expected error for unknown method")
	}
}
