package server

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"approvalScope/internal/model"
	"approvalScope/internal/pipeline"
	"approvalScope/internal/view"
)

const (
	testToken   = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
	testSpender = "0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512"
)

type fakeSource struct {
	snap    pipeline.Snapshot
	updates chan pipeline.Snapshot
}

func newFakeSource(snap pipeline.Snapshot) *fakeSource {
	return &fakeSource{snap: snap, updates: make(chan pipeline.Snapshot, 1)}
}

func (f *fakeSource) Snapshot() pipeline.Snapshot         { return f.snap }
func (f *fakeSource) Subscribe() <-chan pipeline.Snapshot { return f.updates }
func (f *fakeSource) publish(snap pipeline.Snapshot)      { f.snap = snap }

func testSnapshot(gen uint64) pipeline.Snapshot {
	return pipeline.Snapshot{
		Generation: gen,
		Owner:      "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266",
		Approvals: []model.AccumulatedApproval{
			{
				TokenAddress:   testToken,
				SpenderAddress: testSpender,
				Allowance:      "42000000000000000000",
				Decimals:       18,
			},
		},
		Tokens: map[string]model.TokenInfo{
			"0x5fbdb2315678afecb367f032d93f642f64180aa3": {
				Type:     "ERC20",
				Address:  testToken,
				Name:     "Test Token",
				Symbol:   "TST",
				Decimals: 18,
			},
		},
		Balances: map[string]*big.Int{
			"0x5fbdb2315678afecb367f032d93f642f64180aa3": big.NewInt(1),
		},
	}
}

func doRequest(t *testing.T, s *Server, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestListApprovals(t *testing.T) {
	s := NewServer(newFakeSource(testSnapshot(1)), zap.NewNop())

	rec := doRequest(t, s, http.MethodGet, "/approvals", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp approvalsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Entries, 1)
	assert.Equal(t, uint64(1), resp.Generation)
	assert.Equal(t, "42", resp.Entries[0].CurrentAmount.String())
	assert.Equal(t, "TST", resp.Entries[0].Token.Symbol)
	assert.False(t, resp.Entries[0].Selected)
}

func TestListApprovalsHideRevoked(t *testing.T) {
	snap := testSnapshot(1)
	snap.Approvals[0].Allowance = "0"
	s := NewServer(newFakeSource(snap), zap.NewNop())

	rec := doRequest(t, s, http.MethodGet, "/approvals?hide_revoked=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp approvalsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Entries)
}

func TestUpdateEntrySelection(t *testing.T) {
	s := NewServer(newFakeSource(testSnapshot(1)), zap.NewNop())
	id := view.EntryID(testToken, testSpender)

	body, _ := json.Marshal(map[string]interface{}{"selected": true})
	rec := doRequest(t, s, http.MethodPut, "/approvals/"+id, body)
	require.Equal(t, http.StatusOK, rec.Code)

	var entry view.Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
	assert.True(t, entry.Selected)
}

func TestUpdateEntryMode(t *testing.T) {
	s := NewServer(newFakeSource(testSnapshot(1)), zap.NewNop())
	id := view.EntryID(testToken, testSpender)

	body, _ := json.Marshal(map[string]interface{}{"input_mode": "unlimited"})
	rec := doRequest(t, s, http.MethodPut, "/approvals/"+id, body)
	require.Equal(t, http.StatusOK, rec.Code)

	var entry view.Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
	assert.Equal(t, view.ModeUnlimited, entry.Mode)

	// The edited amount must round back to the precise sentinel value.
	edited, err := entry.EditedAmountWei()
	require.NoError(t, err)
	max := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	assert.Zero(t, edited.Cmp(max))
}

func TestUpdateEntryUnknownID(t *testing.T) {
	s := NewServer(newFakeSource(testSnapshot(1)), zap.NewNop())

	body, _ := json.Marshal(map[string]interface{}{"selected": true})
	rec := doRequest(t, s, http.MethodPut, "/approvals/0xdead:0xbeef", body)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateEntryInvalidMode(t *testing.T) {
	s := NewServer(newFakeSource(testSnapshot(1)), zap.NewNop())
	id := view.EntryID(testToken, testSpender)

	body, _ := json.Marshal(map[string]interface{}{"input_mode": "bogus"})
	rec := doRequest(t, s, http.MethodPut, "/approvals/"+id, body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGenerationChangeResetsOverlay(t *testing.T) {
	source := newFakeSource(testSnapshot(1))
	s := NewServer(source, zap.NewNop())
	id := view.EntryID(testToken, testSpender)

	body, _ := json.Marshal(map[string]interface{}{"selected": true})
	rec := doRequest(t, s, http.MethodPut, "/approvals/"+id, body)
	require.Equal(t, http.StatusOK, rec.Code)

	// A new generation, as published after an account switch, discards edits.
	source.publish(testSnapshot(2))

	rec = doRequest(t, s, http.MethodGet, "/approvals", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp approvalsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Entries, 1)
	assert.False(t, resp.Entries[0].Selected)
}

func TestBuildCalls(t *testing.T) {
	s := NewServer(newFakeSource(testSnapshot(1)), zap.NewNop())
	id := view.EntryID(testToken, testSpender)

	body, _ := json.Marshal(map[string]interface{}{"selected": true, "input_mode": "revoke"})
	rec := doRequest(t, s, http.MethodPut, "/approvals/"+id, body)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, s, http.MethodPost, "/approvals/calls", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Calls []view.ApproveCall `json:"calls"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Calls, 1)
	assert.Equal(t, 4+32+32, len(resp.Calls[0].Data))
}

func TestBuildCallsNoSelection(t *testing.T) {
	s := NewServer(newFakeSource(testSnapshot(1)), zap.NewNop())

	rec := doRequest(t, s, http.MethodPost, "/approvals/calls", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Calls []view.ApproveCall `json:"calls"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Calls)
}

func TestHealth(t *testing.T) {
	s := NewServer(newFakeSource(testSnapshot(1)), zap.NewNop())

	rec := doRequest(t, s, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
