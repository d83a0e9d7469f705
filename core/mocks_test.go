package core

import (
	"reflect"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"go.uber.org/mock/gomock"

	"github.com/sigma67/tendercore/service"
)

// MockTxSource is a hand-maintained stand-in for a mockgen-generated
// TxSource mock (mirroring the teacher's consensus/tendermint/core
// backend_mock.go role), letting handler tests drive mempool interactions
// without a real mempool.Pool.
type MockTxSource struct {
	ctrl     *gomock.Controller
	recorder *MockTxSourceMockRecorder
}

type MockTxSourceMockRecorder struct {
	mock *MockTxSource
}

func NewMockTxSource(ctrl *gomock.Controller) *MockTxSource {
	m := &MockTxSource{ctrl: ctrl}
	m.recorder = &MockTxSourceMockRecorder{m}
	return m
}

func (m *MockTxSource) EXPECT() *MockTxSourceMockRecorder { return m.recorder }

func (m *MockTxSource) OrderedHashes(limit int) []ethcommon.Hash {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "OrderedHashes", limit)
	out, _ := ret[0].([]ethcommon.Hash)
	return out
}

func (mr *MockTxSourceMockRecorder) OrderedHashes(limit interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "OrderedHashes", reflect.TypeOf((*MockTxSource)(nil).OrderedHashes), limit)
}

func (m *MockTxSource) Get(hash ethcommon.Hash) (service.Transaction, []byte, bool) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Get", hash)
	tx, _ := ret[0].(service.Transaction)
	raw, _ := ret[1].([]byte)
	ok, _ := ret[2].(bool)
	return tx, raw, ok
}

func (mr *MockTxSourceMockRecorder) Get(hash interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Get", reflect.TypeOf((*MockTxSource)(nil).Get), hash)
}

func (m *MockTxSource) Len() int {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Len")
	n, _ := ret[0].(int)
	return n
}

func (mr *MockTxSourceMockRecorder) Len() *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Len", reflect.TypeOf((*MockTxSource)(nil).Len))
}

func (m *MockTxSource) RemoveMany(hashes []ethcommon.Hash) {
	m.ctrl.T.Helper()
	m.ctrl.Call(m, "RemoveMany", hashes)
}

func (mr *MockTxSourceMockRecorder) RemoveMany(hashes interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "RemoveMany", reflect.TypeOf((*MockTxSource)(nil).RemoveMany), hashes)
}

func (m *MockTxSource) Add(raw []byte) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Add", raw)
	err, _ := ret[0].(error)
	return err
}

func (mr *MockTxSourceMockRecorder) Add(raw interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Add", reflect.TypeOf((*MockTxSource)(nil).Add), raw)
}

func (m *MockTxSource) AddMany(raws [][]byte) []error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "AddMany", raws)
	out, _ := ret[0].([]error)
	return out
}

func (mr *MockTxSourceMockRecorder) AddMany(raws interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "AddMany", reflect.TypeOf((*MockTxSource)(nil).AddMany), raws)
}
