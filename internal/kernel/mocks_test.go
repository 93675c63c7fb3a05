package kernel

// Code generated by MockGen would normally live in its own mocks package;
// these two collaborator mocks are hand-authored in the same mockgen
// idiom (go.uber.org/mock) but kept package-local since neither
// PanicSink nor FPUState is consumed outside internal/kernel.

import (
	"reflect"

	"go.uber.org/mock/gomock"
)

// MockPanicSink is a mock of the PanicSink interface.
type MockPanicSink struct {
	ctrl     *gomock.Controller
	recorder *MockPanicSinkMockRecorder
}

// MockPanicSinkMockRecorder is the mock recorder for MockPanicSink.
type MockPanicSinkMockRecorder struct {
	mock *MockPanicSink
}

// NewMockPanicSink returns a new mock bound to ctrl.
func NewMockPanicSink(ctrl *gomock.Controller) *MockPanicSink {
	m := &MockPanicSink{ctrl: ctrl}
	m.recorder = &MockPanicSinkMockRecorder{m}
	return m
}

// EXPECT returns an object that allows the caller to indicate expected use.
func (m *MockPanicSink) EXPECT() *MockPanicSinkMockRecorder {
	return m.recorder
}

// Fatal mocks base method.
func (m *MockPanicSink) Fatal(reason string, context map[string]any) {
	m.ctrl.T.Helper()
	m.ctrl.Call(m, "Fatal", reason, context)
}

// Fatal indicates an expected call of Fatal.
func (mr *MockPanicSinkMockRecorder) Fatal(reason, context any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Fatal", reflect.TypeOf((*MockPanicSink)(nil).Fatal), reason, context)
}

// MockFPUState is a mock of the FPUState interface.
type MockFPUState struct {
	ctrl     *gomock.Controller
	recorder *MockFPUStateMockRecorder
}

// MockFPUStateMockRecorder is the mock recorder for MockFPUState.
type MockFPUStateMockRecorder struct {
	mock *MockFPUState
}

// NewMockFPUState returns a new mock bound to ctrl.
func NewMockFPUState(ctrl *gomock.Controller) *MockFPUState {
	m := &MockFPUState{ctrl: ctrl}
	m.recorder = &MockFPUStateMockRecorder{m}
	return m
}

// EXPECT returns an object that allows the caller to indicate expected use.
func (m *MockFPUState) EXPECT() *MockFPUStateMockRecorder {
	return m.recorder
}

// Save mocks base method.
func (m *MockFPUState) Save() []byte {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Save")
	ret0, _ := ret[0].([]byte)
	return ret0
}

// Save indicates an expected call of Save.
func (mr *MockFPUStateMockRecorder) Save() *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Save", reflect.TypeOf((*MockFPUState)(nil).Save))
}

// Restore mocks base method.
func (m *MockFPUState) Restore(state []byte) {
	m.ctrl.T.Helper()
	m.ctrl.Call(m, "Restore", state)
}

// Restore indicates an expected call of Restore.
func (mr *MockFPUStateMockRecorder) Restore(state any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Restore", reflect.TypeOf((*MockFPUState)(nil).Restore), state)
}
