package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNilReceiverIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveOp("project.create", "ok")
	m.WaiterStarted()
	m.WaiterFinished()
	m.StaleLockReclaimed()
	m.ObserveBroadcast(3)
}

func TestCollectorsRecord(t *testing.T) {
	m := New()
	m.ObserveOp("project.create", "ok")
	m.ObserveOp("project.create", "ok")
	m.ObserveOp("project.create", "conflict")
	require.Equal(t, 2.0, testutil.ToFloat64(m.OperationsTotal.WithLabelValues("project.create", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.OperationsTotal.WithLabelValues("project.create", "conflict")))

	m.WaiterStarted()
	m.WaiterStarted()
	m.WaiterFinished()
	require.Equal(t, 1.0, testutil.ToFloat64(m.ActiveWaiters))

	m.StaleLockReclaimed()
	require.Equal(t, 1.0, testutil.ToFloat64(m.LocksReclaimed))
}

func TestRegistriesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.ObserveOp("message.send", "ok")
	require.Equal(t, 1.0, testutil.ToFloat64(a.OperationsTotal.WithLabelValues("message.send", "ok")))
	require.Equal(t, 0.0, testutil.ToFloat64(b.OperationsTotal.WithLabelValues("message.send", "ok")))
}
