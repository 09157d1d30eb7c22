package sessionctl

import (
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
)

// ProducerConn is the outbound half of a producer connection the
// controller drives: the subset of the IPC message set (spec.md §6.1)
// sent service->producer. Concrete transports (in-process, Connect-RPC)
// live in internal/ipc and satisfy this interface structurally.
type ProducerConn interface {
	StartDataSource(instanceID uint64, ds DataSourceConfig, targetBuffer uint16) error
	StopDataSource(instanceID uint64) error
	FlushRequest(flushID uint64, instanceIDs []uint64, deadline time.Time) error
}

// instance is a live (session, producer, data_source_name) data-source
// instance (spec.md §3).
type instance struct {
	ID           uint64
	ProducerID   uint32
	DSName       string
	TargetBuffer uint16
	conn         ProducerConn
}

// flushAll fans FlushRequest out to every producer with a live instance in
// the session, concurrently: fan-out with partial failure, no rollback. A
// Flush "succeeds" only if every producer acked before deadline; timeouts
// are collected, not silently dropped, so a single unresponsive producer's
// failure doesn't mask the others' acks.
func flushAll(flushID uint64, instances []*instance, deadline time.Time) error {
	byConn := groupByConn(instances)

	var g errgroup.Group
	errs := make(chan error, len(byConn))
	for conn, ids := range byConn {
		conn, ids := conn, ids
		g.Go(func() error {
			err := conn.FlushRequest(flushID, ids, deadline)
			if err != nil {
				errs <- err
			}
			return nil // never abort the group; we want every producer tried
		})
	}
	g.Wait()
	close(errs)

	var result *multierror.Error
	for err := range errs {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// stopAll fans StopDataSource out to every instance's producer, with the
// same partial-failure semantics as flushAll.
func stopAll(instances []*instance) error {
	var g errgroup.Group
	errs := make(chan error, len(instances))
	for _, inst := range instances {
		inst := inst
		g.Go(func() error {
			if err := inst.conn.StopDataSource(inst.ID); err != nil {
				errs <- err
			}
			return nil
		})
	}
	g.Wait()
	close(errs)

	var result *multierror.Error
	for err := range errs {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// groupByConn partitions instances by their owning producer connection, so
// a producer hosting multiple instances receives one FlushRequest carrying
// every instance_id rather than one call per instance.
func groupByConn(instances []*instance) map[ProducerConn][]uint64 {
	out := make(map[ProducerConn][]uint64)
	for _, inst := range instances {
		out[inst.conn] = append(out[inst.conn], inst.ID)
	}
	return out
}
