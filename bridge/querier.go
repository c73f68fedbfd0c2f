package bridge

import (
	"github.com/wippyai/enclave-rt/errors"
	"github.com/wippyai/enclave-rt/gas"
)

// QuerierVtable holds the sub-query callback.
type QuerierVtable struct {
	Query func(state any, meter *gas.Meter, request []byte) (response []byte, usedGas uint64, err error)
}

// Querier answers chain queries issued by a running contract.
type Querier struct {
	State  any
	Meter  *gas.Meter
	Vtable QuerierVtable
}

// Query forwards a sub-query to the caller's chain state.
func (q Querier) Query(request []byte) ([]byte, uint64, error) {
	if q.Vtable.Query == nil {
		return nil, 0, errors.VtableUnset("query_external")
	}
	response, used, err := q.Vtable.Query(q.State, q.Meter, request)
	if err := charge(q.Meter, used, "query_external", err); err != nil {
		return nil, used, err
	}
	return response, used, nil
}

// Deps bundles the three bridges handed to one contract instance.
type Deps struct {
	DB      DB
	API     API
	Querier Querier
}
