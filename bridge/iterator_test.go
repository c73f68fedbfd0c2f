package bridge

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"

	"github.com/wippyai/enclave-rt/errors"
	"github.com/wippyai/enclave-rt/gas"
	"github.com/wippyai/enclave-rt/types"
)

// scriptedStep describes one callback invocation for the fake scan.
type scriptedStep struct {
	code    int32
	key     []byte
	value   []byte
	usedGas uint64
}

type scriptedScan struct {
	steps []scriptedStep
	pos   int
}

func scriptedNext(state any, meter *gas.Meter, usedGas *uint64, key, value *types.Buffer) int32 {
	s := state.(*scriptedScan)
	if s.pos >= len(s.steps) {
		return int32(ResultOk)
	}
	step := s.steps[s.pos]
	s.pos++
	*usedGas = step.usedGas
	if step.key != nil {
		*key = types.BorrowedBuffer(step.key)
	}
	if step.value != nil {
		*value = types.BorrowedBuffer(step.value)
	}
	return step.code
}

func scriptedIter(steps ...scriptedStep) *Iter {
	return NewIter(&scriptedScan{steps: steps}, gas.NewMeter(1_000_000), IteratorVtable{Next: scriptedNext})
}

func TestIterYieldsPairsThenNaturalEnd(t *testing.T) {
	it := scriptedIter(
		scriptedStep{key: []byte("a"), value: []byte("1"), usedGas: 10},
		scriptedStep{key: []byte("b"), value: []byte("2"), usedGas: 20},
		scriptedStep{key: []byte("c"), value: []byte("3"), usedGas: 30},
	)

	var total uint64
	for i, want := range []string{"a", "b", "c"} {
		item, err := it.Next()
		if err != nil {
			t.Fatalf("Step %d failed: %v", i, err)
		}
		if item == nil {
			t.Fatalf("Step %d ended early", i)
		}
		if string(item.Key) != want {
			t.Fatalf("Step %d: expected key %q, got %q", i, want, item.Key)
		}
		total += item.UsedGas
	}
	if total != 60 {
		t.Fatalf("Expected per-step gas 10+20+30, got %d", total)
	}

	item, err := it.Next()
	if err != nil {
		t.Fatalf("Natural end must not error: %v", err)
	}
	if item != nil {
		t.Fatalf("Expected end of sequence, got %+v", item)
	}
}

func TestIterChargesReportedGas(t *testing.T) {
	meter := gas.NewMeter(1_000_000)
	it := NewIter(&scriptedScan{steps: []scriptedStep{
		{key: []byte("a"), value: []byte("1"), usedGas: 10},
		{key: []byte("b"), value: []byte("2"), usedGas: 20},
		{key: []byte("c"), value: []byte("3"), usedGas: 30},
	}}, meter, IteratorVtable{Next: scriptedNext})

	for {
		item, err := it.Next()
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if item == nil {
			break
		}
	}
	// the reported step gas lands on the call meter, not just the items
	if meter.Consumed() != 60 {
		t.Fatalf("Expected 60 gas on the meter, got %d", meter.Consumed())
	}
}

func TestIterStepExceedingMeterTerminal(t *testing.T) {
	meter := gas.NewMeter(15)
	it := NewIter(&scriptedScan{steps: []scriptedStep{
		{key: []byte("a"), value: []byte("1"), usedGas: 10},
		{key: []byte("b"), value: []byte("2"), usedGas: 20},
	}}, meter, IteratorVtable{Next: scriptedNext})

	if _, err := it.Next(); err != nil {
		t.Fatalf("First step fits the meter: %v", err)
	}
	if _, err := it.Next(); err == nil {
		t.Fatal("Second step must exhaust the meter")
	}
	if _, err := it.Next(); err == nil {
		t.Fatal("Exhaustion must be terminal")
	}
}

func TestIterMissingValueIsTerminalError(t *testing.T) {
	it := scriptedIter(
		scriptedStep{key: []byte("k"), value: nil},
	)

	item, err := it.Next()
	if err == nil {
		t.Fatalf("Key without value must fail, got %+v", item)
	}
	if !stderrors.Is(err, errors.IteratorMissingValue()) {
		t.Fatalf("Expected bad_iterator, got %v", err)
	}
	if !strings.Contains(err.Error(), "failed to read value for next key") {
		t.Fatalf("Wrong message: %q", err.Error())
	}

	// terminal: the same error again, never an infinite loop
	if _, err2 := it.Next(); err2 != err {
		t.Fatalf("Expected sticky error, got %v", err2)
	}
}

func TestIterFailedStepAnnotated(t *testing.T) {
	it := scriptedIter(
		scriptedStep{code: int32(ResultOther)},
	)

	_, err := it.Next()
	if err == nil {
		t.Fatal("Failing step must error")
	}
	if !strings.Contains(err.Error(), "failed to fetch next item from iterator") {
		t.Fatalf("Missing context message: %q", err.Error())
	}
}

func TestIterUnknownCodeNotTrusted(t *testing.T) {
	it := scriptedIter(
		scriptedStep{code: 77, key: []byte("k"), value: []byte("v")},
	)
	if _, err := it.Next(); err == nil {
		t.Fatal("Unknown return code must be a failure, not interpreted")
	}
}

func TestIterUnsetVtable(t *testing.T) {
	// construction must succeed with nothing bound
	it := NewIter(nil, gas.NewMeter(1000), IteratorVtable{})

	_, err := it.Next()
	if err == nil {
		t.Fatal("First Next with unset vtable must error")
	}
	if !stderrors.Is(err, errors.IteratorUnset()) {
		t.Fatalf("Expected vtable_unset, got %v", err)
	}
	if !strings.Contains(err.Error(), "iterator vtable not set") {
		t.Fatalf("Wrong message: %q", err.Error())
	}
}

func TestIterOutOfGasStep(t *testing.T) {
	it := scriptedIter(scriptedStep{code: int32(ResultOutOfGas)})
	_, err := it.Next()
	if err == nil {
		t.Fatal("Out-of-gas step must error")
	}
	if !stderrors.Is(err, errors.IteratorFailed(nil)) {
		t.Fatalf("Expected iterator failure, got %v", err)
	}
	if !stderrors.Is(stderrors.Unwrap(err), errors.OutOfGas("")) {
		t.Fatalf("Expected wrapped out_of_gas, got %v", err)
	}
}

func TestResultErrCodes(t *testing.T) {
	if ResultOk.Err() != nil {
		t.Fatal("Ok must convert to nil")
	}
	for _, code := range []Result{ResultPanic, ResultBadArgument, ResultOutOfGas, ResultOther, Result(1234)} {
		if code.Err() == nil {
			t.Fatalf("Code %d must convert to an error", code)
		}
	}
}

// ensure the scripted fake stays honest about gas slots
func TestScriptedScanSelfCheck(t *testing.T) {
	it := scriptedIter(scriptedStep{key: []byte("x"), value: []byte("y"), usedGas: 5})
	item, err := it.Next()
	if err != nil || item == nil {
		t.Fatalf("Unexpected: %v %v", item, err)
	}
	if item.UsedGas != 5 {
		t.Fatalf("Gas slot lost: %d", item.UsedGas)
	}
	_ = fmt.Sprintf("%v", item)
}
