package rmarshal

import (
	"math/big"
	"reflect"
	"testing"

	"github.com/maxatome/go-testdeep/td"

	"github.com/stewi1014/rmarshal/types"
)

type assignTarget struct {
	Int8    int8
	Uint    uint
	Float   float32
	Text    string
	Flag    bool
	Raw     []byte
	List    []int
	Lookup  map[string]int
	Ptr     *int
	Nested  assignNested
	Any     any
	Missing *assignNested
}

type assignNested struct {
	N int
}

func TestAssign(t *testing.T) {
	var target assignTarget
	rv := reflect.ValueOf(&target).Elem()
	field := func(name string) reflect.Value { return rv.FieldByName(name) }

	td.CmpNoError(t, assign(field("Int8"), 100))
	td.CmpNoError(t, assign(field("Uint"), big.NewInt(7)))
	td.CmpNoError(t, assign(field("Float"), types.Integer(2)))
	td.CmpNoError(t, assign(field("Text"), types.NewString("hi")))
	td.CmpNoError(t, assign(field("Flag"), true))
	td.CmpNoError(t, assign(field("Raw"), "raw"))
	td.CmpNoError(t, assign(field("List"), []any{1, types.Integer(2)}))
	td.CmpNoError(t, assign(field("Lookup"), &types.Hash{Entries: []types.HashEntry{{Key: types.Symbol("a"), Value: 1}}}))
	td.CmpNoError(t, assign(field("Ptr"), 5))
	td.CmpNoError(t, assign(field("Nested"), &assignNested{N: 3}))
	td.CmpNoError(t, assign(field("Any"), []any{nil}))
	td.CmpNoError(t, assign(field("Missing"), nil))

	five := 5
	td.Cmp(t, target, assignTarget{
		Int8:   100,
		Uint:   7,
		Float:  2,
		Text:   "hi",
		Flag:   true,
		Raw:    []byte("raw"),
		List:   []int{1, 2},
		Lookup: map[string]int{"a": 1},
		Ptr:    &five,
		Nested: assignNested{N: 3},
		Any:    []any{nil},
	})

	td.CmpError(t, assign(field("Int8"), 1000))
	td.CmpError(t, assign(field("Uint"), -1))
	td.CmpError(t, assign(field("Flag"), 1))
	td.CmpError(t, assign(field("List"), []any{"x"}))
}

func TestSetIVar(t *testing.T) {
	target := new(assignNested)
	td.CmpNoError(t, setIVar(target, types.ShapeObject, "@n", 4))
	td.Cmp(t, target.N, 4)

	td.CmpNoError(t, setIVar(target, types.ShapeStruct, "n", 5))
	td.Cmp(t, target.N, 5)

	td.CmpError(t, setIVar(target, types.ShapeObject, "@m", 1))
	td.CmpError(t, setIVar(assignNested{}, types.ShapeObject, "@n", 1))

	td.CmpTrue(t, isStructPtr(target))
	td.CmpFalse(t, isStructPtr(assignNested{}))
	td.CmpFalse(t, isStructPtr((*assignNested)(nil)))
}
