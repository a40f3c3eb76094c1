package rmarshal_test

import (
	"strconv"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/maxatome/go-testdeep/td"

	"github.com/stewi1014/rmarshal"
	"github.com/stewi1014/rmarshal/encio"
	"github.com/stewi1014/rmarshal/types"
)

type user struct {
	Name string
	Age  int
}

type point struct {
	X, Y int
}

type node struct {
	Next *node
	Val  int
}

type tagged struct {
	Name   string `rmarshal:"title"`
	Secret string `rmarshal:"-"`
	hidden int
}

type stamp struct {
	Unix int64
}

func (s *stamp) MarshalBinary() ([]byte, error) {
	return []byte(strconv.FormatInt(s.Unix, 10)), nil
}

func (s *stamp) UnmarshalBinary(data []byte) (err error) {
	s.Unix, err = strconv.ParseInt(string(data), 10, 64)
	return err
}

type money struct {
	Cents    int
	Currency string
}

func (m *money) MarshalRuby() (any, error) {
	return []any{m.Cents, m.Currency}, nil
}

func (m *money) UnmarshalRuby(v any) error {
	arr, ok := v.([]any)
	if !ok || len(arr) != 2 {
		return errors.Newf("money wants [cents, currency], got %v", v)
	}
	cents, ok := arr[0].(int)
	if !ok {
		return errors.Newf("cents must be an integer, got %T", arr[0])
	}
	currency, ok := arr[1].(string)
	if !ok {
		return errors.Newf("currency must be a string, got %T", arr[1])
	}
	m.Cents, m.Currency = cents, currency
	return nil
}

type bag struct {
	vals map[types.Symbol]any
}

func (b *bag) SetIVar(name types.Symbol, value any) error {
	if b.vals == nil {
		b.vals = make(map[types.Symbol]any)
	}
	b.vals[name] = value
	return nil
}

func newRegistry(t *testing.T) *types.Registry {
	r := types.NewRegistry()
	td.CmpNoError(t, r.Register("User", user{}))
	td.CmpNoError(t, r.RegisterStruct("Point", point{}))
	td.CmpNoError(t, r.Register("Node", &node{}))
	td.CmpNoError(t, r.Register("Tagged", tagged{}))
	td.CmpNoError(t, r.Register("Stamp", stamp{}))
	td.CmpNoError(t, r.Register("Money", money{}))
	td.CmpNoError(t, r.Register("Bag", bag{}))
	return r
}

func TestRegisteredTypes(t *testing.T) {
	config := &rmarshal.Config{Classes: newRegistry(t)}

	testCases := []struct {
		desc string
		v    any
		want string
	}{
		{
			desc: "object",
			v:    &user{Name: "bob", Age: 3},
			want: "\x04\x08o:\x09User\x07:\x0a@nameI\"\x08bob\x06:\x06ET:\x09@agei\x08",
		},
		{
			desc: "struct",
			v:    &point{X: 1, Y: 2},
			want: "\x04\x08S:\x0aPoint\x07:\x06xi\x06:\x06yi\x07",
		},
		{
			desc: "nil field",
			v:    &node{Val: 1},
			want: "\x04\x08o:\x09Node\x07:\x0a@next0:\x09@vali\x06",
		},
		{
			desc: "tags",
			v:    &tagged{Name: "x", Secret: "s"},
			want: "\x04\x08o:\x0bTagged\x06:\x0b@titleI\"\x06x\x06:\x06ET",
		},
		{
			desc: "binary marshaler",
			v:    &stamp{Unix: 42},
			want: "\x04\x08u:\x0aStamp\x0742",
		},
		{
			desc: "ruby marshaler",
			v:    &money{Cents: 150, Currency: "USD"},
			want: "\x04\x08U:\x0aMoney[\x07i\x01\x96I\"\x08USD\x06:\x06ET",
		},
	}

	for _, tC := range testCases {
		t.Run(tC.desc, func(t *testing.T) {
			data, err := rmarshal.Dump(tC.v, config)
			td.CmpNoError(t, err)
			td.Cmp(t, string(data), tC.want)

			v, err := rmarshal.Load(data, config)
			td.CmpNoError(t, err)
			if tg, ok := tC.v.(*tagged); ok {
				td.Cmp(t, v, &tagged{Name: tg.Name})
				return
			}
			td.Cmp(t, v, tC.v)
		})
	}
}

func TestRegisteredValueReceiver(t *testing.T) {
	config := &rmarshal.Config{Classes: newRegistry(t)}

	data, err := rmarshal.Dump(point{X: 1, Y: 2}, config)
	td.CmpNoError(t, err)
	td.Cmp(t, string(data), "\x04\x08S:\x0aPoint\x07:\x06xi\x06:\x06yi\x07")

	data, err = rmarshal.Dump(stamp{Unix: 7}, config)
	td.CmpNoError(t, err)
	td.Cmp(t, string(data), "\x04\x08u:\x0aStamp\x067")
}

func TestRegisteredCycle(t *testing.T) {
	config := &rmarshal.Config{Classes: newRegistry(t)}

	n := &node{Val: 1}
	n.Next = n

	data, err := rmarshal.Dump(n, config)
	td.CmpNoError(t, err)
	td.Cmp(t, string(data), "\x04\x08o:\x09Node\x07:\x0a@next@\x00:\x09@vali\x06")

	v, err := rmarshal.Load(data, config)
	td.CmpNoError(t, err)
	got := v.(*node)
	td.Cmp(t, got.Val, 1)
	td.CmpTrue(t, got.Next == got)

	// Without the class, the generic object links to itself.
	v, err = rmarshal.Load(data, &rmarshal.Config{Classes: types.NewRegistry()})
	td.CmpNoError(t, err)
	obj := v.(*types.Object)
	next, _ := obj.Get("@next")
	td.CmpTrue(t, next == any(obj))
}

func TestRegisteredShared(t *testing.T) {
	config := &rmarshal.Config{Classes: newRegistry(t)}
	s := &stamp{Unix: 1}
	m := &money{Cents: 1, Currency: "EUR"}

	data, err := rmarshal.Dump([]any{s, s, m, m}, config)
	td.CmpNoError(t, err)
	td.Cmp(t, string(data),
		"\x04\x08[\x09"+
			"u:\x0aStamp\x061@\x06"+
			"U:\x0aMoney[\x07i\x06I\"\x08EUR\x06:\x06ET@\x07")

	v, err := rmarshal.Load(data, config)
	td.CmpNoError(t, err)
	arr := v.([]any)
	td.CmpTrue(t, arr[0] == arr[1])
	td.CmpTrue(t, arr[2] == arr[3])
	td.Cmp(t, arr[2], m)
}

func TestIVarSetter(t *testing.T) {
	config := &rmarshal.Config{Classes: newRegistry(t)}

	v, err := rmarshal.Load([]byte("\x04\x08o:\x08Bag\x07:\x07@xi\x06:\x07@y0"), config)
	td.CmpNoError(t, err)
	td.Cmp(t, v.(*bag).vals, map[types.Symbol]any{"@x": 1, "@y": nil})
}

func TestLoadMismatch(t *testing.T) {
	config := &rmarshal.Config{Classes: newRegistry(t)}

	// Unknown instance variables and ones of the wrong type are skipped.
	v, err := rmarshal.Load([]byte("\x04\x08o:\x09User\x07:\x0a@nameT:\x0b@colori\x06"), config)
	td.CmpNoError(t, err)
	td.Cmp(t, v, &user{})

	_, err = rmarshal.Load([]byte("\x04\x08U:\x0aMoneyi\x06"), config)
	var formatErr *encio.FormatError
	td.CmpTrue(t, errors.As(err, &formatErr))

	_, err = rmarshal.Load([]byte("\x04\x08u:\x0aStamp\x06x"), config)
	td.CmpTrue(t, errors.Is(err, encio.ErrFormat))
}

func TestNameUnknown(t *testing.T) {
	type anon struct {
		A int
	}

	_, err := rmarshal.Dump(anon{A: 1}, &rmarshal.Config{Classes: types.NewRegistry()})
	td.CmpTrue(t, errors.Is(err, encio.ErrUnsupported))

	config := &rmarshal.Config{
		Classes: types.NewRegistry(),
		NameUnknown: func(v any) (types.Symbol, bool) {
			if _, ok := v.(anon); ok {
				return "Anon", true
			}
			return "", false
		},
	}
	data, err := rmarshal.Dump(anon{A: 1}, config)
	td.CmpNoError(t, err)
	td.Cmp(t, string(data), "\x04\x08o:\x09Anon\x06:\x07@ai\x06")

	v, err := rmarshal.Load(data, config)
	td.CmpNoError(t, err)
	td.Cmp(t, v, &types.Object{Class: "Anon", IVars: []types.IVar{{Name: "@a", Value: 1}}})
}

func TestDefaultRegistry(t *testing.T) {
	type widget struct {
		Size int
	}

	td.CmpNoError(t, rmarshal.Register("RmarshalTestWidget", widget{}))
	td.CmpTrue(t, errors.Is(rmarshal.Register("RmarshalTestWidget", widget{}), types.ErrAlreadyRegistered))
	td.CmpTrue(t, errors.Is(rmarshal.RegisterStruct("RmarshalTestOther", widget{}), types.ErrAlreadyRegistered))
	td.Cmp(t, rmarshal.RegisteredClasses(), td.Contains(types.Symbol("RmarshalTestWidget")))

	data, err := rmarshal.Dump(widget{Size: 2}, nil)
	td.CmpNoError(t, err)
	v, err := rmarshal.Load(data, nil)
	td.CmpNoError(t, err)
	td.Cmp(t, v, &widget{Size: 2})
}
